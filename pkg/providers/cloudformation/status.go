package cloudformation

import (
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/codepool/codepool/pkg/engine"
)

// stackStatusMap projects CloudFormation stack statuses onto the engine's
// code status vocabulary. Rollback variants of updates collapse into the
// rollback states; cleanup phases count as still pending.
var stackStatusMap = map[cfntypes.StackStatus]engine.CodeStatus{
	cfntypes.StackStatusCreateInProgress: engine.StatusCreatePending,
	cfntypes.StackStatusCreateComplete:   engine.StatusCreateComplete,
	cfntypes.StackStatusCreateFailed:     engine.StatusCreateFailed,

	cfntypes.StackStatusUpdateInProgress:                engine.StatusUpdatePending,
	cfntypes.StackStatusUpdateCompleteCleanupInProgress: engine.StatusUpdatePending,
	cfntypes.StackStatusUpdateComplete:                  engine.StatusUpdateComplete,
	cfntypes.StackStatusUpdateFailed:                    engine.StatusUpdateFailed,

	cfntypes.StackStatusDeleteInProgress: engine.StatusDeletePending,
	cfntypes.StackStatusDeleteComplete:   engine.StatusDeleteComplete,
	cfntypes.StackStatusDeleteFailed:     engine.StatusDeleteFailed,

	cfntypes.StackStatusRollbackInProgress:                      engine.StatusRollbackPending,
	cfntypes.StackStatusUpdateRollbackInProgress:                engine.StatusRollbackPending,
	cfntypes.StackStatusUpdateRollbackCompleteCleanupInProgress: engine.StatusRollbackPending,
	cfntypes.StackStatusRollbackComplete:                        engine.StatusRollbackComplete,
	cfntypes.StackStatusUpdateRollbackComplete:                  engine.StatusRollbackComplete,
	cfntypes.StackStatusRollbackFailed:                          engine.StatusRollbackFailed,
	cfntypes.StackStatusUpdateRollbackFailed:                    engine.StatusRollbackFailed,

	cfntypes.StackStatusReviewInProgress: engine.StatusReviewPending,
}

// codeStatus maps one stack status; statuses outside the map (imports,
// change sets) land in REVIEW_PENDING so an operator sees them.
func codeStatus(s cfntypes.StackStatus) engine.CodeStatus {
	if mapped, ok := stackStatusMap[s]; ok {
		return mapped
	}
	return engine.StatusReviewPending
}
