package cloudformation

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"

	"github.com/codepool/codepool/pkg/engine"
)

type fakeCFN struct {
	createStack    func(*cloudformation.CreateStackInput) (*cloudformation.CreateStackOutput, error)
	describeStacks func(*cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error)
	deleteStack    func(*cloudformation.DeleteStackInput) (*cloudformation.DeleteStackOutput, error)
}

func (f *fakeCFN) CreateStack(_ context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	return f.createStack(in)
}

func (f *fakeCFN) DescribeStacks(_ context.Context, in *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	return f.describeStacks(in)
}

func (f *fakeCFN) DeleteStack(_ context.Context, in *cloudformation.DeleteStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	return f.deleteStack(in)
}

func stackNotFoundErr(name string) error {
	return &smithy.GenericAPIError{
		Code:    "ValidationError",
		Message: "Stack with id " + name + " does not exist",
	}
}

func TestCreatePassesParametersAndTags(t *testing.T) {
	var captured *cloudformation.CreateStackInput
	fake := &fakeCFN{
		createStack: func(in *cloudformation.CreateStackInput) (*cloudformation.CreateStackOutput, error) {
			captured = in
			return &cloudformation.CreateStackOutput{StackId: aws.String("stack-id-1")}, nil
		},
	}
	client := New(fake, Config{Capabilities: []string{"CAPABILITY_IAM"}}, nil)

	ref, err := client.Create(context.Background(), engine.CreateResourceInput{
		Name:        "pool-01",
		TemplateRef: "https://templates.example.com/stack.yaml",
		Parameters:  map[string]string{"CodeId": "01"},
		Tags:        map[string]string{engine.TagManagedBy: engine.ManagedByValue},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ref != "stack-id-1" {
		t.Errorf("expected stack id ref, got %q", ref)
	}

	if aws.ToString(captured.StackName) != "pool-01" {
		t.Errorf("unexpected stack name %q", aws.ToString(captured.StackName))
	}
	if aws.ToString(captured.TemplateURL) != "https://templates.example.com/stack.yaml" {
		t.Errorf("URL template must pass as TemplateURL, got %q", aws.ToString(captured.TemplateURL))
	}
	if captured.OnFailure != cfntypes.OnFailureDelete {
		t.Errorf("expected OnFailure DELETE, got %s", captured.OnFailure)
	}
	if len(captured.Parameters) != 1 || aws.ToString(captured.Parameters[0].ParameterKey) != "CodeId" {
		t.Errorf("parameters not passed through: %+v", captured.Parameters)
	}
	if len(captured.Capabilities) != 1 || captured.Capabilities[0] != cfntypes.CapabilityCapabilityIam {
		t.Errorf("capabilities not passed through: %+v", captured.Capabilities)
	}
}

func TestDescribeMapsStatusAndOutputs(t *testing.T) {
	fake := &fakeCFN{
		describeStacks: func(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return &cloudformation.DescribeStacksOutput{
				Stacks: []cfntypes.Stack{{
					StackName:   aws.String("pool-01"),
					StackId:     aws.String("stack-id-1"),
					StackStatus: cfntypes.StackStatusCreateComplete,
					Outputs: []cfntypes.Output{{
						OutputKey:   aws.String("Endpoint"),
						OutputValue: aws.String("https://example.com"),
					}},
				}},
			}, nil
		},
	}
	client := New(fake, Config{}, nil)

	desc, err := client.Describe(context.Background(), "pool-01")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if desc.Status != engine.StatusCreateComplete {
		t.Errorf("expected CREATE_COMPLETE, got %s", desc.Status)
	}
	if len(desc.Outputs) != 1 || desc.Outputs[0].Key != "Endpoint" {
		t.Errorf("outputs not mapped: %+v", desc.Outputs)
	}
}

func TestDescribeMissingStackIsResourceNotFound(t *testing.T) {
	fake := &fakeCFN{
		describeStacks: func(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return nil, stackNotFoundErr("pool-01")
		},
	}
	client := New(fake, Config{}, nil)

	_, err := client.Describe(context.Background(), "pool-01")
	if !engine.HasCode(err, engine.ErrCodeResourceNotFound) {
		t.Errorf("expected RESOURCE_NOT_FOUND, got %v", err)
	}
}

func TestDeleteOfMissingStackSucceeds(t *testing.T) {
	fake := &fakeCFN{
		deleteStack: func(in *cloudformation.DeleteStackInput) (*cloudformation.DeleteStackOutput, error) {
			return nil, stackNotFoundErr("pool-01")
		},
	}
	client := New(fake, Config{}, nil)

	if err := client.Delete(context.Background(), "pool-01"); err != nil {
		t.Errorf("deleting a missing stack must succeed, got %v", err)
	}
}

func TestClassifyThrottling(t *testing.T) {
	fake := &fakeCFN{
		describeStacks: func(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "Throttling", Message: "Rate exceeded"}
		},
	}
	client := New(fake, Config{}, nil)

	_, err := client.Describe(context.Background(), "pool-01")
	if !engine.IsThrottled(err) {
		t.Errorf("expected throttled error, got %v", err)
	}
}

func TestListByStatusFiltersManagedStacks(t *testing.T) {
	fake := &fakeCFN{
		describeStacks: func(in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return &cloudformation.DescribeStacksOutput{
				Stacks: []cfntypes.Stack{
					{
						StackName:   aws.String("pool-01"),
						StackStatus: cfntypes.StackStatusCreateComplete,
						Tags: []cfntypes.Tag{{
							Key:   aws.String(engine.TagManagedBy),
							Value: aws.String(engine.ManagedByValue),
						}},
					},
					{
						// Unmanaged stack: must be skipped.
						StackName:   aws.String("other-app"),
						StackStatus: cfntypes.StackStatusCreateComplete,
					},
					{
						// Managed but wrong status.
						StackName:   aws.String("pool-02"),
						StackStatus: cfntypes.StackStatusDeleteInProgress,
						Tags: []cfntypes.Tag{{
							Key:   aws.String(engine.TagManagedBy),
							Value: aws.String(engine.ManagedByValue),
						}},
					},
				},
			}, nil
		},
	}
	client := New(fake, Config{}, nil)

	got, err := client.ListByStatus(context.Background(), []engine.CodeStatus{engine.StatusCreateComplete})
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "pool-01" {
		t.Errorf("unexpected summaries: %+v", got)
	}
}

func TestCodeStatusMapping(t *testing.T) {
	cases := []struct {
		stack cfntypes.StackStatus
		want  engine.CodeStatus
	}{
		{cfntypes.StackStatusCreateInProgress, engine.StatusCreatePending},
		{cfntypes.StackStatusUpdateCompleteCleanupInProgress, engine.StatusUpdatePending},
		{cfntypes.StackStatusUpdateRollbackInProgress, engine.StatusRollbackPending},
		{cfntypes.StackStatusUpdateRollbackComplete, engine.StatusRollbackComplete},
		{cfntypes.StackStatusReviewInProgress, engine.StatusReviewPending},
		{cfntypes.StackStatusDeleteComplete, engine.StatusDeleteComplete},
		// Outside the vocabulary: parked for review.
		{cfntypes.StackStatusImportInProgress, engine.StatusReviewPending},
	}

	for _, tc := range cases {
		if got := codeStatus(tc.stack); got != tc.want {
			t.Errorf("codeStatus(%s) = %s, want %s", tc.stack, got, tc.want)
		}
	}
}
