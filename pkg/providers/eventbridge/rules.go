// Package eventbridge implements the reconciliation trigger on AWS
// EventBridge scheduled rules.
package eventbridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/smithy-go"

	"github.com/codepool/codepool/pkg/engine"
	"github.com/codepool/codepool/pkg/telemetry"
)

// API is the subset of the EventBridge client used by Rules.
type API interface {
	EnableRule(ctx context.Context, params *eventbridge.EnableRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.EnableRuleOutput, error)
	DisableRule(ctx context.Context, params *eventbridge.DisableRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DisableRuleOutput, error)
	DescribeRule(ctx context.Context, params *eventbridge.DescribeRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DescribeRuleOutput, error)
	ListRules(ctx context.Context, params *eventbridge.ListRulesInput, optFns ...func(*eventbridge.Options)) (*eventbridge.ListRulesOutput, error)
}

// NewAPIClient builds an EventBridge client from an AWS config. A
// non-empty endpoint overrides the resolved one.
func NewAPIClient(cfg aws.Config, endpoint string) *eventbridge.Client {
	return eventbridge.NewFromConfig(cfg, func(o *eventbridge.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// Rules implements engine.SchedulerRules on EventBridge scheduled rules.
type Rules struct {
	api    API
	logger *telemetry.Logger
}

// New creates an EventBridge-backed scheduler rules client.
func New(api API, tel *telemetry.Telemetry) *Rules {
	logger := telemetry.NopLogger()
	if tel != nil && tel.Logger != nil {
		logger = tel.Logger.NewComponentLogger("eventbridge")
	}
	return &Rules{api: api, logger: logger}
}

// EnableRule turns the named rule on. Enabling an enabled rule succeeds.
func (r *Rules) EnableRule(ctx context.Context, name string) error {
	_, err := r.api.EnableRule(ctx, &eventbridge.EnableRuleInput{
		Name: aws.String(name),
	})
	if err != nil {
		return r.classify("enable_rule", name, err)
	}
	r.logger.WithField("rule", name).Info("rule enabled")
	return nil
}

// DisableRule turns the named rule off. Disabling a disabled rule succeeds.
func (r *Rules) DisableRule(ctx context.Context, name string) error {
	_, err := r.api.DisableRule(ctx, &eventbridge.DisableRuleInput{
		Name: aws.String(name),
	})
	if err != nil {
		return r.classify("disable_rule", name, err)
	}
	r.logger.WithField("rule", name).Info("rule disabled")
	return nil
}

// DescribeRule reports a rule's current state.
func (r *Rules) DescribeRule(ctx context.Context, name string) (*engine.RuleState, error) {
	out, err := r.api.DescribeRule(ctx, &eventbridge.DescribeRuleInput{
		Name: aws.String(name),
	})
	if err != nil {
		return nil, r.classify("describe_rule", name, err)
	}

	return &engine.RuleState{
		Name:               aws.ToString(out.Name),
		Enabled:            out.State == ebtypes.RuleStateEnabled,
		ScheduleExpression: aws.ToString(out.ScheduleExpression),
	}, nil
}

// FindRuleByPrefix resolves a rule name from a name prefix. Exactly one
// rule must match.
func (r *Rules) FindRuleByPrefix(ctx context.Context, prefix string) (string, error) {
	var names []string
	var next *string

	for {
		out, err := r.api.ListRules(ctx, &eventbridge.ListRulesInput{
			NamePrefix: aws.String(prefix),
			NextToken:  next,
		})
		if err != nil {
			return "", r.classify("list_rules", prefix, err)
		}
		for _, rule := range out.Rules {
			names = append(names, aws.ToString(rule.Name))
		}
		if out.NextToken == nil {
			break
		}
		next = out.NextToken
	}

	switch len(names) {
	case 0:
		return "", engine.NewPermanentError(fmt.Sprintf("no rule matches prefix %s", prefix), nil).
			WithCode(engine.ErrCodeNotFound)
	case 1:
		return names[0], nil
	default:
		return "", engine.NewPermanentError(
			fmt.Sprintf("prefix %s matches %d rules, expected one", prefix, len(names)), nil).
			WithCode(engine.ErrCodeExternalValidation)
	}
}

// classify maps an EventBridge error onto the engine's error taxonomy.
func (r *Rules) classify(operation, name string, err error) *engine.EngineError {
	var notFound *ebtypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return engine.NewPermanentError(fmt.Sprintf("rule %s does not exist", name), err).
			WithCode(engine.ErrCodeNotFound).WithOperation(operation)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "LimitExceededException":
			return engine.NewThrottledError("scheduler throttled", err).
				WithCode(engine.ErrCodeExternalThrottled).WithOperation(operation)
		case "AccessDeniedException":
			return engine.NewPermanentError("scheduler access denied", err).
				WithCode(engine.ErrCodeExternalDenied).WithOperation(operation)
		case "ConcurrentModificationException":
			return engine.NewConflictError("rule is being modified concurrently", err).
				WithCode(engine.ErrCodeAlreadyInProgress).WithOperation(operation)
		}
	}
	return engine.NewTransientError("scheduler request failed", err).
		WithCode(engine.ErrCodeExternalDown).WithOperation(operation)
}
