package eventbridge

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/codepool/codepool/pkg/engine"
)

type fakeEventBridge struct {
	enableRule   func(*eventbridge.EnableRuleInput) (*eventbridge.EnableRuleOutput, error)
	disableRule  func(*eventbridge.DisableRuleInput) (*eventbridge.DisableRuleOutput, error)
	describeRule func(*eventbridge.DescribeRuleInput) (*eventbridge.DescribeRuleOutput, error)
	listRules    func(*eventbridge.ListRulesInput) (*eventbridge.ListRulesOutput, error)
}

func (f *fakeEventBridge) EnableRule(_ context.Context, in *eventbridge.EnableRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.EnableRuleOutput, error) {
	return f.enableRule(in)
}

func (f *fakeEventBridge) DisableRule(_ context.Context, in *eventbridge.DisableRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.DisableRuleOutput, error) {
	return f.disableRule(in)
}

func (f *fakeEventBridge) DescribeRule(_ context.Context, in *eventbridge.DescribeRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.DescribeRuleOutput, error) {
	return f.describeRule(in)
}

func (f *fakeEventBridge) ListRules(_ context.Context, in *eventbridge.ListRulesInput, _ ...func(*eventbridge.Options)) (*eventbridge.ListRulesOutput, error) {
	return f.listRules(in)
}

func TestDescribeRuleReportsState(t *testing.T) {
	fake := &fakeEventBridge{
		describeRule: func(in *eventbridge.DescribeRuleInput) (*eventbridge.DescribeRuleOutput, error) {
			return &eventbridge.DescribeRuleOutput{
				Name:               aws.String("codepool-reconcile"),
				State:              ebtypes.RuleStateEnabled,
				ScheduleExpression: aws.String("rate(5 minutes)"),
			}, nil
		},
	}
	rules := New(fake, nil)

	state, err := rules.DescribeRule(context.Background(), "codepool-reconcile")
	if err != nil {
		t.Fatalf("DescribeRule failed: %v", err)
	}
	if !state.Enabled {
		t.Error("expected rule to be enabled")
	}
	if state.ScheduleExpression != "rate(5 minutes)" {
		t.Errorf("unexpected schedule %q", state.ScheduleExpression)
	}
}

func TestDescribeRuleMissingIsNotFound(t *testing.T) {
	fake := &fakeEventBridge{
		describeRule: func(in *eventbridge.DescribeRuleInput) (*eventbridge.DescribeRuleOutput, error) {
			return nil, &ebtypes.ResourceNotFoundException{Message: aws.String("rule not found")}
		},
	}
	rules := New(fake, nil)

	_, err := rules.DescribeRule(context.Background(), "gone")
	if !engine.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestFindRuleByPrefix(t *testing.T) {
	tests := []struct {
		name      string
		matches   []string
		want      string
		wantError bool
	}{
		{name: "single match", matches: []string{"codepool-reconcile-1A2B"}, want: "codepool-reconcile-1A2B"},
		{name: "no match", matches: nil, wantError: true},
		{name: "ambiguous", matches: []string{"a", "b"}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeEventBridge{
				listRules: func(in *eventbridge.ListRulesInput) (*eventbridge.ListRulesOutput, error) {
					var out eventbridge.ListRulesOutput
					for _, m := range tt.matches {
						out.Rules = append(out.Rules, ebtypes.Rule{Name: aws.String(m)})
					}
					return &out, nil
				},
			}
			rules := New(fake, nil)

			got, err := rules.FindRuleByPrefix(context.Background(), "codepool-reconcile")
			if tt.wantError {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("FindRuleByPrefix failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestEnableRuleIdempotent(t *testing.T) {
	calls := 0
	fake := &fakeEventBridge{
		enableRule: func(in *eventbridge.EnableRuleInput) (*eventbridge.EnableRuleOutput, error) {
			calls++
			return &eventbridge.EnableRuleOutput{}, nil
		},
	}
	rules := New(fake, nil)

	for i := 0; i < 2; i++ {
		if err := rules.EnableRule(context.Background(), "codepool-reconcile"); err != nil {
			t.Fatalf("EnableRule failed: %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}
