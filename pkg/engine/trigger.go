package engine

import (
	"context"
	"sync"

	"github.com/codepool/codepool/pkg/telemetry"
)

// TriggerConfig configures reconciliation trigger resolution.
type TriggerConfig struct {
	// RuleName is the scheduler rule's exact name, when statically known.
	RuleName string

	// RulePrefix is a name prefix to resolve the rule by lookup when
	// RuleName is empty.
	RulePrefix string
}

// TriggerController toggles the periodic reconciliation trigger. Enable and
// Disable are idempotent; a lookup failure during name resolution degrades to
// a best-guess identity rather than aborting the caller.
type TriggerController struct {
	rules  SchedulerRules
	cfg    TriggerConfig
	logger *telemetry.Logger
	events *telemetry.EventPublisher

	mu       sync.Mutex
	resolved string
}

// NewTriggerController creates a trigger controller over the scheduler
// primitive.
func NewTriggerController(rules SchedulerRules, cfg TriggerConfig, tel *telemetry.Telemetry) *TriggerController {
	return &TriggerController{
		rules:  rules,
		cfg:    cfg,
		logger: componentLogger(tel, "trigger"),
		events: eventsOf(tel),
	}
}

// ruleName resolves the concrete rule identity, caching the result.
// When lookup by prefix fails, the prefix itself is used as the best guess.
func (t *TriggerController) ruleName(ctx context.Context) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.resolved != "" {
		return t.resolved
	}
	if t.cfg.RuleName != "" {
		t.resolved = t.cfg.RuleName
		return t.resolved
	}

	name, err := t.rules.FindRuleByPrefix(ctx, t.cfg.RulePrefix)
	if err != nil || name == "" {
		t.logger.WithError(err).
			WithField("prefix", t.cfg.RulePrefix).
			Warn("trigger rule lookup failed, using prefix as best guess")
		// Do not cache the guess: a later lookup may still succeed.
		return t.cfg.RulePrefix
	}
	t.resolved = name
	return t.resolved
}

// Enable turns the trigger on. Enabling an already-enabled trigger is a no-op
// that still succeeds.
func (t *TriggerController) Enable(ctx context.Context) error {
	name := t.ruleName(ctx)
	if state, err := t.rules.DescribeRule(ctx, name); err == nil && state.Enabled {
		return nil
	}
	if err := t.rules.EnableRule(ctx, name); err != nil {
		return err
	}
	t.logger.WithField("rule", name).Info("reconciliation trigger enabled")
	t.events.PublishTriggerToggled(name, true)
	return nil
}

// Disable turns the trigger off. Disabling an already-disabled trigger is a
// no-op that still succeeds.
func (t *TriggerController) Disable(ctx context.Context) error {
	name := t.ruleName(ctx)
	if state, err := t.rules.DescribeRule(ctx, name); err == nil && !state.Enabled {
		return nil
	}
	if err := t.rules.DisableRule(ctx, name); err != nil {
		return err
	}
	t.logger.WithField("rule", name).Info("reconciliation trigger disabled")
	t.events.PublishTriggerToggled(name, false)
	return nil
}

// CurrentState reports the trigger's resolved identity and on/off state.
func (t *TriggerController) CurrentState(ctx context.Context) (*RuleState, error) {
	return t.rules.DescribeRule(ctx, t.ruleName(ctx))
}
