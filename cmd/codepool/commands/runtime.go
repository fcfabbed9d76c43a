package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/codepool/codepool/pkg/config"
	"github.com/codepool/codepool/pkg/engine"
	"github.com/codepool/codepool/pkg/providers/awsconn"
	"github.com/codepool/codepool/pkg/providers/cloudformation"
	"github.com/codepool/codepool/pkg/providers/eventbridge"
	"github.com/codepool/codepool/pkg/stores"
	"github.com/codepool/codepool/pkg/telemetry"
)

// runtime holds the wired dependencies a command needs. Commands build it
// once from the loaded config and close it on exit.
type runtime struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	store   engine.CodeStore
	client  engine.ResourceClient
	rules   engine.SchedulerRules
	trigger *engine.TriggerController

	closers []func()
}

// newRuntime loads the configuration and wires the store, the resource
// client, and the trigger controller.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := buildTelemetry(cfg)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, tel: tel}
	rt.closers = append(rt.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		tel.Shutdown(shutdownCtx) //nolint:errcheck
	})

	awsCfg, err := awsconn.Load(ctx, awsconn.Options{
		Region:          cfg.AWS.Region,
		Profile:         cfg.AWS.Profile,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	})
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	switch cfg.Store.Backend {
	case "dynamo":
		client := stores.NewDynamoClient(awsCfg, cfg.Store.Endpoint)
		rt.store = stores.NewDynamoStore(client, cfg.Store.Table, tel)
	case "sqlite":
		sqlStore, err := stores.NewSQLiteStore(stores.SQLiteConfig{Path: cfg.Store.Path})
		if err != nil {
			rt.close()
			return nil, err
		}
		if err := sqlStore.Init(ctx); err != nil {
			rt.close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { sqlStore.Close() }) //nolint:errcheck
		if err := sqlStore.Migrate(ctx); err != nil {
			rt.close()
			return nil, err
		}
		rt.store = sqlStore
	case "memory":
		rt.store = stores.NewMemoryStore()
	default:
		rt.close()
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}

	rt.client = cloudformation.New(
		cloudformation.NewAPIClient(awsCfg, cfg.Resource.Endpoint),
		cloudformation.Config{
			Capabilities: cfg.Resource.Capabilities,
			RoleARN:      cfg.Resource.RoleARN,
		},
		tel,
	)

	rt.rules = eventbridge.New(eventbridge.NewAPIClient(awsCfg, cfg.Trigger.Endpoint), tel)
	rt.trigger = engine.NewTriggerController(rt.rules, engine.TriggerConfig{
		RuleName:   cfg.Trigger.RuleName,
		RulePrefix: cfg.Trigger.RulePrefix,
	}, tel)

	return rt, nil
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func (rt *runtime) allocator() *engine.AllocationService {
	return engine.NewAllocationService(rt.store, rt.client, rt.trigger, engine.AllocationConfig{
		NamePrefix:  rt.cfg.Resource.NamePrefix,
		TemplateRef: rt.cfg.Resource.TemplateRef,
		Parameters:  rt.cfg.Resource.Parameters,
		Tags:        rt.cfg.Resource.Tags,
		CallTimeout: rt.cfg.Resource.CallTimeout.Std(),
	}, rt.tel)
}

func (rt *runtime) deleter() *engine.DeletionService {
	return engine.NewDeletionService(rt.store, rt.client, engine.DeletionConfig{
		MaxParallel: rt.cfg.Delete.MaxParallel,
		CallTimeout: rt.cfg.Delete.CallTimeout.Std(),
	}, rt.tel)
}

func (rt *runtime) reconciler() *engine.Reconciler {
	return engine.NewReconciler(rt.store, rt.client, rt.trigger, engine.ReconcileConfig{
		MaxParallel: rt.cfg.Reconcile.MaxParallel,
		PassBudget:  rt.cfg.Reconcile.PassBudget.Std(),
		CallTimeout: rt.cfg.Reconcile.CallTimeout.Std(),
	}, rt.tel)
}

func (rt *runtime) pool() *engine.PoolService {
	return engine.NewPoolService(rt.store, rt.tel)
}

// buildTelemetry maps the application config onto the telemetry stack.
func buildTelemetry(cfg *config.Config) (*telemetry.Telemetry, error) {
	tcfg := telemetry.DefaultConfig()
	if cfg.Telemetry.LogLevel != "" {
		tcfg.Logging.Level = cfg.Telemetry.LogLevel
	}
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	if cfg.Telemetry.LogFormat != "" {
		tcfg.Logging.Format = cfg.Telemetry.LogFormat
	}
	tcfg.Metrics.Enabled = cfg.Telemetry.MetricsEnabled
	if cfg.Telemetry.MetricsListen != "" {
		tcfg.Metrics.ListenAddress = cfg.Telemetry.MetricsListen
	}
	tcfg.Tracing.Enabled = cfg.Telemetry.TracingEnabled
	if cfg.Telemetry.TracingExporter != "" {
		tcfg.Tracing.Exporter = cfg.Telemetry.TracingExporter
	}
	if cfg.Telemetry.TracingEndpoint != "" {
		tcfg.Tracing.Endpoint = cfg.Telemetry.TracingEndpoint
	}
	tcfg.Events.Enabled = cfg.Telemetry.EventsEnabled
	return telemetry.NewTelemetry(tcfg)
}

// printResult renders a command result as JSON when --json is set, otherwise
// via the provided text renderer.
func printResult(v interface{}, text func()) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}
