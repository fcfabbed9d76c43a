// Package config loads and validates the engine configuration from YAML,
// with environment variable overrides for deployment-specific settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "5m" parse naturally.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root engine configuration.
type Config struct {
	Pool      PoolConfig      `yaml:"pool"`
	Store     StoreConfig     `yaml:"store"`
	Resource  ResourceConfig  `yaml:"resource"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Delete    DeleteConfig    `yaml:"delete"`
	AWS       AWSConfig       `yaml:"aws"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PoolConfig sizes the fixed code pool.
type PoolConfig struct {
	// Size is the number of slots in the pool.
	Size int `yaml:"size" validate:"required,min=1"`

	// IDs optionally fixes the slot identifiers. When empty, zero-padded
	// numeric ids are generated.
	IDs []string `yaml:"ids,omitempty"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	// Backend is the store implementation.
	Backend string `yaml:"backend" validate:"required,oneof=dynamo sqlite memory"`

	// Table is the DynamoDB table name.
	Table string `yaml:"table,omitempty"`

	// Endpoint overrides the DynamoDB endpoint (local emulators).
	Endpoint string `yaml:"endpoint,omitempty"`

	// Path is the SQLite database path.
	Path string `yaml:"path,omitempty"`
}

// ResourceConfig configures external resource provisioning.
type ResourceConfig struct {
	// NamePrefix prefixes every generated resource name.
	NamePrefix string `yaml:"name_prefix" validate:"required"`

	// TemplateRef locates the provisioning template (file path or URL).
	TemplateRef string `yaml:"template_ref" validate:"required"`

	// Parameters are template parameters passed to every creation.
	Parameters map[string]string `yaml:"parameters,omitempty"`

	// Tags are applied to every created resource.
	Tags map[string]string `yaml:"tags,omitempty"`

	// Capabilities are passed through to stack creation.
	Capabilities []string `yaml:"capabilities,omitempty"`

	// RoleARN is the service role assumed for stack operations.
	RoleARN string `yaml:"role_arn,omitempty"`

	// Endpoint overrides the CloudFormation endpoint.
	Endpoint string `yaml:"endpoint,omitempty"`

	// CallTimeout bounds each resource manager call.
	CallTimeout Duration `yaml:"call_timeout,omitempty"`
}

// TriggerConfig locates the reconciliation trigger rule. Exactly one of
// RuleName and RulePrefix must be set.
type TriggerConfig struct {
	// RuleName is the exact scheduler rule name.
	RuleName string `yaml:"rule_name,omitempty"`

	// RulePrefix resolves the rule by name prefix.
	RulePrefix string `yaml:"rule_prefix,omitempty"`

	// Endpoint overrides the EventBridge endpoint.
	Endpoint string `yaml:"endpoint,omitempty"`
}

// ReconcileConfig tunes the reconciliation pass.
type ReconcileConfig struct {
	// MaxParallel bounds concurrent per-record reconciliations.
	MaxParallel int `yaml:"max_parallel,omitempty" validate:"omitempty,min=1"`

	// PassBudget bounds one full pass.
	PassBudget Duration `yaml:"pass_budget,omitempty"`

	// CallTimeout bounds each external describe.
	CallTimeout Duration `yaml:"call_timeout,omitempty"`

	// Interval is the serve-mode loop interval.
	Interval Duration `yaml:"interval,omitempty"`
}

// DeleteConfig tunes bulk deletion.
type DeleteConfig struct {
	// MaxParallel bounds concurrent deletion requests.
	MaxParallel int `yaml:"max_parallel,omitempty" validate:"omitempty,min=1"`

	// CallTimeout bounds each external delete.
	CallTimeout Duration `yaml:"call_timeout,omitempty"`
}

// AWSConfig selects how the AWS SDK configuration is resolved.
type AWSConfig struct {
	Region  string `yaml:"region,omitempty"`
	Profile string `yaml:"profile,omitempty"`

	// Static credentials for local emulators.
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
}

// TelemetryConfig configures observability.
type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat string `yaml:"log_format,omitempty" validate:"omitempty,oneof=console json"`

	MetricsEnabled bool   `yaml:"metrics_enabled,omitempty"`
	MetricsListen  string `yaml:"metrics_listen,omitempty"`

	TracingEnabled  bool   `yaml:"tracing_enabled,omitempty"`
	TracingExporter string `yaml:"tracing_exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string `yaml:"tracing_endpoint,omitempty"`

	EventsEnabled bool `yaml:"events_enabled,omitempty"`
}

// Default returns a configuration with sensible defaults applied.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{Size: 10},
		Store: StoreConfig{
			Backend: "dynamo",
			Table:   "codepool-codes",
		},
		Resource: ResourceConfig{
			CallTimeout: Duration(2 * time.Minute),
		},
		Reconcile: ReconcileConfig{
			MaxParallel: 4,
			PassBudget:  Duration(10 * time.Minute),
			CallTimeout: Duration(30 * time.Second),
			Interval:    Duration(5 * time.Minute),
		},
		Delete: DeleteConfig{
			MaxParallel: 4,
			CallTimeout: Duration(2 * time.Minute),
		},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "console",
			MetricsListen:   ":9090",
			TracingExporter: "none",
		},
	}
}

// Load reads the configuration file, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides deployment-specific settings from the environment.
func (c *Config) applyEnv() {
	overrideString(&c.Store.Backend, "CODEPOOL_STORE_BACKEND")
	overrideString(&c.Store.Table, "CODEPOOL_STORE_TABLE")
	overrideString(&c.Store.Endpoint, "CODEPOOL_STORE_ENDPOINT")
	overrideString(&c.Store.Path, "CODEPOOL_STORE_PATH")
	overrideString(&c.Resource.NamePrefix, "CODEPOOL_RESOURCE_NAME_PREFIX")
	overrideString(&c.Resource.TemplateRef, "CODEPOOL_RESOURCE_TEMPLATE_REF")
	overrideString(&c.Resource.Endpoint, "CODEPOOL_RESOURCE_ENDPOINT")
	overrideString(&c.Trigger.RuleName, "CODEPOOL_TRIGGER_RULE_NAME")
	overrideString(&c.Trigger.RulePrefix, "CODEPOOL_TRIGGER_RULE_PREFIX")
	overrideString(&c.Trigger.Endpoint, "CODEPOOL_TRIGGER_ENDPOINT")
	overrideString(&c.AWS.Region, "CODEPOOL_AWS_REGION")
	overrideString(&c.AWS.Profile, "CODEPOOL_AWS_PROFILE")
	overrideString(&c.Telemetry.LogLevel, "CODEPOOL_LOG_LEVEL")
	overrideString(&c.Telemetry.LogFormat, "CODEPOOL_LOG_FORMAT")
	overrideInt(&c.Pool.Size, "CODEPOOL_POOL_SIZE")
}

func overrideString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func overrideInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if len(c.Pool.IDs) > 0 && len(c.Pool.IDs) != c.Pool.Size {
		return fmt.Errorf("pool has %d explicit ids but size %d", len(c.Pool.IDs), c.Pool.Size)
	}

	switch c.Store.Backend {
	case "dynamo":
		if c.Store.Table == "" {
			return fmt.Errorf("store table is required for the dynamo backend")
		}
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for the sqlite backend")
		}
	}

	if c.Trigger.RuleName == "" && c.Trigger.RulePrefix == "" {
		return fmt.Errorf("trigger requires rule_name or rule_prefix")
	}
	if c.Trigger.RuleName != "" && c.Trigger.RulePrefix != "" {
		return fmt.Errorf("trigger rule_name and rule_prefix are mutually exclusive")
	}

	return nil
}
