// Package config loads and validates the Kira host configuration.
//
// The host recognises a single option set; unknown keys fail the load so a
// typo cannot silently disable a feature. All values have defaults — an
// empty file is a valid configuration apart from vault.path.
package config

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirahq/kira/common/clock"
	"github.com/kirahq/kira/internal/kira/kerrors"
)

// Config is the root configuration object.
type Config struct {
	Vault   VaultConfig   `yaml:"vault"`
	Cleanup CleanupConfig `yaml:"cleanup"`
	Backup  BackupConfig  `yaml:"backup"`
	Agent   AgentConfig   `yaml:"agent"`
	Policy  PolicyConfig  `yaml:"policy"`
	Router  RouterConfig  `yaml:"router"`
	Log     LogConfig     `yaml:"log"`
}

// VaultConfig locates the entity vault.
type VaultConfig struct {
	// Path is the filesystem root owning all durable entities.
	Path string `yaml:"path"`
	// TZ is the IANA timezone name. Invalid names fall back to
	// clock.DefaultTimezone with a warning.
	TZ string `yaml:"tz"`
	// EnableFileLocks controls the on-disk .lock files taken around entity
	// renames. In-process per-id serialization is always on.
	EnableFileLocks bool `yaml:"enable_file_locks"`
}

// CleanupConfig holds retention TTLs in days.
type CleanupConfig struct {
	DedupeTTLDays     int `yaml:"dedupe_ttl_days"`
	QuarantineTTLDays int `yaml:"quarantine_ttl_days"`
	LogTTLDays        int `yaml:"log_ttl_days"`
}

// BackupConfig controls vault tarball backups.
type BackupConfig struct {
	BackupDir      string `yaml:"backup_dir"`
	RetentionCount int    `yaml:"retention_count"`
	Compress       bool   `yaml:"compress"`
}

// AgentConfig bounds and flags for agent-graph runs.
type AgentConfig struct {
	Budget BudgetConfig `yaml:"budget"`
	Flags  FlagsConfig  `yaml:"flags"`
}

// BudgetConfig is the per-run agent budget.
type BudgetConfig struct {
	MaxSteps           int `yaml:"max_steps"`
	MaxTokens          int `yaml:"max_tokens"`
	MaxWallTimeSeconds int `yaml:"max_wall_time_seconds"`
}

// FlagsConfig toggles optional agent-graph nodes.
type FlagsConfig struct {
	DryRun              bool `yaml:"dry_run"`
	RequireConfirmation bool `yaml:"require_confirmation"`
	EnableReflection    bool `yaml:"enable_reflection"`
	EnableVerification  bool `yaml:"enable_verification"`
	// HaltOnError aborts an agent run on the first failed tool call
	// instead of continuing with the remaining steps.
	HaltOnError bool `yaml:"halt_on_error"`
}

// PolicyConfig configures the capability enforcer.
type PolicyConfig struct {
	// AllowedCapabilities is the active capability set. Defaults to
	// read/create/update/export (delete disabled).
	AllowedCapabilities []string `yaml:"allowed_capabilities"`
	// AllowedTools restricts the tool allowlist. Empty means every
	// registered tool is allowed (subject to capabilities).
	AllowedTools []string `yaml:"allowed_tools"`
	// RequireConfirmation lists additional tools gated behind explicit
	// confirmation even when not flagged destructive.
	RequireConfirmation []string `yaml:"require_confirmation"`
	// MaxToolCallsPerRequest bounds a single agent run.
	MaxToolCallsPerRequest int `yaml:"max_tool_calls_per_request"`
}

// RouterConfig maps LLM task types to named providers.
type RouterConfig struct {
	PlanningProvider    string `yaml:"planning_provider"`
	StructuringProvider string `yaml:"structuring_provider"`
	DefaultProvider     string `yaml:"default_provider"`
	// EnableLocalFallback routes one attempt to the "local" provider after
	// the primary exhausts its retries on a retryable error.
	EnableLocalFallback bool `yaml:"enable_local_fallback"`
	MaxRetries          int  `yaml:"max_retries"`
	// Providers defines the addressable providers by name. The API key is
	// read from the named environment variable, never from the file.
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes one OpenAI-compatible provider endpoint.
type ProviderConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns a Config with every documented default applied.
func Default() *Config {
	return &Config{
		Vault: VaultConfig{
			TZ:              clock.DefaultTimezone,
			EnableFileLocks: true,
		},
		Cleanup: CleanupConfig{
			DedupeTTLDays:     30,
			QuarantineTTLDays: 90,
			LogTTLDays:        7,
		},
		Backup: BackupConfig{
			RetentionCount: 7,
			Compress:       true,
		},
		Agent: AgentConfig{
			Budget: BudgetConfig{
				MaxSteps:           10,
				MaxTokens:          10000,
				MaxWallTimeSeconds: 300,
			},
			Flags: FlagsConfig{
				EnableReflection:   true,
				EnableVerification: true,
			},
		},
		Policy: PolicyConfig{
			AllowedCapabilities:    []string{"read", "create", "update", "export"},
			MaxToolCallsPerRequest: 10,
		},
		Router: RouterConfig{
			MaxRetries: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML configuration file, overlays it on the defaults, and
// validates the result. A missing path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, kerrors.IO(err, "read config %s", path)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, kerrors.Wrap(kerrors.KindValidation, err, "parse config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks semantic constraints and normalises fallback values.
func (c *Config) Validate() error {
	if c.Agent.Budget.MaxSteps <= 0 {
		return kerrors.Validation("agent.budget.max_steps must be > 0")
	}
	if c.Agent.Budget.MaxTokens <= 0 {
		return kerrors.Validation("agent.budget.max_tokens must be > 0")
	}
	if c.Agent.Budget.MaxWallTimeSeconds <= 0 {
		return kerrors.Validation("agent.budget.max_wall_time_seconds must be > 0")
	}
	if c.Policy.MaxToolCallsPerRequest <= 0 {
		return kerrors.Validation("policy.max_tool_calls_per_request must be > 0")
	}
	for _, ttl := range []struct {
		name string
		v    int
	}{
		{"cleanup.dedupe_ttl_days", c.Cleanup.DedupeTTLDays},
		{"cleanup.quarantine_ttl_days", c.Cleanup.QuarantineTTLDays},
		{"cleanup.log_ttl_days", c.Cleanup.LogTTLDays},
	} {
		if ttl.v < 0 {
			return kerrors.Validation("%s must be >= 0", ttl.name)
		}
	}
	for _, cap := range c.Policy.AllowedCapabilities {
		switch cap {
		case "read", "create", "update", "delete", "export":
		default:
			return kerrors.Validation("policy.allowed_capabilities: unknown capability %q", cap)
		}
	}
	return nil
}

// Clock builds the host clock from vault.tz, falling back with a warning on
// an unrecognised timezone.
func (c *Config) Clock() clock.Clock {
	ck, ok := clock.New(c.Vault.TZ)
	if !ok {
		slog.Warn("config: invalid vault.tz, using default",
			"tz", c.Vault.TZ, "default", clock.DefaultTimezone)
	}
	return ck
}

// MaxWallTime returns the wall-time budget as a duration.
func (b BudgetConfig) MaxWallTime() time.Duration {
	return time.Duration(b.MaxWallTimeSeconds) * time.Second
}
