// Package config assembles Oneiric's operator configuration (§6.1) from
// environment variables (via github.com/joeshaw/envdecode), an optional
// local .env file (via github.com/joho/godotenv), and YAML selection/
// settings files (via gopkg.in/yaml.v3).
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Profile selects a deployment posture (§6.1).
type Profile string

const (
	ProfileDefault    Profile = "default"
	ProfileServerless Profile = "serverless"
)

// RemoteConfig is the `remote.*` configuration group (§6.1).
type RemoteConfig struct {
	Enabled         bool          `env:"ONEIRIC_REMOTE_ENABLED,default=false" yaml:"enabled"`
	ManifestURL     string        `env:"ONEIRIC_REMOTE_MANIFEST_URL" yaml:"manifest_url"`
	CacheDir        string        `env:"ONEIRIC_REMOTE_CACHE_DIR,default=.oneiric/cache" yaml:"cache_dir"`
	RefreshInterval time.Duration `env:"ONEIRIC_REMOTE_REFRESH_INTERVAL,default=5m" yaml:"refresh_interval"`
	// RefreshCron, when set, is a standard five-field cron expression that
	// overrides RefreshInterval with wall-clock-aligned scheduling.
	RefreshCron             string        `env:"ONEIRIC_REMOTE_REFRESH_CRON" yaml:"refresh_cron"`
	HTTPTimeout             time.Duration `env:"ONEIRIC_REMOTE_HTTP_TIMEOUT,default=30s" yaml:"http_timeout"`
	MaxRetries              int           `env:"ONEIRIC_REMOTE_MAX_RETRIES,default=3" yaml:"max_retries"`
	RetryBaseDelay          time.Duration `env:"ONEIRIC_REMOTE_RETRY_BASE_DELAY,default=200ms" yaml:"retry_base_delay"`
	RetryMaxDelay           time.Duration `env:"ONEIRIC_REMOTE_RETRY_MAX_DELAY,default=10s" yaml:"retry_max_delay"`
	RetryJitter             float64       `env:"ONEIRIC_REMOTE_RETRY_JITTER,default=0.2" yaml:"retry_jitter"`
	CircuitBreakerThreshold int           `env:"ONEIRIC_REMOTE_CIRCUIT_BREAKER_THRESHOLD,default=5" yaml:"circuit_breaker_threshold"`
	CircuitBreakerReset     time.Duration `env:"ONEIRIC_REMOTE_CIRCUIT_BREAKER_RESET,default=30s" yaml:"circuit_breaker_reset"`
	LatencyBudgetMS         int           `env:"ONEIRIC_REMOTE_LATENCY_BUDGET_MS,default=5000" yaml:"latency_budget_ms"`
	VerifySignature         bool          `env:"ONEIRIC_REMOTE_VERIFY_SIGNATURE,default=true" yaml:"verify_signature"`
	TrustedPublicKeys       []string      `env:"ONEIRIC_REMOTE_TRUSTED_PUBLIC_KEYS" yaml:"trusted_public_keys"`
	AllowPrivateIPs         bool          `env:"ONEIRIC_REMOTE_ALLOW_PRIVATE_IPS,default=false" yaml:"allow_private_ips"`
	RequireSignedAt         bool          `env:"ONEIRIC_REMOTE_REQUIRE_SIGNED_AT,default=false" yaml:"require_signed_at"`
	MaxAge                  time.Duration `env:"ONEIRIC_REMOTE_MAX_AGE,default=720h" yaml:"max_age"`
	AllowedSkew             time.Duration `env:"ONEIRIC_REMOTE_ALLOWED_SKEW,default=5m" yaml:"allowed_skew"`
	// RateLimitPerSecond bounds manifest/artifact fetches with one limiter
	// shared by every fetch through the Loader; 0 disables limiting (§4.9,
	// golang.org/x/time/rate wiring in remote.Loader).
	RateLimitPerSecond float64 `env:"ONEIRIC_REMOTE_RATE_LIMIT_PER_SECOND,default=0" yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `env:"ONEIRIC_REMOTE_RATE_LIMIT_BURST,default=1" yaml:"rate_limit_burst"`
}

// LifecycleConfig is the `lifecycle.*` configuration group (§6.1).
type LifecycleConfig struct {
	InitTimeout    time.Duration `env:"ONEIRIC_LIFECYCLE_INIT_TIMEOUT,default=30s" yaml:"init_timeout"`
	HealthTimeout  time.Duration `env:"ONEIRIC_LIFECYCLE_HEALTH_TIMEOUT,default=5s" yaml:"health_timeout"`
	CleanupTimeout time.Duration `env:"ONEIRIC_LIFECYCLE_CLEANUP_TIMEOUT,default=10s" yaml:"cleanup_timeout"`
	HookTimeout    time.Duration `env:"ONEIRIC_LIFECYCLE_HOOK_TIMEOUT,default=5s" yaml:"hook_timeout"`
}

// ActivityConfig is the `activity.*` configuration group (§6.1).
type ActivityConfig struct {
	StorePath string `env:"ONEIRIC_ACTIVITY_STORE_PATH,default=.oneiric/activity.json" yaml:"store_path"`
}

// WatchersConfig is the `watchers.*` configuration group (§6.1).
type WatchersConfig struct {
	Enabled        bool          `env:"ONEIRIC_WATCHERS_ENABLED,default=true" yaml:"enabled"`
	PollInterval   time.Duration `env:"ONEIRIC_WATCHERS_POLL_INTERVAL,default=5s" yaml:"poll_interval"`
	SelectionsFile string        `env:"ONEIRIC_WATCHERS_SELECTIONS_FILE" yaml:"selections_file"`
}

// Config is the assembled operator configuration (§6.1). Fields populated
// from environment variables use envdecode struct tags; the nested maps
// (selections, provider_settings, stack_order) are YAML/JSON-only since
// envdecode does not support arbitrary map shapes — Load reads them from
// the YAML selections file.
type Config struct {
	Profile          Profile  `env:"ONEIRIC_PROFILE,default=default"`
	FactoryAllowlist []string `env:"ONEIRIC_FACTORY_ALLOWLIST"`
	LogLevel         string   `env:"ONEIRIC_LOG_LEVEL,default=info"`
	LogFormat        string   `env:"ONEIRIC_LOG_FORMAT,default=json"`

	Remote    RemoteConfig
	Lifecycle LifecycleConfig
	Activity  ActivityConfig
	Watchers  WatchersConfig

	// Selections is `map<domain, map<key, provider>>` (§6.1).
	Selections map[string]map[string]string `yaml:"selections"`
	// ProviderSettings is `map<provider, object>` (§6.1).
	ProviderSettings map[string]map[string]any `yaml:"provider_settings"`
	// StackOrder is `map<provider, integer>` (§6.1), feeds PrioritySource.
	StackOrder map[string]int `yaml:"stack_order"`
}

// Load builds a Config from a local .env file (if present), environment
// variables, and an optional YAML selections file
// (ONEIRIC_SELECTIONS_FILE or cfg.Watchers.SelectionsFile), applying the
// `serverless` profile override last (§6.1).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}

	if path := selectionsPath(cfg); path != "" {
		if err := cfg.loadYAMLSelections(path); err != nil {
			return nil, err
		}
	}

	cfg.applyProfile()
	return cfg, cfg.Validate()
}

func selectionsPath(cfg *Config) string {
	if cfg.Watchers.SelectionsFile != "" {
		return cfg.Watchers.SelectionsFile
	}
	return os.Getenv("ONEIRIC_SELECTIONS_FILE")
}

func (c *Config) loadYAMLSelections(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading selections file %s: %w", path, err)
	}
	var doc struct {
		Selections       map[string]map[string]string `yaml:"selections"`
		ProviderSettings map[string]map[string]any     `yaml:"provider_settings"`
		StackOrder       map[string]int                `yaml:"stack_order"`
	}
	// KnownFields enforces §6.1's "unknown keys are rejected" for the file
	// configuration surface.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("parsing selections file %s: %w", path, err)
	}
	c.Selections = doc.Selections
	c.ProviderSettings = doc.ProviderSettings
	c.StackOrder = doc.StackOrder
	return nil
}

// applyProfile forces the serverless cold-start posture described in §6.1:
// watchers disabled, one-shot remote sync, no long-running loops.
func (c *Config) applyProfile() {
	if c.Profile != ProfileServerless {
		return
	}
	c.Watchers.Enabled = false
	c.Remote.RefreshInterval = 0
}

// Validate rejects negative time budgets and an unknown profile. Unknown
// keys are rejected earlier, while Load parses the selections file.
func (c *Config) Validate() error {
	if c.Remote.HTTPTimeout < 0 || c.Lifecycle.InitTimeout < 0 || c.Lifecycle.HealthTimeout < 0 ||
		c.Lifecycle.CleanupTimeout < 0 || c.Lifecycle.HookTimeout < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}
	if c.Profile != ProfileDefault && c.Profile != ProfileServerless {
		return fmt.Errorf("config: unknown profile %q", c.Profile)
	}
	return nil
}

// ProviderPriority adapts StackOrder into a resolver.PrioritySource-shaped
// function; kept here (rather than in package resolver) so the resolver
// stays free of any configuration-format dependency.
func (c *Config) ProviderPriority(provider string) (int, bool) {
	p, ok := c.StackOrder[provider]
	return p, ok
}
