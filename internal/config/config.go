package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/prospector/internal/ipfilter"
	"github.com/foxzi/prospector/internal/models"
)

// Config is the main configuration structure
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	API          APIConfig          `yaml:"api"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Database     DatabaseConfig     `yaml:"database"`
	Storage      StorageConfig      `yaml:"storage"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	AI           AIConfig           `yaml:"ai"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Decision     DecisionConfig     `yaml:"decision"`
	History      HistoryConfig      `yaml:"history"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Quota        QuotaConfig        `yaml:"quota"`
	Events       EventsConfig       `yaml:"events"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig contains process-wide settings
type ServerConfig struct {
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Default: 30s
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKeys        []string      `yaml:"api_keys"`         // plain keys or bcrypt hashes; empty = no auth
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 30s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
}

// WebhookConfig restricts who may post gateway events
type WebhookConfig struct {
	AllowedIPs []string `yaml:"allowed_ips"` // empty = allow all
	TrustProxy bool     `yaml:"trust_proxy"` // use X-Forwarded-For / X-Real-IP
}

// DatabaseConfig contains the relational store settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig contains the BoltDB file used for cooldowns and metrics
type StorageConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig contains Evolution API settings
type GatewayConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`    // per request, default 30s
	SendDelay time.Duration `yaml:"send_delay"` // typing delay shown before each part
	Presence  string        `yaml:"presence"`   // default: composing
}

// AIConfig contains decision service settings
type AIConfig struct {
	APIKeys     []string `yaml:"api_keys"` // rotated on quota exhaustion
	Model       string   `yaml:"model"`
	Temperature float32  `yaml:"temperature"`
}

// SchedulerConfig contains task selection settings
type SchedulerConfig struct {
	// Statuses never eligible for a follow-up
	FollowupExclude []string `yaml:"followup_exclude"`
}

// DispatchConfig contains delivery settings
type DispatchConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	PauseMin      time.Duration `yaml:"pause_min"` // between parts
	PauseMax      time.Duration `yaml:"pause_max"`
	InitialJitter time.Duration `yaml:"initial_jitter"` // added to the opening cooldown
	Timeout       time.Duration `yaml:"timeout"`
}

// DecisionConfig contains decision retry settings
type DecisionConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// HistoryConfig contains history sync settings
type HistoryConfig struct {
	Limit         int           `yaml:"limit"`
	Timeout       time.Duration `yaml:"timeout"`
	MediaAttempts int           `yaml:"media_attempts"`
}

// OrchestratorConfig contains campaign loop settings
type OrchestratorConfig struct {
	IdleInterval    time.Duration `yaml:"idle_interval"`
	ActionMin       time.Duration `yaml:"action_min"`
	ActionMax       time.Duration `yaml:"action_max"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	SkipNumberCheck bool          `yaml:"skip_number_check"`
}

// QuotaConfig caps new conversations. Replies and follow-ups are never
// limited.
type QuotaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Global        *LimitConfig  `yaml:"global,omitempty"`
	PerChannel    *LimitConfig  `yaml:"per_channel,omitempty"`
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
}

// LimitConfig contains limit values. Zero disables a window.
type LimitConfig struct {
	PerHour int `yaml:"per_hour"`
	PerDay  int `yaml:"per_day"`
}

// EventsConfig contains outcome publishing settings
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file. A .env file next to the
// config or in the working directory is loaded first, then ${VAR}
// references in the file are expanded.
func Load(path string) (*Config, error) {
	if err := loadEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadEnv loads the env files that exist. Variables already set win.
func loadEnv(files ...string) error {
	seen := map[string]bool{}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := godotenv.Load(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// only the braced form is expanded; bcrypt hashes contain bare $
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/prospector/prospector.db"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/prospector/state.bolt"
	}

	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 30 * time.Second
	}
	if c.Gateway.Presence == "" {
		c.Gateway.Presence = "composing"
	}
	if c.Gateway.SendDelay == 0 {
		c.Gateway.SendDelay = 1200 * time.Millisecond
	}

	if c.AI.Model == "" {
		c.AI.Model = "gemini-2.5-flash"
	}
	if c.AI.Temperature == 0 {
		c.AI.Temperature = 0.5
	}

	if c.Dispatch.MaxAttempts == 0 {
		c.Dispatch.MaxAttempts = 3
	}
	if c.Dispatch.BaseDelay == 0 {
		c.Dispatch.BaseDelay = 2 * time.Second
	}
	if c.Dispatch.MaxDelay == 0 {
		c.Dispatch.MaxDelay = 30 * time.Second
	}
	if c.Dispatch.PauseMin == 0 && c.Dispatch.PauseMax == 0 {
		c.Dispatch.PauseMin = 4 * time.Second
		c.Dispatch.PauseMax = 10 * time.Second
	}
	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = 30 * time.Second
	}

	if c.Decision.MaxAttempts == 0 {
		c.Decision.MaxAttempts = 3
	}
	if c.Decision.BaseDelay == 0 {
		c.Decision.BaseDelay = 2 * time.Second
	}
	if c.Decision.Timeout == 0 {
		c.Decision.Timeout = 90 * time.Second
	}

	if c.History.Limit == 0 {
		c.History.Limit = 32
	}
	if c.History.Timeout == 0 {
		c.History.Timeout = 30 * time.Second
	}
	if c.History.MediaAttempts == 0 {
		c.History.MediaAttempts = 3
	}

	if c.Orchestrator.IdleInterval == 0 {
		c.Orchestrator.IdleInterval = 25 * time.Second
	}
	if c.Orchestrator.ActionMin == 0 && c.Orchestrator.ActionMax == 0 {
		c.Orchestrator.ActionMin = 5 * time.Second
		c.Orchestrator.ActionMax = 15 * time.Second
	}
	if c.Orchestrator.PollInterval == 0 {
		c.Orchestrator.PollInterval = 30 * time.Second
	}

	if c.Events.Exchange == "" {
		c.Events.Exchange = "prospector.outcomes"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Gateway.APIKey == "" {
		return fmt.Errorf("gateway.api_key is required")
	}

	hasKey := false
	for _, k := range c.AI.APIKeys {
		if k != "" {
			hasKey = true
		}
	}
	if !hasKey {
		return fmt.Errorf("ai.api_keys must contain at least one key")
	}

	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("ai.temperature must be between 0 and 2")
	}

	if c.Dispatch.PauseMax < c.Dispatch.PauseMin {
		return fmt.Errorf("dispatch.pause_max must not be lower than dispatch.pause_min")
	}
	if c.Orchestrator.ActionMax < c.Orchestrator.ActionMin {
		return fmt.Errorf("orchestrator.action_max must not be lower than orchestrator.action_min")
	}

	if _, err := c.FollowupExclude(); err != nil {
		return err
	}

	for name, l := range map[string]*LimitConfig{"global": c.Quota.Global, "per_channel": c.Quota.PerChannel} {
		if l != nil && (l.PerHour < 0 || l.PerDay < 0) {
			return fmt.Errorf("quota.%s limits must not be negative", name)
		}
	}
	if c.Quota.Enabled && c.Quota.Global == nil && c.Quota.PerChannel == nil {
		return fmt.Errorf("quota.global or quota.per_channel is required when the quota is enabled")
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("events.url is required when events are enabled")
	}

	if _, err := ipfilter.Parse(c.Webhook.AllowedIPs); err != nil {
		return fmt.Errorf("webhook.allowed_ips: %w", err)
	}
	if _, err := ipfilter.Parse(c.Metrics.AllowedIPs); err != nil {
		return fmt.Errorf("metrics.allowed_ips: %w", err)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

// FollowupExclude parses scheduler.followup_exclude. Nil means the
// scheduler default.
func (c *Config) FollowupExclude() ([]models.Situacao, error) {
	if len(c.Scheduler.FollowupExclude) == 0 {
		return nil, nil
	}
	out := make([]models.Situacao, 0, len(c.Scheduler.FollowupExclude))
	for _, s := range c.Scheduler.FollowupExclude {
		st, err := models.ParseSituacao(s)
		if err != nil {
			return nil, fmt.Errorf("scheduler.followup_exclude: %w", err)
		}
		out = append(out, st)
	}
	return out, nil
}
