package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/prospector/internal/models"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	content := `
api:
  listen_addr: ":9080"
  api_keys:
    - "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

gateway:
  base_url: "http://evolution:8080"
  api_key: "gw-key"
  send_delay: 2s

ai:
  api_keys: ["k1", "k2"]
  temperature: 0.3

scheduler:
  followup_exclude: [not_interested, completed, "Falha no Envio"]

dispatch:
  max_attempts: 5
  pause_min: 1s
  pause_max: 3s

orchestrator:
  idle_interval: 1m
  skip_number_check: true

quota:
  enabled: true
  per_channel:
    per_day: 40

logging:
  level: "debug"
  format: "text"
`
	cfg, err := Load(writeConfig(t, t.TempDir(), content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.ListenAddr != ":9080" {
		t.Errorf("API.ListenAddr = %v, want :9080", cfg.API.ListenAddr)
	}
	if !strings.HasPrefix(cfg.API.APIKeys[0], "$2a$10$") {
		t.Errorf("bcrypt hash was altered: %q", cfg.API.APIKeys[0])
	}
	if cfg.Gateway.SendDelay != 2*time.Second {
		t.Errorf("Gateway.SendDelay = %v, want 2s", cfg.Gateway.SendDelay)
	}
	if len(cfg.AI.APIKeys) != 2 || cfg.AI.Temperature != 0.3 {
		t.Errorf("AI = %+v", cfg.AI)
	}
	if cfg.Dispatch.MaxAttempts != 5 || cfg.Dispatch.PauseMax != 3*time.Second {
		t.Errorf("Dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Orchestrator.IdleInterval != time.Minute || !cfg.Orchestrator.SkipNumberCheck {
		t.Errorf("Orchestrator = %+v", cfg.Orchestrator)
	}
	if !cfg.Quota.Enabled || cfg.Quota.PerChannel == nil || cfg.Quota.PerChannel.PerDay != 40 || cfg.Quota.Global != nil {
		t.Errorf("Quota = %+v", cfg.Quota)
	}

	exclude, err := cfg.FollowupExclude()
	if err != nil {
		t.Fatalf("FollowupExclude() error = %v", err)
	}
	want := []models.Situacao{models.SituacaoNotInterested, models.SituacaoCompleted, models.SituacaoSendFailed}
	if len(exclude) != len(want) {
		t.Fatalf("FollowupExclude() = %v, want %v", exclude, want)
	}
	for i := range want {
		if exclude[i] != want[i] {
			t.Errorf("FollowupExclude()[%d] = %v, want %v", i, exclude[i], want[i])
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `
gateway:
  base_url: "http://evolution:8080"
  api_key: "gw-key"
ai:
  api_keys: ["k1"]
`
	cfg, err := Load(writeConfig(t, t.TempDir(), content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("API.ListenAddr = %v, want :8080", cfg.API.ListenAddr)
	}
	if cfg.AI.Model != "gemini-2.5-flash" || cfg.AI.Temperature != 0.5 {
		t.Errorf("AI defaults = %+v", cfg.AI)
	}
	if cfg.Orchestrator.IdleInterval != 25*time.Second {
		t.Errorf("IdleInterval = %v, want 25s", cfg.Orchestrator.IdleInterval)
	}
	if cfg.Orchestrator.ActionMin != 5*time.Second || cfg.Orchestrator.ActionMax != 15*time.Second {
		t.Errorf("action interval = %v..%v, want 5s..15s", cfg.Orchestrator.ActionMin, cfg.Orchestrator.ActionMax)
	}
	if cfg.Dispatch.PauseMin != 4*time.Second || cfg.Dispatch.PauseMax != 10*time.Second {
		t.Errorf("pause = %v..%v, want 4s..10s", cfg.Dispatch.PauseMin, cfg.Dispatch.PauseMax)
	}
	if cfg.Gateway.Presence != "composing" {
		t.Errorf("Presence = %v, want composing", cfg.Gateway.Presence)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if exclude, _ := cfg.FollowupExclude(); exclude != nil {
		t.Errorf("FollowupExclude() = %v, want nil", exclude)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PROSPECTOR_TEST_GW_KEY=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROSPECTOR_TEST_AI_KEY", "from-env")
	t.Cleanup(func() { os.Unsetenv("PROSPECTOR_TEST_GW_KEY") })

	content := `
gateway:
  base_url: "http://evolution:8080"
  api_key: "${PROSPECTOR_TEST_GW_KEY}"
ai:
  api_keys: ["${PROSPECTOR_TEST_AI_KEY}"]
`
	cfg, err := Load(writeConfig(t, dir, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.APIKey != "from-dotenv" {
		t.Errorf("Gateway.APIKey = %q, want from-dotenv", cfg.Gateway.APIKey)
	}
	if cfg.AI.APIKeys[0] != "from-env" {
		t.Errorf("AI.APIKeys[0] = %q, want from-env", cfg.AI.APIKeys[0])
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() expected error for nonexistent file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{
			Gateway: GatewayConfig{BaseURL: "http://evolution", APIKey: "k"},
			AI:      AIConfig{APIKeys: []string{"k"}},
		}
		c.setDefaults()
		return c
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid", modify: func(c *Config) {}},
		{name: "missing gateway url", modify: func(c *Config) { c.Gateway.BaseURL = "" }, wantErr: "gateway.base_url"},
		{name: "missing gateway key", modify: func(c *Config) { c.Gateway.APIKey = "" }, wantErr: "gateway.api_key"},
		{name: "only empty ai keys", modify: func(c *Config) { c.AI.APIKeys = []string{""} }, wantErr: "ai.api_keys"},
		{name: "temperature", modify: func(c *Config) { c.AI.Temperature = 3 }, wantErr: "ai.temperature"},
		{name: "pause range", modify: func(c *Config) { c.Dispatch.PauseMin = time.Minute }, wantErr: "dispatch.pause_max"},
		{name: "action range", modify: func(c *Config) { c.Orchestrator.ActionMax = time.Second }, wantErr: "orchestrator.action_max"},
		{name: "unknown exclude status", modify: func(c *Config) { c.Scheduler.FollowupExclude = []string{"lost"} }, wantErr: "followup_exclude"},
		{name: "quota without limits", modify: func(c *Config) { c.Quota.Enabled = true }, wantErr: "quota.global"},
		{name: "negative quota", modify: func(c *Config) { c.Quota.PerChannel = &LimitConfig{PerDay: -1} }, wantErr: "quota.per_channel"},
		{name: "events without url", modify: func(c *Config) { c.Events.Enabled = true }, wantErr: "events.url"},
		{name: "bad webhook ip", modify: func(c *Config) { c.Webhook.AllowedIPs = []string{"evolution"} }, wantErr: "webhook.allowed_ips"},
		{name: "bad log level", modify: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "logging.level"},
		{name: "bad log format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
