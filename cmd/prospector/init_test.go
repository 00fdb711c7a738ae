package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/prospector/internal/config"
)

func TestGenerateRandomString(t *testing.T) {
	lengths := []int{8, 16, 32, 64}

	for _, length := range lengths {
		result := generateRandomString(length)
		if len(result) != length {
			t.Errorf("generateRandomString(%d) returned string of length %d", length, len(result))
		}
	}

	s1 := generateRandomString(32)
	s2 := generateRandomString(32)
	if s1 == s2 {
		t.Error("generateRandomString should generate unique strings")
	}
}

func TestHashAPIKey(t *testing.T) {
	hash, err := hashAPIKey("operator-key", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashAPIKey() error = %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("operator-key")); err != nil {
		t.Errorf("hash does not match key: %v", err)
	}

	if _, err := hashAPIKey("", bcrypt.MinCost); err == nil {
		t.Error("hashAPIKey() expected error for empty key")
	}
}

func TestGenerateConfig(t *testing.T) {
	initGatewayURL = "http://evolution:8080"
	initDataDir = "/var/lib/prospector"

	cfg := generateConfig("$2a$10$abcdefghijklmnopqrstuuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ012")

	checks := []string{
		`base_url: "http://evolution:8080"`,
		`path: "/var/lib/prospector/prospector.db"`,
		`path: "/var/lib/prospector/state.bolt"`,
		`api_key: "${PROSPECTOR_GATEWAY_KEY}"`,
		`- "$2a$10$abcdefghij`,
	}
	for _, check := range checks {
		if !strings.Contains(cfg, check) {
			t.Errorf("Generated config missing: %s", check)
		}
	}
}

func TestGeneratedConfigLoads(t *testing.T) {
	dir := t.TempDir()
	initGatewayURL = "http://evolution:8080"
	initGatewayKey = "gw-secret"
	initAIKey = "ai-secret"
	initDataDir = dir

	hash, err := hashAPIKey("operator-key", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "prospector.yaml")
	if err := os.WriteFile(path, []byte(generateConfig(hash)), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(envFilePath(path), []byte(generateEnv()), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("PROSPECTOR_GATEWAY_KEY")
		os.Unsetenv("PROSPECTOR_AI_KEY")
	})

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.APIKey != "gw-secret" {
		t.Errorf("Gateway.APIKey = %q, want gw-secret", cfg.Gateway.APIKey)
	}
	if cfg.AI.APIKeys[0] != "ai-secret" {
		t.Errorf("AI.APIKeys = %v", cfg.AI.APIKeys)
	}
	if cfg.API.APIKeys[0] != hash {
		t.Errorf("API key hash altered: %q", cfg.API.APIKeys[0])
	}
}

func TestEnvFilePath(t *testing.T) {
	tests := map[string]string{
		"config.yaml":                     ".env",
		"/etc/prospector/prospector.yaml": "/etc/prospector/.env",
		"conf/p.yaml":                     "conf/.env",
	}
	for in, want := range tests {
		if got := envFilePath(in); got != want {
			t.Errorf("envFilePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTailLines(t *testing.T) {
	log := "[a] one\n[b] two\n\n[c] three\n"

	got := tailLines(log, 2)
	if len(got) != 2 || got[0] != "[b] two" || got[1] != "[c] three" {
		t.Errorf("tailLines() = %q", got)
	}
	if got := tailLines(log, 10); len(got) != 3 {
		t.Errorf("tailLines() = %q, want 3 lines", got)
	}
	if got := tailLines("", 3); len(got) != 0 {
		t.Errorf("tailLines(\"\") = %q", got)
	}
}
