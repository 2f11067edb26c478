package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(""))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Chat.MaxTokens != 10000 {
		t.Errorf("MaxTokens = %d, want 10000", cfg.Chat.MaxTokens)
	}
	if cfg.Chat.CacheTTLDays != 5 {
		t.Errorf("CacheTTLDays = %d, want 5", cfg.Chat.CacheTTLDays)
	}
	if cfg.Hub.KeepaliveSeconds != 60 {
		t.Errorf("KeepaliveSeconds = %d, want 60", cfg.Hub.KeepaliveSeconds)
	}
	if cfg.Delivery.MaxRetries != 3 || cfg.Delivery.TimeoutMs != 30000 {
		t.Errorf("Delivery = %+v, want defaults", cfg.Delivery)
	}
	if cfg.Retention.Enabled {
		t.Error("Retention.Enabled = true, want false by default")
	}
}

func TestParseConfigOverrides(t *testing.T) {
	yaml := `
instance_id: edge-7
hub:
  url: wss://hub.example.com/agent
  keepalive_seconds: 30
chat:
  max_tokens: 4000
logging:
  level: debug
  format: text
`
	cfg, err := ParseConfig([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.InstanceID != "edge-7" {
		t.Errorf("InstanceID = %q, want edge-7", cfg.InstanceID)
	}
	if cfg.Hub.URL != "wss://hub.example.com/agent" {
		t.Errorf("Hub.URL = %q", cfg.Hub.URL)
	}
	if cfg.Hub.KeepaliveSeconds != 30 {
		t.Errorf("KeepaliveSeconds = %d, want 30", cfg.Hub.KeepaliveSeconds)
	}
	if cfg.Chat.MaxTokens != 4000 {
		t.Errorf("MaxTokens = %d, want 4000", cfg.Chat.MaxTokens)
	}
	// Untouched sections keep their defaults.
	if cfg.Storage.Path != "data/nerio.db" {
		t.Errorf("Storage.Path = %q, want default", cfg.Storage.Path)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("NERIO_TEST_HUB", "wss://hub.internal/agent")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "hub:\n  url: ${NERIO_TEST_HUB}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Hub.URL != "wss://hub.internal/agent" {
		t.Errorf("Hub.URL = %q, want the expanded value", cfg.Hub.URL)
	}
}

func TestSaveConfigSanitizesSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-secret-value"
	cfg.Hub.APIKey = "hub-secret-value"

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	text := string(data)
	if strings.Contains(text, "sk-secret-value") || strings.Contains(text, "hub-secret-value") {
		t.Error("secrets were written in plaintext")
	}
	if !strings.Contains(text, "${NERIO_API_KEY}") {
		t.Error("model key was not replaced with an env reference")
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}
}

func TestIsEnvReference(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"${NERIO_API_KEY}", true},
		{"$NERIO_API_KEY", true},
		{"sk-abc123", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsEnvReference(tc.value); got != tc.want {
			t.Errorf("IsEnvReference(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}
