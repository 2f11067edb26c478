// Package agent wires the full assistant together: configuration, storage,
// the conversation stack, the command engine, result delivery and the
// orchestrator channel, plus the request handlers served over it.
package agent

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nerio-dev/nerio/pkg/nerio/delivery"
	"github.com/nerio-dev/nerio/pkg/nerio/llm"
	"github.com/nerio-dev/nerio/pkg/nerio/storage"
)

// envVarPattern matches ${VAR_NAME} or $VAR_NAME in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// Config is the full agent configuration, loaded from YAML with environment
// expansion.
type Config struct {
	// InstanceID identifies this agent towards the orchestrator.
	InstanceID string `yaml:"instance_id"`

	// Name is the display name reported in config frames.
	Name string `yaml:"name"`

	// Persona is the base system message for chat turns.
	Persona string `yaml:"persona"`

	Hub       HubConfig               `yaml:"hub"`
	LLM       llm.ClientConfig        `yaml:"llm"`
	Chat      ChatConfig              `yaml:"chat"`
	Delivery  delivery.Options        `yaml:"delivery"`
	Storage   StorageConfig           `yaml:"storage"`
	Retention storage.RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig           `yaml:"logging"`

	// ThemesDir holds UI theme files served via the themes frame.
	ThemesDir string `yaml:"themes_dir"`
}

// HubConfig points at the orchestrator.
type HubConfig struct {
	// URL is the websocket endpoint of the command hub.
	URL string `yaml:"url"`

	// ResultURL is the HTTP endpoint command results are delivered to.
	ResultURL string `yaml:"result_url"`

	// APIKey authenticates both the channel and result delivery.
	APIKey string `yaml:"api_key"`

	// KeepaliveSeconds is the liveness probe interval. Default: 60.
	KeepaliveSeconds int `yaml:"keepalive_seconds"`
}

// ChatConfig tunes the conversation layer.
type ChatConfig struct {
	// MaxTokens is the history budget before compaction. Default: 10000.
	MaxTokens int `yaml:"max_tokens"`

	// CacheTTLDays is how long idle sessions stay cached. Default: 5.
	CacheTTLDays int `yaml:"cache_ttl_days"`
}

// StorageConfig locates the local database.
type StorageConfig struct {
	// Path is the SQLite database file. Default: data/nerio.db.
	Path string `yaml:"path"`
}

// LoggingConfig selects log verbosity and output format.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Default: info.
	Level string `yaml:"level"`

	// Format is "json" or "text". Default: json.
	Format string `yaml:"format"`
}

// DefaultConfig returns a config with every default filled in.
func DefaultConfig() *Config {
	return &Config{
		InstanceID: "default",
		Name:       "Nerio",
		Persona:    "You are Nerio, a concise and helpful assistant running on the user's own infrastructure.",
		Hub: HubConfig{
			KeepaliveSeconds: 60,
		},
		LLM: llm.ClientConfig{
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 120,
		},
		Chat:      ChatConfig{MaxTokens: 10000, CacheTTLDays: 5},
		Delivery:  delivery.DefaultOptions(),
		Storage:   StorageConfig{Path: "data/nerio.db"},
		Retention: storage.DefaultRetentionConfig(),
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		ThemesDir: "themes",
	}
}

// LoadConfig reads a YAML config file, loading .env files and expanding
// environment variable references first. Values not present in the file keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return ParseConfig([]byte(expandEnvVars(string(data))))
}

// ParseConfig parses YAML bytes over the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config as YAML with owner-only permissions. The API
// keys are replaced with environment references so secrets never land on
// disk in plaintext.
func SaveConfig(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.Hub.APIKey = sanitizeSecret(cfg.Hub.APIKey, "NERIO_HUB_API_KEY")
	sanitized.LLM.APIKey = sanitizeSecret(cfg.LLM.APIKey, "NERIO_API_KEY")

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches standard locations for a config file.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"nerio.yaml",
		"nerio.yml",
		"configs/config.yaml",
		"configs/nerio.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// IsEnvReference reports whether a value is an unexpanded environment
// variable reference rather than a literal secret.
func IsEnvReference(value string) bool {
	return strings.HasPrefix(value, "${") || strings.HasPrefix(value, "$")
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from standard locations. Existing
// environment variables are never overwritten.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR} and $VAR references with their environment
// values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		name = strings.TrimPrefix(name, "{")
		name = strings.TrimSuffix(name, "}")
		return os.Getenv(name)
	})
}

func sanitizeSecret(value, envName string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	return "${" + envName + "}"
}
