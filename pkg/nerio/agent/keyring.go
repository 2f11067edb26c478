package agent

import (
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "nerio"

	// keyringAPIKey is the key name for the LLM API key.
	keyringAPIKey = "api_key"

	// keyringHubKey is the key name for the hub API key.
	keyringHubKey = "hub_api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring. Returns empty string
// if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__nerio_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveSecrets fills in the API keys using the priority chain:
// OS keyring → environment variable → config value. Updates the config
// in place.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	cfg.LLM.APIKey = resolveSecret(cfg.LLM.APIKey, keyringAPIKey, "NERIO_API_KEY", "model API key", logger)
	cfg.Hub.APIKey = resolveSecret(cfg.Hub.APIKey, keyringHubKey, "NERIO_HUB_API_KEY", "hub API key", logger)
}

func resolveSecret(current, keyringKey, envName, what string, logger *slog.Logger) string {
	if val := GetKeyring(keyringKey); val != "" {
		logger.Debug(what+" loaded from OS keyring", "key", keyringKey)
		return val
	}

	if val := os.Getenv(envName); val != "" {
		logger.Debug(what+" loaded from environment", "env", envName)
		return val
	}

	if current != "" && !IsEnvReference(current) {
		logger.Debug(what + " loaded from config")
		return current
	}

	logger.Warn("no "+what+" found", "hint", "set "+envName+" or store it in the OS keyring")
	return ""
}
