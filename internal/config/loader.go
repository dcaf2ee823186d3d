package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment variable overrides
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	if dbPath := os.Getenv("SIGNSERVER_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if encKey := os.Getenv("SIGNSERVER_ENCRYPTION_KEY"); encKey != "" {
		cfg.Encryption.Key = encKey
	}

	if pin := os.Getenv("SIGNSERVER_PKCS11_PIN"); pin != "" {
		cfg.PKCS11.PIN = pin
	}

	if module := os.Getenv("SIGNSERVER_PKCS11_MODULE"); module != "" {
		cfg.PKCS11.ModulePath = module
	}

	// Validate again after env overrides
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after env overrides: %w", err)
	}

	return cfg, nil
}
