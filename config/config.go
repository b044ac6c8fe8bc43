// Package config loads vault node configuration from a JSON file with
// environment-variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
)

// TLSConfig holds PEM paths for the RPC listener. All-empty means plain TCP.
type TLSConfig struct {
	CACert     string `json:"ca_cert" envconfig:"TLS_CA_CERT"`
	ServerCert string `json:"server_cert" envconfig:"TLS_SERVER_CERT"`
	ServerKey  string `json:"server_key" envconfig:"TLS_SERVER_KEY"`
}

// Config holds all vault node configuration.
type Config struct {
	DataDir        string    `json:"data_dir" envconfig:"DATA_DIR"`
	RPCPort        int       `json:"rpc_port" envconfig:"RPC_PORT"`
	RPCAuthToken   string    `json:"rpc_auth_token" envconfig:"RPC_AUTH_TOKEN"`
	AllowedOrigins []string  `json:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	TLS            TLSConfig `json:"tls"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:        "./data",
		RPCPort:        8545,
		AllowedOrigins: []string{"*"},
	}
}

// Load reads a JSON config file from path, then applies BOXVAULT_* environment
// overrides on top. An empty path skips the file and uses defaults plus
// environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if err := envconfig.Process("boxvault", cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	return cfg, nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
