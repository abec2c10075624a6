package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr          string   `json:"addr" yaml:"addr" toml:"addr"`
	Profile       string   `json:"profile" yaml:"profile" toml:"profile"`
	SystemDir     string   `json:"system_profiles" yaml:"system_profiles" toml:"system_profiles"`
	UserDir       string   `json:"user_profiles" yaml:"user_profiles" toml:"user_profiles"`
	EngineCommand []string `json:"engine_command" yaml:"engine_command" toml:"engine_command"`
	LogLevel      string   `json:"log_level" yaml:"log_level" toml:"log_level"`

	SSL  SSL  `json:"ssl" yaml:"ssl" toml:"ssl"`
	CORS CORS `json:"cors" yaml:"cors" toml:"cors"`
	MQTT MQTT `json:"mqtt" yaml:"mqtt" toml:"mqtt"`
}

// SSL enables HTTPS when both files are set.
type SSL struct {
	CertFile string `json:"cert_file" yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file" toml:"key_file"`
}

// CORS controls cross-origin access to the HTTP API.
type CORS struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
}

// MQTT configures the optional event republisher.
type MQTT struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Broker   string `json:"broker" yaml:"broker" toml:"broker"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	Prefix   string `json:"prefix" yaml:"prefix" toml:"prefix"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
