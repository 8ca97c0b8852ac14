package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
)

// ScanPath is one configured scan target: every directory matching Path is
// scanned as an experiment of Type.
type ScanPath struct {
	Name string `mapstructure:"name" toml:"name,omitempty"`
	Type string `mapstructure:"type" toml:"type"`
	Path string `mapstructure:"path" toml:"path"`
}

// Config holds all runtime configuration for edb.
// Values are populated from edb.yaml, EDB_* env vars, and CLI flags.
type Config struct {
	Database                string     `mapstructure:"database" toml:"database"`
	ScanPaths               []ScanPath `mapstructure:"scan_paths" toml:"scan_paths"`
	VariableRefreshInterval string     `mapstructure:"variable_refresh_interval" toml:"variable_refresh_interval"`
	NcdumpPath              string     `mapstructure:"ncdump_path" toml:"ncdump_path"`
	LogLevel                string     `mapstructure:"log_level" toml:"log_level"`
	LogFormat               string     `mapstructure:"log_format" toml:"log_format"`
	Output                  string     `mapstructure:"output" toml:"output"`
	Verbose                 bool       `mapstructure:"verbose" toml:"-"`

	refresh time.Duration
}

// DefaultRefreshInterval is how long a stream's variable list is trusted
// before it is extracted again.
const DefaultRefreshInterval = 30 * 24 * time.Hour

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags. The merged settings
// are validated before they are decoded.
func Load() (Config, error) {
	viper.SetDefault("database", "~/.local/share/edb/catalog.db")
	viper.SetDefault("scan_paths", []any{})
	viper.SetDefault("variable_refresh_interval", DefaultRefreshInterval.String())
	viper.SetDefault("ncdump_path", "ncdump")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("output", "table")
	viper.SetDefault("verbose", false)

	if err := Validate(viper.AllSettings()); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}

	d, err := time.ParseDuration(cfg.VariableRefreshInterval)
	if err != nil {
		return Config{}, fmt.Errorf("config: variable_refresh_interval: %w", err)
	}
	if d <= 0 {
		return Config{}, fmt.Errorf("config: variable_refresh_interval must be positive, got %s", d)
	}
	cfg.refresh = d

	cfg.Database = ExpandPath(cfg.Database)
	for i := range cfg.ScanPaths {
		cfg.ScanPaths[i].Path = ExpandPath(cfg.ScanPaths[i].Path)
	}
	return cfg, nil
}

// RefreshInterval returns the parsed variable_refresh_interval, or the
// default for a Config that did not come from Load.
func (c Config) RefreshInterval() time.Duration {
	if c.refresh > 0 {
		return c.refresh
	}
	return DefaultRefreshInterval
}

// ExpandPath expands environment variables and a leading ~ in p.
func ExpandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

const schemaURL = "https://edb.local/config.schema.json"

const schemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "database": {"type": "string", "minLength": 1},
    "scan_paths": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "path"],
        "properties": {
          "name": {"type": "string"},
          "type": {"type": "string", "minLength": 1},
          "path": {"type": "string", "minLength": 1}
        }
      }
    },
    "variable_refresh_interval": {
      "type": "string",
      "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
    },
    "ncdump_path": {"type": "string", "minLength": 1},
    "log_level": {"enum": ["panic", "fatal", "error", "warn", "warning", "info", "debug", "trace"]},
    "log_format": {"enum": ["text", "json"]},
    "output": {"enum": ["table", "tsv"]}
  }
}`

var schema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(schemaDoc)); err != nil {
		panic(err)
	}
	return c.MustCompile(schemaURL)
}

// Validate checks raw settings against the configuration schema. The
// settings are round-tripped through JSON so that values decoded from YAML,
// env vars, and flags all reach the validator in the same shape.
func Validate(settings map[string]any) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("config: encode settings: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("config: decode settings: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config: invalid settings: %w", err)
	}
	return nil
}
