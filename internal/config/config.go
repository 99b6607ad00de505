package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models workgraph.yml.
type Config struct {
	Storage struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`
	Assignment struct {
		MinScore float64 `yaml:"min_score"`
	} `yaml:"assignment"`
	Availability struct {
		UrgentWithin time.Duration `yaml:"urgent_within"`
		SoonWithin   time.Duration `yaml:"soon_within"`
	} `yaml:"availability"`
	Readiness struct {
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"readiness"`
	Retention struct {
		// KeepPerTask of 0 keeps the full TaskUpdate history.
		KeepPerTask int `yaml:"keep_per_task"`
	} `yaml:"retention"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
		// AllowTeamHeader accepts X-Team-Id without a token (local use only).
		AllowTeamHeader bool `yaml:"allow_team_header"`
	} `yaml:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with wg config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config.storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" && os.Getenv("DATABASE_URL") == "" {
		return fmt.Errorf("config.storage.dsn is required for postgres")
	}
	if c.Assignment.MinScore < 0 || c.Assignment.MinScore >= 1 {
		return fmt.Errorf("config.assignment.min_score must be in [0,1), got %v", c.Assignment.MinScore)
	}
	if c.Availability.UrgentWithin <= 0 {
		return fmt.Errorf("config.availability.urgent_within must be positive")
	}
	if c.Availability.SoonWithin < c.Availability.UrgentWithin {
		return fmt.Errorf("config.availability.soon_within must be >= urgent_within")
	}
	if c.Readiness.SweepInterval < 0 {
		return fmt.Errorf("config.readiness.sweep_interval must not be negative")
	}
	if c.Retention.KeepPerTask < 0 {
		return fmt.Errorf("config.retention.keep_per_task must not be negative")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "workgraph.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `storage:
  driver: sqlite
  dsn: ""

assignment:
  # teams must score strictly above this to be eligible
  min_score: 0.7

availability:
  urgent_within: 48h
  soon_within: 168h

readiness:
  # how often pending tasks with lagged dependencies are re-checked; 0 disables
  sweep_interval: 30s

retention:
  keep_per_task: 0

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  jwt_secret: ""
  allow_team_header: false
`
