package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/harrisonrobin/duet/pkg/swipe"
)

const (
	xdgAppName = "duet"
	configFile = "config.toml"

	SourceSQLite = "sqlite"
	SourceGoogle = "google"

	defaultCalendar   = "Duet"
	defaultMaxVisible = 3
	defaultAddr       = "127.0.0.1:8080"
)

// EnvPath overrides the config file location.
const EnvPath = "DUET_CONFIG"

type Server struct {
	Addr string `toml:"addr"`
}

type Config struct {
	Source     string        `toml:"source"`
	DBPath     string        `toml:"db_path"`
	Calendar   string        `toml:"calendar"`
	MaxVisible int           `toml:"max_visible"`
	Swipe      swipe.Decider `toml:"swipe"`
	Server     Server        `toml:"server"`
}

// Dir is the per-user config directory; token, credentials and the event
// cache live next to the config file.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

func Default() *Config {
	dbPath := "duet.db"
	if dir, err := Dir(); err == nil {
		dbPath = filepath.Join(dir, "duet.db")
	}
	return &Config{
		Source:     SourceSQLite,
		DBPath:     dbPath,
		Calendar:   defaultCalendar,
		MaxVisible: defaultMaxVisible,
		Swipe:      swipe.Default(),
		Server:     Server{Addr: defaultAddr},
	}
}

// Load reads the config at the default path, returning defaults when the
// file does not exist yet.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Source {
	case SourceSQLite, SourceGoogle:
	default:
		return fmt.Errorf("unknown source %q (want %q or %q)", c.Source, SourceSQLite, SourceGoogle)
	}
	if c.Swipe.VelocityThreshold < 0 || c.Swipe.TranslationThreshold < 0 {
		return errors.New("swipe thresholds must not be negative")
	}
	return nil
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.Source == "" {
		c.Source = def.Source
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.Calendar == "" {
		c.Calendar = def.Calendar
	}
	if c.MaxVisible <= 0 {
		c.MaxVisible = def.MaxVisible
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
}

func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(path, cfg)
}

func SaveFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
