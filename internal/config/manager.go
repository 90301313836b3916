package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// ConfigManager loads the configuration once at startup.
//
// Sources, lowest precedence first:
//  1. the optional config file (JSON, or YAML by extension)
//  2. the optional dotenv file (never overrides variables already set)
//  3. the process environment
type ConfigManager struct {
	path    string
	envFile string
	lookup  func(string) (string, bool)

	mu  sync.RWMutex
	cfg *Config
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: strings.TrimSpace(path), lookup: os.LookupEnv}
}

// SetEnvFile sets the dotenv file loaded before the environment overlay.
func (m *ConfigManager) SetEnvFile(path string) { m.envFile = strings.TrimSpace(path) }

// SetLookupEnv replaces os.LookupEnv (tests).
func (m *ConfigManager) SetLookupEnv(fn func(string) (string, bool)) {
	if fn != nil {
		m.lookup = fn
	}
}

// Parse reads every source and returns the merged, defaulted config.
// It does not validate.
func (m *ConfigManager) Parse() (*Config, error) {
	var cfg Config
	if m.path != "" {
		b, err := os.ReadFile(m.path)
		if err != nil {
			return nil, err
		}
		if err := decodeStrict(m.path, b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", m.path, err)
		}
	}

	if m.envFile != "" {
		if err := godotenv.Load(m.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("env file %s: %w", m.envFile, err)
		}
	}

	if err := applyEnv(&cfg, m.lookup); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func decodeStrict(path string, data []byte, cfg *Config) error {
	jb, err := toJSON(path, data)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("invalid config: trailing data")
		}
		return err
	}
	return nil
}

// Load parses and validates the configuration and keeps it for Get().
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Path returns the config file path ("" when running from the environment only).
func (m *ConfigManager) Path() string { return m.path }
