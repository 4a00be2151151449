package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.dialogsync/config.toml.
type Config struct {
	// ServerURL is the base URL of the chat backend.
	ServerURL string `toml:"server_url"`
	// Token is the auth token used when none is supplied on the command line.
	Token string `toml:"token"`
	// DefaultAccount selects the account when --account is not given.
	DefaultAccount string `toml:"default_account"`
	// PageSize is the limit for paginated remote queries.
	PageSize int `toml:"page_size"`
	// InsertPacingMs spaces out cache inserts during the bulk sync pass.
	InsertPacingMs int `toml:"insert_pacing_ms"`
}

// Defaults applied to fields left unset in the file.
const (
	DefaultPageSize       = 100
	DefaultInsertPacingMs = 10
)

// Load reads config from the given path. Returns zero config and error
// if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	// Zero means unset; pass a negative value to disable pacing.
	if c.InsertPacingMs == 0 {
		c.InsertPacingMs = DefaultInsertPacingMs
	}
}
