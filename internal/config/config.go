// Package config reads and writes the installation configuration. The file
// is TOML; a handful of fields can be overridden from the environment with
// GONK_-prefixed variables.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// Config is the per-installation configuration record. It is passed
// explicitly into components at startup; there are no process-wide
// singletons.
type Config struct {
	BaseDir string `toml:"base_dir"`
	LogDir  string `toml:"log_dir"`

	Server    ServerConfig    `toml:"server"`
	Integrity IntegrityConfig `toml:"integrity"`
	Depot     DepotConfig     `toml:"depot"`
	Record    RecordConfig    `toml:"record"`
	State     StateConfig     `toml:"state"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// IntegrityConfig selects the integrity mode and its key material.
type IntegrityConfig struct {
	Mode   string `toml:"mode"`    // "chain" (default) or "signature"
	KeyDir string `toml:"key_dir"` // per-author ed25519 keys, signature mode only
}

// DepotConfig selects the blob store backend.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type DepotConfig struct {
	Type string `toml:"type"` // "filesystem" (default), "memory", or "s3"

	// Encryption applies to the filesystem backend: "none" or "age".
	Encryption      string `toml:"encryption,omitempty"`
	AgeIdentityPath string `toml:"age_identity_path,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
}

// RecordConfig selects the record keeper backend.
type RecordConfig struct {
	Type string `toml:"type"` // "filesystem" (default), "sqlite", or "memory"
}

// StateConfig selects the state projection backend.
type StateConfig struct {
	Type string `toml:"type"` // "sqlite" (default) or "memory"
}

// envOverrides are the environment variables honored on top of the file.
type envOverrides struct {
	BaseDir string `envconfig:"BASE_DIR"`
	Listen  string `envconfig:"LISTEN"`
	LogDir  string `envconfig:"LOG_DIR"`
}

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Server:  ServerConfig{Listen: "127.0.0.1:8046"},
		Integrity: IntegrityConfig{
			Mode:   "chain",
			KeyDir: filepath.Join(baseDir, "keys"),
		},
		Depot:  DepotConfig{Type: "filesystem", Encryption: "none"},
		Record: RecordConfig{Type: "filesystem"},
		State:  StateConfig{Type: "sqlite"},
	}
}

// DatasetsDir is where per-dataset directories live.
func (c *Config) DatasetsDir() string {
	return filepath.Join(c.BaseDir, "datasets")
}

// UsersDBPath is the installation-wide user database.
func (c *Config) UsersDBPath() string {
	return filepath.Join(c.BaseDir, "gonk.db")
}

// Read decodes a Config from r and applies environment overrides.
func Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("gonk", &env); err != nil {
		return nil, fmt.Errorf("reading environment overrides: %w", err)
	}
	if env.BaseDir != "" {
		cfg.BaseDir = env.BaseDir
	}
	if env.Listen != "" {
		cfg.Server.Listen = env.Listen
	}
	if env.LogDir != "" {
		cfg.LogDir = env.LogDir
	}
	return &cfg, nil
}

// ReadFromFile reads a Config from the given path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Write encodes cfg to w.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Init writes a fresh config file at path, refusing to overwrite one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := Write(f, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
