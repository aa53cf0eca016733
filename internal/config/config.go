package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const FileName = "decisionsupport.yml"

// Config models decisionsupport.yml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Blob     BlobConfig     `yaml:"blob"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

type DatabaseConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	Workspace string `yaml:"workspace"`
}

type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	APIKeys   []APIKey `yaml:"api_keys,omitempty"`
}

// APIKey grants permissions to callers presenting a key whose sha256 hex equals KeyHash.
type APIKey struct {
	Name        string   `yaml:"name"`
	KeyHash     string   `yaml:"key_hash"`
	Permissions []string `yaml:"permissions"`
}

type BlobConfig struct {
	// Driver is "fs", "s3" or empty to disable decision support file export.
	Driver string       `yaml:"driver"`
	Root   string       `yaml:"root"`
	S3     BlobS3Config `yaml:"s3"`
}

type BlobS3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: "127.0.0.1:8080", BasePath: "/rest"},
		Database: DatabaseConfig{Driver: "sqlite", Workspace: "."},
		Blob:     BlobConfig{Driver: "fs", Root: filepath.Join(".decisionsupport", "files")},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(fsys afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return FromYAML(data)
}

// FromYAML parses and validates config data layered over Default.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch strings.ToLower(c.Database.Driver) {
	case "", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("config.database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.database.driver %q is not supported", c.Database.Driver)
	}
	switch strings.ToLower(c.Blob.Driver) {
	case "", "fs":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("config.blob.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("config.blob.driver %q is not supported", c.Blob.Driver)
	}
	for i, k := range c.Auth.APIKeys {
		if k.Name == "" {
			return fmt.Errorf("config.auth.api_keys[%d].name is required", i)
		}
		if len(k.KeyHash) != 64 {
			return fmt.Errorf("api key %s: key_hash must be a sha256 hex digest", k.Name)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// ToYAML renders the config as YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
