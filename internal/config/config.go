// Package config loads the server configuration stored in jcrdb.yaml.
package config

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/maruel/jcrdb/internal/jcr"
	"github.com/maruel/jcrdb/internal/jsonldb"
	"github.com/maruel/jcrdb/internal/repository"
)

// FileName is the name of the configuration file in the data directory.
const FileName = "jcrdb.yaml"

// Document store backends.
const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

// Config is the server configuration.
// Loaded from jcrdb.yaml, created with defaults if missing.
type Config struct {
	// Backend selects the document store: jsonl or sqlite.
	Backend string `yaml:"backend"`
	// BlobCompression is none, lz4 or zstd.
	BlobCompression string `yaml:"blob_compression"`
	// DefaultWorkspace is opened on login without a workspace name.
	DefaultWorkspace string `yaml:"default_workspace"`
	// LogLevel is debug, info, warn or error. It is applied live on change.
	LogLevel string `yaml:"log_level"`
	// JWTSecret signs the session tokens, hex encoded.
	// Auto-generated if empty on first load.
	JWTSecret string `yaml:"jwt_secret"`
	// MaxRequestBodyBytes limits the size of any single HTTP request body.
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`

	Journal    Journal           `yaml:"journal"`
	RateLimits RateLimits        `yaml:"rate_limits"`
	Users      []repository.User `yaml:"users"`
}

// Journal configures the git history of the data directory.
type Journal struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
	Email   string `yaml:"email"`
}

// RateLimits defines rate limiting configuration (requests per minute).
type RateLimits struct {
	// AuthRatePerMin limits login attempts. 0 means unlimited.
	AuthRatePerMin int `yaml:"auth_rate_per_min"`
	// WriteRatePerMin limits write operations. 0 means unlimited.
	WriteRatePerMin int `yaml:"write_rate_per_min"`
	// ReadRatePerMin limits read operations. 0 means unlimited.
	ReadRatePerMin int `yaml:"read_rate_per_min"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.AuthRatePerMin < 0 {
		return errors.New("auth_rate_per_min must be non-negative")
	}
	if r.WriteRatePerMin < 0 {
		return errors.New("write_rate_per_min must be non-negative")
	}
	if r.ReadRatePerMin < 0 {
		return errors.New("read_rate_per_min must be non-negative")
	}
	return nil
}

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		Backend:             BackendJSONL,
		BlobCompression:     jsonldb.CompressionZstd.String(),
		DefaultWorkspace:    jcr.DefaultWorkspace,
		LogLevel:            "info",
		MaxRequestBodyBytes: 64 * 1024 * 1024,
		Journal:             Journal{Enabled: true, Name: "jcrdb", Email: "jcrdb@localhost"},
		RateLimits: RateLimits{
			AuthRatePerMin:  5,
			WriteRatePerMin: 600,
			ReadRatePerMin:  30000,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendJSONL, BackendSQLite:
	default:
		return fmt.Errorf("backend: unknown backend %q", c.Backend)
	}
	if _, err := c.Compression(); err != nil {
		return fmt.Errorf("blob_compression: %w", err)
	}
	if c.DefaultWorkspace == "" {
		return errors.New("default_workspace is required")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	secret, err := c.Secret()
	if err != nil {
		return fmt.Errorf("jwt_secret: %w", err)
	}
	if len(secret) < 32 {
		return errors.New("jwt_secret must be at least 32 bytes")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return errors.New("max_request_body_bytes must be positive")
	}
	if c.Journal.Enabled && c.Journal.Name == "" {
		return errors.New("journal: name is required")
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	seen := map[string]bool{}
	for i, u := range c.Users {
		if u.Name == "" || u.PasswordHash == "" {
			return fmt.Errorf("users[%d]: name and password_hash are required", i)
		}
		if seen[u.Name] {
			return fmt.Errorf("users[%d]: duplicate user %q", i, u.Name)
		}
		seen[u.Name] = true
	}
	return nil
}

// Compression returns the parsed blob compression.
func (c *Config) Compression() (jsonldb.Compression, error) {
	return jsonldb.ParseCompression(c.BlobCompression)
}

// Secret returns the decoded JWT secret.
func (c *Config) Secret() ([]byte, error) {
	return hex.DecodeString(c.JWTSecret)
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, err
	}
	return l, nil
}

// Load loads configuration from dataDir/jcrdb.yaml.
// Creates the file with defaults if it doesn't exist.
// Auto-generates JWTSecret if empty.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, FileName)
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir
	missing := errors.Is(err, os.ErrNotExist)
	if err != nil && !missing {
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
		}
	}
	modified := false
	if cfg.JWTSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.JWTSecret = hex.EncodeToString(secret)
		modified = true
	}
	if modified || missing {
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return cfg, nil
}

// Save saves configuration to dataDir/jcrdb.yaml.
func (c *Config) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, FileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return nil
}

// Watch calls onChange with the reloaded configuration every time
// dataDir/jcrdb.yaml is written, until ctx is done. Invalid edits are logged
// and ignored.
func Watch(ctx context.Context, dataDir string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Editors replace files by renaming; watch the directory.
	if err := w.Add(dataDir); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != FileName || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				cfg, err := Load(dataDir)
				if err != nil {
					slog.WarnContext(ctx, "Ignoring invalid configuration change", "err", err)
					continue
				}
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching configuration", "err", err)
			}
		}
	}()
	return nil
}
