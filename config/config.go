// Package config loads the travelnotes configuration from a YAML file,
// overlaid by TRAVELNOTES_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "TRAVELNOTES_"

const (
	ProviderSQLite  = "sqlite"
	ProviderLevelDB = "leveldb"
	ProviderMemory  = "memory"
)

type Config struct {
	// Version of the application shell being served.
	Version string `yaml:"version" env:"VERSION"`
	// File holding the latest version. Checked for updates if set.
	VersionFile string `yaml:"versionFile" env:"VERSION_FILE"`
	// Origin requests are proxied to.
	Origin string `yaml:"origin" env:"ORIGIN"`
	Port   int    `yaml:"port" env:"PORT"`

	Storage         StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	PartitionPrefix string        `yaml:"partitionPrefix" env:"PARTITION_PREFIX"`
	StaticManifest  []string      `yaml:"staticManifest" env:"STATIC_MANIFEST" envSeparator:","`
	ShellURL        string        `yaml:"shellURL" env:"SHELL_URL"`
	BackendMarker   string        `yaml:"backendMarker" env:"BACKEND_MARKER"`

	API APIConfig `yaml:"api" envPrefix:"API_"`

	OutboxPath       string        `yaml:"outboxPath" env:"OUTBOX_PATH"`
	LocalStoragePath string        `yaml:"localStoragePath" env:"LOCAL_STORAGE_PATH"`
	ProbeInterval    time.Duration `yaml:"probeInterval" env:"PROBE_INTERVAL"`
	UpdateInterval   time.Duration `yaml:"updateInterval" env:"UPDATE_INTERVAL"`
}

type StorageConfig struct {
	// sqlite, leveldb or memory.
	Provider string `yaml:"provider" env:"PROVIDER"`
	Path     string `yaml:"path" env:"PATH"`
}

type APIConfig struct {
	// Base URL of the notes API as seen by clients.
	URL       string        `yaml:"url" env:"URL"`
	Port      int           `yaml:"port" env:"PORT"`
	DBPath    string        `yaml:"dbPath" env:"DB_PATH"`
	JWTSecret string        `yaml:"jwtSecret" env:"JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"tokenTTL" env:"TOKEN_TTL"`
	// Bearer token the CLI uses.
	Token string `yaml:"token" env:"TOKEN"`
}

func Default() Config {
	return Config{
		Version: "v1",
		Origin:  "http://localhost:5173",
		Port:    8080,
		Storage: StorageConfig{
			Provider: ProviderSQLite,
			Path:     "travelnotes-cache.db",
		},
		API: APIConfig{
			URL:      "http://localhost:8081",
			Port:     8081,
			DBPath:   "travelnotes.db",
			TokenTTL: 24 * time.Hour,
		},
		OutboxPath:       "travelnotes-outbox.db",
		LocalStoragePath: "travelnotes-local",
		ProbeInterval:    30 * time.Second,
	}
}

// Load reads the file at path over the defaults, then applies the environment.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the proxy needs.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Version) == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if u, err := url.Parse(c.Origin); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("origin %q must be an absolute URL", c.Origin))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Storage.Provider {
	case ProviderSQLite, ProviderLevelDB, ProviderMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage provider %q", c.Storage.Provider))
	}
	return errors.Join(errs...)
}

// ValidateAPI checks the settings the notes API server needs.
func (c Config) ValidateAPI() error {
	var errs []error
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api port %d out of range", c.API.Port))
	}
	if len(c.API.JWTSecret) < 16 {
		errs = append(errs, errors.New("api jwt secret must be at least 16 bytes"))
	}
	return errors.Join(errs...)
}

// VersionFile reports the version written in a file, for deployments that
// announce a new version by rewriting it.
type VersionFile string

func (f VersionFile) LatestVersion(context.Context) (string, error) {
	b, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("read version file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
