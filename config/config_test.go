package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Provider != ProviderSQLite || cfg.Port != 8080 {
		t.Fatalf("Defaults are %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, "travelnotes.yaml", `
version: "2024.06.01"
origin: https://notes.example
storage:
  provider: leveldb
  path: /var/cache/travelnotes
staticManifest:
  - /
  - /index.html
probeInterval: 10s
api:
  jwtSecret: from-file-secret-123
`)
	t.Setenv("TRAVELNOTES_PORT", "9090")
	t.Setenv("TRAVELNOTES_API_JWT_SECRET", "from-env-secret-456")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Version != "2024.06.01" || cfg.Origin != "https://notes.example" {
		t.Fatalf("File values not applied: %+v", cfg)
	}
	if cfg.Storage.Provider != ProviderLevelDB || cfg.Storage.Path != "/var/cache/travelnotes" {
		t.Fatalf("Storage is %+v", cfg.Storage)
	}
	if !slices.Equal(cfg.StaticManifest, []string{"/", "/index.html"}) {
		t.Fatalf("Manifest is %v", cfg.StaticManifest)
	}
	if cfg.ProbeInterval != 10*time.Second {
		t.Fatalf("Probe interval is %s", cfg.ProbeInterval)
	}
	if cfg.Port != 9090 || cfg.API.JWTSecret != "from-env-secret-456" {
		t.Fatalf("Env not applied: port %d secret %s", cfg.Port, cfg.API.JWTSecret)
	}
	// untouched defaults survive
	if cfg.API.Port != 8081 {
		t.Fatalf("API port is %d", cfg.API.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Missing file accepted")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Version = ""
	cfg.Origin = "localhost"
	cfg.Storage.Provider = "redis"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Invalid config accepted")
	}
	for _, want := range []string{"version", "origin", "redis"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error %q does not mention %s", err, want)
		}
	}
	if err := Default().ValidateAPI(); err == nil {
		t.Fatal("API config without secret accepted")
	}
}

func TestVersionFile(t *testing.T) {
	path := writeFile(t, "VERSION", "v7\n")
	v, err := VersionFile(path).LatestVersion(context.Background())
	if err != nil || v != "v7" {
		t.Fatalf("Version %q (%v)", v, err)
	}
}
