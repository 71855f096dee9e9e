package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/deviceguard/internal/audit"
	"github.com/nerrad567/deviceguard/internal/auth"
	"github.com/nerrad567/deviceguard/internal/infrastructure/config"
)

// writeConfig writes a minimal config with MQTT, InfluxDB and the API
// disabled and returns its path. extra is appended verbatim.
func writeConfig(t *testing.T, dbPath, extra string) string {
	t.Helper()
	dir := t.TempDir()

	hash, err := auth.HashPassword("admin")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	content := `
database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

api:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

security:
  admin_password_hash: "` + hash + `"
  lockfile:
    enabled: true
    host_key_path: "` + filepath.Join(dir, "host_key.pem") + `"
    dir_name: ".device_guard"

guard:
  poll_interval: 1
  enumeration_timeout: 1
  sysfs_root: "` + filepath.Join(dir, "sysfs") + `"
  read_partition_signature: false
` + extra

	if err := os.MkdirAll(filepath.Join(dir, "sysfs"), 0o755); err != nil {
		t.Fatalf("mkdir sysfs: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("DEVICEGUARD_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("DEVICEGUARD_CONFIG", writeConfig(t, "", ""))
	t.Setenv("DEVICEGUARD_DATABASE_PATH", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want database.path validation", err)
	}
}

// TestRun_StartupAndShutdown runs the daemon against an empty sysfs tree
// and checks it stops cleanly when the context ends.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "guard.db")
	t.Setenv("DEVICEGUARD_CONFIG", writeConfig(t, dbPath, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

// TestRun_BadPasswordHash verifies a malformed hash stops startup.
func TestRun_BadPasswordHash(t *testing.T) {
	t.Setenv("DEVICEGUARD_CONFIG", writeConfig(t, filepath.Join(t.TempDir(), "g.db"), ""))
	t.Setenv("DEVICEGUARD_ADMIN_PASSWORD_HASH", "$argon2id$garbage")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with a malformed password hash")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("DEVICEGUARD_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("DEVICEGUARD_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestHashPassword(t *testing.T) {
	var out bytes.Buffer
	if err := hashPassword(strings.NewReader("hunter2\n"), &out); err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	hash := strings.TrimSpace(out.String())
	ok, err := auth.VerifyPassword("hunter2", hash)
	if err != nil || !ok {
		t.Errorf("VerifyPassword(%q) = %v, %v", hash, ok, err)
	}

	if err := hashPassword(strings.NewReader("\n"), &out); err == nil {
		t.Error("empty password accepted")
	}
}

func TestDefaultSettings(t *testing.T) {
	s, err := defaultSettings(config.GuardConfig{LogLevel: "warning", MaxLogSize: 50, AutoBlockUnregistered: true})
	if err != nil {
		t.Fatalf("defaultSettings: %v", err)
	}
	if s.LogLevel != audit.LevelWarning || s.MaxLogSize != 50 || !s.AutoBlockUnregistered {
		t.Errorf("settings = %+v", s)
	}

	if _, err := defaultSettings(config.GuardConfig{LogLevel: "INFO", MaxLogSize: 0}); err == nil {
		t.Error("zero max_log_size accepted")
	}
}
