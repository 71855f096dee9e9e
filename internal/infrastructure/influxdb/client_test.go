package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/deviceguard/internal/infrastructure/config"
	"github.com/nerrad567/deviceguard/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "deviceguard-dev-token",
		Org:           "deviceguard",
		Bucket:        "security",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		client, err := influxdb.Connect(testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

func connect(t *testing.T) *influxdb.Client {
	t.Helper()
	skipIfNoInfluxDB(t)
	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()
	cfg.BatchSize = 0
	cfg.FlushInterval = -1

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect() with default batch settings")
	}
}

func TestHealthCheck(t *testing.T) {
	client := connect(t)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteSecurityMetrics(t *testing.T) {
	client := connect(t)

	var (
		mu       sync.Mutex
		writeErr error
	)
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	id := "VID_0781&PID_5581&SN_TEST"
	client.WriteRegistration(id, true, true)
	client.WriteVerification(id, false)
	client.ObserveEnumeration(3, 40*time.Millisecond, false)
	client.WriteBlock(id, "storage")
	client.Flush()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}

func TestClose(t *testing.T) {
	skipIfNoInfluxDB(t)
	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client.WriteVerification("close-test", true)
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// Writes after close are dropped, not panics.
	client.WriteVerification("after-close", true)
	client.Flush()
}

func TestUnconnectedClientDropsWrites(t *testing.T) {
	var client influxdb.Client
	client.WriteRegistration("x", false, true)
	client.ObserveEnumeration(0, 0, true)
	client.Flush()
	if got := client.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
