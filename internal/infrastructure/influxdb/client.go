package influxdb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/deviceguard/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize     = 50
	defaultFlushInterval = 5 // seconds

	// HostTag is added to every point so several guarded machines can share
	// one bucket.
	HostTag = "host"
)

// Client records deviceguard security metrics in InfluxDB: registrations,
// verifications, enumeration passes and block decisions.
//
// Writes are batched and never block the caller. A Client that is not
// connected, including the zero value, drops points and counts them.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	connected atomic.Bool
	dropped   atomic.Uint64

	mu      sync.RWMutex
	onError func(err error)
}

// Connect pings the server and sets up the batching write API.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)). // #nosec G115 -- positive, checked above
		SetFlushInterval(uint(time.Duration(flushInterval) * time.Second / time.Millisecond)) // #nosec G115
	if host, err := os.Hostname(); err == nil && host != "" {
		opts = opts.AddDefaultTag(HostTag, host)
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	c.connected.Store(true)
	go c.forwardErrors(c.writeAPI.Errors())

	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

// forwardErrors delivers async batch failures to the error callback. The
// channel closes when the underlying client does.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// Close flushes pending points and closes the client. Safe on the zero value.
func (c *Client) Close() error {
	if c.client == nil || !c.connected.Swap(false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := ping(checkCtx, c.client); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// IsConnected reports the last known connection state. HealthCheck does an
// active ping.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load()
}

// Dropped returns how many points were discarded because the client was
// not connected.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// SetOnError sets the callback for failed batch writes. Errors wrap
// ErrWriteFailed.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// Flush blocks until buffered points are sent. No-op when not connected.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}
