package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/deviceguard/internal/infrastructure/config"
)

// Service status values published on Topics.SystemStatus.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	reasonGraceful   = "graceful_shutdown"
	reasonUnexpected = "unexpected_disconnect"
)

// Client publishes deviceguard security events to an MQTT broker.
//
// It never subscribes. Audit entries, presence changes and block decisions
// flow out to enforcement agents and dashboards; nothing on the bus can
// change whitelist state.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected atomic.Bool

	mu     sync.RWMutex
	logger Logger
}

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Connect dials the broker with a last will on the status topic, so
// enforcement agents see the guard go offline even when it crashes.
// Reconnects are automatic; every (re)connect republishes the online status.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onConnectionLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.warn("MQTT reconnecting", "client_id", cfg.Broker.ClientID)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// OnConnect runs asynchronously and may not have fired yet.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) onConnect() {
	c.connected.Store(true)
	if l := c.getLogger(); l != nil {
		l.Info("MQTT connected", "client_id", c.cfg.Broker.ClientID)
	}
	// Fire and forget: this runs on paho's callback goroutine and must not
	// wait for its own acknowledgement.
	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		statusPayload(StatusOnline, c.cfg.Broker.ClientID, ""))
}

func (c *Client) onConnectionLost(err error) {
	c.connected.Store(false)
	c.warn("MQTT connection lost", "error", err)
}

// PublishStatus publishes a retained service status message.
func (c *Client) PublishStatus(status, reason string) error {
	return c.Publish(Topics{}.SystemStatus(),
		[]byte(statusPayload(status, c.cfg.Broker.ClientID, reason)), byte(c.cfg.QoS), true)
}

// Close publishes a graceful offline status, which subscribers can tell
// apart from the last will, and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		if err := c.PublishStatus(StatusOffline, reasonGraceful); err != nil {
			c.warn("publishing offline status failed", "error", err)
		}
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports whether the broker connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetLogger sets the logger for connection events.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

func (c *Client) warn(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}
