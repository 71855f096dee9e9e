package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/deviceguard/internal/audit"
	"github.com/nerrad567/deviceguard/internal/registry"
	"github.com/nerrad567/deviceguard/internal/settings"
)

// AuditSource tags audit entries written by the monitor.
const AuditSource = "guard"

// DefaultPollInterval is used when Config.PollInterval is zero.
const DefaultPollInterval = 2 * time.Second

// Block reasons.
const (
	ReasonUnregistered      = "unregistered"
	ReasonDuplicateIdentity = "duplicate_identity"
)

// Presence events.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// Registry is the part of the registry service the monitor reads.
// Implemented by *registry.Service.
type Registry interface {
	ListDevices(ctx context.Context) (registry.DeviceList, error)
	Settings() settings.Settings
}

// Auditor appends audit entries. Implemented by *audit.Log.
type Auditor interface {
	Append(ctx context.Context, level audit.Level, source, message string, details map[string]any) (audit.Entry, error)
}

// Enforcer carries out a block decision. deviceguard decides; enforcement
// is done by whatever sits behind this interface.
type Enforcer interface {
	Block(ctx context.Context, d BlockDecision) error
}

// BlockRecorder receives block decisions for metrics. Implemented by the
// InfluxDB client.
type BlockRecorder interface {
	WriteBlock(canonicalID, deviceType string)
}

// Logger is the operational logging interface.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PresenceEvent reports a device appearing or disappearing.
type PresenceEvent struct {
	Event  string              `json:"event"`
	Device registry.DeviceView `json:"device"`
	At     time.Time           `json:"at"`
}

// BlockDecision asks an enforcer to block an unregistered device.
type BlockDecision struct {
	CanonicalID  string    `json:"canonical_id"`
	FriendlyName string    `json:"friendly_name"`
	DeviceType   string    `json:"device_type"`
	DriveLetter  string    `json:"drive_letter,omitempty"`
	Reason       string    `json:"reason"`
	DecidedAt    time.Time `json:"decided_at"`
}

// PresenceListener receives presence events. It is called from the
// monitor goroutine and must not block.
type PresenceListener func(PresenceEvent)

// Config configures a Monitor.
type Config struct {
	PollInterval time.Duration
}

// Monitor watches attached devices, reports connects and disconnects, and
// when auto-block is on hands unregistered devices to the Enforcer.
//
// It only reads whitelist state. It never verifies fingerprints: a
// verification is an operator action.
type Monitor struct {
	reg      Registry
	auditor  Auditor
	interval time.Duration

	enforcer Enforcer
	recorder BlockRecorder
	logger   Logger
	now      func() time.Time

	mu        sync.Mutex
	listeners []PresenceListener
	known      map[string]registry.DeviceView
	blocked    map[string]bool
	duplicates map[string]bool
}

// NewMonitor creates a Monitor.
func NewMonitor(reg Registry, auditor Auditor, cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Monitor{
		reg:      reg,
		auditor:  auditor,
		interval: cfg.PollInterval,
		logger:   noopLogger{},
		now:      time.Now,
		known:    make(map[string]registry.DeviceView),
		blocked:  make(map[string]bool),

		duplicates: make(map[string]bool),
	}
}

// SetLogger sets the operational logger.
func (m *Monitor) SetLogger(logger Logger) { m.logger = logger }

// SetEnforcer sets the enforcer for block decisions. Without one, decisions
// are audited but nothing is blocked.
func (m *Monitor) SetEnforcer(e Enforcer) { m.enforcer = e }

// SetBlockRecorder sets the metrics sink for block decisions.
func (m *Monitor) SetBlockRecorder(r BlockRecorder) { m.recorder = r }

// Subscribe registers fn for presence events.
func (m *Monitor) Subscribe(fn PresenceListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Run polls until ctx is cancelled. Devices already attached when Run
// starts are reported as connected on the first pass.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("device monitor started", "interval", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Poll(ctx)
		select {
		case <-ctx.Done():
			m.logger.Info("device monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one pass: diff, audit, enforce. Passes must not overlap; Run
// calls it from a single goroutine.
func (m *Monitor) Poll(ctx context.Context) {
	list, err := m.reg.ListDevices(ctx)
	if err != nil {
		m.logger.Error("listing devices failed", "error", err)
		return
	}
	// A degraded pass says nothing about what is attached; diffing it would
	// report every device as disconnected.
	if list.Degraded {
		m.logger.Warn("enumeration degraded, skipping presence diff")
		return
	}

	current := make(map[string]registry.DeviceView, len(list.StorageDevices)+len(list.OtherDevices))
	for _, v := range list.StorageDevices {
		current[v.CanonicalID] = v
	}
	for _, v := range list.OtherDevices {
		current[v.CanonicalID] = v
	}

	m.mu.Lock()
	previous := m.known
	m.known = current
	m.mu.Unlock()

	for id, v := range current {
		if _, seen := previous[id]; !seen {
			m.presence(ctx, EventConnected, v)
		}
	}
	for id, v := range previous {
		if _, still := current[id]; !still {
			m.presence(ctx, EventDisconnected, v)
			delete(m.blocked, id)
			delete(m.duplicates, id)
		}
	}

	m.enforce(ctx, current)
}

func (m *Monitor) presence(ctx context.Context, event string, v registry.DeviceView) {
	state := "unregistered"
	if v.IsRegistered {
		state = string(v.State())
	}
	msg := fmt.Sprintf("Device %s: %s (%s)", event, v.FriendlyName, state)
	m.append(ctx, audit.LevelInfo, msg, map[string]any{
		"canonical_id": v.CanonicalID,
		"event":        event,
		"device_type":  string(v.DeviceType),
	})

	ev := PresenceEvent{Event: event, Device: v, At: m.now().UTC()}
	m.mu.Lock()
	listeners := append([]PresenceListener(nil), m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// enforce blocks every attached device that is not registered, or whose
// id is shared by more than one attached device, once per occurrence. A
// device removed from the whitelist while attached is blocked on the next
// pass. Duplicate ids are always audited; they are blocked when auto-block
// is on, registered or not, since the clone cannot be told apart.
func (m *Monitor) enforce(ctx context.Context, current map[string]registry.DeviceView) {
	autoBlock := m.reg.Settings().AutoBlockUnregistered
	for id, v := range current {
		reason := ReasonUnregistered
		switch {
		case v.Duplicate():
			reason = ReasonDuplicateIdentity
			if !m.duplicates[id] {
				m.duplicates[id] = true
				m.append(ctx, audit.LevelWarning,
					fmt.Sprintf("Multiple devices share identity %s: %d attached", v.FriendlyName, v.Instances),
					map[string]any{"canonical_id": v.CanonicalID, "instances": v.Instances})
			}
		case v.IsRegistered:
			delete(m.blocked, id)
			delete(m.duplicates, id)
			continue
		default:
			delete(m.duplicates, id)
		}
		if !autoBlock || m.blocked[id] {
			continue
		}
		m.blocked[id] = true
		m.block(ctx, v, reason)
	}
}

func (m *Monitor) block(ctx context.Context, v registry.DeviceView, reason string) {
	d := BlockDecision{
		CanonicalID:  v.CanonicalID,
		FriendlyName: v.FriendlyName,
		DeviceType:   string(v.DeviceType),
		DriveLetter:  v.DriveLetter,
		Reason:       reason,
		DecidedAt:    m.now().UTC(),
	}
	details := map[string]any{"canonical_id": v.CanonicalID, "device_type": d.DeviceType, "reason": reason}
	label, noun := "Unregistered device", "unregistered device"
	if reason == ReasonDuplicateIdentity {
		label, noun = "Duplicate device identity", "duplicate device identity"
	}

	if m.recorder != nil {
		m.recorder.WriteBlock(d.CanonicalID, d.DeviceType)
	}
	if m.enforcer == nil {
		m.append(ctx, audit.LevelWarning, label+" detected, no enforcer configured: "+v.FriendlyName, details)
		return
	}
	if err := m.enforcer.Block(ctx, d); err != nil {
		// Retry on the next pass.
		delete(m.blocked, v.CanonicalID)
		details["error"] = err.Error()
		m.append(ctx, audit.LevelError, "Blocking "+noun+" failed: "+v.FriendlyName, details)
		return
	}
	m.append(ctx, audit.LevelWarning, label+" blocked: "+v.FriendlyName, details)
}

func (m *Monitor) append(ctx context.Context, level audit.Level, msg string, details map[string]any) {
	if _, err := m.auditor.Append(ctx, level, AuditSource, msg, details); err != nil {
		m.logger.Error("audit append failed", "message", msg, "error", err)
	}
}
