package enumerate

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/deviceguard/internal/device"
)

// DefaultTimeout bounds one enumeration pass.
const DefaultTimeout = 5 * time.Second

// Snapshot is a point-in-time device list.
type Snapshot struct {
	Devices []device.Descriptor
	TakenAt time.Time

	// Degraded is set when the source failed or stalled; Devices is then
	// empty.
	Degraded bool
}

// Observer is told about every enumeration pass.
type Observer interface {
	ObserveEnumeration(devices int, took time.Duration, degraded bool)
}

// Enumerator wraps a Source with a timeout and coalesces concurrent
// callers into a single pass. It never returns an error: a failed or
// stalled pass yields an empty, degraded snapshot.
type Enumerator struct {
	source   Source
	timeout  time.Duration
	group    singleflight.Group
	running  atomic.Bool
	logger   Logger
	observer Observer
}

// NewEnumerator creates an Enumerator. A non-positive timeout uses
// DefaultTimeout.
func NewEnumerator(source Source, timeout time.Duration) *Enumerator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Enumerator{source: source, timeout: timeout, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (e *Enumerator) SetLogger(l Logger) { e.logger = l }

// SetObserver sets the pass observer.
func (e *Enumerator) SetObserver(o Observer) { e.observer = o }

// Snapshot returns the current device list. Callers must not modify the
// returned descriptors.
func (e *Enumerator) Snapshot(ctx context.Context) Snapshot {
	ch := e.group.DoChan("snapshot", func() (any, error) {
		return e.pass(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Snapshot) //nolint:forcetypeassert // pass always returns Snapshot
	case <-ctx.Done():
		return Snapshot{TakenAt: time.Now().UTC(), Degraded: true}
	}
}

func (e *Enumerator) pass(parent context.Context) Snapshot {
	start := time.Now()
	snap := Snapshot{TakenAt: start.UTC()}

	// A source that ignored cancellation on a previous pass may still be
	// running; do not pile another one on top of it.
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Warn("usb enumeration still stalled, skipping pass")
		snap.Degraded = true
		e.observe(snap, start)
		return snap
	}

	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	type result struct {
		devices []device.Descriptor
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer e.running.Store(false)
		devices, err := e.source.Enumerate(ctx)
		done <- result{devices, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			e.logger.Warn("usb enumeration failed", "error", r.err)
			snap.Degraded = true
		} else {
			snap.Devices = r.devices
		}
	case <-ctx.Done():
		e.logger.Warn("usb enumeration timed out", "timeout", e.timeout)
		snap.Degraded = true
	}
	e.observe(snap, start)
	return snap
}

func (e *Enumerator) observe(snap Snapshot, start time.Time) {
	if e.observer != nil {
		e.observer.ObserveEnumeration(len(snap.Devices), time.Since(start), snap.Degraded)
	}
}
