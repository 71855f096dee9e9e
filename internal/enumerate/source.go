package enumerate

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/deviceguard/internal/device"
)

// Source lists the USB devices currently attached.
type Source interface {
	Enumerate(ctx context.Context) ([]device.Descriptor, error)
}

// Logger is the logging interface used by this package.
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

// Static is a Source that returns a fixed device list. Used in tests and
// for dry runs without USB access.
type Static struct {
	mu      sync.Mutex
	devices []device.Descriptor
	err     error
	delay   time.Duration
}

// NewStatic creates a Static source.
func NewStatic(devices ...device.Descriptor) *Static {
	s := &Static{}
	s.Set(devices...)
	return s
}

// Set replaces the device list.
func (s *Static) Set(devices ...device.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = cloneAll(devices)
}

// SetError makes Enumerate fail with err until cleared with nil.
func (s *Static) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// SetDelay makes Enumerate wait d before answering, or until ctx is done.
func (s *Static) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Enumerate implements Source.
func (s *Static) Enumerate(ctx context.Context) ([]device.Descriptor, error) {
	s.mu.Lock()
	devices, err, delay := cloneAll(s.devices), s.err, s.delay
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func cloneAll(in []device.Descriptor) []device.Descriptor {
	out := make([]device.Descriptor, len(in))
	for i := range in {
		out[i] = *in[i].Clone()
	}
	return out
}
