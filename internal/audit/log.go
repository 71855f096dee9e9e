package audit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger is the operational logging interface. Audit entries are mirrored
// to it so they also show up in the service log.
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

// Listener receives every appended entry, in sequence order. It is called
// while the log is locked and must not block or call back into the Log.
type Listener func(Entry)

// Log is the security audit trail. Appends from any goroutine are
// serialised, so sequence order is insertion order.
type Log struct {
	repo   Repository
	logger Logger
	now    func() time.Time

	mu        sync.Mutex
	maxSize   int
	listeners []Listener
}

// Query selects entries to read.
type Query struct {
	MinLevel Level
	Limit    int
}

// NewLog creates a Log bounded to maxSize entries.
func NewLog(repo Repository, maxSize int) (*Log, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxSize, maxSize)
	}
	return &Log{
		repo:    repo,
		logger:  noopLogger{},
		now:     time.Now,
		maxSize: maxSize,
	}, nil
}

// SetLogger sets the operational logger entries are mirrored to.
func (l *Log) SetLogger(logger Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	l.logger = logger
}

// Subscribe registers fn for every subsequently appended entry.
func (l *Log) Subscribe(fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Append records an entry. details may be nil.
func (l *Log) Append(ctx context.Context, level Level, source, message string, details map[string]any) (Entry, error) {
	if !level.Valid() {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.repo.Append(ctx, Entry{
		Timestamp: l.now().UTC(),
		Level:     level,
		Source:    source,
		Message:   message,
		Details:   details,
	}, l.maxSize)
	if err != nil {
		l.logger.Error("audit append failed", "source", source, "message", message, "error", err)
		return Entry{}, err
	}

	l.mirror(e)
	for _, fn := range l.listeners {
		fn(e)
	}
	return e, nil
}

// Info appends an INFO entry.
func (l *Log) Info(ctx context.Context, source, message string, details map[string]any) (Entry, error) {
	return l.Append(ctx, LevelInfo, source, message, details)
}

// Warning appends a WARNING entry.
func (l *Log) Warning(ctx context.Context, source, message string, details map[string]any) (Entry, error) {
	return l.Append(ctx, LevelWarning, source, message, details)
}

// Error appends an ERROR entry.
func (l *Log) Error(ctx context.Context, source, message string, details map[string]any) (Entry, error) {
	return l.Append(ctx, LevelError, source, message, details)
}

// Entries returns stored entries in insertion order.
func (l *Log) Entries(ctx context.Context, q Query) ([]Entry, error) {
	if q.MinLevel != "" && !q.MinLevel.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, q.MinLevel)
	}
	return l.repo.List(ctx, Filter(q))
}

// Clear removes every entry and returns how many were removed.
func (l *Log) Clear(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.DeleteAll(ctx)
}

// MaxSize returns the current bound.
func (l *Log) MaxSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxSize
}

// SetMaxSize changes the bound and evicts immediately if the log is over it.
func (l *Log) SetMaxSize(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxSize, n)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.repo.Trim(ctx, n); err != nil {
		return err
	}
	l.maxSize = n
	return nil
}

func (l *Log) mirror(e Entry) {
	args := []any{"seq", e.Seq, "source", e.Source}
	for k, v := range e.Details {
		args = append(args, k, v)
	}
	switch e.Level {
	case LevelError:
		l.logger.Error(e.Message, args...)
	case LevelWarning:
		l.logger.Warn(e.Message, args...)
	default:
		l.logger.Info(e.Message, args...)
	}
}
