package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/deviceguard/internal/audit"
)

// ErrStoreUnavailable wraps every settings storage failure.
var ErrStoreUnavailable = errors.New("settings: store unavailable")

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("settings: invalid")

// Settings is the runtime-adjustable guard configuration.
type Settings struct {
	AutoBlockUnregistered bool        `json:"auto_block_unregistered"`
	LogLevel              audit.Level `json:"log_level"`
	MaxLogSize            int         `json:"max_log_size"`
}

// Validate checks every field.
func (s Settings) Validate() error {
	if !s.LogLevel.Valid() {
		return fmt.Errorf("%w: log_level %q must be INFO, WARNING or ERROR", ErrInvalid, s.LogLevel)
	}
	if s.MaxLogSize <= 0 {
		return fmt.Errorf("%w: max_log_size must be positive, got %d", ErrInvalid, s.MaxLogSize)
	}
	return nil
}

const (
	keyAutoBlock  = "auto_block_unregistered"
	keyLogLevel   = "log_level"
	keyMaxLogSize = "max_log_size"
)

// Repository persists settings as key/value rows.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a settings repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Load returns the stored settings, taking any key that was never saved
// from defaults. Stored values that no longer parse fall back to the
// default as well.
func (r *Repository) Load(ctx context.Context, defaults Settings) (Settings, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: loading settings: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	s := defaults
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Settings{}, fmt.Errorf("%w: scanning setting: %w", ErrStoreUnavailable, err)
		}
		switch key {
		case keyAutoBlock:
			if b, err := strconv.ParseBool(value); err == nil {
				s.AutoBlockUnregistered = b
			}
		case keyLogLevel:
			if l, err := audit.ParseLevel(value); err == nil {
				s.LogLevel = l
			}
		case keyMaxLogSize:
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				s.MaxLogSize = n
			}
		}
	}
	if err := rows.Err(); err != nil {
		return Settings{}, fmt.Errorf("%w: iterating settings: %w", ErrStoreUnavailable, err)
	}
	return s, nil
}

// Save validates and stores s in one transaction.
func (r *Repository) Save(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning settings save: %w", ErrStoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := r.now().UTC().Format(time.RFC3339)
	values := map[string]string{
		keyAutoBlock:  strconv.FormatBool(s.AutoBlockUnregistered),
		keyLogLevel:   string(s.LogLevel),
		keyMaxLogSize: strconv.Itoa(s.MaxLogSize),
	}
	for k, v := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, v, now); err != nil {
			return fmt.Errorf("%w: saving %s: %w", ErrStoreUnavailable, k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing settings: %w", ErrStoreUnavailable, err)
	}
	return nil
}
