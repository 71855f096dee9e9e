package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Entry is one audit record. Seq gives the total order; Timestamp is
// informational.
type Entry struct {
	Seq       int64          `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// Filter controls which entries List returns.
type Filter struct {
	MinLevel Level // optional: only entries at or above this level
	Limit    int   // optional: only the most recent Limit entries
}

// Repository stores audit entries.
type Repository interface {
	// Append inserts e, assigns its sequence number and evicts the oldest
	// entries beyond maxSize, atomically.
	Append(ctx context.Context, e Entry, maxSize int) (Entry, error)
	// List returns matching entries in ascending sequence order.
	List(ctx context.Context, filter Filter) ([]Entry, error)
	// Trim evicts the oldest entries beyond maxSize.
	Trim(ctx context.Context, maxSize int) (int, error)
	// DeleteAll removes every entry. Sequence numbers are not reused.
	DeleteAll(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
}

// SQLiteRepository stores entries in the audit_log table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const evictSQL = `DELETE FROM audit_log WHERE seq <= (
	SELECT seq FROM audit_log ORDER BY seq DESC LIMIT 1 OFFSET ?)`

// Append inserts e and applies the size bound in one transaction.
func (r *SQLiteRepository) Append(ctx context.Context, e Entry, maxSize int) (Entry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailsJSON *string
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return Entry{}, fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, unavailable("beginning audit append", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log (created_at, level, source, message, details) VALUES (?, ?, ?, ?, ?)`,
		e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.Level), e.Source, e.Message, detailsJSON,
	)
	if err != nil {
		return Entry{}, unavailable("inserting audit entry", err)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return Entry{}, unavailable("reading audit sequence", err)
	}

	if maxSize > 0 {
		if _, err := tx.ExecContext(ctx, evictSQL, maxSize); err != nil {
			return Entry{}, unavailable("evicting audit entries", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, unavailable("committing audit append", err)
	}
	return e, nil
}

// List returns entries matching filter, oldest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Entry, error) {
	var (
		where string
		args  []any
	)
	if filter.MinLevel != "" {
		levels := filter.MinLevel.AtLeast()
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(levels)), ",")
		where = "WHERE level IN (" + placeholders + ")"
		for _, l := range levels {
			args = append(args, string(l))
		}
	}

	// The inner query picks the newest Limit rows; the outer one restores
	// ascending order. LIMIT -1 means no limit in SQLite.
	limit := -1
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT seq, created_at, level, source, message, details FROM (
		SELECT seq, created_at, level, source, message, details FROM audit_log %s
		ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`, where) //nolint:gosec // WHERE built from parameterised conditions, not user input

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("querying audit log", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e           Entry
			level       string
			createdAt   string
			detailsJSON sql.NullString
		)
		if err := rows.Scan(&e.Seq, &createdAt, &level, &e.Source, &e.Message, &detailsJSON); err != nil {
			return nil, unavailable("scanning audit entry", err)
		}
		e.Level = Level(level)
		if detailsJSON.Valid && detailsJSON.String != "" {
			var details map[string]any
			if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
				e.Details = details
			}
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}
		e.Timestamp = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating audit log", err)
	}
	return entries, nil
}

// Trim evicts the oldest entries beyond maxSize.
func (r *SQLiteRepository) Trim(ctx context.Context, maxSize int) (int, error) {
	res, err := r.db.ExecContext(ctx, evictSQL, maxSize)
	if err != nil {
		return 0, unavailable("trimming audit log", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("trimming audit log", err)
	}
	return int(n), nil
}

// DeleteAll empties the log.
func (r *SQLiteRepository) DeleteAll(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_log`)
	if err != nil {
		return 0, unavailable("clearing audit log", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("clearing audit log", err)
	}
	return int(n), nil
}

// Count returns the number of stored entries.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&n); err != nil {
		return 0, unavailable("counting audit log", err)
	}
	return n, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
