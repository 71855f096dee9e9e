package whitelist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/deviceguard/internal/device"
	"github.com/nerrad567/deviceguard/internal/fingerprint"
	"github.com/nerrad567/deviceguard/internal/identity"
)

// Repository persists whitelist records. Implementations return
// ErrNotFound and ErrAlreadyRegistered as-is and wrap every other failure
// in ErrStoreUnavailable.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, id identity.CanonicalID) (*Record, error)
	Delete(ctx context.Context, id identity.CanonicalID) error
	List(ctx context.Context) ([]Record, error)
	DeleteAll(ctx context.Context) (int, error)
}

// SQLiteRepository stores records in the whitelisted_devices table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new whitelist repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `canonical_id, friendly_name, device_type, drive_letter,
	structural_fingerprint, lockfile_signature, low_confidence, added_on`

// Insert adds a record, failing with ErrAlreadyRegistered when the id exists.
func (r *SQLiteRepository) Insert(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO whitelisted_devices (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		recordArgs(rec)...,
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) &&
			(se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, rec.CanonicalID)
		}
		return unavailable("inserting whitelist record", err)
	}
	return nil
}

// Upsert inserts or replaces the record for rec.CanonicalID.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO whitelisted_devices (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(canonical_id) DO UPDATE SET
			friendly_name = excluded.friendly_name,
			device_type = excluded.device_type,
			drive_letter = excluded.drive_letter,
			structural_fingerprint = excluded.structural_fingerprint,
			lockfile_signature = excluded.lockfile_signature,
			low_confidence = excluded.low_confidence,
			added_on = excluded.added_on`,
		recordArgs(rec)...,
	)
	if err != nil {
		return unavailable("upserting whitelist record", err)
	}
	return nil
}

// Get returns the record for id or ErrNotFound.
func (r *SQLiteRepository) Get(ctx context.Context, id identity.CanonicalID) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM whitelisted_devices WHERE canonical_id = ?`, string(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable("reading whitelist record", err)
	}
	return rec, nil
}

// Delete removes the record for id or returns ErrNotFound.
func (r *SQLiteRepository) Delete(ctx context.Context, id identity.CanonicalID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM whitelisted_devices WHERE canonical_id = ?`, string(id))
	if err != nil {
		return unavailable("deleting whitelist record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("deleting whitelist record", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns every record ordered by friendly name, then id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM whitelisted_devices ORDER BY friendly_name, canonical_id`)
	if err != nil {
		return nil, unavailable("listing whitelist", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable("scanning whitelist record", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating whitelist", err)
	}
	return records, nil
}

// DeleteAll empties the table and returns how many records were removed.
func (r *SQLiteRepository) DeleteAll(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM whitelisted_devices`)
	if err != nil {
		return 0, unavailable("clearing whitelist", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("clearing whitelist", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec                          Record
		id, deviceType, addedOn      string
		driveLetter, fp, lockfileSig sql.NullString
		lowConfidence                int
	)
	if err := s.Scan(&id, &rec.FriendlyName, &deviceType, &driveLetter,
		&fp, &lockfileSig, &lowConfidence, &addedOn); err != nil {
		return nil, err
	}

	rec.CanonicalID = identity.CanonicalID(id)
	class, err := device.ParseClass(deviceType)
	if err != nil {
		return nil, err
	}
	rec.DeviceType = class
	rec.DriveLetter = driveLetter.String
	rec.LockfileSignature = lockfileSig.String
	rec.LowConfidence = lowConfidence != 0

	if fp.Valid {
		f, err := fingerprint.ParseHex(fp.String)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
		rec.Fingerprint = &f
	}

	t, err := time.Parse(time.RFC3339Nano, addedOn)
	if err != nil {
		return nil, fmt.Errorf("parsing added_on %q: %w", addedOn, err)
	}
	rec.AddedOn = t
	return &rec, nil
}

func recordArgs(rec Record) []any {
	var fp any
	if rec.Fingerprint != nil {
		fp = rec.Fingerprint.String()
	}
	low := 0
	if rec.LowConfidence {
		low = 1
	}
	return []any{
		string(rec.CanonicalID),
		rec.FriendlyName,
		string(rec.DeviceType),
		nullableString(rec.DriveLetter),
		fp,
		nullableString(rec.LockfileSignature),
		low,
		rec.AddedOn.UTC().Format(time.RFC3339Nano),
	}
}

// nullableString maps "" to NULL for optional TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
