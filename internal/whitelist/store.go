package whitelist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/deviceguard/internal/identity"
)

// InsertOptions controls Insert and InsertFunc.
type InsertOptions struct {
	// Update allows an existing record for the id to be replaced. Without it
	// an existing record fails the insert with ErrAlreadyRegistered.
	Update bool
}

// BuildFunc produces the record to store. existing is the current record
// when opts.Update is set and one exists, nil otherwise.
type BuildFunc func(existing *Record) (Record, error)

// Store is the concurrency-safe whitelist.
//
// Mutations and views of one id are serialised by a per-id mutex. ClearAll
// takes the store-wide lock exclusively, so it never interleaves with a
// Register or Remove in flight.
type Store struct {
	repo  Repository
	all   sync.RWMutex
	locks *keyedMutex
	now   func() time.Time
}

// NewStore creates a Store over repo.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo, locks: newKeyedMutex(), now: time.Now}
}

// Insert writes rec. AddedOn defaults to now.
func (s *Store) Insert(ctx context.Context, rec Record, opts InsertOptions) error {
	_, err := s.InsertFunc(ctx, rec.CanonicalID, opts, func(*Record) (Record, error) {
		return rec, nil
	})
	return err
}

// InsertFunc checks for an existing record, calls build and writes its
// result, all under the lock for id. build is not called when the insert
// would fail with ErrAlreadyRegistered, so it may perform side effects
// (writing a lockfile, for instance) that must only happen for a write
// that will go through.
func (s *Store) InsertFunc(ctx context.Context, id identity.CanonicalID, opts InsertOptions, build BuildFunc) (Record, error) {
	s.all.RLock()
	defer s.all.RUnlock()
	unlock := s.locks.Lock(id)
	defer unlock()

	existing, err := s.repo.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		existing = nil
	case err != nil:
		return Record{}, err
	case !opts.Update:
		return Record{}, fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}

	rec, err := build(existing)
	if err != nil {
		return Record{}, err
	}
	if rec.CanonicalID != id {
		return Record{}, fmt.Errorf("whitelist: built record id %q does not match %q", rec.CanonicalID, id)
	}
	if rec.AddedOn.IsZero() {
		rec.AddedOn = s.now().UTC()
	}

	if existing == nil {
		err = s.repo.Insert(ctx, rec)
	} else {
		err = s.repo.Upsert(ctx, rec)
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Lookup returns the record for id. ok is false when there is none.
func (s *Store) Lookup(ctx context.Context, id identity.CanonicalID) (rec Record, ok bool, err error) {
	r, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return *r, true, nil
}

// View calls fn with the current record for id (nil when absent) while
// holding the lock for id, so the record cannot be removed or replaced
// until fn returns.
func (s *Store) View(ctx context.Context, id identity.CanonicalID, fn func(rec *Record) error) error {
	s.all.RLock()
	defer s.all.RUnlock()
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		rec = nil
	} else if err != nil {
		return err
	}
	return fn(rec)
}

// Remove deletes the record for id, returning ErrNotFound when absent.
func (s *Store) Remove(ctx context.Context, id identity.CanonicalID) error {
	s.all.RLock()
	defer s.all.RUnlock()
	unlock := s.locks.Lock(id)
	defer unlock()

	return s.repo.Delete(ctx, id)
}

// RemoveFunc deletes the record for id and, once it is gone, calls after
// with the removed record while still holding the lock.
func (s *Store) RemoveFunc(ctx context.Context, id identity.CanonicalID, after func(removed Record)) error {
	s.all.RLock()
	defer s.all.RUnlock()
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if after != nil {
		after(*rec)
	}
	return nil
}

// ListAll returns a snapshot of every record.
func (s *Store) ListAll(ctx context.Context) ([]Record, error) {
	return s.repo.List(ctx)
}

// ClearAll removes every record and returns how many were removed.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	s.all.Lock()
	defer s.all.Unlock()

	return s.repo.DeleteAll(ctx)
}
