package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/deviceguard/internal/audit"
	"github.com/nerrad567/deviceguard/internal/auth"
	"github.com/nerrad567/deviceguard/internal/device"
	"github.com/nerrad567/deviceguard/internal/enumerate"
	"github.com/nerrad567/deviceguard/internal/fingerprint"
	"github.com/nerrad567/deviceguard/internal/identity"
	"github.com/nerrad567/deviceguard/internal/settings"
	"github.com/nerrad567/deviceguard/internal/whitelist"
)

// AuditSource tags audit entries written by the service.
const AuditSource = "registry"

// MaxFriendlyNameLen bounds friendly names, in characters.
const MaxFriendlyNameLen = 128

// Authorizer checks a credential. Implemented by *auth.Gate.
type Authorizer interface {
	Authorize(ctx context.Context, cred auth.Credential, action string) (auth.Decision, error)
}

// Snapshotter lists attached devices. Implemented by *enumerate.Enumerator.
type Snapshotter interface {
	Snapshot(ctx context.Context) enumerate.Snapshot
}

// LockfileSigner writes and checks lockfiles. Implemented by
// *lockfile.Signer.
type LockfileSigner interface {
	Write(mountPoint string, id identity.CanonicalID, fp fingerprint.Fingerprint) (string, error)
	Verify(mountPoint string, id identity.CanonicalID, fp fingerprint.Fingerprint, expectedSignature string) error
}

// SettingsStore persists settings. Implemented by *settings.Repository.
type SettingsStore interface {
	Load(ctx context.Context, defaults settings.Settings) (settings.Settings, error)
	Save(ctx context.Context, s settings.Settings) error
}

// Metrics receives operation outcomes. Implemented by the InfluxDB client.
type Metrics interface {
	WriteRegistration(id string, secure, success bool)
	WriteVerification(id string, valid bool)
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

// Deps are the collaborators of a Service. Lockfiles, Metrics and Logger
// are optional.
type Deps struct {
	Store      *whitelist.Store
	Audit      *audit.Log
	Gate       Authorizer
	Enumerator Snapshotter
	Settings   SettingsStore
	Defaults   settings.Settings

	Lockfiles LockfileSigner
	Metrics   Metrics
	Logger    Logger
}

// Service is the device registry: it drives each canonical id through
// Unknown, Registered and Secured.
//
// Every mutating operation authorises first, before any lookup. Refusals
// come back in the Result; only storage failures are returned as errors.
type Service struct {
	store     *whitelist.Store
	audit     *audit.Log
	gate      Authorizer
	enum      Snapshotter
	settings  SettingsStore
	lockfiles LockfileSigner
	metrics   Metrics
	logger    Logger
	now       func() time.Time

	mu      sync.RWMutex
	current settings.Settings
}

// New creates a Service, loading persisted settings and applying the audit
// log bound from them.
func New(ctx context.Context, deps Deps) (*Service, error) {
	if deps.Store == nil || deps.Audit == nil || deps.Gate == nil || deps.Enumerator == nil || deps.Settings == nil {
		return nil, errors.New("registry: missing dependency")
	}
	if err := deps.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("registry: default settings: %w", err)
	}

	s := &Service{
		store:     deps.Store,
		audit:     deps.Audit,
		gate:      deps.Gate,
		enum:      deps.Enumerator,
		settings:  deps.Settings,
		lockfiles: deps.Lockfiles,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}

	current, err := deps.Settings.Load(ctx, deps.Defaults)
	if err != nil {
		return nil, err
	}
	if err := deps.Audit.SetMaxSize(ctx, current.MaxLogSize); err != nil {
		return nil, err
	}
	s.current = current
	return s, nil
}

// ---------------------------------------------------------------------------
// Listing

// ListDevices returns every attached device annotated with its whitelist
// state. It never verifies fingerprints.
func (s *Service) ListDevices(ctx context.Context) (DeviceList, error) {
	snap := s.enum.Snapshot(ctx)

	records, err := s.store.ListAll(ctx)
	if err != nil {
		return DeviceList{}, s.storeFailure(ctx, "list devices", err)
	}
	byID := make(map[identity.CanonicalID]whitelist.Record, len(records))
	for _, r := range records {
		byID[r.CanonicalID] = r
	}

	list := DeviceList{
		StorageDevices: []DeviceView{},
		OtherDevices:   []DeviceView{},
		Degraded:       snap.Degraded,
	}
	// Devices sharing a canonical id collapse into one view that counts
	// them. More than one instance is a suspected clone.
	index := make(map[identity.CanonicalID]*DeviceView, len(snap.Devices))
	var storage, other []identity.CanonicalID
	for _, d := range snap.Devices {
		id := identity.Derive(d)
		if v, ok := index[id.ID]; ok {
			v.Instances++
			continue
		}

		v := &DeviceView{
			CanonicalID:   string(id.ID),
			FriendlyName:  d.Name,
			VID:           fmt.Sprintf("%04X", d.VendorID),
			PID:           fmt.Sprintf("%04X", d.ProductID),
			SerialNumber:  id.Serial,
			DeviceType:    d.Class,
			LowConfidence: id.LowConfidence,
			Instances:     1,
		}
		if rec, ok := byID[id.ID]; ok {
			v.IsRegistered = true
			v.IsFingerprinted = rec.IsFingerprinted()
			v.FriendlyName = rec.FriendlyName
		}
		index[id.ID] = v
		if d.IsStorage() {
			v.DriveLetter = d.DriveLetter
			storage = append(storage, id.ID)
		} else {
			other = append(other, id.ID)
		}
	}
	for _, id := range storage {
		list.StorageDevices = append(list.StorageDevices, *index[id])
	}
	for _, id := range other {
		list.OtherDevices = append(list.OtherDevices, *index[id])
	}
	sortViews(list.StorageDevices)
	sortViews(list.OtherDevices)
	return list, nil
}

func sortViews(v []DeviceView) {
	sort.Slice(v, func(i, j int) bool { return v[i].CanonicalID < v[j].CanonicalID })
}

// ListRegistered returns every whitelist record.
func (s *Service) ListRegistered(ctx context.Context) ([]RecordView, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, s.storeFailure(ctx, "list registered", err)
	}
	views := make([]RecordView, 0, len(records))
	for _, r := range records {
		views = append(views, viewOf(r))
	}
	return views, nil
}

// State returns the whitelist state of id. Ids that are not well formed
// cannot be registered, so they are Unknown.
func (s *Service) State(ctx context.Context, id string) (whitelist.State, error) {
	parsed, err := identity.Parse(id)
	if err != nil {
		return whitelist.StateUnknown, nil //nolint:nilerr // malformed ids are never registered
	}
	rec, found, err := s.store.Lookup(ctx, parsed.ID)
	if err != nil {
		return "", s.storeFailure(ctx, "state", err)
	}
	if !found {
		return whitelist.StateUnknown, nil
	}
	return whitelist.StateOf(&rec), nil
}

// ---------------------------------------------------------------------------
// Mutations

// Register whitelists an attached device, basic or secured.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Result, error) {
	denied, err := s.authorize(ctx, req.Credential, "register")
	if err != nil {
		return Result{}, err
	}
	if denied != nil {
		return *denied, nil
	}

	id, err := identity.Parse(req.CanonicalID)
	if err != nil {
		return s.refuse(ctx, CodeMalformedIdentity, "Register refused: malformed device id", nil), nil
	}
	name := strings.TrimSpace(req.FriendlyName)
	if utf8.RuneCountInString(name) > MaxFriendlyNameLen {
		return s.refuse(ctx, CodeInvalidRequest,
			fmt.Sprintf("Register refused: friendly name longer than %d characters", MaxFriendlyNameLen),
			map[string]any{"canonical_id": string(id.ID)}), nil
	}

	matches := findDevices(s.enum.Snapshot(ctx), id.ID)
	switch {
	case len(matches) == 0:
		return s.refuse(ctx, CodeDeviceNotPresent, "Register refused: device not connected",
			map[string]any{"canonical_id": string(id.ID)}), nil
	case len(matches) > 1:
		return s.refuse(ctx, CodeAmbiguousDevice, "Register refused: multiple devices present with the same id",
			map[string]any{"canonical_id": string(id.ID), "instances": len(matches)}), nil
	}
	d := matches[0]
	if name == "" {
		name = d.Name
	}

	secure := req.Secure
	var fp fingerprint.Fingerprint
	if secure {
		var reason string
		switch {
		case id.LowConfidence:
			reason = "device has no serial number"
			err = ErrNotSecurable
		default:
			fp, err = fingerprint.Compute(d)
			reason = "descriptor data insufficient for fingerprinting"
		}
		if err != nil {
			if !req.AllowBasicFallback {
				code := CodeInsufficientDescriptorData
				if errors.Is(err, ErrNotSecurable) {
					code = CodeNotSecurable
				}
				return s.refuse(ctx, code, "Secure registration refused: "+reason,
					map[string]any{"canonical_id": string(id.ID)}), nil
			}
			s.note(ctx, audit.LevelWarning, "Secure registration downgraded to basic: "+reason,
				map[string]any{"canonical_id": string(id.ID)})
			secure = false
		}
	}

	var lockfileWritten bool
	rec, err := s.store.InsertFunc(ctx, id.ID, whitelist.InsertOptions{Update: req.Update}, func(*whitelist.Record) (whitelist.Record, error) {
		rec := whitelist.Record{
			CanonicalID:   id.ID,
			FriendlyName:  name,
			DeviceType:    d.Class,
			LowConfidence: id.LowConfidence,
			AddedOn:       s.now().UTC(),
		}
		if d.IsStorage() {
			rec.DriveLetter = d.DriveLetter
		}
		if !secure {
			return rec, nil
		}
		rec.Fingerprint = &fp
		if s.lockfiles != nil && d.IsStorage() && d.DriveLetter != "" {
			sig, err := s.lockfiles.Write(d.DriveLetter, id.ID, fp)
			if err != nil {
				return whitelist.Record{}, &lockfileError{err}
			}
			rec.LockfileSignature = sig
			lockfileWritten = true
		}
		return rec, nil
	})

	var lfErr *lockfileError
	switch {
	case errors.Is(err, whitelist.ErrAlreadyRegistered):
		s.writeRegistration(id.ID, req.Secure, false)
		return s.refuse(ctx, CodeAlreadyRegistered, "Register refused: device already registered",
			map[string]any{"canonical_id": string(id.ID)}), nil
	case errors.As(err, &lfErr):
		s.writeRegistration(id.ID, req.Secure, false)
		s.logger.Error("writing lockfile failed", "canonical_id", id.ID, "error", lfErr.err)
		return s.refuse(ctx, CodeLockfileFailed, "Secure registration refused: could not write lockfile to the device",
			map[string]any{"canonical_id": string(id.ID)}), nil
	case err != nil:
		return Result{}, s.storeFailure(ctx, "register", err)
	}

	kind := "basic"
	if rec.IsFingerprinted() {
		kind = "secure"
	}
	verb := "registered"
	if req.Update {
		verb = "re-registered"
	}
	s.note(ctx, audit.LevelInfo, fmt.Sprintf("Device %s (%s): %s", verb, kind, rec.FriendlyName), map[string]any{
		"canonical_id": string(id.ID),
		"secure":       rec.IsFingerprinted(),
		"lockfile":     lockfileWritten,
	})
	s.writeRegistration(id.ID, rec.IsFingerprinted(), true)
	return ok(), nil
}

type lockfileError struct{ err error }

func (e *lockfileError) Error() string { return "lockfile: " + e.err.Error() }
func (e *lockfileError) Unwrap() error { return e.err }

// Verify recomputes the fingerprint of an attached, secured device and
// compares it with the stored one. The record stays locked for the whole
// comparison, so a concurrent Remove cannot slip in between.
func (s *Service) Verify(ctx context.Context, rawID string, cred auth.Credential) (VerifyResult, error) {
	denied, err := s.authorize(ctx, cred, "verify")
	if err != nil {
		return VerifyResult{}, err
	}
	if denied != nil {
		return VerifyResult{Error: denied.Error}, nil
	}

	id, err := identity.Parse(rawID)
	if err != nil {
		r := s.refuse(ctx, CodeMalformedIdentity, "Verify refused: malformed device id", nil)
		return VerifyResult{Error: r.Error}, nil
	}
	details := map[string]any{"canonical_id": string(id.ID)}

	snap := s.enum.Snapshot(ctx)

	var out VerifyResult
	err = s.store.View(ctx, id.ID, func(rec *whitelist.Record) error {
		switch {
		case rec == nil:
			out.Error = s.refuse(ctx, CodeNotFound, "Verify refused: device not registered", details).Error
			return nil
		case rec.LowConfidence || !rec.IsFingerprinted():
			out.Error = s.refuse(ctx, CodeNotSecurable, "Verify refused: device registered without fingerprint", details).Error
			return nil
		}

		matches := findDevices(snap, id.ID)
		switch {
		case len(matches) == 0:
			out.Error = s.refuse(ctx, CodeDeviceNotPresent, "Verify refused: device not connected", details).Error
			return nil
		case len(matches) > 1:
			// Which unit is genuine cannot be told apart; fail closed.
			out.Success = true
			failed := copyDetails(details)
			failed["reason"] = "multiple devices present"
			failed["instances"] = len(matches)
			s.note(ctx, audit.LevelWarning, "Verification FAILED: "+rec.FriendlyName, failed)
			s.writeVerification(id.ID, false)
			return nil
		}
		d := matches[0]

		current, err := fingerprint.Compute(d)
		if err != nil {
			out.Error = s.refuse(ctx, CodeInsufficientDescriptorData,
				"Verify refused: descriptor data insufficient for fingerprinting", details).Error
			return nil
		}

		valid := fingerprint.Compare(*rec.Fingerprint, current)
		reason := "fingerprint mismatch"
		if valid && rec.LockfileSignature != "" && s.lockfiles != nil {
			if err := s.lockfiles.Verify(d.DriveLetter, id.ID, current, rec.LockfileSignature); err != nil {
				valid = false
				reason = "lockfile check failed: " + err.Error()
			}
		}

		out.Success = true
		out.IsValid = valid
		if valid {
			s.note(ctx, audit.LevelInfo, "Verification passed: "+rec.FriendlyName, details)
		} else {
			failed := copyDetails(details)
			failed["reason"] = reason
			s.note(ctx, audit.LevelWarning, "Verification FAILED: "+rec.FriendlyName, failed)
		}
		s.writeVerification(id.ID, valid)
		return nil
	})
	if err != nil {
		return VerifyResult{}, s.storeFailure(ctx, "verify", err)
	}
	return out, nil
}

// Remove deletes a whitelist record.
func (s *Service) Remove(ctx context.Context, rawID string, cred auth.Credential) (Result, error) {
	denied, err := s.authorize(ctx, cred, "remove")
	if err != nil {
		return Result{}, err
	}
	if denied != nil {
		return *denied, nil
	}

	id, err := identity.Parse(rawID)
	if err != nil {
		return s.refuse(ctx, CodeMalformedIdentity, "Remove refused: malformed device id", nil), nil
	}
	details := map[string]any{"canonical_id": string(id.ID)}

	var removed whitelist.Record
	err = s.store.RemoveFunc(ctx, id.ID, func(r whitelist.Record) { removed = r })
	switch {
	case errors.Is(err, whitelist.ErrNotFound):
		return s.refuse(ctx, CodeNotFound, "Remove refused: device not registered", details), nil
	case err != nil:
		return Result{}, s.storeFailure(ctx, "remove", err)
	}

	s.note(ctx, audit.LevelInfo, "Device removed from whitelist: "+removed.FriendlyName, details)
	return ok(), nil
}

// ClearAll empties the whitelist. It is audited as one WARNING event.
func (s *Service) ClearAll(ctx context.Context, cred auth.Credential) (Result, error) {
	denied, err := s.authorize(ctx, cred, "clear_all")
	if err != nil {
		return Result{}, err
	}
	if denied != nil {
		return *denied, nil
	}

	n, err := s.store.ClearAll(ctx)
	if err != nil {
		return Result{}, s.storeFailure(ctx, "clear all", err)
	}
	s.note(ctx, audit.LevelWarning, fmt.Sprintf("Whitelist cleared: %d device(s) removed", n),
		map[string]any{"removed": n})
	return ok(), nil
}

// ---------------------------------------------------------------------------
// Audit log

// GetLogs returns audit entries at or above the configured log level.
func (s *Service) GetLogs(ctx context.Context, q LogQuery) ([]audit.Entry, error) {
	level := s.Settings().LogLevel
	if q.MinLevel.Valid() && q.MinLevel.Rank() > level.Rank() {
		level = q.MinLevel
	}
	entries, err := s.audit.Entries(ctx, audit.Query{MinLevel: level, Limit: q.Limit})
	if err != nil {
		return nil, s.storeFailure(ctx, "get logs", err)
	}
	return entries, nil
}

// ClearLogs empties the audit log. The clear itself is the first entry of
// the new log.
func (s *Service) ClearLogs(ctx context.Context, cred auth.Credential) (Result, error) {
	denied, err := s.authorize(ctx, cred, "clear_logs")
	if err != nil {
		return Result{}, err
	}
	if denied != nil {
		return *denied, nil
	}

	n, err := s.audit.Clear(ctx)
	if err != nil {
		return Result{}, s.storeFailure(ctx, "clear logs", err)
	}
	s.note(ctx, audit.LevelWarning, fmt.Sprintf("Audit log cleared: %d entr(ies) removed", n),
		map[string]any{"removed": n})
	return ok(), nil
}

// ---------------------------------------------------------------------------
// Settings and export

// Settings returns the current settings.
func (s *Service) Settings() settings.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// UpdateSettings validates, persists and applies new settings.
func (s *Service) UpdateSettings(ctx context.Context, cred auth.Credential, next settings.Settings) (Result, error) {
	denied, err := s.authorize(ctx, cred, "update_settings")
	if err != nil {
		return Result{}, err
	}
	if denied != nil {
		return *denied, nil
	}
	if err := next.Validate(); err != nil {
		return s.refuse(ctx, CodeInvalidRequest, "Settings update refused: "+err.Error(), nil), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.settings.Save(ctx, next); err != nil {
		return Result{}, s.storeFailure(ctx, "update settings", err)
	}
	if err := s.audit.SetMaxSize(ctx, next.MaxLogSize); err != nil {
		return Result{}, s.storeFailure(ctx, "update settings", err)
	}
	prev := s.current
	s.current = next

	s.note(ctx, audit.LevelInfo, "Settings updated", map[string]any{
		"auto_block_unregistered": next.AutoBlockUnregistered,
		"log_level":               string(next.LogLevel),
		"max_log_size":            next.MaxLogSize,
		"previous_log_level":      string(prev.LogLevel),
	})
	return ok(), nil
}

// Export returns every whitelist record for backup.
func (s *Service) Export(ctx context.Context, cred auth.Credential) (ExportResult, error) {
	denied, err := s.authorize(ctx, cred, "export")
	if err != nil {
		return ExportResult{}, err
	}
	if denied != nil {
		return ExportResult{Result: *denied}, nil
	}
	views, err := s.ListRegistered(ctx)
	if err != nil {
		return ExportResult{}, err
	}
	s.note(ctx, audit.LevelInfo, fmt.Sprintf("Whitelist exported: %d record(s)", len(views)), nil)
	return ExportResult{Result: ok(), ExportedAt: s.now().UTC(), Records: views}, nil
}

// ---------------------------------------------------------------------------
// Helpers

// authorize runs the gate. A non-nil Result means the caller was denied.
func (s *Service) authorize(ctx context.Context, cred auth.Credential, action string) (*Result, error) {
	decision, err := s.gate.Authorize(ctx, cred, action)
	if err != nil {
		return nil, fmt.Errorf("authorizing %s: %w", action, err)
	}
	if decision != auth.Authorized {
		r := refused(CodeUnauthorized, "invalid admin password")
		return &r, nil
	}
	return nil, nil
}

// refuse audits a refused operation at WARNING and builds its Result.
func (s *Service) refuse(ctx context.Context, code ErrorCode, msg string, details map[string]any) Result {
	d := copyDetails(details)
	d["code"] = string(code)
	s.note(ctx, audit.LevelWarning, msg, d)
	return refused(code, msg)
}

// note appends an audit entry after the fact. The operation has already
// happened, so a failure is logged rather than returned.
func (s *Service) note(ctx context.Context, level audit.Level, msg string, details map[string]any) {
	if _, err := s.audit.Append(ctx, level, AuditSource, msg, details); err != nil {
		s.logger.Error("audit append failed", "message", msg, "error", err)
	}
}

// storeFailure records a storage failure at ERROR, best effort, and
// returns the error for the caller.
func (s *Service) storeFailure(ctx context.Context, op string, err error) error {
	s.logger.Error("registry store failure", "operation", op, "error", err)
	if !errors.Is(err, audit.ErrStoreUnavailable) {
		s.note(ctx, audit.LevelError, "Storage failure during "+op, map[string]any{"error": err.Error()})
	}
	return fmt.Errorf("registry: %s: %w", op, err)
}

func (s *Service) writeRegistration(id identity.CanonicalID, secure, success bool) {
	if s.metrics != nil {
		s.metrics.WriteRegistration(string(id), secure, success)
	}
}

func (s *Service) writeVerification(id identity.CanonicalID, valid bool) {
	if s.metrics != nil {
		s.metrics.WriteVerification(string(id), valid)
	}
}

// findDevices returns every attached device deriving id.
func findDevices(snap enumerate.Snapshot, id identity.CanonicalID) []device.Descriptor {
	var out []device.Descriptor
	for _, d := range snap.Devices {
		if identity.Derive(d).ID == id {
			out = append(out, d)
		}
	}
	return out
}

func copyDetails(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
