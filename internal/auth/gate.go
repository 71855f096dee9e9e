package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/deviceguard/internal/audit"
)

// ErrUnauthorized is returned to callers whose credential was denied.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Authenticator decides whether a password is valid.
type Authenticator interface {
	Authenticate(ctx context.Context, password string) bool
}

// Auditor records the outcome of every authorisation attempt.
type Auditor interface {
	Append(ctx context.Context, level audit.Level, source, message string, details map[string]any) (audit.Entry, error)
}

// Credential accompanies every mutating request.
type Credential struct {
	Password string

	// Origin identifies the caller (remote address, "cli", ...) for the
	// audit trail. Optional.
	Origin string
}

// Decision is the result of Authorize.
type Decision int

// Decisions.
const (
	Denied Decision = iota
	Authorized
)

func (d Decision) String() string {
	if d == Authorized {
		return "authorized"
	}
	return "denied"
}

// AuditSource tags audit entries written by the gate.
const AuditSource = "auth"

// Gate checks a credential on every call. Nothing is cached between calls
// and repeated failures never lock anyone out.
type Gate struct {
	authn   Authenticator
	auditor Auditor
}

// NewGate creates a Gate.
func NewGate(authn Authenticator, auditor Auditor) *Gate {
	return &Gate{authn: authn, auditor: auditor}
}

// Authorize checks cred for action and appends exactly one audit entry:
// INFO when authorized, WARNING when denied. The entry names the action,
// never the device it targets.
//
// An error means the audit entry could not be written; the decision is
// then Denied.
func (g *Gate) Authorize(ctx context.Context, cred Credential, action string) (Decision, error) {
	decision := Denied
	if g.authn.Authenticate(ctx, cred.Password) {
		decision = Authorized
	}

	level := audit.LevelInfo
	msg := "Authorization granted for " + action
	if decision == Denied {
		level = audit.LevelWarning
		msg = "Authorization denied for " + action
	}
	details := map[string]any{"action": action, "decision": decision.String()}
	if cred.Origin != "" {
		details["origin"] = cred.Origin
	}

	if _, err := g.auditor.Append(ctx, level, AuditSource, msg, details); err != nil {
		return Denied, fmt.Errorf("auditing authorization: %w", err)
	}
	return decision, nil
}
