package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters, OWASP 2025 recommendation.
const (
	argonTime    = 3         // iterations
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 1         // parallelism
	argonKeyLen  = 32        // output hash length
	argonSaltLen = 16        // salt length
)

// PHCPrefix starts every hash HashPassword produces.
const PHCPrefix = "$argon2id$"

// ErrInvalidHash is returned for a stored hash that is not an Argon2id PHC
// string.
var ErrInvalidHash = errors.New("auth: invalid password hash")

// HashPassword hashes the admin password using Argon2id and returns it in
// PHC string format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("auth: refusing to hash an empty password")
	}
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks a plaintext password against an Argon2id PHC hash.
func VerifyPassword(password, encodedHash string) (bool, error) {
	p, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return p.matches(password), nil
}

type phcHash struct {
	time    uint32
	memory  uint32
	threads uint8
	salt    []byte
	hash    []byte
}

func (p *phcHash) matches(password string) bool {
	candidate := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.hash))) //nolint:gosec // G115: hash length always fits uint32
	return subtle.ConstantTimeCompare(p.hash, candidate) == 1
}

// decodePHC parses an Argon2id PHC string.
func decodePHC(encoded string) (*phcHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, fmt.Errorf("%w: want 6 $-delimited parts", ErrInvalidHash)
	}
	if parts[1] != "argon2id" {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, fmt.Errorf("%w: parsing version: %w", ErrInvalidHash, err)
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidHash, version)
	}

	p := &phcHash{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return nil, fmt.Errorf("%w: parsing parameters: %w", ErrInvalidHash, err)
	}
	if p.time == 0 || p.threads == 0 {
		return nil, fmt.Errorf("%w: zero cost parameter", ErrInvalidHash)
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, fmt.Errorf("%w: decoding salt: %w", ErrInvalidHash, err)
	}
	if p.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, fmt.Errorf("%w: decoding hash: %w", ErrInvalidHash, err)
	}
	if len(p.hash) == 0 {
		return nil, fmt.Errorf("%w: empty hash", ErrInvalidHash)
	}
	return p, nil
}

// PasswordAuthenticator checks the admin password against a stored
// Argon2id hash.
type PasswordAuthenticator struct {
	hash *phcHash
}

// NewPasswordAuthenticator parses encodedHash once, so a bad configuration
// fails at startup instead of denying every request.
func NewPasswordAuthenticator(encodedHash string) (*PasswordAuthenticator, error) {
	p, err := decodePHC(encodedHash)
	if err != nil {
		return nil, err
	}
	return &PasswordAuthenticator{hash: p}, nil
}

// Authenticate reports whether password is the admin password.
func (a *PasswordAuthenticator) Authenticate(_ context.Context, password string) bool {
	if password == "" {
		return false
	}
	return a.hash.matches(password)
}
