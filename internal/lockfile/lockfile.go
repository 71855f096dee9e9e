package lockfile

import (
	"crypto/ecdsa"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/deviceguard/internal/fingerprint"
	"github.com/nerrad567/deviceguard/internal/identity"
)

// FileName is the lockfile name inside the lockfile directory.
const FileName = "lockfile.jwt"

// maxLockfileSize bounds how much of a hostile volume is read.
const maxLockfileSize = 8 << 10

// Claims is the signed lockfile payload.
type Claims struct {
	jwt.RegisteredClaims
	CanonicalID string `json:"cid"`
	Fingerprint string `json:"fp"`
}

// Signer writes and checks host-signed lockfiles on storage volumes.
type Signer struct {
	key     *ecdsa.PrivateKey
	dirName string
	now     func() time.Time
}

// NewSigner creates a Signer that stores lockfiles in dirName at the root
// of each volume.
func NewSigner(key *ecdsa.PrivateKey, dirName string) *Signer {
	return &Signer{key: key, dirName: dirName, now: time.Now}
}

// Path returns the lockfile location on the volume mounted at mountPoint.
func (s *Signer) Path(mountPoint string) string {
	return filepath.Join(mountPoint, s.dirName, FileName)
}

// Write signs a lockfile binding id to fp and stores it on the volume. The
// returned signature is what the whitelist record keeps.
func (s *Signer) Write(mountPoint string, id identity.CanonicalID, fp fingerprint.Fingerprint) (string, error) {
	if mountPoint == "" {
		return "", ErrNoMountPoint
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(s.now()),
			ID:       uuid.NewString(),
		},
		CanonicalID: string(id),
		Fingerprint: fp.String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing lockfile: %w", err)
	}

	path := s.Path(mountPoint)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // removable media, permissions are advisory
		return "", fmt.Errorf("creating lockfile directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(signed), 0o644); err != nil { //nolint:gosec // content is public, integrity comes from the signature
		return "", fmt.Errorf("writing lockfile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("writing lockfile: %w", err)
	}

	return signature(signed), nil
}

// Verify checks that the volume carries the lockfile this host issued for
// id and fp, and that it is the one recorded as expectedSignature.
func (s *Signer) Verify(mountPoint string, id identity.CanonicalID, fp fingerprint.Fingerprint, expectedSignature string) error {
	if mountPoint == "" {
		return ErrNoMountPoint
	}

	raw, err := readLimited(s.Path(mountPoint))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrLockfileMissing
		}
		return fmt.Errorf("%w: %w", ErrLockfileInvalid, err)
	}
	token := strings.TrimSpace(string(raw))

	var claims Claims
	_, err = jwt.ParseWithClaims(token, &claims, func(_ *jwt.Token) (any, error) {
		return &s.key.PublicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLockfileInvalid, err)
	}
	if claims.CanonicalID != string(id) {
		return fmt.Errorf("%w: issued for a different device", ErrLockfileInvalid)
	}
	if subtle.ConstantTimeCompare([]byte(claims.Fingerprint), []byte(fp.String())) != 1 {
		return fmt.Errorf("%w: fingerprint differs", ErrLockfileInvalid)
	}
	if subtle.ConstantTimeCompare([]byte(signature(token)), []byte(expectedSignature)) != 1 {
		return ErrLockfileMismatch
	}
	return nil
}

// Remove deletes the lockfile from the volume. A missing lockfile is not
// an error.
func (s *Signer) Remove(mountPoint string) error {
	if mountPoint == "" {
		return ErrNoMountPoint
	}
	if err := os.Remove(s.Path(mountPoint)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lockfile: %w", err)
	}
	return nil
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // path is built from a mount point we enumerated
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxLockfileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxLockfileSize {
		return nil, fmt.Errorf("lockfile larger than %d bytes", maxLockfileSize)
	}
	return data, nil
}

// signature returns the third segment of a compact JWT.
func signature(token string) string {
	if i := strings.LastIndexByte(token, '.'); i >= 0 {
		return token[i+1:]
	}
	return ""
}
