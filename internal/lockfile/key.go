package lockfile

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const pemTypeECKey = "EC PRIVATE KEY"

// LoadOrCreateKey reads the host signing key from path, generating and
// persisting a new P-256 key (mode 0600) when the file does not exist.
func LoadOrCreateKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	switch {
	case err == nil:
		return parseKey(data)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("reading host key: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating host key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encoding host key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating host key directory: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: pemTypeECKey, Bytes: der})
	// O_EXCL so two processes starting together cannot overwrite each
	// other's key.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // path comes from operator config
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return LoadOrCreateKey(path)
		}
		return nil, fmt.Errorf("creating host key: %w", err)
	}
	if _, err := f.Write(pemBytes); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing host key: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("writing host key: %w", err)
	}
	return key, nil
}

func parseKey(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypeECKey {
		return nil, fmt.Errorf("host key: expected %s PEM block", pemTypeECKey)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing host key: %w", err)
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("host key: expected P-256, got %s", key.Curve.Params().Name)
	}
	return key, nil
}
