package lockfile

import (
	"crypto/ecdsa"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/deviceguard/internal/fingerprint"
	"github.com/nerrad567/deviceguard/internal/identity"
)

const testID identity.CanonicalID = "VID_0781&PID_5581&SN_ABC123"

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := LoadOrCreateKey(filepath.Join(t.TempDir(), "keys", "host.pem"))
	require.NoError(t, err)
	return key
}

func testFingerprint(b byte) fingerprint.Fingerprint {
	var f fingerprint.Fingerprint
	for i := range f {
		f[i] = b
	}
	return f
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "host_key.pem")

	first, err := LoadOrCreateKey(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.True(t, first.Equal(second), "reloaded key must match")
}

func TestLoadOrCreateKey_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))

	_, err := LoadOrCreateKey(path)
	require.Error(t, err)
}

func TestWriteVerify(t *testing.T) {
	mount := t.TempDir()
	s := NewSigner(testKey(t), ".device_guard")
	fp := testFingerprint(0xAB)

	sig, err := s.Write(mount, testID, fp)
	require.NoError(t, err)
	require.NotEmpty(t, sig)
	assert.FileExists(t, filepath.Join(mount, ".device_guard", FileName))

	require.NoError(t, s.Verify(mount, testID, fp, sig))
}

func TestVerify_Failures(t *testing.T) {
	key := testKey(t)
	s := NewSigner(key, ".device_guard")
	fp := testFingerprint(0x01)

	t.Run("missing", func(t *testing.T) {
		err := s.Verify(t.TempDir(), testID, fp, "sig")
		require.ErrorIs(t, err, ErrLockfileMissing)
	})

	t.Run("no mount point", func(t *testing.T) {
		require.ErrorIs(t, s.Verify("", testID, fp, "sig"), ErrNoMountPoint)
		_, err := s.Write("", testID, fp)
		require.ErrorIs(t, err, ErrNoMountPoint)
	})

	t.Run("stale lockfile from earlier registration", func(t *testing.T) {
		mount := t.TempDir()
		old, err := s.Write(mount, testID, fp)
		require.NoError(t, err)
		_, err = s.Write(mount, testID, fp)
		require.NoError(t, err)

		require.ErrorIs(t, s.Verify(mount, testID, fp, old), ErrLockfileMismatch)
	})

	t.Run("different fingerprint", func(t *testing.T) {
		mount := t.TempDir()
		sig, err := s.Write(mount, testID, fp)
		require.NoError(t, err)

		require.ErrorIs(t, s.Verify(mount, testID, testFingerprint(0x02), sig), ErrLockfileInvalid)
	})

	t.Run("copied to another device", func(t *testing.T) {
		mount := t.TempDir()
		sig, err := s.Write(mount, testID, fp)
		require.NoError(t, err)

		require.ErrorIs(t, s.Verify(mount, "VID_0781&PID_5581&SN_OTHER", fp, sig), ErrLockfileInvalid)
	})

	t.Run("signed by another host", func(t *testing.T) {
		mount := t.TempDir()
		foreign := NewSigner(testKey(t), ".device_guard")
		sig, err := foreign.Write(mount, testID, fp)
		require.NoError(t, err)

		require.ErrorIs(t, s.Verify(mount, testID, fp, sig), ErrLockfileInvalid)
	})

	t.Run("tampered", func(t *testing.T) {
		mount := t.TempDir()
		sig, err := s.Write(mount, testID, fp)
		require.NoError(t, err)
		path := s.Path(mount)
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		parts := strings.Split(string(raw), ".")
		parts[1] = parts[1][:len(parts[1])-2] + "AA"
		require.NoError(t, os.WriteFile(path, []byte(strings.Join(parts, ".")), 0o644))

		require.ErrorIs(t, s.Verify(mount, testID, fp, sig), ErrLockfileInvalid)
	})

	t.Run("oversized", func(t *testing.T) {
		mount := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Dir(s.Path(mount)), 0o755))
		require.NoError(t, os.WriteFile(s.Path(mount), make([]byte, maxLockfileSize+10), 0o644))

		require.ErrorIs(t, s.Verify(mount, testID, fp, "x"), ErrLockfileInvalid)
	})
}

func TestRemove(t *testing.T) {
	mount := t.TempDir()
	s := NewSigner(testKey(t), ".device_guard")

	require.NoError(t, s.Remove(mount), "missing lockfile is fine")

	_, err := s.Write(mount, testID, testFingerprint(3))
	require.NoError(t, err)
	require.NoError(t, s.Remove(mount))
	assert.NoFileExists(t, s.Path(mount))
}
