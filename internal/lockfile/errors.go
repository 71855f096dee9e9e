package lockfile

import "errors"

var (
	// ErrLockfileMissing is returned when the volume carries no lockfile.
	ErrLockfileMissing = errors.New("lockfile: missing")

	// ErrLockfileInvalid is returned when the lockfile is unreadable, not
	// signed by this host, or names a different device or fingerprint.
	ErrLockfileInvalid = errors.New("lockfile: invalid")

	// ErrLockfileMismatch is returned when the lockfile is genuine but is
	// not the one issued for the current whitelist record.
	ErrLockfileMismatch = errors.New("lockfile: does not match record")

	// ErrNoMountPoint is returned when a lockfile operation is attempted on
	// a device with no mounted volume.
	ErrNoMountPoint = errors.New("lockfile: device has no mount point")
)
