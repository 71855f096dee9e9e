package whitelist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/deviceguard/internal/device"
	"github.com/nerrad567/deviceguard/internal/fingerprint"
	"github.com/nerrad567/deviceguard/internal/identity"
	"github.com/nerrad567/deviceguard/internal/infrastructure/database"
	_ "github.com/nerrad567/deviceguard/migrations"
)

// testDB opens a migrated in-memory database.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func testRecord(id identity.CanonicalID, name string) Record {
	return Record{
		CanonicalID:  id,
		FriendlyName: name,
		DeviceType:   device.ClassStorage,
		DriveLetter:  "/media/usb0",
		AddedOn:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func testFingerprint(b byte) *fingerprint.Fingerprint {
	var f fingerprint.Fingerprint
	for i := range f {
		f[i] = b
	}
	return &f
}
