package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/deviceguard/internal/audit"
	"github.com/nerrad567/deviceguard/internal/infrastructure/database"
	_ "github.com/nerrad567/deviceguard/migrations"
)

var defaults = Settings{AutoBlockUnregistered: false, LogLevel: audit.LevelInfo, MaxLogSize: 1000}

func testRepo(t *testing.T) (*Repository, *database.DB) {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return NewRepository(db.DB), db
}

func TestLoad_DefaultsWhenEmpty(t *testing.T) {
	repo, _ := testRepo(t)
	got, err := repo.Load(context.Background(), defaults)
	require.NoError(t, err)
	assert.Equal(t, defaults, got)
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	repo, _ := testRepo(t)

	want := Settings{AutoBlockUnregistered: true, LogLevel: audit.LevelWarning, MaxLogSize: 250}
	require.NoError(t, repo.Save(ctx, want))
	got, err := repo.Load(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	want.MaxLogSize = 10
	require.NoError(t, repo.Save(ctx, want))
	got, err = repo.Load(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, 10, got.MaxLogSize)
}

func TestLoad_CorruptValueFallsBack(t *testing.T) {
	ctx := context.Background()
	repo, db := testRepo(t)
	_, err := db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ('max_log_size', 'lots', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)

	got, err := repo.Load(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, defaults.MaxLogSize, got.MaxLogSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		s    Settings
		ok   bool
	}{
		{"defaults", defaults, true},
		{"bad level", Settings{LogLevel: "DEBUG", MaxLogSize: 1}, false},
		{"zero size", Settings{LogLevel: audit.LevelError, MaxLogSize: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}

	repo, _ := testRepo(t)
	require.ErrorIs(t, repo.Save(context.Background(), Settings{}), ErrInvalid)
}
