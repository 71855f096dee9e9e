package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/deviceguard/internal/infrastructure/database"
	_ "github.com/nerrad567/deviceguard/migrations"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func testLog(t *testing.T, maxSize int) *Log {
	t.Helper()
	l, err := NewLog(NewSQLiteRepository(testDB(t).DB), maxSize)
	require.NoError(t, err)
	return l
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"INFO", LevelInfo, true},
		{"warning", LevelWarning, true},
		{"Warn", LevelWarning, true},
		{" error ", LevelError, true},
		{"debug", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrInvalidLevel, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
	assert.Less(t, LevelInfo.Rank(), LevelWarning.Rank())
	assert.Less(t, LevelWarning.Rank(), LevelError.Rank())
	assert.Equal(t, []Level{LevelWarning, LevelError}, LevelWarning.AtLeast())
}

func TestLog_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	l := testLog(t, 100)

	first, err := l.Info(ctx, "auth", "authorized", map[string]any{"action": "register"})
	require.NoError(t, err)
	second, err := l.Warning(ctx, "auth", "denied", nil)
	require.NoError(t, err)
	third, err := l.Error(ctx, "whitelist", "store unavailable", nil)
	require.NoError(t, err)
	assert.Less(t, first.Seq, second.Seq)
	assert.Less(t, second.Seq, third.Seq)

	all, err := l.Entries(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "authorized", all[0].Message)
	assert.Equal(t, "register", all[0].Details["action"])
	assert.Equal(t, LevelError, all[2].Level)

	warn, err := l.Entries(ctx, Query{MinLevel: LevelWarning})
	require.NoError(t, err)
	require.Len(t, warn, 2)
	assert.Equal(t, second.Seq, warn[0].Seq)

	latest, err := l.Entries(ctx, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, second.Seq, latest[0].Seq, "limit keeps the newest, ascending")

	_, err = l.Entries(ctx, Query{MinLevel: "TRACE"})
	require.ErrorIs(t, err, ErrInvalidLevel)
	_, err = l.Append(ctx, "TRACE", "x", "y", nil)
	require.ErrorIs(t, err, ErrInvalidLevel)
}

func TestLog_FIFOEviction(t *testing.T) {
	ctx := context.Background()
	l := testLog(t, 3)

	for i := 0; i < 5; i++ {
		_, err := l.Info(ctx, "test", fmt.Sprintf("entry-%d", i), nil)
		require.NoError(t, err)
	}

	entries, err := l.Entries(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "entry-2", entries[0].Message)
	assert.Equal(t, "entry-4", entries[2].Message)
}

func TestLog_SetMaxSizeTrims(t *testing.T) {
	ctx := context.Background()
	l := testLog(t, 10)
	for i := 0; i < 6; i++ {
		_, err := l.Info(ctx, "test", fmt.Sprintf("entry-%d", i), nil)
		require.NoError(t, err)
	}

	require.NoError(t, l.SetMaxSize(ctx, 2))
	assert.Equal(t, 2, l.MaxSize())
	entries, err := l.Entries(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "entry-4", entries[0].Message)

	require.ErrorIs(t, l.SetMaxSize(ctx, 0), ErrInvalidMaxSize)
	_, err = NewLog(NewSQLiteRepository(testDB(t).DB), -1)
	require.ErrorIs(t, err, ErrInvalidMaxSize)
}

func TestLog_ClearKeepsSequenceMonotonic(t *testing.T) {
	ctx := context.Background()
	l := testLog(t, 10)

	before, err := l.Info(ctx, "test", "before", nil)
	require.NoError(t, err)
	n, err := l.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := l.Info(ctx, "test", "after", nil)
	require.NoError(t, err)
	assert.Greater(t, after.Seq, before.Seq)
}

func TestLog_ConcurrentAppendsAreTotallyOrdered(t *testing.T) {
	ctx := context.Background()
	const writers, perWriter = 8, 25
	l := testLog(t, writers*perWriter)

	var (
		mu   sync.Mutex
		seen []int64
	)
	l.Subscribe(func(e Entry) {
		mu.Lock()
		seen = append(seen, e.Seq)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := l.Info(ctx, fmt.Sprintf("writer-%d", w), "tick", nil); err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, seen, writers*perWriter)
	assert.True(t, sort.SliceIsSorted(seen, func(i, j int) bool { return seen[i] < seen[j] }),
		"listeners must see entries in sequence order")

	entries, err := l.Entries(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, entries, writers*perWriter)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Seq+1, entries[i].Seq, "no gaps")
	}
}

func TestLog_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	l, err := NewLog(NewSQLiteRepository(db.DB), 10)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = l.Info(ctx, "test", "x", nil)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = l.Entries(ctx, Query{})
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestLog_PersistsAcrossReload(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	l1, err := NewLog(NewSQLiteRepository(db.DB), 10)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := l1.Info(ctx, "test", fmt.Sprintf("entry-%d", i), nil)
		require.NoError(t, err)
	}

	l2, err := NewLog(NewSQLiteRepository(db.DB), 10)
	require.NoError(t, err)
	entries, err := l2.Entries(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "entry-0", entries[0].Message)
}
