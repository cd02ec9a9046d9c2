package history

import (
	"path/filepath"
	"testing"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
		Name: "history",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestRepositoryAppendAndLoadAll(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	require.NoError(t, repo.Append(open("AAPL", day(0))))
	require.NoError(t, repo.Append(closed("AAPL", day(3))))
	require.NoError(t, repo.Append(open("GLD", day(1))))

	events, err := repo.LoadAll()
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "AAPL", events[0].Asset)
	assert.Equal(t, domain.PositionOpened, events[0].Type)
	assert.True(t, events[0].Timestamp.Equal(day(0)))
	assert.Equal(t, "GLD", events[1].Asset)
	assert.Equal(t, domain.PositionClosed, events[2].Type)
}

func TestRepositoryRoundTripFeedsStore(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	require.NoError(t, repo.Append(open("AAPL", day(0))))
	require.NoError(t, repo.Append(closed("AAPL", day(3))))

	events, err := repo.LoadAll()
	require.NoError(t, err)

	s := NewStore()
	s.Restore(events)
	assert.Equal(t, 1, s.CompletedCyclesSince("AAPL", day(0)))
}

func TestRepositoryPrune(t *testing.T) {
	repo := NewRepository(testDB(t), zerolog.Nop())

	require.NoError(t, repo.Append(open("AAPL", day(0))))
	require.NoError(t, repo.Append(closed("AAPL", day(3))))
	require.NoError(t, repo.Append(open("AAPL", day(10))))

	pruned, err := repo.Prune(day(5))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	events, err := repo.LoadAll()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Timestamp.Equal(day(10)))
}

func TestRepositorySkipsBadTimestamp(t *testing.T) {
	db := testDB(t)
	repo := NewRepository(db, zerolog.Nop())

	require.NoError(t, repo.Append(open("AAPL", day(0))))
	_, err := db.Exec(`
		INSERT INTO position_events (asset, event_type, timestamp, size, reason)
		VALUES ('GLD', 'open', 'not-a-date', 0.1, '')`)
	require.NoError(t, err)

	events, err := repo.LoadAll()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "AAPL", events[0].Asset)
}
