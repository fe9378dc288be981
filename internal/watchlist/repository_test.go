package watchlist

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvia/stockdeck/internal/domain"
	testhelpers "github.com/calvia/stockdeck/internal/testing"
)

func newRepo(t *testing.T) (*Repository, func()) {
	t.Helper()
	db, cleanup := testhelpers.NewTestDB(t, "watchlist")
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewRepository(db.Conn(), log), cleanup
}

func TestAddListAndFilter(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	require.NoError(t, repo.Add(domain.WatchlistEntry{Symbol: "600519.SH", Name: "Moutai", Sector: "Consumer", Enabled: true}))
	require.NoError(t, repo.Add(domain.WatchlistEntry{Symbol: "000001.SZ", Enabled: false}))

	// Re-adding is a no-op, not an error.
	require.NoError(t, repo.Add(domain.WatchlistEntry{Symbol: "600519.SH", Name: "Different Name", Enabled: true}))

	all, err := repo.List(false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	enabled, err := repo.List(true)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "600519.SH", enabled[0].Symbol)
	assert.Equal(t, "Moutai", enabled[0].Name)
}

func TestSetEnabledAndRemove(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	require.NoError(t, repo.Add(domain.WatchlistEntry{Symbol: "600519.SH", Enabled: true}))

	require.NoError(t, repo.SetEnabled("600519.SH", false))
	entry, err := repo.Get("600519.SH")
	require.NoError(t, err)
	assert.False(t, entry.Enabled)

	assert.ErrorIs(t, repo.SetEnabled("MISSING.SZ", true), domain.ErrNotFound)

	require.NoError(t, repo.Remove("600519.SH"))
	_, err = repo.Get("600519.SH")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.Remove("600519.SH"), domain.ErrNotFound)
}
