package marketdata

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvia/stockdeck/internal/domain"
	testhelpers "github.com/calvia/stockdeck/internal/testing"
)

func TestUpsertBars_IsIdempotent(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "marketdata")
	defer cleanup()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(db.Conn(), log)

	vol := int64(12345)
	bars := []domain.PriceBar{
		{Symbol: "600519.SH", TradeDate: "2025-03-01", Open: 100, High: 102, Low: 99, Close: 101, Volume: &vol},
		{Symbol: "600519.SH", TradeDate: "2025-03-02", Open: 101, High: 103, Low: 100, Close: 102},
	}

	require.NoError(t, repo.UpsertBars(bars))
	require.NoError(t, repo.UpsertBars(bars))

	history, err := repo.History("600519.SH")
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Ascending date order, null handling intact.
	assert.Equal(t, "2025-03-01", history[0].TradeDate)
	require.NotNil(t, history[0].Volume)
	assert.Equal(t, vol, *history[0].Volume)
	assert.Nil(t, history[1].Volume)
}

func TestUpsertBars_EmptySliceIsNoOp(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "marketdata")
	defer cleanup()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(db.Conn(), log)

	assert.NoError(t, repo.UpsertBars(nil))
}

func TestRecentBarsAndLatestBar(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "marketdata")
	defer cleanup()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(db.Conn(), log)

	require.NoError(t, repo.UpsertBars([]domain.PriceBar{
		{Symbol: "000001.SZ", TradeDate: "2025-03-01", Close: 10},
		{Symbol: "000001.SZ", TradeDate: "2025-03-02", Close: 11},
		{Symbol: "000001.SZ", TradeDate: "2025-03-03", Close: 12},
	}))

	recent, err := repo.RecentBars("000001.SZ", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "2025-03-03", recent[0].TradeDate)
	assert.Equal(t, "2025-03-02", recent[1].TradeDate)

	latest, err := repo.LatestBar("000001.SZ")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 12.0, latest.Close)

	missing, err := repo.LatestBar("NOPE.SZ")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
