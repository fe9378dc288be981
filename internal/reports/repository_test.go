package reports

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvia/stockdeck/internal/domain"
	testhelpers "github.com/calvia/stockdeck/internal/testing"
)

func TestInsert_VersionsAndSupersedes(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "reports")
	defer cleanup()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(db.Conn(), log)

	for i := 1; i <= 3; i++ {
		report := &domain.Report{
			Symbol:          "600519.SH",
			AnalysisSummary: "run",
		}
		require.NoError(t, repo.Insert(report))
		assert.Equal(t, i, report.Version)
		assert.True(t, report.IsLatest)
	}

	// Exactly one latest row, and it is version 3.
	var latestCount int
	err := db.Conn().QueryRow(
		`SELECT COUNT(*) FROM reports WHERE symbol = ? AND is_latest = 1`, "600519.SH",
	).Scan(&latestCount)
	require.NoError(t, err)
	assert.Equal(t, 1, latestCount)

	latest, err := repo.GetLatest("600519.SH")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)

	// Old versions remain readable.
	v1, err := repo.GetVersion("600519.SH", 1)
	require.NoError(t, err)
	assert.False(t, v1.IsLatest)

	history, err := repo.History("600519.SH")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[0].Version)
	assert.Equal(t, 1, history[2].Version)
}

func TestInsert_VersionsArePerSymbol(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "reports")
	defer cleanup()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(db.Conn(), log)

	a := &domain.Report{Symbol: "AAA.SZ"}
	require.NoError(t, repo.Insert(a))
	b := &domain.Report{Symbol: "BBB.SZ"}
	require.NoError(t, repo.Insert(b))

	assert.Equal(t, 1, a.Version)
	assert.Equal(t, 1, b.Version)
}

func TestGetLatest_NotFound(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "reports")
	defer cleanup()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(db.Conn(), log)

	_, err := repo.GetLatest("MISSING.SZ")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSymbolsWithoutLatest(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "reports")
	defer cleanup()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(db.Conn(), log)

	require.NoError(t, repo.Insert(&domain.Report{Symbol: "AAA.SZ"}))

	missing, err := repo.SymbolsWithoutLatest([]string{"AAA.SZ", "BBB.SZ", "CCC.SZ"})
	require.NoError(t, err)
	assert.Equal(t, []string{"BBB.SZ", "CCC.SZ"}, missing)
}
