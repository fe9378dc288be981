package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvia/stockdeck/internal/domain"
)

func historyFromCloses(closes []float64) []domain.PriceBar {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = domain.PriceBar{
			Symbol:    "600519.SH",
			TradeDate: base.AddDate(0, 0, i).Format("2006-01-02"),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
		}
	}
	return bars
}

func linearCloses(n int, start, slope float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + slope*float64(i)
	}
	return closes
}

func TestForecast_RejectsShortHistory(t *testing.T) {
	engine := NewEngine()

	_, err := engine.Forecast(historyFromCloses(linearCloses(29, 100, 1)), 5)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestForecast_RejectsBadHorizon(t *testing.T) {
	engine := NewEngine()

	_, err := engine.Forecast(historyFromCloses(linearCloses(100, 100, 1)), 0)
	assert.Error(t, err)
}

func TestForecast_ShortHistoryUsesLinearTrend(t *testing.T) {
	engine := NewEngine()

	// 40 points: enough to forecast, not enough for the regression model.
	res, err := engine.Forecast(historyFromCloses(linearCloses(40, 100, 1)), 5)
	require.NoError(t, err)

	assert.Equal(t, ModelLinearTrend, res.Method)
	assert.Equal(t, 0.5, res.Confidence)
	require.Len(t, res.Steps, 5)

	// Last close 139, fifth-from-last 135: trend +0.8/day.
	assert.InDelta(t, 139.8, res.Steps[0].Mean, 0.0001)
	assert.InDelta(t, 143.0, res.Steps[4].Mean, 0.0001)

	// Flat 5% bounds around each step mean.
	for _, step := range res.Steps {
		assert.InDelta(t, step.Mean*0.95, step.Lower, 0.0001)
		assert.InDelta(t, step.Mean*1.05, step.Upper, 0.0001)
	}
}

func TestForecast_LongHistoryUsesDriftRegression(t *testing.T) {
	engine := NewEngine()

	res, err := engine.Forecast(historyFromCloses(linearCloses(100, 50, 0.5)), 5)
	require.NoError(t, err)

	assert.Equal(t, ModelDrift, res.Method)
	assert.Equal(t, 0.7, res.Confidence)
	require.Len(t, res.Steps, 5)

	// Perfectly linear input: zero residuals, exact continuation.
	for i, step := range res.Steps {
		assert.Equal(t, i+1, step.Day)
		want := 50 + 0.5*float64(99+i+1)
		assert.InDelta(t, want, step.Mean, 0.0001)
		assert.InDelta(t, step.Mean, step.Lower, 0.0001)
		assert.InDelta(t, step.Mean, step.Upper, 0.0001)
	}
}

func TestForecast_IntervalsWidenWithHorizon(t *testing.T) {
	engine := NewEngine()

	// Line plus alternating noise keeps residual variance positive.
	closes := linearCloses(100, 50, 0.5)
	for i := range closes {
		if i%2 == 0 {
			closes[i] += 1
		} else {
			closes[i] -= 1
		}
	}

	res, err := engine.Forecast(historyFromCloses(closes), 5)
	require.NoError(t, err)
	require.Equal(t, ModelDrift, res.Method)

	prevWidth := 0.0
	for _, step := range res.Steps {
		width := step.Upper - step.Lower
		assert.Greater(t, width, prevWidth)
		prevWidth = width
	}
}
