// Package forecast produces point estimates with confidence bounds for
// future trading days.
package forecast

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/calvia/stockdeck/internal/domain"
)

// Model names recorded with each forecast row.
const (
	ModelDrift       = "DRIFT_REGRESSION"
	ModelLinearTrend = "LINEAR_TREND"
)

// History length thresholds. Below minPoints no forecast is produced at
// all; between the two the cheap trend extrapolation is used.
const (
	minPoints   = 30
	driftPoints = 60
)

// Step is one horizon step of a forecast.
type Step struct {
	Day   int     `json:"day"`
	Mean  float64 `json:"predicted_price"`
	Lower float64 `json:"lower_bound"`
	Upper float64 `json:"upper_bound"`
}

// Result is a complete forecast for one instrument.
type Result struct {
	Symbol     string  `json:"symbol"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	Steps      []Step  `json:"predictions"`
}

// Engine fits a model over close prices and extrapolates a fixed horizon.
type Engine struct{}

// NewEngine creates a forecast engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Forecast predicts aheadDays of closes from ascending-date history.
// Returns domain.ErrInsufficientData when the history is too short for any
// model.
func (e *Engine) Forecast(history []domain.PriceBar, aheadDays int) (*Result, error) {
	if aheadDays < 1 {
		return nil, fmt.Errorf("ahead days must be positive, got %d", aheadDays)
	}
	if len(history) < minPoints {
		return nil, fmt.Errorf("%w: %d points, need %d", domain.ErrInsufficientData, len(history), minPoints)
	}

	closes := make([]float64, len(history))
	for i, bar := range history {
		closes[i] = bar.Close
	}

	symbol := history[0].Symbol

	if len(closes) >= driftPoints {
		if res := e.driftRegression(symbol, closes, aheadDays); res != nil {
			return res, nil
		}
	}

	return e.linearTrend(symbol, closes, aheadDays), nil
}

// driftRegression fits an ordinary least squares line over the time index
// and widens the interval with the horizon: ±1.28σ·√step covers roughly 80%
// assuming normal residuals. Returns nil when the fit degenerates.
func (e *Engine) driftRegression(symbol string, closes []float64, aheadDays int) *Result {
	n := len(closes)
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}

	alpha, beta := stat.LinearRegression(xs, closes, nil, false)
	if math.IsNaN(alpha) || math.IsNaN(beta) {
		return nil
	}

	residuals := make([]float64, n)
	for i := range closes {
		residuals[i] = closes[i] - (alpha + beta*xs[i])
	}
	sigma := stat.StdDev(residuals, nil)
	if math.IsNaN(sigma) {
		return nil
	}

	steps := make([]Step, 0, aheadDays)
	for day := 1; day <= aheadDays; day++ {
		mean := alpha + beta*float64(n-1+day)
		margin := 1.28 * sigma * math.Sqrt(float64(day))
		steps = append(steps, Step{
			Day:   day,
			Mean:  mean,
			Lower: mean - margin,
			Upper: mean + margin,
		})
	}

	return &Result{
		Symbol:     symbol,
		Method:     ModelDrift,
		Confidence: 0.7,
		Steps:      steps,
	}
}

// linearTrend extrapolates the average daily change over the last five
// closes with flat ±5% bounds. The fallback when history is short or the
// regression degenerates.
func (e *Engine) linearTrend(symbol string, closes []float64, aheadDays int) *Result {
	last := closes[len(closes)-1]
	trend := (last - closes[len(closes)-5]) / 5

	steps := make([]Step, 0, aheadDays)
	for day := 1; day <= aheadDays; day++ {
		mean := last + float64(day)*trend
		steps = append(steps, Step{
			Day:   day,
			Mean:  mean,
			Lower: mean * 0.95,
			Upper: mean * 1.05,
		})
	}

	return &Result{
		Symbol:     symbol,
		Method:     ModelLinearTrend,
		Confidence: 0.5,
		Steps:      steps,
	}
}
