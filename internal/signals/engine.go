// Package signals computes per-day technical summaries (moving averages,
// RSI, MACD, composite score, recommended action) over price history.
package signals

import (
	"github.com/markcheno/go-talib"

	"github.com/calvia/stockdeck/internal/domain"
)

// Indicator periods. Short/long moving averages follow the classic 10/30
// trend pair; RSI and MACD use their conventional defaults.
const (
	ShortPeriod = 10
	LongPeriod  = 30
	RSIPeriod   = 14
	MACDFast    = 12
	MACDSlow    = 26
	MACDSignal  = 9
)

// Action thresholds on the composite score.
const (
	buyThreshold  = 15
	trimThreshold = -15
)

// Engine derives signal rows from price history.
type Engine struct{}

// NewEngine creates a signal engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Compute returns one signal row per input bar, in the same ascending date
// order. Bars inside an indicator's warm-up window carry nil for that field.
// Returns domain.ErrInsufficientData when the history cannot support the
// long moving average.
func (e *Engine) Compute(history []domain.PriceBar) ([]domain.SignalRow, error) {
	n := len(history)
	if n < LongPeriod+1 {
		return nil, domain.ErrInsufficientData
	}

	closes := make([]float64, n)
	for i, bar := range history {
		closes[i] = bar.Close
	}

	maShort := talib.Sma(closes, ShortPeriod)
	maLong := talib.Sma(closes, LongPeriod)
	rsi := talib.Rsi(closes, RSIPeriod)
	macdLine, macdSig, _ := talib.Macd(closes, MACDFast, MACDSlow, MACDSignal)

	rows := make([]domain.SignalRow, n)
	for i := range history {
		row := domain.SignalRow{
			Symbol:    history[i].Symbol,
			TradeDate: history[i].TradeDate,
		}

		if i >= ShortPeriod-1 {
			v := maShort[i]
			row.MAShort = &v
		}
		if i >= LongPeriod-1 {
			v := maLong[i]
			row.MALong = &v
		}
		if i >= RSIPeriod {
			v := rsi[i]
			row.RSI = &v
		}
		// MACD needs the slow EMA plus the signal EMA to settle
		if i >= MACDSlow+MACDSignal-2 {
			v := macdLine[i]
			row.MACD = &v
		}

		row.Score = e.score(i, maShort, maLong, rsi, macdLine, macdSig)
		row.Action = actionFor(row.Score)
		rows[i] = row
	}

	return rows, nil
}

// score builds the composite at index i:
//   - short/long MA cross up +20, cross down -20
//   - RSI centrality contributes clamp(50-|rsi-50|, -15, 15)
//   - MACD line crossing above its signal line +10
func (e *Engine) score(i int, maShort, maLong, rsi, macdLine, macdSig []float64) float64 {
	score := 0.0

	if i >= LongPeriod {
		crossUp := maShort[i] > maLong[i] && maShort[i-1] <= maLong[i-1]
		crossDn := maShort[i] < maLong[i] && maShort[i-1] >= maLong[i-1]
		if crossUp {
			score += 20
		}
		if crossDn {
			score -= 20
		}
	}

	if i >= RSIPeriod {
		score += clamp(50-abs(rsi[i]-50), -15, 15)
	}

	if i >= MACDSlow+MACDSignal-1 {
		if macdLine[i] > macdSig[i] && macdLine[i-1] <= macdSig[i-1] {
			score += 10
		}
	}

	return score
}

func actionFor(score float64) string {
	switch {
	case score >= buyThreshold:
		return "BUY"
	case score <= trimThreshold:
		return "TRIM"
	default:
		return "HOLD"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
