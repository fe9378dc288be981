package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/calvia/stockdeck/internal/domain"
	"github.com/calvia/stockdeck/internal/forecast"
	"github.com/calvia/stockdeck/internal/marketdata"
	"github.com/calvia/stockdeck/internal/signals"
)

// snapshotBars caps how many recent bars are serialized into a report.
const snapshotBars = 30

// Generator assembles a report from the stored price, signal and forecast
// state for an instrument. Generation for the same symbol is serialized with
// a per-symbol lock so concurrent tasks cannot interleave version writes.
type Generator struct {
	reports   *Repository
	prices    *marketdata.Repository
	signals   *signals.Repository
	forecasts *forecast.Repository
	log       zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGenerator creates a report generator.
func NewGenerator(
	reports *Repository,
	prices *marketdata.Repository,
	sigs *signals.Repository,
	forecasts *forecast.Repository,
	log zerolog.Logger,
) *Generator {
	return &Generator{
		reports:   reports,
		prices:    prices,
		signals:   sigs,
		forecasts: forecasts,
		log:       log.With().Str("component", "report_generator").Logger(),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (g *Generator) symbolLock(symbol string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[symbol] = lock
	}
	return lock
}

// Generate builds and stores the next report version for a symbol.
// Fails when the symbol has no price history at all; missing signals or
// forecasts only lower the quality score.
func (g *Generator) Generate(ctx context.Context, symbol string) (*domain.Report, error) {
	lock := g.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	latestBar, err := g.prices.LatestBar(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest bar: %w", err)
	}
	if latestBar == nil {
		return nil, fmt.Errorf("%w: no price data for %s", domain.ErrNoData, symbol)
	}

	recent, err := g.prices.RecentBars(symbol, snapshotBars)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent bars: %w", err)
	}

	signal, err := g.signals.Latest(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest signal: %w", err)
	}

	points, err := g.forecasts.LatestRun(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load forecasts: %w", err)
	}

	report := &domain.Report{
		Symbol:               symbol,
		AnalysisSummary:      buildSummary(latestBar, signal, points),
		DataQualityScore:     qualityScore(latestBar, signal, points),
		PredictionConfidence: predictionConfidence(points),
	}

	if data, err := json.Marshal(recent); err == nil {
		report.PriceSnapshot = string(data)
	}
	if signal != nil {
		if data, err := json.Marshal(signal); err == nil {
			report.SignalSnapshot = string(data)
		}
	}
	if len(points) > 0 {
		if data, err := json.Marshal(points); err == nil {
			report.ForecastSnapshot = string(data)
		}
	}

	if err := g.reports.Insert(report); err != nil {
		return nil, fmt.Errorf("failed to store report: %w", err)
	}

	g.log.Info().
		Str("symbol", symbol).
		Int("version", report.Version).
		Float64("quality", report.DataQualityScore).
		Msg("Generated report")

	return report, nil
}

// qualityScore grades input completeness on a 0..10 scale:
// up to 5 for price data, 4 for signal field coverage, 2 for forecast depth,
// capped at 10.
func qualityScore(bar *domain.PriceBar, signal *domain.SignalRow, points []domain.ForecastPoint) float64 {
	score := 0.0

	if bar != nil {
		score += 4.0
		if bar.Volume != nil && *bar.Volume > 0 {
			score += 1.0
		}
	}

	if signal != nil {
		present := 0
		for _, f := range []*float64{signal.MAShort, signal.MALong, signal.RSI, signal.MACD} {
			if f != nil {
				present++
			}
		}
		score += float64(present) / 4.0 * 4.0
	}

	if n := len(points); n > 0 {
		part := float64(n) / 5.0 * 2.0
		if part > 2.0 {
			part = 2.0
		}
		score += part
	}

	if score > 10.0 {
		score = 10.0
	}
	return score
}

// predictionConfidence derives confidence from interval tightness: one minus
// the average relative interval width, clamped to [0,1]. Zero when no point
// carries a complete interval.
func predictionConfidence(points []domain.ForecastPoint) float64 {
	total := 0.0
	counted := 0
	for _, p := range points {
		if p.Mean == nil || p.Lower == nil || p.Upper == nil {
			continue
		}
		denom := *p.Mean
		if denom < 0 {
			denom = -denom
		}
		if denom < 1 {
			denom = 1
		}
		width := *p.Upper - *p.Lower
		if width < 0 {
			width = -width
		}
		total += width / denom
		counted++
	}
	if counted == 0 {
		return 0
	}

	conf := 1 - total/float64(counted)
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// buildSummary joins the available facts into one human-readable line.
func buildSummary(bar *domain.PriceBar, signal *domain.SignalRow, points []domain.ForecastPoint) string {
	var parts []string

	if bar != nil {
		seg := fmt.Sprintf("Close %.2f on %s", bar.Close, bar.TradeDate)
		if bar.PctChg != nil {
			seg += fmt.Sprintf(" (%+.2f%%)", *bar.PctChg)
		}
		parts = append(parts, seg)
	}

	if signal != nil {
		parts = append(parts, fmt.Sprintf("Signal %s (score %.1f)", signal.Action, signal.Score))
	}

	// Points arrive ordered by target date; quote the nearest step.
	for _, p := range points {
		if p.Mean == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s forecast %.2f by %s", p.Model, *p.Mean, p.TargetDate))
		break
	}

	if len(parts) == 0 {
		return "No analysis data available"
	}
	return strings.Join(parts, " | ")
}
