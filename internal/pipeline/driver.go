// Package pipeline drives the scheduled daily refresh: fetch bars, derive
// signals and forecasts, then fan out follow-up tasks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/calvia/stockdeck/internal/domain"
	"github.com/calvia/stockdeck/internal/forecast"
	"github.com/calvia/stockdeck/internal/marketdata"
	"github.com/calvia/stockdeck/internal/reports"
	"github.com/calvia/stockdeck/internal/signals"
	"github.com/calvia/stockdeck/internal/watchlist"
)

// TaskCreator enqueues follow-up tasks. Satisfied by the task manager.
type TaskCreator interface {
	CreateTask(taskType domain.TaskType, symbol string, priority int, metadata string) (string, error)
}

// Config holds the tunable pipeline parameters.
type Config struct {
	HistoryYears     int
	MinHistoryPoints int
	AheadDays        int
}

// Result summarizes one pipeline run.
type Result struct {
	Processed int               `json:"processed"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Driver runs the refresh across the watchlist. Implements the scheduler
// Job interface so it can run on a cron schedule directly.
type Driver struct {
	cfg       Config
	watchlist *watchlist.Repository
	source    marketdata.BarSource
	prices    *marketdata.Repository
	sigEngine *signals.Engine
	sigs      *signals.Repository
	fcEngine  *forecast.Engine
	forecasts *forecast.Repository
	reports   *reports.Repository
	tasks     TaskCreator
	log       zerolog.Logger
}

// NewDriver creates a pipeline driver.
func NewDriver(
	cfg Config,
	wl *watchlist.Repository,
	source marketdata.BarSource,
	prices *marketdata.Repository,
	sigEngine *signals.Engine,
	sigs *signals.Repository,
	fcEngine *forecast.Engine,
	forecasts *forecast.Repository,
	reps *reports.Repository,
	tasks TaskCreator,
	log zerolog.Logger,
) *Driver {
	if cfg.HistoryYears <= 0 {
		cfg.HistoryYears = 3
	}
	if cfg.MinHistoryPoints <= 0 {
		cfg.MinHistoryPoints = 50
	}
	if cfg.AheadDays <= 0 {
		cfg.AheadDays = 5
	}

	return &Driver{
		cfg:       cfg,
		watchlist: wl,
		source:    source,
		prices:    prices,
		sigEngine: sigEngine,
		sigs:      sigs,
		fcEngine:  fcEngine,
		forecasts: forecasts,
		reports:   reps,
		tasks:     tasks,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// Name identifies the driver to the scheduler.
func (d *Driver) Name() string {
	return "daily_pipeline"
}

// Run executes the daily refresh with a background context. Scheduler entry
// point.
func (d *Driver) Run() error {
	_, err := d.RunDaily(context.Background())
	return err
}

// RunDaily refreshes every enabled watchlist instrument. Each instrument is
// isolated: a failure or skip is recorded and the run continues. After the
// sweep, report generation tasks are enqueued for refreshed instruments and
// a market-wide news fetch is queued; a failure enqueuing follow-ups does
// not fail the run.
func (d *Driver) RunDaily(ctx context.Context) (*Result, error) {
	start := time.Now()
	entries, err := d.watchlist.List(true)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}

	result := &Result{Errors: make(map[string]string)}
	var refreshed []string

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		err := d.RunSymbol(ctx, entry.Symbol)
		switch {
		case err == nil:
			result.Processed++
			refreshed = append(refreshed, entry.Symbol)
		case errors.Is(err, domain.ErrNoData), errors.Is(err, domain.ErrInsufficientData):
			result.Skipped++
			d.log.Warn().Err(err).Str("symbol", entry.Symbol).Msg("Instrument skipped")
		default:
			result.Failed++
			result.Errors[entry.Symbol] = err.Error()
			d.log.Error().Err(err).Str("symbol", entry.Symbol).Msg("Instrument failed")
		}
	}

	d.enqueueFollowUps(refreshed, entries)

	d.log.Info().
		Int("processed", result.Processed).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("Pipeline run complete")

	return result, nil
}

// RunSymbol refreshes one instrument end to end: fetch, persist, derive.
// Also the handler body for fetch_data tasks.
func (d *Driver) RunSymbol(ctx context.Context, symbol string) error {
	startDate := time.Now().AddDate(-d.cfg.HistoryYears, 0, 0).Format("2006-01-02")

	bars, err := d.source.FetchDaily(ctx, symbol, startDate)
	if err != nil {
		return err
	}

	if err := d.prices.UpsertBars(bars); err != nil {
		return err
	}

	// Reload from storage so derived values always come from the canonical
	// deduplicated series, not the raw fetch.
	history, err := d.prices.History(marketdata.NormalizeSymbol(symbol))
	if err != nil {
		return err
	}
	if len(history) < d.cfg.MinHistoryPoints {
		return fmt.Errorf("%w: %d bars, need %d", domain.ErrInsufficientData, len(history), d.cfg.MinHistoryPoints)
	}

	rows, err := d.sigEngine.Compute(history)
	if err != nil {
		return err
	}
	// Only the most recent day is persisted each run; earlier days were
	// written by earlier runs.
	if err := d.sigs.Upsert(rows[len(rows)-1]); err != nil {
		return err
	}

	fc, err := d.fcEngine.Forecast(history, d.cfg.AheadDays)
	if err != nil {
		return err
	}

	points := buildForecastBatch(history, fc)
	if err := d.forecasts.InsertBatch(points); err != nil {
		return err
	}

	d.log.Debug().
		Str("symbol", history[0].Symbol).
		Int("bars", len(history)).
		Str("model", fc.Method).
		Msg("Instrument refreshed")

	return nil
}

// enqueueFollowUps queues report generation and the news sweep. Dedup in
// the task store makes repeated enqueues harmless.
func (d *Driver) enqueueFollowUps(refreshed []string, entries []domain.WatchlistEntry) {
	for _, symbol := range refreshed {
		if _, err := d.tasks.CreateTask(domain.TaskGenerateReport, marketdata.NormalizeSymbol(symbol), domain.PriorityDefault, ""); err != nil {
			d.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to enqueue report task")
		}
	}

	// Backfill instruments that were skipped this run but still have no
	// report at all, ahead of routine regeneration.
	refreshedSet := make(map[string]bool, len(refreshed))
	for _, symbol := range refreshed {
		refreshedSet[marketdata.NormalizeSymbol(symbol)] = true
	}
	candidates := make([]string, 0, len(entries))
	for _, e := range entries {
		symbol := marketdata.NormalizeSymbol(e.Symbol)
		if refreshedSet[symbol] {
			continue
		}
		candidates = append(candidates, symbol)
	}
	missing, err := d.reports.SymbolsWithoutLatest(candidates)
	if err != nil {
		d.log.Warn().Err(err).Msg("Failed to check for missing reports")
	} else {
		for _, symbol := range missing {
			if _, err := d.tasks.CreateTask(domain.TaskGenerateReport, symbol, domain.PriorityBackfill, ""); err != nil {
				d.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to enqueue report task")
			}
		}
	}

	if _, err := d.tasks.CreateTask(domain.TaskFetchNews, domain.SymbolAll, domain.PriorityLowest, ""); err != nil {
		d.log.Warn().Err(err).Msg("Failed to enqueue news sweep task")
	}
}

// buildForecastBatch tags the engine output with one run id and maps each
// horizon step to a calendar date after the last traded day.
func buildForecastBatch(history []domain.PriceBar, fc *forecast.Result) []domain.ForecastPoint {
	runID := uuid.New().String()
	runAt := time.Now().UTC()

	lastDate, err := time.Parse("2006-01-02", history[len(history)-1].TradeDate)
	if err != nil {
		lastDate = runAt
	}

	points := make([]domain.ForecastPoint, 0, len(fc.Steps))
	for _, step := range fc.Steps {
		mean, lower, upper := step.Mean, step.Lower, step.Upper
		points = append(points, domain.ForecastPoint{
			Symbol:     fc.Symbol,
			RunID:      runID,
			RunAt:      runAt,
			TargetDate: lastDate.AddDate(0, 0, step.Day).Format("2006-01-02"),
			Model:      fc.Method,
			Mean:       &mean,
			Lower:      &lower,
			Upper:      &upper,
		})
	}

	return points
}
