package forecast

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/calvia/stockdeck/internal/domain"
)

// Repository provides access to the forecasts table. Rows are append-only:
// each pipeline run writes a fresh batch keyed by run_id, so older runs
// remain queryable as a track record.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new forecast repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "forecast_repo").Logger(),
	}
}

// InsertBatch writes one run's forecast points in a single transaction.
func (r *Repository) InsertBatch(points []domain.ForecastPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op once Commit succeeds

	stmt, err := tx.Prepare(`
		INSERT INTO forecasts
		(symbol, run_id, run_at, target_date, model, yhat, yhat_lower, yhat_upper)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.Exec(
			p.Symbol, p.RunID, p.RunAt.UTC().Format(time.RFC3339),
			p.TargetDate, p.Model,
			nullFloat(p.Mean), nullFloat(p.Lower), nullFloat(p.Upper),
		); err != nil {
			return fmt.Errorf("failed to insert forecast for %s: %w", p.TargetDate, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().
		Str("symbol", points[0].Symbol).
		Str("run_id", points[0].RunID).
		Int("count", len(points)).
		Msg("Inserted forecast batch")

	return nil
}

// LatestRun returns the points of the most recent run for a symbol, ordered
// by target date. Empty slice when the symbol has no forecasts.
func (r *Repository) LatestRun(symbol string) ([]domain.ForecastPoint, error) {
	var runID string
	err := r.db.QueryRow(`
		SELECT run_id FROM forecasts
		WHERE symbol = ?
		ORDER BY run_at DESC, id DESC
		LIMIT 1
	`, symbol).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest run: %w", err)
	}

	return r.pointsForRun(symbol, runID)
}

// History returns all forecast points for a symbol, newest run first and
// ascending target date within a run, capped at limit rows.
func (r *Repository) History(symbol string, limit int) ([]domain.ForecastPoint, error) {
	rows, err := r.db.Query(`
		SELECT symbol, run_id, run_at, target_date, model, yhat, yhat_lower, yhat_upper
		FROM forecasts
		WHERE symbol = ?
		ORDER BY run_at DESC, target_date ASC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecast history: %w", err)
	}
	defer rows.Close()

	return scanPoints(rows)
}

func (r *Repository) pointsForRun(symbol, runID string) ([]domain.ForecastPoint, error) {
	rows, err := r.db.Query(`
		SELECT symbol, run_id, run_at, target_date, model, yhat, yhat_lower, yhat_upper
		FROM forecasts
		WHERE symbol = ? AND run_id = ?
		ORDER BY target_date ASC
	`, symbol, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run points: %w", err)
	}
	defer rows.Close()

	return scanPoints(rows)
}

func scanPoints(rows *sql.Rows) ([]domain.ForecastPoint, error) {
	var points []domain.ForecastPoint
	for rows.Next() {
		var p domain.ForecastPoint
		var runAt string
		var mean, lower, upper sql.NullFloat64

		if err := rows.Scan(
			&p.Symbol, &p.RunID, &runAt, &p.TargetDate, &p.Model,
			&mean, &lower, &upper,
		); err != nil {
			return nil, fmt.Errorf("failed to scan forecast: %w", err)
		}

		if t, err := time.Parse(time.RFC3339, runAt); err == nil {
			p.RunAt = t
		}
		if mean.Valid {
			p.Mean = &mean.Float64
		}
		if lower.Valid {
			p.Lower = &lower.Float64
		}
		if upper.Valid {
			p.Upper = &upper.Float64
		}

		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating forecasts: %w", err)
	}

	return points, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
