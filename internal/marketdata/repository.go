// Package marketdata stores daily price bars and talks to the external
// market data source.
package marketdata

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/calvia/stockdeck/internal/domain"
)

// Repository provides access to the prices_daily table
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new price bar repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "marketdata_repo").Logger(),
	}
}

// UpsertBars writes bars in a single transaction, ignoring rows whose
// (symbol, trade_date) already exist. Re-running over an overlapping date
// range is therefore safe and never duplicates a bar.
func (r *Repository) UpsertBars(bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op once Commit succeeds

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO prices_daily
		(symbol, trade_date, open, high, low, close, pct_chg, volume, amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		var pctChg, amount sql.NullFloat64
		var volume sql.NullInt64
		if bar.PctChg != nil {
			pctChg = sql.NullFloat64{Float64: *bar.PctChg, Valid: true}
		}
		if bar.Volume != nil {
			volume = sql.NullInt64{Int64: *bar.Volume, Valid: true}
		}
		if bar.Amount != nil {
			amount = sql.NullFloat64{Float64: *bar.Amount, Valid: true}
		}

		if _, err := stmt.Exec(
			bar.Symbol, bar.TradeDate,
			bar.Open, bar.High, bar.Low, bar.Close,
			pctChg, volume, amount,
		); err != nil {
			return fmt.Errorf("failed to insert bar for %s: %w", bar.TradeDate, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().
		Str("symbol", bars[0].Symbol).
		Int("count", len(bars)).
		Msg("Upserted price bars")

	return nil
}

// History returns all bars for a symbol in ascending date order.
func (r *Repository) History(symbol string) ([]domain.PriceBar, error) {
	rows, err := r.db.Query(`
		SELECT symbol, trade_date, open, high, low, close, pct_chg, volume, amount
		FROM prices_daily
		WHERE symbol = ?
		ORDER BY trade_date ASC
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// RecentBars returns the most recent bars for a symbol, newest first.
func (r *Repository) RecentBars(symbol string, limit int) ([]domain.PriceBar, error) {
	rows, err := r.db.Query(`
		SELECT symbol, trade_date, open, high, low, close, pct_chg, volume, amount
		FROM prices_daily
		WHERE symbol = ?
		ORDER BY trade_date DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// LatestBar returns the newest bar for a symbol, or nil when none exists.
func (r *Repository) LatestBar(symbol string) (*domain.PriceBar, error) {
	bars, err := r.RecentBars(symbol, 1)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}
	return &bars[0], nil
}

func scanBars(rows *sql.Rows) ([]domain.PriceBar, error) {
	var bars []domain.PriceBar
	for rows.Next() {
		var b domain.PriceBar
		var pctChg, amount sql.NullFloat64
		var volume sql.NullInt64

		if err := rows.Scan(
			&b.Symbol, &b.TradeDate,
			&b.Open, &b.High, &b.Low, &b.Close,
			&pctChg, &volume, &amount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}

		if pctChg.Valid {
			b.PctChg = &pctChg.Float64
		}
		if volume.Valid {
			b.Volume = &volume.Int64
		}
		if amount.Valid {
			b.Amount = &amount.Float64
		}

		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}

	return bars, nil
}
