package signals

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/calvia/stockdeck/internal/domain"
)

// Repository provides access to the signals table
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new signal repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "signals_repo").Logger(),
	}
}

// Upsert writes one signal row, ignoring a duplicate (symbol, trade_date).
// The pipeline persists only the most recent day's row on each run, so
// re-running a day is a no-op.
func (r *Repository) Upsert(row domain.SignalRow) error {
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO signals
		(symbol, trade_date, ma_short, ma_long, rsi, macd, signal_score, action)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.Symbol, row.TradeDate,
		nullFloat(row.MAShort), nullFloat(row.MALong),
		nullFloat(row.RSI), nullFloat(row.MACD),
		row.Score, row.Action,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert signal: %w", err)
	}

	r.log.Debug().
		Str("symbol", row.Symbol).
		Str("date", row.TradeDate).
		Str("action", row.Action).
		Msg("Upserted signal")

	return nil
}

// Latest returns the newest signal row for a symbol, or nil when none exists.
func (r *Repository) Latest(symbol string) (*domain.SignalRow, error) {
	var row domain.SignalRow
	var maShort, maLong, rsi, macd sql.NullFloat64

	err := r.db.QueryRow(`
		SELECT symbol, trade_date, ma_short, ma_long, rsi, macd, signal_score, COALESCE(action, '')
		FROM signals
		WHERE symbol = ?
		ORDER BY trade_date DESC
		LIMIT 1
	`, symbol).Scan(
		&row.Symbol, &row.TradeDate,
		&maShort, &maLong, &rsi, &macd,
		&row.Score, &row.Action,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest signal: %w", err)
	}

	if maShort.Valid {
		row.MAShort = &maShort.Float64
	}
	if maLong.Valid {
		row.MALong = &maLong.Float64
	}
	if rsi.Valid {
		row.RSI = &rsi.Float64
	}
	if macd.Valid {
		row.MACD = &macd.Float64
	}

	return &row, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
