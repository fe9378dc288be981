// Package watchlist manages the set of instruments the pipeline visits.
package watchlist

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/calvia/stockdeck/internal/domain"
)

// Repository provides access to the watchlist table
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new watchlist repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "watchlist_repo").Logger(),
	}
}

// List returns watchlist entries. With enabledOnly set, disabled entries
// are filtered out.
func (r *Repository) List(enabledOnly bool) ([]domain.WatchlistEntry, error) {
	query := `SELECT symbol, COALESCE(name, ''), COALESCE(sector, ''), enabled FROM watchlist`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY symbol`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist: %w", err)
	}
	defer rows.Close()

	var entries []domain.WatchlistEntry
	for rows.Next() {
		var e domain.WatchlistEntry
		var enabled int
		if err := rows.Scan(&e.Symbol, &e.Name, &e.Sector, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist entry: %w", err)
		}
		e.Enabled = enabled != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watchlist: %w", err)
	}

	return entries, nil
}

// Get returns a single watchlist entry or domain.ErrNotFound.
func (r *Repository) Get(symbol string) (*domain.WatchlistEntry, error) {
	var e domain.WatchlistEntry
	var enabled int
	err := r.db.QueryRow(
		`SELECT symbol, COALESCE(name, ''), COALESCE(sector, ''), enabled FROM watchlist WHERE symbol = ?`,
		symbol,
	).Scan(&e.Symbol, &e.Name, &e.Sector, &enabled)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist entry: %w", err)
	}
	e.Enabled = enabled != 0
	return &e, nil
}

// Add inserts an entry; adding an existing symbol is a no-op.
func (r *Repository) Add(entry domain.WatchlistEntry) error {
	enabled := 0
	if entry.Enabled {
		enabled = 1
	}

	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO watchlist (symbol, name, sector, enabled) VALUES (?, ?, ?, ?)`,
		entry.Symbol, entry.Name, entry.Sector, enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to insert watchlist entry: %w", err)
	}

	r.log.Info().Str("symbol", entry.Symbol).Msg("Added watchlist entry")
	return nil
}

// SetEnabled toggles an entry without removing its history.
func (r *Repository) SetEnabled(symbol string, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}

	res, err := r.db.Exec(`UPDATE watchlist SET enabled = ? WHERE symbol = ?`, val, symbol)
	if err != nil {
		return fmt.Errorf("failed to update watchlist entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Remove deletes an entry from the watchlist.
func (r *Repository) Remove(symbol string) error {
	res, err := r.db.Exec(`DELETE FROM watchlist WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete watchlist entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}

	r.log.Info().Str("symbol", symbol).Msg("Removed watchlist entry")
	return nil
}
