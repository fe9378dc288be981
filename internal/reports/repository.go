// Package reports builds and stores versioned analysis snapshots. Reports
// are immutable once written; regenerating supersedes the previous latest
// version in a single transaction.
package reports

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/calvia/stockdeck/internal/database"
	"github.com/calvia/stockdeck/internal/domain"
)

// Repository provides access to the reports table
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new report repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "reports_repo").Logger(),
	}
}

// Insert writes a new report as the latest version for its symbol. The
// clear of the previous latest flag and the insert of the new row commit
// atomically: readers never observe zero or two latest reports.
func (r *Repository) Insert(report *domain.Report) error {
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var maxVersion sql.NullInt64
		if err := tx.QueryRow(
			`SELECT MAX(version) FROM reports WHERE symbol = ?`, report.Symbol,
		).Scan(&maxVersion); err != nil {
			return fmt.Errorf("failed to read max version: %w", err)
		}

		report.Version = int(maxVersion.Int64) + 1
		report.IsLatest = true
		if report.CreatedAt.IsZero() {
			report.CreatedAt = time.Now().UTC()
		}

		if _, err := tx.Exec(
			`UPDATE reports SET is_latest = 0 WHERE symbol = ? AND is_latest = 1`,
			report.Symbol,
		); err != nil {
			return fmt.Errorf("failed to clear latest flag: %w", err)
		}

		res, err := tx.Exec(`
			INSERT INTO reports
			(symbol, version, is_latest, created_at,
			 price_snapshot, signal_snapshot, forecast_snapshot,
			 analysis_summary, data_quality_score, prediction_confidence)
			VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?)
		`,
			report.Symbol, report.Version,
			report.CreatedAt.Format(time.RFC3339),
			report.PriceSnapshot, report.SignalSnapshot, report.ForecastSnapshot,
			report.AnalysisSummary, report.DataQualityScore, report.PredictionConfidence,
		)
		if err != nil {
			return fmt.Errorf("failed to insert report: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read report id: %w", err)
		}
		report.ID = id

		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().
		Str("symbol", report.Symbol).
		Int("version", report.Version).
		Msg("Stored report")

	return nil
}

// GetLatest returns the report with is_latest set for a symbol.
// Returns domain.ErrNotFound when the symbol has no reports.
func (r *Repository) GetLatest(symbol string) (*domain.Report, error) {
	return r.getOne(
		`SELECT id, symbol, version, is_latest, created_at,
		        price_snapshot, signal_snapshot, forecast_snapshot,
		        analysis_summary, data_quality_score, prediction_confidence
		 FROM reports WHERE symbol = ? AND is_latest = 1`, symbol)
}

// GetVersion returns a specific historical version of a symbol's report.
func (r *Repository) GetVersion(symbol string, version int) (*domain.Report, error) {
	return r.getOne(
		`SELECT id, symbol, version, is_latest, created_at,
		        price_snapshot, signal_snapshot, forecast_snapshot,
		        analysis_summary, data_quality_score, prediction_confidence
		 FROM reports WHERE symbol = ? AND version = ?`, symbol, version)
}

// History returns all versions for a symbol, newest first.
func (r *Repository) History(symbol string) ([]domain.Report, error) {
	rows, err := r.db.Query(`
		SELECT id, symbol, version, is_latest, created_at,
		       price_snapshot, signal_snapshot, forecast_snapshot,
		       analysis_summary, data_quality_score, prediction_confidence
		FROM reports
		WHERE symbol = ?
		ORDER BY version DESC
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query report history: %w", err)
	}
	defer rows.Close()

	var reports []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}

	return reports, nil
}

// SymbolsWithoutLatest returns symbols from the candidate list that have no
// latest report. Used to backfill report tasks after a pipeline run.
func (r *Repository) SymbolsWithoutLatest(candidates []string) ([]string, error) {
	var missing []string
	for _, symbol := range candidates {
		var n int
		err := r.db.QueryRow(
			`SELECT COUNT(*) FROM reports WHERE symbol = ? AND is_latest = 1`, symbol,
		).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("failed to check reports for %s: %w", symbol, err)
		}
		if n == 0 {
			missing = append(missing, symbol)
		}
	}
	return missing, nil
}

func (r *Repository) getOne(query string, args ...interface{}) (*domain.Report, error) {
	row := r.db.QueryRow(query, args...)
	rep, err := scanReport(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rep, nil
}

func scanReport(scan func(...interface{}) error) (*domain.Report, error) {
	var rep domain.Report
	var createdAt string
	var price, signal, forecast, summary sql.NullString

	err := scan(
		&rep.ID, &rep.Symbol, &rep.Version, &rep.IsLatest, &createdAt,
		&price, &signal, &forecast,
		&summary, &rep.DataQualityScore, &rep.PredictionConfidence,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}

	if t, perr := time.Parse(time.RFC3339, createdAt); perr == nil {
		rep.CreatedAt = t
	}
	rep.PriceSnapshot = price.String
	rep.SignalSnapshot = signal.String
	rep.ForecastSnapshot = forecast.String
	rep.AnalysisSummary = summary.String

	return &rep, nil
}
