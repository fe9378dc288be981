// Package news collects and stores market news articles for watched
// instruments.
package news

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/calvia/stockdeck/internal/domain"
)

// Repository provides access to the news_articles table
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new news repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "news_repo").Logger(),
	}
}

// Insert stores articles, ignoring URLs already collected. Returns how many
// rows were actually written.
func (r *Repository) Insert(articles []domain.NewsArticle) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op once Commit succeeds

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO news_articles
		(url, title, summary, source, symbol, category, sentiment, relevance, published_at, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, a := range articles {
		var publishedAt sql.NullString
		if a.PublishedAt != nil {
			publishedAt = sql.NullString{String: a.PublishedAt.UTC().Format(time.RFC3339), Valid: true}
		}
		collectedAt := a.CollectedAt
		if collectedAt.IsZero() {
			collectedAt = time.Now().UTC()
		}

		res, err := stmt.Exec(
			a.URL, a.Title, a.Summary, a.Source, a.Symbol, a.Category,
			a.Sentiment, a.Relevance, publishedAt,
			collectedAt.Format(time.RFC3339),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert article: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().Int("inserted", inserted).Int("seen", len(articles)).Msg("Stored articles")
	return inserted, nil
}

// Recent returns the most recently collected articles, optionally filtered
// by symbol.
func (r *Repository) Recent(symbol string, limit int) ([]domain.NewsArticle, error) {
	query := `
		SELECT id, url, title, COALESCE(summary, ''), COALESCE(source, ''),
		       COALESCE(symbol, ''), COALESCE(category, ''),
		       sentiment, relevance, published_at, collected_at
		FROM news_articles`
	args := []interface{}{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY collected_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var articles []domain.NewsArticle
	for rows.Next() {
		var a domain.NewsArticle
		var publishedAt sql.NullString
		var collectedAt string

		if err := rows.Scan(
			&a.ID, &a.URL, &a.Title, &a.Summary, &a.Source,
			&a.Symbol, &a.Category, &a.Sentiment, &a.Relevance,
			&publishedAt, &collectedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}

		if publishedAt.Valid {
			if t, perr := time.Parse(time.RFC3339, publishedAt.String); perr == nil {
				a.PublishedAt = &t
			}
		}
		if t, perr := time.Parse(time.RFC3339, collectedAt); perr == nil {
			a.CollectedAt = t
		}

		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating articles: %w", err)
	}

	return articles, nil
}
