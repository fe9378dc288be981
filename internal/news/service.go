package news

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/calvia/stockdeck/internal/domain"
)

// resultsPerQuery caps how many hits one search query contributes.
const resultsPerQuery = 10

// WatchlistLister exposes the instruments a sweep should cover.
type WatchlistLister interface {
	List(enabledOnly bool) ([]domain.WatchlistEntry, error)
}

// Service collects, scores and stores news articles.
type Service struct {
	search    SearchClient
	repo      *Repository
	watchlist WatchlistLister
	log       zerolog.Logger
}

// NewService creates a news service.
func NewService(search SearchClient, repo *Repository, watchlist WatchlistLister, log zerolog.Logger) *Service {
	return &Service{
		search:    search,
		repo:      repo,
		watchlist: watchlist,
		log:       log.With().Str("component", "news_service").Logger(),
	}
}

// CollectForSymbol searches for news about one instrument and stores the
// scored results. Returns how many new articles were written.
func (s *Service) CollectForSymbol(ctx context.Context, symbol, name string) (int, error) {
	query := symbol + " stock news"
	if name != "" {
		query = name + " " + symbol + " news"
	}

	results, err := s.search.Search(ctx, query, resultsPerQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to search news for %s: %w", symbol, err)
	}

	articles := make([]domain.NewsArticle, 0, len(results))
	for _, r := range results {
		text := r.Title + " " + r.Content
		articles = append(articles, domain.NewsArticle{
			URL:         r.URL,
			Title:       r.Title,
			Summary:     r.Content,
			Source:      r.Source,
			Symbol:      symbol,
			Category:    "company",
			Sentiment:   scoreSentiment(text),
			Relevance:   scoreRelevance(symbol, name, text),
			PublishedAt: r.Published,
			CollectedAt: time.Now().UTC(),
		})
	}

	inserted, err := s.repo.Insert(articles)
	if err != nil {
		return 0, err
	}

	s.log.Info().Str("symbol", symbol).Int("new_articles", inserted).Msg("Collected news")
	return inserted, nil
}

var marketQueries = []string{"stock market today", "central bank policy", "market regulation news"}

// Sweep runs a market-wide collection: broad market queries, one query per
// distinct watchlist sector, then one query per enabled instrument. A failing
// strategy is logged and skipped; the sweep keeps going.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	total := 0

	for _, query := range marketQueries {
		inserted, err := s.collectBroad(ctx, query, "market")
		if err != nil {
			s.log.Warn().Err(err).Str("query", query).Msg("Market query failed, skipping")
			continue
		}
		total += inserted
	}

	entries, err := s.watchlist.List(true)
	if err != nil {
		return total, fmt.Errorf("failed to list watchlist: %w", err)
	}

	for _, sector := range distinctSectors(entries) {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		inserted, err := s.collectBroad(ctx, sector+" sector news", "industry")
		if err != nil {
			s.log.Warn().Err(err).Str("sector", sector).Msg("Sector query failed, skipping")
			continue
		}
		total += inserted
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		inserted, err := s.CollectForSymbol(ctx, entry.Symbol, entry.Name)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", entry.Symbol).Msg("Symbol collection failed, skipping")
			continue
		}
		total += inserted
	}

	s.log.Info().Int("new_articles", total).Msg("News sweep complete")
	return total, nil
}

// collectBroad stores the results of one non-company query under the given
// category with a flat relevance.
func (s *Service) collectBroad(ctx context.Context, query, category string) (int, error) {
	results, err := s.search.Search(ctx, query, resultsPerQuery)
	if err != nil {
		return 0, err
	}

	articles := make([]domain.NewsArticle, 0, len(results))
	for _, r := range results {
		articles = append(articles, domain.NewsArticle{
			URL:         r.URL,
			Title:       r.Title,
			Summary:     r.Content,
			Source:      r.Source,
			Category:    category,
			Sentiment:   scoreSentiment(r.Title + " " + r.Content),
			Relevance:   0.3,
			PublishedAt: r.Published,
			CollectedAt: time.Now().UTC(),
		})
	}

	return s.repo.Insert(articles)
}

// distinctSectors returns each non-empty sector once, in watchlist order.
func distinctSectors(entries []domain.WatchlistEntry) []string {
	seen := make(map[string]bool, len(entries))
	var sectors []string
	for _, e := range entries {
		sector := strings.TrimSpace(e.Sector)
		if sector == "" || seen[sector] {
			continue
		}
		seen[sector] = true
		sectors = append(sectors, sector)
	}
	return sectors
}

// Analysis aggregates stored sentiment for one instrument.
type Analysis struct {
	Symbol       string  `json:"symbol"`
	ArticleCount int     `json:"article_count"`
	AvgSentiment float64 `json:"avg_sentiment"`
	AvgRelevance float64 `json:"avg_relevance"`
}

// Analyze summarizes the most recent stored articles for a symbol.
func (s *Service) Analyze(ctx context.Context, symbol string) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	articles, err := s.repo.Recent(symbol, 50)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{Symbol: symbol, ArticleCount: len(articles)}
	if len(articles) == 0 {
		return analysis, nil
	}

	for _, a := range articles {
		analysis.AvgSentiment += a.Sentiment
		analysis.AvgRelevance += a.Relevance
	}
	analysis.AvgSentiment /= float64(len(articles))
	analysis.AvgRelevance /= float64(len(articles))

	return analysis, nil
}

var positiveWords = []string{"gain", "rise", "surge", "beat", "growth", "upgrade", "record", "profit", "rally"}
var negativeWords = []string{"fall", "drop", "plunge", "miss", "loss", "downgrade", "lawsuit", "fraud", "recall"}

// scoreSentiment is a keyword count heuristic on [-1, 1].
func scoreSentiment(text string) float64 {
	lower := strings.ToLower(text)
	pos, neg := 0, 0
	for _, w := range positiveWords {
		pos += strings.Count(lower, w)
	}
	for _, w := range negativeWords {
		neg += strings.Count(lower, w)
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

// scoreRelevance grades how directly the text mentions the instrument.
func scoreRelevance(symbol, name, text string) float64 {
	lower := strings.ToLower(text)
	score := 0.2
	if name != "" && strings.Contains(lower, strings.ToLower(name)) {
		score += 0.5
	}
	bare := strings.ToLower(strings.TrimSuffix(strings.TrimSuffix(symbol, ".SH"), ".SZ"))
	if bare != "" && strings.Contains(lower, bare) {
		score += 0.3
	}
	if score > 1 {
		score = 1
	}
	return score
}
