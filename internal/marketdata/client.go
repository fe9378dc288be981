package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/calvia/stockdeck/internal/domain"
)

// BarSource fetches daily bars for an instrument from an external provider.
// Implementations enforce their own timeouts; a failure surfaces to the
// caller as an error and the instrument is skipped for the run.
type BarSource interface {
	FetchDaily(ctx context.Context, symbol string, startDate string) ([]domain.PriceBar, error)
}

// Client is a BarSource backed by an HTTP JSON quote service.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new market data client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "marketdata").Logger(),
	}
}

// barPayload matches the provider's daily bar JSON shape.
type barPayload struct {
	TradeDate string   `json:"trade_date"`
	Open      float64  `json:"open"`
	High      float64  `json:"high"`
	Low       float64  `json:"low"`
	Close     float64  `json:"close"`
	PctChg    *float64 `json:"pct_chg"`
	Volume    *int64   `json:"volume"`
	Amount    *float64 `json:"amount"`
}

// NormalizeSymbol upper-cases a raw symbol and attaches the exchange suffix
// when missing: codes starting with 6 trade on Shanghai, the rest on Shenzhen.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(s, ".SH") || strings.HasSuffix(s, ".SZ") {
		return s
	}
	if strings.HasPrefix(s, "6") {
		return s + ".SH"
	}
	return s + ".SZ"
}

// FetchDaily fetches daily bars from startDate (YYYY-MM-DD) onward,
// oldest first. Returns domain.ErrNoData when the provider has nothing
// for the symbol.
func (c *Client) FetchDaily(ctx context.Context, symbol string, startDate string) ([]domain.PriceBar, error) {
	sym := NormalizeSymbol(symbol)

	q := url.Values{}
	q.Set("symbol", sym)
	q.Set("start_date", startDate)
	endpoint := fmt.Sprintf("%s/daily?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	c.log.Debug().Str("symbol", sym).Str("start", startDate).Msg("Fetching daily bars")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoData, sym)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote API returned status %d", resp.StatusCode)
	}

	var payload []barPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode quote response: %w", err)
	}

	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoData, sym)
	}

	bars := make([]domain.PriceBar, 0, len(payload))
	for _, p := range payload {
		if p.Close == 0 {
			// Provider emits zero closes for suspended days; drop them.
			continue
		}
		bars = append(bars, domain.PriceBar{
			Symbol:    sym,
			TradeDate: p.TradeDate,
			Open:      p.Open,
			High:      p.High,
			Low:       p.Low,
			Close:     p.Close,
			PctChg:    p.PctChg,
			Volume:    p.Volume,
			Amount:    p.Amount,
		})
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoData, sym)
	}

	return bars, nil
}
