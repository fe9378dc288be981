// Package domain holds the core data model shared by all stockdeck packages.
// It has no infrastructure dependencies.
package domain

import "time"

// TaskType identifies the handler that executes a task.
type TaskType string

const (
	TaskGenerateReport TaskType = "generate_report"
	TaskFetchData      TaskType = "fetch_data"
	TaskFetchNews      TaskType = "fetch_news"
	TaskTrainModel     TaskType = "train_model"
	TaskAnalyzeNews    TaskType = "analyze_news"
)

// Valid reports whether the task type is one of the known handler keys.
func (t TaskType) Valid() bool {
	switch t {
	case TaskGenerateReport, TaskFetchData, TaskFetchNews, TaskTrainModel, TaskAnalyzeNews:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a task. COMPLETED and FAILED are
// terminal; a task never leaves a terminal state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// SymbolAll is the sentinel symbol meaning "every watched instrument".
// A fetch_news task for SymbolAll runs the intelligent market-wide sweep.
const SymbolAll = "ALL"

// PriorityHighest and PriorityLowest bound the task priority range.
// Lower numbers dispatch first.
const (
	PriorityHighest  = 1
	PriorityBackfill = 3
	PriorityDefault  = 5
	PriorityLowest   = 10
)

// Task is a durable asynchronous work item. At most one non-terminal task
// exists per (symbol, task_type); CreateTask enforces this at creation time.
type Task struct {
	ID           string     `json:"id"`
	Type         TaskType   `json:"task_type"`
	Symbol       string     `json:"symbol"`
	Status       TaskStatus `json:"status"`
	Priority     int        `json:"priority"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Metadata     string     `json:"metadata,omitempty"` // opaque JSON
}

// PriceBar is one daily OHLCV bar. TradeDate is YYYY-MM-DD.
type PriceBar struct {
	Symbol    string   `json:"symbol"`
	TradeDate string   `json:"trade_date"`
	Open      float64  `json:"open"`
	High      float64  `json:"high"`
	Low       float64  `json:"low"`
	Close     float64  `json:"close"`
	PctChg    *float64 `json:"pct_chg,omitempty"`
	Volume    *int64   `json:"volume,omitempty"`
	Amount    *float64 `json:"amount,omitempty"`
}

// SignalRow is the derived technical summary for one trading day.
type SignalRow struct {
	Symbol    string   `json:"symbol"`
	TradeDate string   `json:"trade_date"`
	MAShort   *float64 `json:"ma_short,omitempty"`
	MALong    *float64 `json:"ma_long,omitempty"`
	RSI       *float64 `json:"rsi,omitempty"`
	MACD      *float64 `json:"macd,omitempty"`
	Score     float64  `json:"signal_score"`
	Action    string   `json:"action"` // BUY / HOLD / TRIM
}

// ForecastPoint is one model estimate for a future date, tagged with the
// producing run. Forecast rows are append-only; re-running the pipeline adds
// a new run batch rather than replacing the old one.
type ForecastPoint struct {
	Symbol     string    `json:"symbol"`
	RunID      string    `json:"run_id"`
	RunAt      time.Time `json:"run_at"`
	TargetDate string    `json:"target_date"`
	Model      string    `json:"model"`
	Mean       *float64  `json:"yhat,omitempty"`
	Lower      *float64  `json:"yhat_lower,omitempty"`
	Upper      *float64  `json:"yhat_upper,omitempty"`
}

// Report is an immutable versioned snapshot of an instrument's latest
// derived state. Exactly one report per symbol has IsLatest set; versions
// are strictly increasing starting at 1. The three snapshot fields are
// point-in-time serialized copies, not live references.
type Report struct {
	ID                   int64     `json:"id"`
	Symbol               string    `json:"symbol"`
	Version              int       `json:"version"`
	IsLatest             bool      `json:"is_latest"`
	CreatedAt            time.Time `json:"created_at"`
	PriceSnapshot        string    `json:"price_snapshot,omitempty"`
	SignalSnapshot       string    `json:"signal_snapshot,omitempty"`
	ForecastSnapshot     string    `json:"forecast_snapshot,omitempty"`
	AnalysisSummary      string    `json:"analysis_summary"`
	DataQualityScore     float64   `json:"data_quality_score"`
	PredictionConfidence float64   `json:"prediction_confidence"`
}

// WatchlistEntry is one instrument tracked by the pipeline driver.
type WatchlistEntry struct {
	Symbol  string `json:"symbol"`
	Name    string `json:"name,omitempty"`
	Sector  string `json:"sector,omitempty"`
	Enabled bool   `json:"enabled"`
}

// NewsArticle is one collected news item.
type NewsArticle struct {
	ID          int64      `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary,omitempty"`
	Source      string     `json:"source,omitempty"`
	Symbol      string     `json:"symbol,omitempty"`
	Category    string     `json:"category,omitempty"`
	Sentiment   float64    `json:"sentiment"`
	Relevance   float64    `json:"relevance"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CollectedAt time.Time  `json:"collected_at"`
}
