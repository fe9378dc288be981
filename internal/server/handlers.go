package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/calvia/stockdeck/internal/domain"
	"github.com/calvia/stockdeck/internal/forecast"
	"github.com/calvia/stockdeck/internal/marketdata"
	"github.com/calvia/stockdeck/internal/news"
	"github.com/calvia/stockdeck/internal/pipeline"
	"github.com/calvia/stockdeck/internal/reports"
	"github.com/calvia/stockdeck/internal/signals"
	"github.com/calvia/stockdeck/internal/tasks"
	"github.com/calvia/stockdeck/internal/watchlist"
)

// Handlers holds the API handlers and their dependencies.
type Handlers struct {
	manager   *tasks.Manager
	tasksRepo *tasks.Repository
	reports   *reports.Repository
	watchlist *watchlist.Repository
	prices    *marketdata.Repository
	signals   *signals.Repository
	forecasts *forecast.Repository
	newsRepo  *news.Repository
	newsSvc   *news.Service
	pipeline  *pipeline.Driver
	log       zerolog.Logger
}

// NewHandlers creates the API handlers.
func NewHandlers(
	manager *tasks.Manager,
	tasksRepo *tasks.Repository,
	reps *reports.Repository,
	wl *watchlist.Repository,
	prices *marketdata.Repository,
	sigs *signals.Repository,
	forecasts *forecast.Repository,
	newsRepo *news.Repository,
	newsSvc *news.Service,
	driver *pipeline.Driver,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		manager:   manager,
		tasksRepo: tasksRepo,
		reports:   reps,
		watchlist: wl,
		prices:    prices,
		signals:   sigs,
		forecasts: forecasts,
		newsRepo:  newsRepo,
		newsSvc:   newsSvc,
		pipeline:  driver,
		log:       log.With().Str("component", "handlers").Logger(),
	}
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// HandleCreateTask creates a task. Duplicate non-terminal tasks return the
// existing id.
func (h *Handlers) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskType string `json:"task_type"`
		Symbol   string `json:"symbol"`
		Priority int    `json:"priority"`
		Metadata string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	taskType := domain.TaskType(req.TaskType)
	if !taskType.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown task type: "+req.TaskType)
		return
	}
	if req.Symbol == "" {
		h.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if req.Priority == 0 {
		req.Priority = domain.PriorityDefault
	}

	symbol := req.Symbol
	if symbol != domain.SymbolAll {
		symbol = marketdata.NormalizeSymbol(symbol)
	}

	id, err := h.manager.CreateTask(taskType, symbol, req.Priority, req.Metadata)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"task_id": id})
}

// HandleListTasks lists tasks, optionally filtered by status.
func (h *Handlers) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)

	list, err := h.tasksRepo.List(status, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []domain.Task{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": list})
}

// HandleRunningTasks returns the ids currently occupying dispatch slots.
func (h *Handlers) HandleRunningTasks(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"running": h.manager.Running()})
}

// HandleGetTask returns one task by id.
func (h *Handlers) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasksRepo.Get(chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, task)
}

// HandleCancelTask cancels a pending or running task.
func (h *Handlers) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.manager.Cancel(id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, domain.ErrTaskTerminal):
		h.writeError(w, http.StatusConflict, "task already finished")
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "task_id": id})
	}
}

// HandleLatestReport returns the latest report for a symbol. When none
// exists yet, a high-priority generation task is enqueued and the client
// gets a generating placeholder to poll on.
func (h *Handlers) HandleLatestReport(w http.ResponseWriter, r *http.Request) {
	symbol := marketdata.NormalizeSymbol(chi.URLParam(r, "symbol"))

	report, err := h.reports.GetLatest(symbol)
	if errors.Is(err, domain.ErrNotFound) {
		id, createErr := h.manager.CreateTask(domain.TaskGenerateReport, symbol, domain.PriorityHighest, "")
		if createErr != nil {
			h.writeError(w, http.StatusInternalServerError, createErr.Error())
			return
		}
		h.writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "generating",
			"symbol":  symbol,
			"task_id": id,
		})
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// HandleRegenerateReport enqueues a fresh generation regardless of whether a
// report already exists.
func (h *Handlers) HandleRegenerateReport(w http.ResponseWriter, r *http.Request) {
	symbol := marketdata.NormalizeSymbol(chi.URLParam(r, "symbol"))

	id, err := h.manager.CreateTask(domain.TaskGenerateReport, symbol, domain.PriorityHighest, "")
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "queued",
		"symbol":  symbol,
		"task_id": id,
	})
}

// HandleReportHistory returns all report versions for a symbol, newest first.
func (h *Handlers) HandleReportHistory(w http.ResponseWriter, r *http.Request) {
	symbol := marketdata.NormalizeSymbol(chi.URLParam(r, "symbol"))

	history, err := h.reports.History(symbol)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []domain.Report{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "reports": history})
}

// HandleReportVersion returns a specific report version.
func (h *Handlers) HandleReportVersion(w http.ResponseWriter, r *http.Request) {
	symbol := marketdata.NormalizeSymbol(chi.URLParam(r, "symbol"))
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		h.writeError(w, http.StatusBadRequest, "invalid version")
		return
	}

	report, err := h.reports.GetVersion(symbol, version)
	if errors.Is(err, domain.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "report version not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// HandleListWatchlist lists watchlist entries.
func (h *Handlers) HandleListWatchlist(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"

	entries, err := h.watchlist.List(enabledOnly)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []domain.WatchlistEntry{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"watchlist": entries})
}

// HandleAddWatchlist adds an instrument to the watchlist.
func (h *Handlers) HandleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
		Name   string `json:"name"`
		Sector string `json:"sector"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Symbol) == "" {
		h.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	symbol := marketdata.NormalizeSymbol(req.Symbol)
	entry := domain.WatchlistEntry{Symbol: symbol, Name: req.Name, Sector: req.Sector, Enabled: true}
	if err := h.watchlist.Add(entry); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"symbol": symbol})
}

// HandleUpdateWatchlist toggles an instrument's enabled flag.
func (h *Handlers) HandleUpdateWatchlist(w http.ResponseWriter, r *http.Request) {
	symbol := marketdata.NormalizeSymbol(chi.URLParam(r, "symbol"))

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.watchlist.SetEnabled(symbol, req.Enabled); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "symbol not in watchlist")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "enabled": req.Enabled})
}

// HandleRemoveWatchlist removes an instrument from the watchlist.
func (h *Handlers) HandleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	symbol := marketdata.NormalizeSymbol(chi.URLParam(r, "symbol"))

	if err := h.watchlist.Remove(symbol); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "symbol not in watchlist")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"symbol": symbol, "status": "removed"})
}

// HandlePrices returns recent daily bars, newest first.
func (h *Handlers) HandlePrices(w http.ResponseWriter, r *http.Request) {
	symbol := marketdata.NormalizeSymbol(chi.URLParam(r, "symbol"))
	limit := queryInt(r, "limit", 120)

	bars, err := h.prices.RecentBars(symbol, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if bars == nil {
		bars = []domain.PriceBar{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "bars": bars})
}

// HandleLatestSignal returns the newest signal row for a symbol.
func (h *Handlers) HandleLatestSignal(w http.ResponseWriter, r *http.Request) {
	symbol := marketdata.NormalizeSymbol(chi.URLParam(r, "symbol"))

	row, err := h.signals.Latest(symbol)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if row == nil {
		h.writeError(w, http.StatusNotFound, "no signals for symbol")
		return
	}

	h.writeJSON(w, http.StatusOK, row)
}

// HandleLatestForecast returns the most recent forecast run for a symbol.
func (h *Handlers) HandleLatestForecast(w http.ResponseWriter, r *http.Request) {
	symbol := marketdata.NormalizeSymbol(chi.URLParam(r, "symbol"))

	points, err := h.forecasts.LatestRun(symbol)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(points) == 0 {
		h.writeError(w, http.StatusNotFound, "no forecasts for symbol")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "forecasts": points})
}

// HandleRecentNews returns recently collected articles.
func (h *Handlers) HandleRecentNews(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol != "" {
		symbol = marketdata.NormalizeSymbol(symbol)
	}
	limit := queryInt(r, "limit", 50)

	articles, err := h.newsRepo.Recent(symbol, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if articles == nil {
		articles = []domain.NewsArticle{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"articles": articles})
}

// HandleNewsAnalysis returns the aggregated sentiment for a symbol.
func (h *Handlers) HandleNewsAnalysis(w http.ResponseWriter, r *http.Request) {
	symbol := marketdata.NormalizeSymbol(chi.URLParam(r, "symbol"))

	analysis, err := h.newsSvc.Analyze(r.Context(), symbol)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, analysis)
}

// HandleRunPipeline starts a full pipeline run in the background.
func (h *Handlers) HandleRunPipeline(w http.ResponseWriter, r *http.Request) {
	go func() {
		if _, err := h.pipeline.RunDaily(context.Background()); err != nil {
			h.log.Error().Err(err).Msg("Manual pipeline run failed")
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	return v
}
