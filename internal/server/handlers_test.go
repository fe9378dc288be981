package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvia/stockdeck/internal/domain"
	"github.com/calvia/stockdeck/internal/forecast"
	"github.com/calvia/stockdeck/internal/marketdata"
	"github.com/calvia/stockdeck/internal/news"
	"github.com/calvia/stockdeck/internal/pipeline"
	"github.com/calvia/stockdeck/internal/reports"
	"github.com/calvia/stockdeck/internal/signals"
	"github.com/calvia/stockdeck/internal/tasks"
	testhelpers "github.com/calvia/stockdeck/internal/testing"
	"github.com/calvia/stockdeck/internal/watchlist"
)

func newTestAPI(t *testing.T) (http.Handler, *tasks.Repository, *reports.Repository, func()) {
	t.Helper()
	db, cleanup := testhelpers.NewTestDB(t, "api")
	log := zerolog.New(nil).Level(zerolog.Disabled)

	tasksRepo := tasks.NewRepository(db.Conn(), log)
	manager := tasks.NewManager(tasksRepo, 1, time.Second, log)
	reportsRepo := reports.NewRepository(db.Conn(), log)
	wl := watchlist.NewRepository(db.Conn(), log)
	prices := marketdata.NewRepository(db.Conn(), log)
	sigs := signals.NewRepository(db.Conn(), log)
	forecasts := forecast.NewRepository(db.Conn(), log)
	newsRepo := news.NewRepository(db.Conn(), log)
	newsSvc := news.NewService(news.NewSearxClient("http://localhost:1", log), newsRepo, wl, log)
	driver := pipeline.NewDriver(
		pipeline.Config{},
		wl, marketdata.NewClient("http://localhost:1", log), prices,
		signals.NewEngine(), sigs, forecast.NewEngine(), forecasts,
		reportsRepo, manager, log,
	)

	h := NewHandlers(manager, tasksRepo, reportsRepo, wl, prices, sigs, forecasts, newsRepo, newsSvc, driver, log)
	sys := NewSystemHandlers(db, tasksRepo, manager, log)

	router := chi.NewRouter()
	srv := &Server{router: router, log: log}
	srv.setupRoutes(h, sys)

	return router, tasksRepo, reportsRepo, cleanup
}

func TestAPI_CreateAndGetTask(t *testing.T) {
	api, _, _, cleanup := newTestAPI(t)
	defer cleanup()

	body := `{"task_type":"generate_report","symbol":"600519","priority":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["task_id"]
	require.NotEmpty(t, id)

	req = httptest.NewRequest(http.MethodGet, "/api/tasks/"+id, nil)
	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var task domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, "600519.SH", task.Symbol)
	assert.Equal(t, domain.TaskPending, task.Status)
	assert.Equal(t, 2, task.Priority)
}

func TestAPI_CreateTask_RejectsBadInput(t *testing.T) {
	api, _, _, cleanup := newTestAPI(t)
	defer cleanup()

	for _, body := range []string{
		`{"task_type":"mystery","symbol":"600519"}`,
		`{"task_type":"generate_report"}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/tasks/", strings.NewReader(body))
		rec := httptest.NewRecorder()
		api.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
	}
}

func TestAPI_LatestReport_GeneratingPlaceholder(t *testing.T) {
	api, tasksRepo, reportsRepo, cleanup := newTestAPI(t)
	defer cleanup()

	// No report yet: the API answers 202 and enqueues a priority-1 task.
	req := httptest.NewRequest(http.MethodGet, "/api/reports/600519", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var placeholder map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placeholder))
	assert.Equal(t, "generating", placeholder["status"])

	task, err := tasksRepo.Get(placeholder["task_id"])
	require.NoError(t, err)
	assert.Equal(t, domain.TaskGenerateReport, task.Type)
	assert.Equal(t, domain.PriorityHighest, task.Priority)

	// Once a report exists the same request returns it.
	require.NoError(t, reportsRepo.Insert(&domain.Report{Symbol: "600519.SH", AnalysisSummary: "ready"}))

	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/600519", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report domain.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Version)
	assert.True(t, report.IsLatest)
}

func TestAPI_CancelTask(t *testing.T) {
	api, tasksRepo, _, cleanup := newTestAPI(t)
	defer cleanup()

	id, err := tasksRepo.Create(domain.TaskFetchData, "600519.SH", domain.PriorityDefault, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/"+id+"/cancel", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Cancelling a finished task conflicts.
	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks/"+id+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks/nope/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_WatchlistLifecycle(t *testing.T) {
	api, _, _, cleanup := newTestAPI(t)
	defer cleanup()

	body := `{"symbol":"600519","name":"Moutai","sector":"Consumer"}`
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/watchlist/", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/watchlist/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "600519.SH")

	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/watchlist/600519.SH", strings.NewReader(`{"enabled":false}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/watchlist/600519.SH", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
