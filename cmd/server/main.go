// Command server runs the stockdeck backend: the task queue, the scheduled
// analysis pipeline and the HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calvia/stockdeck/internal/config"
	"github.com/calvia/stockdeck/internal/database"
	"github.com/calvia/stockdeck/internal/domain"
	"github.com/calvia/stockdeck/internal/forecast"
	"github.com/calvia/stockdeck/internal/marketdata"
	"github.com/calvia/stockdeck/internal/news"
	"github.com/calvia/stockdeck/internal/pipeline"
	"github.com/calvia/stockdeck/internal/reports"
	"github.com/calvia/stockdeck/internal/scheduler"
	"github.com/calvia/stockdeck/internal/server"
	"github.com/calvia/stockdeck/internal/signals"
	"github.com/calvia/stockdeck/internal/tasks"
	"github.com/calvia/stockdeck/internal/watchlist"
	"github.com/calvia/stockdeck/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		println("Failed to load configuration:", err.Error())
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Msg("Starting stockdeck")

	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileStandard,
		Name:    "stockdeck",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	// Repositories
	conn := db.Conn()
	watchlistRepo := watchlist.NewRepository(conn, log)
	pricesRepo := marketdata.NewRepository(conn, log)
	signalsRepo := signals.NewRepository(conn, log)
	forecastsRepo := forecast.NewRepository(conn, log)
	reportsRepo := reports.NewRepository(conn, log)
	tasksRepo := tasks.NewRepository(conn, log)
	newsRepo := news.NewRepository(conn, log)

	// Engines and services
	sigEngine := signals.NewEngine()
	fcEngine := forecast.NewEngine()
	barSource := marketdata.NewClient(cfg.DataSourceURL, log)
	searchClient := news.NewSearxClient(cfg.SearxURL, log)
	newsSvc := news.NewService(searchClient, newsRepo, watchlistRepo, log)
	generator := reports.NewGenerator(reportsRepo, pricesRepo, signalsRepo, forecastsRepo, log)

	// Task manager and handlers
	manager := tasks.NewManager(tasksRepo, cfg.MaxConcurrentTasks, cfg.DispatchInterval, log)

	driver := pipeline.NewDriver(
		pipeline.Config{
			HistoryYears:     cfg.HistoryYears,
			MinHistoryPoints: cfg.MinHistoryPoints,
			AheadDays:        cfg.ForecastAheadDays,
		},
		watchlistRepo, barSource, pricesRepo,
		sigEngine, signalsRepo, fcEngine, forecastsRepo,
		reportsRepo, manager, log,
	)

	manager.Register(domain.TaskGenerateReport, func(ctx context.Context, task *domain.Task) error {
		_, err := generator.Generate(ctx, task.Symbol)
		return err
	})
	manager.Register(domain.TaskFetchData, func(ctx context.Context, task *domain.Task) error {
		return driver.RunSymbol(ctx, task.Symbol)
	})
	manager.Register(domain.TaskFetchNews, func(ctx context.Context, task *domain.Task) error {
		if task.Symbol == domain.SymbolAll {
			_, err := newsSvc.Sweep(ctx)
			return err
		}
		name := ""
		if entry, err := watchlistRepo.Get(task.Symbol); err == nil {
			name = entry.Name
		}
		_, err := newsSvc.CollectForSymbol(ctx, task.Symbol, name)
		return err
	})
	manager.Register(domain.TaskTrainModel, func(ctx context.Context, task *domain.Task) error {
		return driver.RunSymbol(ctx, task.Symbol)
	})
	manager.Register(domain.TaskAnalyzeNews, func(ctx context.Context, task *domain.Task) error {
		analysis, err := newsSvc.Analyze(ctx, task.Symbol)
		if err != nil {
			return err
		}
		log.Info().
			Str("symbol", analysis.Symbol).
			Int("articles", analysis.ArticleCount).
			Float64("avg_sentiment", analysis.AvgSentiment).
			Msg("News analysis complete")
		return nil
	})

	// Tasks left RUNNING by a previous process can never complete; requeue
	// them before dispatch starts.
	if _, err := tasksRepo.RequeueStaleRunning(cfg.StaleRunningAfter); err != nil {
		log.Error().Err(err).Msg("Startup task reconciliation failed")
	}

	go manager.Run()

	// Cron jobs
	sched := scheduler.New(cfg.Location(), log)
	if err := sched.AddJob(cfg.PipelineCron, driver); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.PipelineCron).Msg("Failed to register pipeline job")
	}
	newsJob := tasks.NewEnqueueJob(manager, "news_collection", domain.TaskFetchNews, domain.SymbolAll, domain.PriorityLowest)
	if err := sched.AddJob(cfg.NewsCron, newsJob); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.NewsCron).Msg("Failed to register news job")
	}
	sched.Start()

	// HTTP server
	handlers := server.NewHandlers(
		manager, tasksRepo, reportsRepo, watchlistRepo,
		pricesRepo, signalsRepo, forecastsRepo,
		newsRepo, newsSvc, driver, log,
	)
	systemHandlers := server.NewSystemHandlers(db, tasksRepo, manager, log)

	srv := server.New(server.Config{
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
		Log:      log,
		Handlers: handlers,
		System:   systemHandlers,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	sched.Stop()
	manager.Stop()

	if err := db.WALCheckpoint("TRUNCATE"); err != nil {
		log.Warn().Err(err).Msg("Final WAL checkpoint failed")
	}

	log.Info().Msg("Shutdown complete")
}
