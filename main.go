package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/your-username/agent-observability/backend/internal/analytics"
	"github.com/your-username/agent-observability/backend/internal/api"
	"github.com/your-username/agent-observability/backend/internal/config"
	"github.com/your-username/agent-observability/backend/internal/database"
	"github.com/your-username/agent-observability/backend/internal/errorgroups"
	"github.com/your-username/agent-observability/backend/internal/ingestion"
	"github.com/your-username/agent-observability/backend/internal/monitoring"
	"github.com/your-username/agent-observability/backend/internal/querybuilder"
	"github.com/your-username/agent-observability/backend/internal/storage"
	"github.com/your-username/agent-observability/backend/internal/tracing"
	"github.com/your-username/agent-observability/backend/internal/websocket"
)

const shutdownTimeout = 30 * time.Second

var version = "dev"

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found")
	}

	// Setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_LEVEL") == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("version", version).Msg("Starting telemetry server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	metrics := monitoring.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub(metrics)
	go hub.Run(ctx)

	traces := tracing.NewTraceManager(db, metrics)

	alertManager := monitoring.NewAlertManager(db, cfg.Alerts.Rules, cfg.Alerts.Cooldown, metrics)
	alertManager.AddListener(hub)
	if cfg.Alerts.WebhookURL != "" {
		alertManager.SetNotifier(monitoring.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookTimeout, nil))
	}

	// Disabled features are left as nil interfaces so the pipeline skips them.
	var (
		tracer    ingestion.Tracer
		evaluator ingestion.Evaluator
		rules     api.RuleSource
		errs      api.ErrorGroupSource
	)
	if cfg.Features.Tracing {
		tracer = traces
	}
	if cfg.Features.Alerts {
		evaluator = alertManager
		rules = alertManager
	}
	processor := ingestion.NewEventProcessor(db, tracer, evaluator, hub, metrics)
	if cfg.Features.ErrorGrouping {
		detector := errorgroups.NewDetector()
		processor.AddObserver(detector)
		errs = detector
	}

	analyticsService := analytics.NewService(db, nil, cfg.Features.AnomalyDetection)
	analyticsService.EnableReportCache(cfg.Features.AnalyticsCacheTTL)
	queries := querybuilder.NewService(db, db.MaxEventsPerQuery(), metrics)

	health := monitoring.NewHealthMonitor(cfg.Server.Mode, map[string]bool{
		"alerts":            cfg.Features.Alerts,
		"tracing":           cfg.Features.Tracing,
		"anomaly_detection": cfg.Features.AnomalyDetection,
		"error_grouping":    cfg.Features.ErrorGrouping,
		"authentication":    cfg.Auth.Enabled,
		"webhook":           cfg.Alerts.WebhookURL != "",
		"tcp_ingestion":     cfg.Server.TCPAddr != "",
	}, metrics)
	health.RegisterChecker(monitoring.NewDatabaseHealthChecker(db))

	router := api.NewRouter(api.Dependencies{
		Auth:      cfg.Auth,
		Store:     db,
		Ingest:    ingestion.NewHTTPHandler(processor),
		Traces:    traces,
		Analytics: analyticsService,
		Queries:   queries,
		Rules:     rules,
		Errors:    errs,
		Health:    health,
		Metrics:   metrics,
		Realtime: websocket.HandleWebSocket(hub, websocket.Backend{
			Events:    db,
			Analytics: analyticsService,
			Queries:   queries,
		}),
	})

	var tcpServer *ingestion.TCPServer
	if cfg.Server.TCPAddr != "" {
		tcpServer = ingestion.NewTCPServer(cfg.Server.TCPAddr, processor)
		if err := tcpServer.Start(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Server.TCPAddr).Msg("Failed to start TCP server")
		}
	}

	retention := storage.NewManager(storage.ConfigFromRetention(cfg.Retention), db, metrics)
	retention.StartCleanupRoutine()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Server.Port).Str("mode", cfg.Server.Mode).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server failed")
	}

	stop()
	<-hub.Done()
	retention.StopCleanupRoutine()
	if tcpServer != nil {
		if err := tcpServer.Stop(); err != nil {
			log.Error().Err(err).Msg("TCP server shutdown failed")
		}
	}
	alertManager.Wait()

	log.Info().Msg("Server stopped")
}
