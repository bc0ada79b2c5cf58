package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fleet-report/analysis"
	"fleet-report/api"
	"fleet-report/charting"
	"fleet-report/config"
	"fleet-report/database"
	"fleet-report/etl"
	"fleet-report/identity"
	"fleet-report/jobs"
	"fleet-report/mart"
	"fleet-report/notify"
	"fleet-report/observability"
	"fleet-report/timeseries"
)

func main() {
	fmt.Println("=== Fleet Report - Event Energy Reporting ===")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	fmt.Println("✓ Configuration loaded")

	// Initialize databases
	db, err := database.Initialize(cfg.AppDBPath, cfg.MartDBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()
	repo := database.NewRepository(db)
	fmt.Println("✓ Database schema ready")

	metrics := observability.NewMetrics()
	resolver := identity.NewResolver(cfg.Aliases, cfg.Engine.MeterPrefix)
	ingestor := etl.NewDataIngestor(repo)

	// Time-series store
	var gateway timeseries.Gateway
	if cfg.MockData.Enabled {
		mem := timeseries.NewMemoryGateway()
		w, err := etl.RunMockGeneration(context.Background(), mem, ingestor, cfg, resolver)
		if err != nil {
			log.Fatalf("Failed to generate mock data: %v", err)
		}
		fmt.Printf("✓ Mock telemetry ready (%s - %s)\n", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
		gateway = mem
	} else {
		prom, err := timeseries.NewPromGateway(timeseries.PromConfig{
			URL:               cfg.TSDB.URL,
			QueryTimeout:      cfg.TSDB.QueryTimeout,
			RangeQueryTimeout: cfg.TSDB.RangeQueryTimeout,
		}, logger)
		if err != nil {
			log.Fatalf("Failed to create time-series client: %v", err)
		}
		fmt.Printf("✓ Time-series store at %s\n", cfg.TSDB.URL)
		gateway = prom
	}

	// Initialize worker pool
	workerPool := jobs.NewWorkerPool(cfg.WorkerPoolSize)
	defer workerPool.Stop()
	fmt.Printf("✓ Worker pool started with %d workers\n", cfg.WorkerPoolSize)

	// Initialize mart builder
	martBuilder := mart.NewMartBuilder(db)

	// Initialize analyzer and report service
	analyzer := analysis.NewAnalyzer(gateway, resolver, cfg.EngineSnapshot(), cfg.Metrics,
		analysis.WithRecorder(metrics),
		analysis.WithSettings(cfg.EngineSnapshot),
		analysis.WithAttachments(repo),
		analysis.WithConcurrency(cfg.LoggerConcurrency),
		analysis.WithLogger(logger),
	)
	service := analysis.NewService(analyzer, repo, workerPool, analysis.ServiceConfig{
		ReportsPath:  cfg.ReportsPath,
		ImageBaseURL: cfg.ImageBaseURL,
		Mart:         martBuilder,
		Charts:       charting.NewGenerator(),
		Jobs:         metrics,
		Logger:       logger,
	})

	// Report-ready notifications
	publisher := newPublisher(cfg.Notify, logger)
	defer publisher.Close()
	outbox := cfg.Notify.Outbox
	dispatcher := notify.NewDispatcher(repo, publisher, database.Backoff{
		Base:        outbox.BaseDelay,
		Max:         outbox.MaxDelay,
		MaxAttempts: outbox.MaxAttempts,
	}, outbox.BatchSize, metrics, logger)

	// Scheduler
	scheduler := etl.NewScheduler(cfg, martBuilder, repo, dispatcher)
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize API handler
	handler := api.NewHandler(db, repo, cfg, martBuilder, service, analyzer, ingestor)

	// Setup router
	router := api.SetupRouter(handler, metrics)
	router.Use(api.CORSMiddleware())
	router.Use(api.LoggingMiddleware())

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		fmt.Printf("✓ API server listening on %s\n", addr)
		fmt.Println("\nAPI Endpoints:")
		fmt.Println("  GET  /health")
		fmt.Println("  GET  /metrics")
		fmt.Println("  POST /api/events/start")
		fmt.Println("  POST /api/events/end")
		fmt.Println("  POST /api/events/note")
		fmt.Println("  POST /api/reports/generate")
		fmt.Println("  POST /api/reports/jobs")
		fmt.Println("  POST /api/reports/stream")
		fmt.Println("  GET  /api/reports/{eventId}")
		fmt.Println("  GET  /api/reports/{eventId}/html")
		fmt.Println("  GET  /api/reports/{eventId}/charts")
		fmt.Println("  GET  /api/rankings")
		fmt.Println("\nPress Ctrl+C to shutdown")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		fmt.Printf("Server forced to shutdown: %v\n", err)
	}

	fmt.Println("Server exited")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// newPublisher builds the configured publishers. A broker that cannot be
// reached is skipped; the outbox keeps its entries until one can.
func newPublisher(cfg config.NotifyConfig, logger *slog.Logger) notify.Publisher {
	var pubs notify.Multi
	if cfg.MQTT.Enabled {
		p, err := notify.DialMQTT(cfg.MQTT, logger)
		if err != nil {
			logger.Error("mqtt publisher disabled", "error", err)
		} else {
			pubs = append(pubs, p)
		}
	}
	if cfg.Kafka.Enabled {
		pubs = append(pubs, notify.NewKafkaPublisher(cfg.Kafka, logger))
	}
	if len(pubs) == 0 {
		return notify.Nop{}
	}
	return pubs
}
