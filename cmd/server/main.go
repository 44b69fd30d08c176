package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerline/be-credit-limits/internal/client"
	"github.com/ledgerline/be-credit-limits/internal/config"
	"github.com/ledgerline/be-credit-limits/internal/handler"
	"github.com/ledgerline/be-credit-limits/internal/metrics"
	"github.com/ledgerline/be-credit-limits/internal/platform/database"
	"github.com/ledgerline/be-credit-limits/internal/platform/events"
	"github.com/ledgerline/be-credit-limits/internal/platform/logger"
	"github.com/ledgerline/be-credit-limits/internal/platform/middleware"
	"github.com/ledgerline/be-credit-limits/internal/repository"
	"github.com/ledgerline/be-credit-limits/internal/service"
	"github.com/ledgerline/be-credit-limits/internal/workflow"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Credit Limits Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize NATS (optional; an empty URL disables notifications)
	var natsClient *events.Client
	if cfg.NATS.URL != "" {
		natsClient, err = events.Connect(ctx, events.Config{
			URL:      cfg.NATS.URL,
			Name:     cfg.Service.Name,
			Stream:   cfg.NATS.Stream,
			Subjects: []string{"notifications.credit.>"},
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsClient.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS_URL not set, notification publishing disabled")
	}

	// Initialize repositories
	rulesRepo := repository.NewRulesRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize service clients
	identityClient := client.NewIdentityClient(cfg.Identity.BaseURL)
	notifier := client.NewNotificationPublisher(natsClient, log.Logger)

	// Initialize the decision engine and metrics
	engine := workflow.NewEngine(cfg.Workflow.AdminJurisdiction)
	collector := metrics.NewCollector()

	// Initialize services
	workflowService := service.NewWorkflowService(rulesRepo, workflowRepo, auditRepo, identityClient, notifier, engine, collector, log)
	requestService := service.NewRequestService(requestRepo, workflowRepo, workflowService, auditRepo, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(requestService, workflowService, rulesRepo, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Prometheus metrics
	mux.Handle("/metrics", collector.Handler())

	// Request routes
	mux.HandleFunc("/api/v1/requests", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListRequests(w, r)
		case http.MethodPost:
			httpHandler.CreateRequest(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/requests/get", httpHandler.GetRequest)
	mux.HandleFunc("/api/v1/requests/amount", httpHandler.UpdateAmount)
	mux.HandleFunc("/api/v1/requests/delete", httpHandler.DeleteRequest)

	// Workflow routes
	mux.HandleFunc("/api/v1/workflows/resolve", httpHandler.ResolveChain)
	mux.HandleFunc("/api/v1/workflows/steps", httpHandler.GetWorkflowSteps)
	mux.HandleFunc("/api/v1/workflows/approve", httpHandler.ApproveStep)
	mux.HandleFunc("/api/v1/workflows/reject", httpHandler.RejectStep)
	mux.HandleFunc("/api/v1/workflows/pending", httpHandler.GetPendingApprovals)
	mux.HandleFunc("/api/v1/workflows/history", httpHandler.GetApprovalHistory)

	// Rules administration
	mux.HandleFunc("/api/v1/rules", httpHandler.Rules)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
