package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/zamcash/loan-servicing/internal/audit"
	"github.com/zamcash/loan-servicing/internal/config"
	"github.com/zamcash/loan-servicing/internal/handler"
	"github.com/zamcash/loan-servicing/internal/ingestion"
	"github.com/zamcash/loan-servicing/internal/middleware"
	"github.com/zamcash/loan-servicing/internal/notification"
	"github.com/zamcash/loan-servicing/internal/repository"
	"github.com/zamcash/loan-servicing/internal/service"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := repository.Open(cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := repository.Migrate(db, cfg.MigrationsDir); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Collaborators: audit and notification degrade to no-ops when
	// unconfigured
	var sink audit.Sink = audit.NopSink{}
	if cfg.AuditURL != "" {
		sink = audit.NewHTTPSink(cfg.AuditURL, logger)
	}
	var notifier notification.Notifier = notification.NopNotifier{}
	if cfg.SMTPHost != "" && cfg.NotifyEmail != "" {
		notifier = notification.NewEmailNotifier(cfg, logger)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	schedules := service.NewScheduleService(repo, sink, logger)
	payments := service.NewPaymentService(repo, repo, sink, notifier, logger)
	arrears := service.NewArrearsService(repo, repo, sink, notifier, logger)
	batches := ingestion.NewService(payments, logger)
	h := handler.NewHandler(schedules, payments, arrears, batches, logger)

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(logger))
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	}).Methods("GET")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	h.Register(authRouter)

	// Nightly arrears classification sweep
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := arrears.ClassifyAllLoans(ctx); err != nil {
			logger.Errorf("Arrears sweep failed: %v", err)
		}
	}); err != nil {
		logger.Fatalf("Failed to schedule arrears sweep: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
