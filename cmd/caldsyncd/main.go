package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caldsync/caldsync/internal/activity"
	"github.com/caldsync/caldsync/internal/config"
	"github.com/caldsync/caldsync/internal/crypto"
	"github.com/caldsync/caldsync/internal/db"
	"github.com/caldsync/caldsync/internal/discovery"
	"github.com/caldsync/caldsync/internal/engine"
	"github.com/caldsync/caldsync/internal/health"
	"github.com/caldsync/caldsync/internal/notify"
	"github.com/caldsync/caldsync/internal/scheduler"
	"github.com/caldsync/caldsync/internal/uid"
	"github.com/caldsync/caldsync/internal/validator"
	"github.com/caldsync/caldsync/internal/web"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 30 * time.Second
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Starting caldsync %s...", version)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(context.Background()); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	// Initialize encryptor
	encryptor, err := crypto.NewEncryptor(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize encryptor: %v", err)
	}

	// Initialize UID alias manager
	uidManager, err := uid.NewManager(database)
	if err != nil {
		log.Fatalf("Failed to initialize UID manager: %v", err)
	}

	// Initialize calendar discovery
	discoverer, err := discovery.New(
		cfg.Discovery.Strategies,
		time.Duration(cfg.Discovery.TimeoutSeconds)*time.Second,
	)
	if err != nil {
		log.Fatalf("Failed to initialize discovery: %v", err)
	}

	// Initialize change notifications
	var notifier notify.Notifier = notify.LogNotifier{}
	var webhook *notify.WebhookNotifier
	if cfg.Notify.WebhookURL != "" {
		webhook, err = notify.NewWebhookNotifier(cfg.Notify.WebhookURL)
		if err != nil {
			log.Fatalf("Invalid webhook configuration: %v", err)
		}
		notifier = notify.Multi{notify.LogNotifier{}, webhook}
		log.Println("Webhook notifications enabled")
	}

	// Initialize activity tracking
	tracker := activity.NewTracker()

	// Initialize sync engine
	syncEngine := engine.New(engine.Deps{
		Store:      database,
		Encryptor:  encryptor,
		Discoverer: discoverer,
		Notifier:   notifier,
		Tracker:    tracker,
		UIDs:       uidManager,
		Limits: engine.Limits{
			RPS:   cfg.Remote.RPS,
			Burst: cfg.Remote.Burst,
		},
	})

	// Initialize scheduler
	sched := scheduler.New(database, syncEngine, scheduler.Config{
		MinInterval:     time.Duration(cfg.Sync.MinInterval) * time.Second,
		MaxInterval:     time.Duration(cfg.Sync.MaxInterval) * time.Second,
		DefaultInterval: time.Duration(cfg.Sync.DefaultInterval) * time.Second,
	})

	// Initialize health checker
	healthChecker := health.NewChecker(database, version)

	// Endpoint validation: development may target private hosts over plain
	// HTTP, production never does.
	var validatorOpts []validator.Option
	if !cfg.IsProduction() {
		validatorOpts = append(validatorOpts, validator.WithAllowPrivateIPs())
	}
	endpointValidator := validator.New(validatorOpts...)

	// Initialize handlers
	handlers := web.NewHandlers(
		cfg,
		database,
		encryptor,
		sched,
		healthChecker,
		tracker,
		endpointValidator,
	)

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestLogger())
	router.Use(web.SecurityHeaders())

	// Setup routes
	web.SetupRoutes(router, handlers, cfg)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	// Start scheduler
	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop scheduler, then drain pending webhook posts
	sched.Stop()
	if webhook != nil {
		webhook.Flush()
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
