package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pcarvalho/stackwizard/internal/api"
	"github.com/pcarvalho/stackwizard/internal/events"
	"github.com/pcarvalho/stackwizard/internal/gateway"
	"github.com/pcarvalho/stackwizard/internal/orchestrator"
	"github.com/pcarvalho/stackwizard/internal/scm"
	"github.com/pcarvalho/stackwizard/internal/state"
	"github.com/pcarvalho/stackwizard/internal/templates"
	"github.com/pcarvalho/stackwizard/internal/validation"
	"github.com/pcarvalho/stackwizard/pkg/config"
	"github.com/pcarvalho/stackwizard/pkg/database"
)

func main() {
	// Initialize logger
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	setLogLevel(cfg.Server.LogLevel)

	log.Info().
		Str("app", "stackwizard").
		Str("port", cfg.Server.Port).
		Msg("Starting application")

	// Connect to database
	db, err := database.New(database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	// Run migrations
	if err := database.Migrate(db, &state.DeploymentRecord{}, &state.Transition{}); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	if err := database.HealthCheck(db); err != nil {
		log.Fatal().Err(err).Msg("Database health check failed")
	}

	log.Info().Msg("Database is healthy")

	// Load the template catalog
	catalog, err := templates.Load(cfg.Terraform.TemplateDir, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load template catalog")
	}

	// Initialize the provisioning gateway
	gw, err := gateway.NewTerraformGateway(cfg.Terraform.Binary, cfg.Terraform.WorkspaceRoot, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize terraform gateway")
	}

	repo := state.NewRepository(db)

	// Optional live status publishing over Redis
	var publisher orchestrator.StatusPublisher
	if cfg.Redis.Enabled {
		redisPublisher, err := events.NewRedisPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisPublisher.Close()
		publisher = redisPublisher
	}

	orch := orchestrator.New(gw, orchestrator.Options{
		Logger:           log.Logger,
		Publisher:        publisher,
		Sink:             state.NewSink(repo, log.Logger),
		Archiver:         scm.NewPublisher(cfg.SCM.RemoteURL, cfg.SCM.Token, log.Logger),
		WaitInterval:     cfg.Poller.WaitInterval,
		ApplyInterval:    cfg.Poller.ApplyInterval,
		RollbackInterval: cfg.Poller.RollbackInterval,
	})
	defer orch.Dispose()

	validator := validation.NewClient(cfg.Validation.URL, cfg.Validation.Timeout, log.Logger)

	// Initialize HTTP server
	apiServer := api.NewServer(api.Deps{
		DB:        db,
		Orch:      orch,
		Catalog:   catalog,
		Gateway:   gw,
		Repo:      repo,
		Validator: validator,
	})
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		log.Info().
			Str("port", cfg.Server.Port).
			Msg("Starting HTTP server")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().
		Str("port", cfg.Server.Port).
		Msg("Application ready - HTTP server running")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down application...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Application stopped")
}

// setLogLevel sets the global log level based on configuration
func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
