package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/paranoiabot/reminderd/internal/config"
	"github.com/paranoiabot/reminderd/internal/database"
	"github.com/paranoiabot/reminderd/internal/escalation"
	"github.com/paranoiabot/reminderd/internal/handlers"
	"github.com/paranoiabot/reminderd/internal/logger"
	"github.com/paranoiabot/reminderd/internal/queue"
	"github.com/paranoiabot/reminderd/internal/scheduler"
)

func main() {
	// Parse command-line flags
	debugFlag := flag.Bool("debug", false, "Enable debug mode for verbose logging")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	debugMode := cfg.ServerDebugMode || *debugFlag

	// Initialize logger
	zapLogger, err := logger.New("reminderd-scheduler", cfg.LogFormat, debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync(zapLogger)
	}()

	zapLogger.Info("starting_scheduler",
		zap.Bool("debug_mode", debugMode),
		zap.Duration("tick_interval", cfg.TickInterval),
		zap.String("geozone_gate", cfg.GeozoneGate),
	)

	// Connect to database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()

	if err := db.Migrate(context.Background()); err != nil {
		zapLogger.Fatal("failed_to_run_migrations", zap.Error(err))
	}
	zapLogger.Info("connected_to_database")

	// Connect to RabbitMQ for dispatch jobs
	jobQueue, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_rabbitmq", zap.Error(err))
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_rabbitmq")

	reminderRepo := database.NewReminderRepository(db)

	policy := escalation.NewPolicy()
	if cfg.EscalationPlanFile != "" {
		policy, err = escalation.LoadPolicy(cfg.EscalationPlanFile)
		if err != nil {
			zapLogger.Fatal("failed_to_load_escalation_plan",
				zap.String("path", cfg.EscalationPlanFile),
				zap.Error(err),
			)
		}
		zapLogger.Info("loaded_escalation_plan", zap.String("path", cfg.EscalationPlanFile))
	}

	enqueuer := queue.NewEnqueuer(jobQueue)
	core := scheduler.New(reminderRepo, policy, enqueuer, scheduler.GeozoneGate(cfg.GeozoneGate), zapLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Liveness endpoint so orchestrators can probe the tick loop process
	healthChecker := handlers.NewHealthChecker(db, nil, jobQueue)
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("health_server_failed", zap.Error(err))
		}
	}()

	// The tick loop. The core catches up on any attempts whose offset
	// elapsed between ticks, so losing a tick to a slow database round trip
	// is harmless.
	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()

		core.Tick(ctx, time.Now().UTC())
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				core.Tick(ctx, now.UTC())
			}
		}
	}()

	zapLogger.Info("scheduler_started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("scheduler_shutting_down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("health_server_forced_shutdown", zap.Error(err))
	}

	zapLogger.Info("scheduler_exited")
}
