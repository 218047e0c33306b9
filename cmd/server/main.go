package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"

	"github.com/paranoiabot/reminderd/internal/config"
	"github.com/paranoiabot/reminderd/internal/database"
	"github.com/paranoiabot/reminderd/internal/escalation"
	"github.com/paranoiabot/reminderd/internal/gateway"
	"github.com/paranoiabot/reminderd/internal/handlers"
	"github.com/paranoiabot/reminderd/internal/logger"
	"github.com/paranoiabot/reminderd/internal/middleware"
	"github.com/paranoiabot/reminderd/internal/queue"
	"github.com/paranoiabot/reminderd/internal/scheduler"
	"github.com/paranoiabot/reminderd/internal/services/timeparse"
	"github.com/paranoiabot/reminderd/internal/telemetry"
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

	// Override debug mode if flag is set
	debugMode := cfg.ServerDebugMode || *debugFlag

	// Initialize logger
	zapLogger, err := logger.New("reminderd-server", cfg.LogFormat, debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync(zapLogger)
	}()

	zapLogger.Info("starting_server",
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("geozone_gate", cfg.GeozoneGate),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	// Initialize OpenTelemetry if enabled
	var tracerProvider interface{ Shutdown(context.Context) error }
	if cfg.OTELEnabled {
		if cfg.OTELEndpoint == "" {
			zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		} else {
			tp, err := telemetry.InitTracer(context.Background(), "reminderd-server", cfg.OTELEndpoint)
			if err != nil {
				zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
			} else {
				tracerProvider = tp
				zapLogger.Info("otel_tracer_initialized",
					zap.String("endpoint", cfg.OTELEndpoint),
				)
				defer func() {
					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer shutdownCancel()
					if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
						zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
					}
				}()
			}
		}
	}

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

	// Connect to Redis for rate limiting
	redisLimiter, err := middleware.NewRedisRateLimiter(cfg.RedisURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_redis", zap.Error(err))
	}
	defer func() {
		if err := redisLimiter.Close(); err != nil {
			zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_redis")

	// Connect to RabbitMQ for dispatch jobs (required)
	// Retry connection with exponential backoff to handle RabbitMQ startup delays
	jobQueue, err := connectQueue(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_rabbitmq_after_retries", zap.Error(err))
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_rabbitmq")

	// Initialize repositories
	reminderRepo := database.NewReminderRepository(db)
	userRepo := database.NewUserRepository(db)
	attemptRepo := database.NewDeliveryAttemptRepository(db)

	// Escalation policy: built-in plan unless an override file is configured
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

	// The scheduler core dispatches through the job queue; delivery happens
	// in the worker
	enqueuer := queue.NewEnqueuer(jobQueue)
	core := scheduler.New(reminderRepo, policy, enqueuer, scheduler.GeozoneGate(cfg.GeozoneGate), zapLogger)

	// Natural-language schedule parsing for the Telegram webhook
	if cfg.OpenAIKey == "" {
		zapLogger.Warn("openai_key_not_configured_nl_parsing_degraded")
	}
	parser := timeparse.NewOpenAIParser(cfg.OpenAIKey, cfg.AIBaseURL, cfg.AIModel, zapLogger)

	telegramClient := gateway.NewTelegramClient(cfg.TelegramBotToken)

	// Initialize handlers
	reminderHandler := handlers.NewReminderHandler(core, attemptRepo)
	geozoneHandler := handlers.NewGeozoneHandler(core)
	telegramHandler := handlers.NewTelegramHandler(core, userRepo, telegramClient, parser,
		cfg.TelegramSecret, []byte(cfg.AuthSecret), zapLogger)
	healthChecker := handlers.NewHealthChecker(db, redisLimiter, jobQueue)

	// Setup router
	r := mux.NewRouter()

	zapLogger.Info("setting_up_middleware")

	if cfg.OTELEnabled && tracerProvider != nil {
		r.Use(otelmux.Middleware("reminderd-server"))
		zapLogger.Info("otel_middleware_enabled")
	}
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	r.Use(middleware.CORSFromEnv(cfg.FrontendURL))
	r.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	r.Use(middleware.ContentType)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.Audit(zapLogger))
	r.Use(middleware.Logging(zapLogger))

	// Rate limit middleware (applied selectively to specific routes)
	rateLimitMW, err := middleware.RateLimitUlule(redisLimiter.Client(), cfg.RateLimit)
	if err != nil {
		zapLogger.Fatal("failed_to_create_rate_limiter", zap.Error(err))
	}

	// Public routes (no rate limiting for health checks)
	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")
	r.HandleFunc("/version", versionInfo).Methods("GET")

	// Telegram webhook: authenticated by the shared secret header, not a
	// bearer token, and never rate limited — Telegram retries aggressively
	webhookRouter := r.PathPrefix("/webhook/telegram").Subrouter()
	telegramHandler.RegisterRoutes(webhookRouter)

	// API v1 routes (protected)
	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	authMW := middleware.Auth(userRepo, []byte(cfg.AuthSecret))

	remindersRouter := apiRouter.PathPrefix("/reminders").Subrouter()
	remindersRouter.Use(authMW)
	remindersRouter.Use(rateLimitMW)
	reminderHandler.RegisterRoutes(remindersRouter)

	geozoneRouter := apiRouter.PathPrefix("/geozone-events").Subrouter()
	geozoneRouter.Use(authMW)
	geozoneRouter.Use(rateLimitMW)
	geozoneHandler.RegisterRoutes(geozoneRouter)

	// Catch-all OPTIONS handler for preflight requests
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Setup server
	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB max header size
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Start DLQ garbage collector if the queue implementation supports it
	// Run every hour, retain messages for 24 hours
	if dlqPurger, ok := jobQueue.(queue.DLQPurger); ok {
		dlqGC := queue.NewGarbageCollector(dlqPurger, 1*time.Hour, 24*time.Hour, zapLogger)
		go func() {
			if err := dlqGC.Start(bgCtx); err != nil && err != context.Canceled {
				zapLogger.Error("dlq_garbage_collector_stopped_with_error", zap.Error(err))
			}
		}()
		zapLogger.Info("started_dlq_garbage_collector",
			zap.Duration("interval", 1*time.Hour),
			zap.Duration("retention", 24*time.Hour),
		)
	}

	// Register the webhook with Telegram when a public base URL is configured
	if cfg.BaseURL != "" && cfg.TelegramBotToken != "" {
		webhookURL := cfg.BaseURL + "/webhook/telegram"
		if err := telegramClient.SetWebhook(bgCtx, webhookURL, cfg.TelegramSecret); err != nil {
			zapLogger.Warn("failed_to_register_telegram_webhook",
				zap.String("url", webhookURL),
				zap.Error(err),
			)
		} else {
			zapLogger.Info("telegram_webhook_registered", zap.String("url", webhookURL))
		}
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("server_starting",
			zap.String("port", cfg.ServerPort),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("server_shutting_down")
	bgCancel()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Fatal("server_forced_to_shutdown", zap.Error(err))
	}

	zapLogger.Info("server_exited")
}

// connectQueue dials RabbitMQ with exponential backoff to ride out broker
// startup delays.
func connectQueue(url string, zapLogger *zap.Logger) (queue.JobQueue, error) {
	const maxRetries = 10
	const initialDelay = 2 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		jobQueue, err := queue.NewRabbitMQQueue(url)
		if err == nil {
			return jobQueue, nil
		}
		lastErr = err

		delay := initialDelay * time.Duration(1<<uint(attempt))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		zapLogger.Warn("failed_to_connect_to_rabbitmq_retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
			zap.Duration("retry_delay", delay),
		)
		time.Sleep(delay)
	}
	return nil, lastErr
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	// Only expose minimal version info (sanitized for security)
	if _, err := fmt.Fprintf(w, `{"version":"1.0.0","timestamp":"%s"}`, time.Now().UTC().Format(time.RFC3339)); err != nil {
		_ = err
	}
}
