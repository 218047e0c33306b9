package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/paranoiabot/reminderd/internal/config"
	"github.com/paranoiabot/reminderd/internal/database"
	"github.com/paranoiabot/reminderd/internal/dispatch"
	"github.com/paranoiabot/reminderd/internal/gateway"
	"github.com/paranoiabot/reminderd/internal/logger"
	"github.com/paranoiabot/reminderd/internal/models"
	"github.com/paranoiabot/reminderd/internal/queue"
	"github.com/paranoiabot/reminderd/internal/workers"
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
	debugMode := cfg.WorkerDebugMode || *debugFlag

	// Initialize logger
	zapLogger, err := logger.New("reminderd-worker", cfg.LogFormat, debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync(zapLogger)
	}()

	zapLogger.Info("Starting dispatch worker",
		zap.Bool("debug_mode", debugMode),
	)

	// Initialize database connection
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("Failed to close database connection", zap.Error(err))
		}
	}()

	zapLogger.Info("Connected to database")

	// Initialize repositories
	reminderRepo := database.NewReminderRepository(db)
	attemptRepo := database.NewDeliveryAttemptRepository(db)

	// Initialize RabbitMQ queue
	jobQueue, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL)
	if err != nil {
		zapLogger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			zapLogger.Warn("Failed to close RabbitMQ connection", zap.Error(err))
		}
	}()

	zapLogger.Info("Connected to RabbitMQ",
		zap.Int("prefetch", cfg.RabbitMQPrefetch),
	)

	// Channel senders: Telegram natively, SMS and voice via relays
	senders := make(map[models.Channel]gateway.Sender)
	if cfg.TelegramBotToken != "" {
		senders[models.ChannelChat] = gateway.NewTelegramClient(cfg.TelegramBotToken)
	} else {
		zapLogger.Warn("Telegram bot token not configured, chat channel disabled")
	}
	if cfg.SMSRelayURL != "" {
		senders[models.ChannelSMS] = gateway.NewRelaySender(models.ChannelSMS, cfg.SMSRelayURL, cfg.SMSRelayToken)
	}
	if cfg.VoiceRelayURL != "" {
		senders[models.ChannelVoice] = gateway.NewRelaySender(models.ChannelVoice, cfg.VoiceRelayURL, cfg.VoiceRelayToken)
	}
	if len(senders) == 0 {
		zapLogger.Fatal("No delivery channels configured")
	}

	dispatcher := dispatch.New(senders, reminderRepo, attemptRepo, zapLogger)
	worker := workers.NewDispatchWorker(dispatcher, jobQueue)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start consuming messages
	msgChan, errChan, err := jobQueue.Consume(ctx, cfg.RabbitMQPrefetch)
	if err != nil {
		zapLogger.Fatal("Failed to start consuming messages", zap.Error(err))
	}

	zapLogger.Info("Worker started, consuming messages from queue")

	// Process messages
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgChan:
				if !ok {
					zapLogger.Info("Message channel closed")
					return
				}

				// Process job
				if err := worker.ProcessJob(ctx, msg); err != nil {
					zapLogger.Error("Failed to process job",
						zap.Error(err),
						zap.String("job_id", msg.GetJob().ID.String()),
						zap.String("job_type", string(msg.GetJob().Type)),
					)
				}
			}
		}
	}()

	// Handle errors
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errChan:
				if !ok {
					return
				}
				zapLogger.Error("Queue error", zap.Error(err))
			}
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	zapLogger.Info("Shutdown signal received, stopping worker...")

	// Cancel context to stop processing
	cancel()

	zapLogger.Info("Worker stopped")
}
