package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"smsrelay/config"
	"smsrelay/internal/adapters/twilio"
	"smsrelay/internal/db"
	"smsrelay/internal/events"
	"smsrelay/internal/events/forward"
	"smsrelay/internal/handlers"
	"smsrelay/internal/health"
	"smsrelay/internal/media"
	"smsrelay/internal/services"
	"smsrelay/internal/store"
	"smsrelay/internal/worker"
	"smsrelay/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger.InitLogger(os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))

	log.Info().Msg("Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	// .env may have changed the log settings
	logger.InitLogger(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("dbType", cfg.DBType).Msg("Initializing database...")
	conn, err := db.Open(cfg.DBType, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	if err := db.Migrate(conn); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	messages := store.NewSQLMessageStore(conn)
	conversations := store.NewSQLConversationStore(conn)

	client, err := twilio.NewClient(twilio.Options{
		BaseURL:             cfg.Provider.BaseURL,
		AccountSID:          cfg.Provider.AccountSID,
		AuthToken:           cfg.Provider.AuthToken,
		MessagingServiceSID: cfg.Provider.MessagingServiceSID,
		StatusCallbackURL:   cfg.StatusCallbackURL(),
		Timeout:             cfg.Provider.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize provider client")
	}

	pool := worker.NewPool(cfg.WorkerPoolSize, cfg.EventQueueSize)
	bus := events.NewBus(pool)

	monitor := health.NewMonitor(cfg.HealthProbeURL(), cfg.HealthProbeInterval, 5*time.Second)
	go monitor.Run(ctx)

	dispatcher := forward.NewDispatcher(forward.NewSinks(cfg.Events), cfg.Events.MaxRetries, cfg.Events.RetryBackoff)
	dispatcher.Attach(bus)
	go dispatcher.Run(ctx)

	correlator := services.NewCorrelator(conversations, messages)

	syncer := services.NewStatusSynchronizer(messages, client, monitor, bus, cfg.SweepInterval)
	syncer.Attach(bus)
	syncer.Run(ctx, pool)

	opts := services.MessageServiceOptions{
		Messages:      messages,
		Conversations: conversations,
		Provider:      client,
		Correlator:    correlator,
		Bus:           bus,
		BulkThreshold: cfg.BulkThreshold,
	}
	mediaOpts := media.Options{
		MaxImageWidth:    cfg.Media.MaxImageWidth,
		DownloadUser:     cfg.Provider.AccountSID,
		DownloadPassword: cfg.Provider.AuthToken,
		DownloadTimeout:  cfg.Provider.Timeout,
	}
	if cfg.Media.S3Enabled {
		s3Store, err := media.NewS3Store(cfg.Media)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 media store")
		}
		mediaOpts.Store = s3Store
	}
	opts.Media = media.NewArchiver(mediaOpts)
	messageService := services.NewMessageService(opts)
	messageService.Attach(bus)
	conversationService := services.NewConversationService(conversations, messages, correlator)

	router := handlers.NewRouter(handlers.RouterConfig{
		Messages:           handlers.NewMessageHandler(messageService),
		Conversations:      handlers.NewConversationHandler(conversationService),
		Webhooks:           handlers.NewWebhookHandler(bus, cfg.Provider.AuthToken, cfg.PublicBaseURL, cfg.WebhookValidate),
		Ops:                handlers.NewOpsHandler(monitor, syncer, pool, dispatcher),
		HealthPath:         cfg.HealthPath,
		WebhookStatusPath:  cfg.WebhookStatusPath,
		WebhookInboundPath: cfg.WebhookInboundPath,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Worker pool did not drain in time")
	}
	if err := dispatcher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close event sinks")
	}
	if err := conn.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
	log.Info().Msg("Shutdown complete")
}
