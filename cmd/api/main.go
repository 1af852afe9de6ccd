package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/openslot/waitline/internal/api/router"
	appconfig "github.com/openslot/waitline/internal/config"
	"github.com/openslot/waitline/internal/http/handlers"
	"github.com/openslot/waitline/internal/messaging"
	"github.com/openslot/waitline/internal/notify"
	"github.com/openslot/waitline/internal/observability/metrics"
	"github.com/openslot/waitline/internal/waitlist"
	"github.com/openslot/waitline/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting waitline API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := waitlist.NewStore(pool)
	messageStore := messaging.NewStore(pool)

	sender := messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger).
		WithRetry(cfg.TwilioRetryMaxAttempts, cfg.TwilioRetryBaseDelay)
	catalog := messaging.NewCatalog(cfg.ClinicName, cfg.DisplayTimezone)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}
	guard := waitlist.NewAdvanceGuard(redisClient, cfg.HoldDuration, logger)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	alerter := buildAlerter(ctx, cfg, logger)

	orch := waitlist.NewOrchestrator(store, sender, catalog, cfg.BatchSize, cfg.HoldDuration, logger).
		WithAdvanceGuard(guard).
		WithRecorder(messageStore.Recorder(cfg.TwilioFromNumber)).
		WithMetrics(m)
	if alerter != nil {
		orch = orch.WithAlerter(alerter)
	}
	admin := waitlist.NewAdmin(store, logger)

	go waitlist.NewSweeper(orch, cfg.SweepInterval, logger).Run(ctx)
	go waitlist.NewRecalculator(admin, cfg.PriorityRecalcInterval, logger).Run(ctx)

	smsWebhooks := handlers.NewSMSWebhookHandler(handlers.SMSWebhookConfig{
		Engine:     orch,
		Directory:  store,
		Sender:     sender,
		Catalog:    catalog,
		Audit:      messageStore,
		FromE164:   cfg.TwilioFromNumber,
		AuthToken:  cfg.TwilioAuthToken,
		InboundURL: cfg.PublicBaseURL + "/sms/inbound",
		Validate:   cfg.TwilioValidateWebhook,
		Metrics:    m,
		Logger:     logger,
	})
	adminHandler := handlers.NewAdminHandler(orch, admin, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		SMSWebhooks:        smsWebhooks,
		Admin:              adminHandler,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// buildAlerter assembles the staff email path, or nil when unconfigured.
func buildAlerter(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *notify.StaffAlerter {
	if cfg.AlertEmail == "" {
		return nil
	}

	var sender notify.EmailSender
	switch cfg.EmailProvider {
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Error("failed to load AWS config, staff alerts disabled", "error", err)
			return nil
		}
		if s := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.AlertFromEmail,
			FromName:  cfg.AlertFromName,
		}, logger); s != nil {
			sender = s
		}
	default:
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.AlertFromEmail,
			FromName:  cfg.AlertFromName,
		}, logger); s != nil {
			sender = s
		}
	}
	if sender == nil {
		logger.Warn("ALERT_EMAIL set but no email provider configured, staff alerts disabled")
		return nil
	}
	return notify.NewStaffAlerter(sender, cfg.AlertEmail, cfg.ClinicName, logger)
}
