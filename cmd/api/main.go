package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/luaxhealth/clinic-scheduler/cmd/mainconfig"
	"github.com/luaxhealth/clinic-scheduler/internal/api/router"
	appconfig "github.com/luaxhealth/clinic-scheduler/internal/config"
	"github.com/luaxhealth/clinic-scheduler/internal/events"
	"github.com/luaxhealth/clinic-scheduler/internal/http/handlers"
	"github.com/luaxhealth/clinic-scheduler/internal/notify"
	"github.com/luaxhealth/clinic-scheduler/internal/observability/metrics"
	"github.com/luaxhealth/clinic-scheduler/internal/patients"
	"github.com/luaxhealth/clinic-scheduler/internal/scheduling"
	"github.com/luaxhealth/clinic-scheduler/pkg/logging"
)

func main() {
	// Local development convenience; production sets real env vars.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-scheduler API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Record store and patient directory
	var (
		store       scheduling.Store
		patientRepo patients.Repository
		dbPool      *pgxpool.Pool
	)
	if cfg.UseMemoryStore || cfg.DatabaseURL == "" {
		logger.Warn("using in-memory store; records do not survive restarts")
		store = scheduling.NewMemoryStore()
		patientRepo = patients.NewInMemoryRepository()
	} else {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		dbPool = pool
		defer dbPool.Close()
		store = scheduling.NewPostgresStore(dbPool)
		patientRepo = patients.NewPostgresRepository(dbPool)
	}

	// Lifecycle event queue
	queue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize event queue", "error", err)
		os.Exit(1)
	}
	publisher := events.NewPublisher(queue, logger)

	// Email sender
	emailSender := buildEmailSender(ctx, cfg, logger)

	// Metrics
	schedulingMetrics := metrics.NewSchedulingMetrics(nil)
	notifyMetrics := metrics.NewNotifyMetrics(nil)

	// Core services
	service := scheduling.NewService(store, publisher, logger).
		WithMaxRetries(cfg.BookingMaxRetries).
		WithMetrics(schedulingMetrics)

	dispatcher := notify.NewDispatcher(queue, emailSender, patientRepo, notify.DispatcherConfig{
		ClinicName:  cfg.ClinicName,
		AdminEmail:  cfg.AdminEmail,
		WorkerCount: cfg.NotifyWorkerCount,
		MaxAttempts: cfg.NotifyMaxAttempts,
		BaseDelay:   cfg.NotifyBaseDelay,
	}, logger).WithMetrics(notifyMetrics)
	dispatcher.Start(ctx)

	// Handlers and router
	appointmentsHandler := handlers.NewAppointmentsHandler(service, logger)
	patientsHandler := handlers.NewPatientsHandler(patientRepo, logger)

	r := router.New(&router.Config{
		Logger:              logger,
		AppointmentsHandler: appointmentsHandler,
		PatientsHandler:     patientsHandler,
		AdminAuthSecret:     cfg.AdminJWTSecret,
		MetricsHandler:      promhttp.Handler(),
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
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
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Let the dispatcher drain in-flight notifications.
	waitCh := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
		logger.Info("notification dispatcher stopped")
	case <-shutdownCtx.Done():
		logger.Error("notification dispatcher shutdown timed out")
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func buildQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (events.Queue, error) {
	switch cfg.QueueBackend {
	case "sqs":
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		if cfg.NotifyQueueURL == "" {
			return nil, fmt.Errorf("NOTIFY_QUEUE_URL is required for the sqs backend")
		}
		logger.Info("using SQS event queue", "queue_url", cfg.NotifyQueueURL)
		return events.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotifyQueueURL), nil

	case "redis":
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Info("using redis event queue", "addr", cfg.RedisAddr)
		return events.NewRedisQueue(client, ""), nil

	default:
		logger.Info("using in-memory event queue")
		return events.NewMemoryQueue(0), nil
	}
}

func buildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender != nil {
			logger.Info("sendgrid email sender initialized")
			return sender
		}
		logger.Warn("sendgrid not configured, falling back to stub sender")

	case "ses":
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Warn("SES unavailable, falling back to stub sender", "error", err)
			break
		}
		sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
		if sender != nil {
			logger.Info("SES email sender initialized")
			return sender
		}
	}
	return notify.NewStubEmailSender(logger)
}
