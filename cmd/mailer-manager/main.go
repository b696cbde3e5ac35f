// cmd/mailer-manager/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"portal-mailer/internal/common/aws"
	"portal-mailer/internal/common/camunda"
	"portal-mailer/internal/common/config"
	"portal-mailer/internal/common/database"
	"portal-mailer/internal/common/logger"
	"portal-mailer/internal/common/observability"
	"portal-mailer/internal/email"
	"portal-mailer/migrations"

	eqm "portal-mailer/internal/workers/communication/email-queue-maintenance"
	est "portal-mailer/internal/workers/communication/email-send-template"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting mailer manager...",
		zap.String("environment", cfg.App.Environment),
		zap.String("transport", cfg.Mail.Transport))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(observability.Options{
		ServiceName:    cfg.Observability.ServiceName,
		JaegerEndpoint: cfg.Observability.JaegerEndpoint,
	})
	if err != nil {
		zapLog.Fatal("observability setup failed", zap.Error(err))
	}
	defer obs.Shutdown(context.Background())

	readiness := map[string]func(context.Context) error{}

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	readiness["postgres"] = pg.Ping
	zapLog.Info("PostgreSQL connected successfully")

	if cfg.Database.Postgres.AutoMigrate {
		if err := database.RunMigrations(pg.GetDB(), migrations.FS); err != nil {
			zapLog.Fatal("migrations failed", zap.Error(err))
		}
		zapLog.Info("Database migrations applied")
	}

	var templates email.TemplateStore = email.NewPostgresTemplateStore(pg.GetDB())
	queue := email.NewPostgresQueueStore(pg.GetDB())
	opts := []email.Option{email.WithTracer(obs.Tracer())}

	// --- Redis: template cache and cross-instance sweep lock ---
	if cfg.Database.Redis.Enabled {
		rc := database.NewRedis(cfg.Database.Redis)
		err = retryWithBackoff(func() error {
			return rc.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rc.Close()
		readiness["redis"] = rc.Ping

		templates = email.NewCachedTemplateStore(templates, rc.Client, config.GetSeconds(cfg.Mail.TemplateCacheTTL), log)
		opts = append(opts, email.WithLocker(email.NewRedisLocker(rc.Client)))
		zapLog.Info("Redis connected successfully")
	}

	// --- Elasticsearch: delivery audit ---
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		readiness["elasticsearch"] = esClient.Ping
		opts = append(opts, email.WithAuditSink(email.NewElasticsearchAuditSink(esClient.Client, cfg.Database.Elasticsearch.AuditIndex)))
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- SNS: terminal failure alerts ---
	if cfg.Alerts.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Alerts.SNS.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		opts = append(opts, email.WithFailureNotifier(email.NewSNSFailureNotifier(snsClient, cfg.Alerts.SNS.TopicARN)))
	}

	transport, err := buildTransport(ctx, cfg.Mail)
	if err != nil {
		zapLog.Fatal("transport setup failed", zap.Error(err))
	}

	dispatcher := email.NewDispatcher(cfg.Mail.DispatcherConfig(), templates, queue, transport, log, opts...)
	zapLog.Info("Dispatcher ready",
		zap.String("transport", transport.Name()),
		zap.Int("hourlyLimit", cfg.Mail.HourlyLimit))

	var wg sync.WaitGroup

	scheduler := email.NewScheduler(dispatcher,
		config.GetSeconds(cfg.Mail.SweepInterval),
		config.GetSeconds(cfg.Mail.RetentionInterval),
		log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zapLog.Error("scheduler stopped", zap.Error(err))
		}
	}()

	// --- Zeebe workers ---
	var workers []*camunda.CamundaWorker
	var zeebe *camunda.Client
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		readiness["zeebe"] = zeebe.HealthCheck

		sendHandler, err := est.NewHandler(est.HandlerOptions{
			AppConfig:     cfg,
			Sender:        dispatcher,
			Logger:        log,
			Observability: obs,
		})
		if err != nil {
			zapLog.Fatal("failed to create email-send-template handler", zap.Error(err))
		}
		if w := startWorker(zeebe, sendHandler.GetTaskType(), sendHandler.GetConfig().Enabled, camunda.WorkerOptions{
			MaxJobsActive: sendHandler.GetConfig().MaxJobsActive,
			Timeout:       sendHandler.GetConfig().Timeout,
		}, sendHandler, zapLog); w != nil {
			workers = append(workers, w)
		}

		maintenanceHandler, err := eqm.NewHandler(eqm.HandlerOptions{
			AppConfig:     cfg,
			Maintainer:    dispatcher,
			Logger:        log,
			Observability: obs,
		})
		if err != nil {
			zapLog.Fatal("failed to create email-queue-maintenance handler", zap.Error(err))
		}
		if w := startWorker(zeebe, maintenanceHandler.GetTaskType(), maintenanceHandler.IsEnabled(), camunda.WorkerOptions{
			MaxJobsActive: cfg.Camunda.MaxJobsActive,
			Timeout:       config.GetDuration(cfg.Camunda.Timeout),
		}, maintenanceHandler, zapLog); w != nil {
			workers = append(workers, w)
		}
	}

	// --- Health & Metrics Server ---
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           newHealthMux(readiness, dispatcher, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop(shutdownCtx)
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	wg.Wait()

	zapLog.Info("Mailer manager stopped gracefully")
}

func buildTransport(ctx context.Context, mail config.MailConfig) (email.Transport, error) {
	switch mail.Transport {
	case "ses":
		client, err := aws.NewSESClient(ctx, mail.SES.Region)
		if err != nil {
			return nil, err
		}
		return email.NewSESTransport(client, mail.SES.ConfigurationSet), nil
	case "smtp":
		return email.NewSMTPTransport(email.SMTPSettings{
			Host:               mail.SMTP.Host,
			Port:               mail.SMTP.Port,
			Username:           mail.SMTP.Username,
			Password:           mail.SMTP.Password,
			InsecureSkipVerify: mail.SMTP.InsecureSkipVerify,
		}), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", mail.Transport)
	}
}

func startWorker(client *camunda.Client, taskType string, enabled bool, opts camunda.WorkerOptions, handler camunda.JobHandler, log *zap.Logger) *camunda.CamundaWorker {
	if !enabled {
		log.Info("worker disabled", zap.String("taskType", taskType))
		return nil
	}

	w := camunda.NewWorker(client.GetClient(), taskType, opts, handler, log)
	log.Info("worker started",
		zap.String("taskType", taskType),
		zap.Int("maxJobsActive", opts.MaxJobsActive),
		zap.Duration("timeout", opts.Timeout),
	)
	return w
}
