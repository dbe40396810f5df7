package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/feedops/tick-capture/internal/config"
	"github.com/feedops/tick-capture/internal/feed"
	feedclient "github.com/feedops/tick-capture/internal/feed/client"
	"github.com/feedops/tick-capture/internal/reconciler"
	"github.com/feedops/tick-capture/internal/reconciler/storage"
	"github.com/feedops/tick-capture/shared/logger"
	"github.com/feedops/tick-capture/shared/postgresql"
	"github.com/feedops/tick-capture/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("RECONCILER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/reconciler-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateReconcilerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting reconciler service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// The reconciler gets its own connection pool; it never shares handles
	// with the api-service.
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notify := startChangeListener(ctx, rabbitClient, appLogger.Logger)

	session, err := feedclient.Dial(ctx, feedClientConfig(&cfg.Feed), eventLogger(appLogger.Logger), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect feed session: %w", err)
	}

	rec := reconciler.New(&reconciler.Config{
		Logger:              appLogger.Logger,
		Store:               storage.NewStorage(dbClient.GetDB(), appLogger.Logger),
		Session:             session,
		PollInterval:        cfg.Reconciler.PollInterval,
		CacheUpdateInterval: cfg.Reconciler.CacheUpdateInterval,
		Notify:              notify,
	})

	if err := rec.Start(ctx); err != nil {
		session.Close()
		return fmt.Errorf("failed to start reconciler: %w", err)
	}

	appLogger.Info("Reconciler service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	cancel()
	rec.Stop()

	appLogger.Info("Reconciler service shutdown complete")
	return nil
}

// startChangeListener consumes jobs-changed notifications and turns them
// into loop wake-ups. The channel is a hint only; a dropped message is
// covered by the persisted update flag on the next periodic refresh.
func startChangeListener(ctx context.Context, client *rabbitmq.Client, logger *slog.Logger) <-chan struct{} {
	notify := make(chan struct{}, 1)

	consumerTag := "reconciler-" + uuid.New().String()
	deliveries, err := client.Consume(consumerTag)
	if err != nil {
		logger.Warn("Failed to start jobs-changed consumer, relying on periodic refresh",
			slog.Any("error", err),
		)
		return notify
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					logger.Warn("Jobs-changed delivery channel closed")
					return
				}
				logger.Debug("Jobs-changed notification received",
					slog.String("message_id", delivery.MessageId),
				)
				select {
				case notify <- struct{}{}:
				default:
					// a wake-up is already pending
				}
			}
		}
	}()

	logger.Info("Jobs-changed consumer started",
		slog.String("consumer_tag", consumerTag),
	)

	return notify
}

// eventLogger routes feed events by type. Data consumption is handled
// downstream; here the events are only logged.
func eventLogger(logger *slog.Logger) feed.EventHandler {
	return func(ev feed.Event) {
		switch ev.Type {
		case feed.EventData:
			logger.Debug("Feed data event",
				slog.String("instrument", ev.Correlation.Instrument),
				slog.Int64("job_id", ev.Correlation.JobID),
			)
		case feed.EventStatus:
			logger.Info("Feed status event",
				slog.String("instrument", ev.Correlation.Instrument),
				slog.Int64("job_id", ev.Correlation.JobID),
				slog.String("payload", string(ev.Payload)),
			)
		case feed.EventSession:
			logger.Info("Feed session event",
				slog.String("payload", string(ev.Payload)),
			)
		}
	}
}

func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange,
		QueueName:         cfg.Queue,
		RoutingKey:        cfg.RoutingKey,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		ConnectionTimeout: cfg.Connection.ConnectionTimeout,
	}, logger)
}

func feedClientConfig(cfg *config.FeedConfig) *feedclient.Config {
	out := &feedclient.Config{
		AppName:     cfg.AppName,
		DialTimeout: cfg.DialTimeout,
	}

	for _, h := range cfg.Hosts {
		out.Hosts = append(out.Hosts, feedclient.HostPort{Host: h.Host, Port: h.Port})
	}

	if cfg.TLS != nil {
		out.TLS = &feedclient.TLSConfig{
			CertFile:   cfg.TLS.CertFile,
			KeyFile:    cfg.TLS.KeyFile,
			CAFile:     cfg.TLS.CAFile,
			Passphrase: cfg.TLS.Passphrase,
		}
	}

	return out
}
