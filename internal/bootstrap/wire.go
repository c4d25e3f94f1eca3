package bootstrap

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/baechuer/real-time-ressys/services/notification-service/internal/application/dispatch"
	"github.com/baechuer/real-time-ressys/services/notification-service/internal/config"
	infraemail "github.com/baechuer/real-time-ressys/services/notification-service/internal/infrastructure/email"
	"github.com/baechuer/real-time-ressys/services/notification-service/internal/infrastructure/idempotency"
	rmq "github.com/baechuer/real-time-ressys/services/notification-service/internal/infrastructure/messaging/rabbitmq"
	"github.com/baechuer/real-time-ressys/services/notification-service/internal/infrastructure/templates"
	"github.com/baechuer/real-time-ressys/services/notification-service/internal/infrastructure/web"
)

type App struct {
	consumer *rmq.Consumer
	web      *web.Server
	cfg      *config.Config
}

func NewApp() (*App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	renderer, err := templates.NewRenderer(cfg.TemplatesDir, log.Logger)
	if err != nil {
		return nil, nil, err
	}

	var gateway dispatch.Gateway
	switch cfg.EmailSender {
	case "fake":
		gateway = infraemail.NewFakeGateway(log.Logger)
	default:
		gateway = infraemail.NewSMTPGateway(infraemail.SMTPConfig{
			Host:          cfg.SMTPHost,
			Port:          cfg.SMTPPort,
			Login:         cfg.SMTPLogin,
			Password:      cfg.SMTPPassword,
			From:          cfg.SMTPFrom,
			FromName:      cfg.SMTPFromName,
			Timeout:       cfg.SMTPTimeout,
			ImplicitTLS:   cfg.SMTPImplicitTLS,
			Opportunistic: cfg.SMTPInsecure,
		}, log.Logger)
	}

	var store dispatch.Store
	var redisClient *goredis.Client
	if cfg.IdempotencyEnabled {
		redisClient = idempotency.NewRedisClient(idempotency.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// Store faults are transient at processing time, so startup only warns.
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping failed; idempotency checks will retry per message")
		} else {
			log.Info().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("redis connected for idempotency")
		}
		cancel()
		store = idempotency.NewRedisStore(redisClient, log.Logger)
	} else {
		log.Warn().Msg("idempotency disabled; duplicate deliveries will send duplicate emails")
		store = idempotency.NewNoopStore()
	}

	dispatcher := dispatch.NewDispatcher(renderer, gateway, store, cfg.IdempotencyTTL, log.Logger)

	consumer := rmq.NewConsumer(rmq.Config{
		URL:           cfg.RabbitURL,
		MainExchange:  cfg.MainExchange,
		MainQueue:     cfg.MainQueue,
		RetryExchange: cfg.RetryExchange,
		RetryQueue:    cfg.RetryQueue,
		DLQExchange:   cfg.DLQExchange,
		DLQQueue:      cfg.DLQQueue,
		RoutingKey:    cfg.RoutingKey,
		Prefetch:      cfg.Prefetch,
		Tag:           cfg.ConsumeTag,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
	}, dispatcher, log.Logger)

	app := &App{
		consumer: consumer,
		web:      web.NewServer(cfg.WebAddr, log.Logger),
		cfg:      cfg,
	}

	cleanup := func() {
		log.Info().Msg("releasing resources")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
		defer cancel()

		_ = app.Stop(ctx)
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}

	return app, cleanup, nil
}

// Start blocks until the consumer loop ends. A connection loss after startup
// surfaces here as an error so the process exits and the supervisor restarts
// it; a context cancellation is a clean stop.
func (a *App) Start(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		if err := a.web.Start(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		errCh <- a.consumer.Run(ctx)
	}()

	return <-errCh
}

func (a *App) Stop(ctx context.Context) error {
	log.Info().Msg("shutting down notification service")
	if a.web != nil {
		_ = a.web.Stop(ctx)
	}
	return nil
}
