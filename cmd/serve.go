package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/transfa/linkdrop-service/internal/api"
	"github.com/transfa/linkdrop-service/internal/app"
	"github.com/transfa/linkdrop-service/internal/config"
	"github.com/transfa/linkdrop-service/internal/metrics"
	"github.com/transfa/linkdrop-service/internal/store"
	"github.com/transfa/linkdrop-service/pkg/accountclient"
	"github.com/transfa/linkdrop-service/pkg/rabbitmq"
)

// Routing keys the executors and the payment watcher publish on the outcomes
// exchange.
const (
	outcomeRoutingKey       = "outcome.reported"
	depositRoutingKey       = "deposit.received"
	funderDepositRoutingKey = "balance.deposited"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, outcome consumer and expiry scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

// engine is the claim service plus the transport it publishes through.
type engine struct {
	service  *app.Service
	producer rabbitmq.Publisher
	redis    *redis.Client
}

func (e *engine) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	e.producer.Close()
}

// buildEngine wires the service to its broker, account factory and rate
// limiter, then restores the persisted state.
func buildEngine(ctx context.Context, env *env, recorder metrics.Recorder) (*engine, error) {
	cfg, logger := env.cfg, env.logger

	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable; events are dropped and actions cannot be dispatched",
			zap.String("component", "bootstrap"), zap.Error(err))
		producer = &rabbitmq.EventProducerFallback{Logger: logger}
	} else {
		logger.Info("rabbitmq producer connected", zap.String("component", "bootstrap"))
		producer = eventProducer
	}
	dispatcher := app.NewBrokerDispatcher(producer, cfg.ActionsExchange)

	var accounts app.AccountFactory
	if strings.TrimSpace(cfg.AccountServiceURL) != "" {
		accounts = accountclient.NewClient(cfg.AccountServiceURL, cfg.InternalAPIKey)
	} else {
		logger.Warn("account service url missing; claim-and-create will fail every account",
			zap.String("component", "bootstrap"), zap.String("env", "ACCOUNT_SERVICE_URL"))
	}

	svc := app.NewService(env.repo, dispatcher, accounts, producer, app.SettingsFromConfig(cfg), logger)
	svc.SetMetrics(recorder)
	e := &engine{service: svc, producer: producer}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid redis url; claim rate limiting disabled",
				zap.String("component", "bootstrap"), zap.Error(err))
		} else {
			client := redis.NewClient(redisOpts)
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			pingErr := client.Ping(pingCtx).Err()
			cancel()
			if pingErr != nil {
				logger.Warn("redis unavailable; claim rate limiting disabled",
					zap.String("component", "bootstrap"), zap.Error(pingErr))
				_ = client.Close()
			} else {
				svc.SetClaimRateLimiter(app.NewRedisClaimRateLimiter(client, cfg.RedisRateLimitPrefix))
				e.redis = client
				logger.Info("redis claim rate limiter enabled", zap.String("component", "bootstrap"))
			}
		}
	}

	if err := svc.Restore(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// checkInternalKey refuses to serve the internal API unauthenticated outside
// development, since that API credits funder balances and settles claims.
func checkInternalKey(cfg config.Config, logger *zap.Logger) error {
	if strings.TrimSpace(cfg.InternalAPIKey) != "" {
		return nil
	}
	if strings.EqualFold(cfg.AppEnv, "development") {
		logger.Warn("INTERNAL_API_KEY is empty; internal routes accept unauthenticated calls",
			zap.String("component", "bootstrap"), zap.String("env", cfg.AppEnv))
		return nil
	}
	return fmt.Errorf("INTERNAL_API_KEY is required when APP_ENV is %q", cfg.AppEnv)
}

func serve(ctx context.Context) error {
	env, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer env.Close()
	cfg, logger := env.cfg, env.logger

	if err := checkInternalKey(cfg, logger); err != nil {
		return err
	}

	if pg, ok := env.repo.(*store.PostgresRepository); ok {
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("state table migration failed", zap.String("component", "bootstrap"), zap.Error(err))
			return err
		}
	}

	recorder := metrics.NewPrometheusRecorder()
	eng, err := buildEngine(ctx, env, recorder)
	if err != nil {
		logger.Error("failed to restore engine state", zap.String("component", "bootstrap"), zap.Error(err))
		return err
	}
	defer eng.Close()

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq consumer unavailable; outcomes must be reported over HTTP",
			zap.String("component", "bootstrap"), zap.Error(err))
	} else {
		defer consumer.Close()
		outcomes := app.NewOutcomeConsumer(eng.service, logger)
		deposits := app.NewDepositConsumer(eng.service, logger)
		err := consumer.ConsumeWithBindings(cfg.OutcomesExchange, cfg.OutcomesQueue, map[string]func([]byte) bool{
			outcomeRoutingKey:       outcomes.HandleMessage,
			depositRoutingKey:       deposits.HandleMessage,
			funderDepositRoutingKey: deposits.HandleFunderDeposit,
		})
		if err != nil {
			logger.Warn("outcome consumer failed to start; outcomes must be reported over HTTP",
				zap.String("component", "bootstrap"), zap.Error(err))
		} else {
			logger.Info("outcome consumer started",
				zap.String("component", "bootstrap"),
				zap.String("exchange", cfg.OutcomesExchange),
				zap.String("queue", cfg.OutcomesQueue))
		}
	}

	scheduler := app.NewScheduler(eng.service, logger, cfg.SweepSchedule)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	handlers := api.NewHandlers(eng.service, logger)
	router := api.NewRouter(handlers, api.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		InternalAPIKey: cfg.InternalAPIKey,
		Metrics:        recorder.Handler(),
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("linkdrop service starting", zap.String("component", "bootstrap"), zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("component", "bootstrap"), zap.String("signal", sig.String()))
	case err, ok := <-serverErr:
		if ok && err != nil {
			logger.Error("server failed", zap.String("component", "bootstrap"), zap.Error(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.String("component", "bootstrap"), zap.Error(err))
		return err
	}
	logger.Info("server exited", zap.String("component", "bootstrap"))
	return nil
}
