package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/angelicas/grocer/internal/config"
	"github.com/angelicas/grocer/internal/consumer"
	"github.com/angelicas/grocer/internal/gateway"
	"github.com/angelicas/grocer/internal/repository"
	"github.com/angelicas/grocer/internal/routes"
	"github.com/angelicas/grocer/internal/services"
	"github.com/angelicas/grocer/pkg/logger"
	"github.com/angelicas/grocer/pkg/metrics"
	"github.com/angelicas/grocer/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logr := logger.New(cfg.LogLevel, cfg.LogFormat)
	logr.Info("starting pusher", slog.String("app", cfg.AppName))

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logr.Error("failed to connect database", slog.Any("error", err))
		os.Exit(1)
	}

	var redisRepo *repository.RedisRepository
	if cfg.RedisURL != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		redisRepo = repository.NewRedisRepository(rdb, cfg.SuppressionTTL)
		defer rdb.Close()
	}

	statusStore := repository.NewStatusStore(db, cfg.StatusTable)
	statusUpdater := services.NewStatusUpdater(statusStore, logr)

	tlsConfig, err := gateway.NewTLSConfig(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		logr.Error("failed to load gateway certificate", slog.Any("error", err))
		os.Exit(1)
	}

	gatewayConn := gateway.NewConn(cfg.GatewayAddr, tlsConfig, cfg.GatewayTimeout, logr)
	defer gatewayConn.Close()

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)

	retryCfg := retry.Config{
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
	}

	var cache services.TokenCache
	if redisRepo != nil {
		cache = redisRepo
	}
	processor := services.NewPushProcessor(
		gatewayConn,
		statusUpdater,
		cache,
		metricsCollector,
		logr,
		retryCfg,
	)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logr.Error("failed to connect rabbitmq", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()

	base := consumer.NewBaseConsumer(
		conn,
		cfg.PushQueue,
		cfg.DeadLetterQueue,
		cfg.PrefetchCount,
		cfg.WorkerCount,
		logr,
	)
	pushConsumer := consumer.NewPushConsumer(base, processor, logr, cfg.RetryMaxAttempts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if redisRepo != nil {
		poller := gateway.NewFeedbackPoller(
			cfg.FeedbackAddr,
			tlsConfig,
			cfg.FeedbackInterval,
			cfg.GatewayTimeout,
			redisRepo,
			logr,
		)
		go poller.Run(ctx)
	}

	started := time.Now()
	httpSrv := startHTTPServer(cfg.HTTPPort, logr, started)

	if err := pushConsumer.Start(ctx); err != nil {
		logr.Error("push consumer exited", slog.Any("error", err))
	}

	shutdownHTTP(httpSrv, logr)
	logr.Info("pusher stopped")
}

func startHTTPServer(port string, logr *slog.Logger, started time.Time) *http.Server {
	if port == "" {
		port = "8083"
	}
	handler := routes.NewRouter(started)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Error("http server error", slog.Any("error", err))
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logr *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("failed to shutdown http server", slog.Any("error", err))
	}
}
