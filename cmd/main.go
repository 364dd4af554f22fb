package main

import (
	"chatcore/backend/internal/api/handler"
	"chatcore/backend/internal/broadcast"
	"chatcore/backend/internal/chathub"
	"chatcore/backend/internal/config"
	"chatcore/backend/internal/delivery"
	"chatcore/backend/internal/events"
	"chatcore/backend/internal/identity"
	"chatcore/backend/internal/logging"
	"chatcore/backend/internal/media"
	"chatcore/backend/internal/presence"
	"chatcore/backend/internal/storage"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDependencies(ctx context.Context, cfg *config.Config, logr *logrus.Logger) (*gorm.DB, *redis.Client, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	logr.Info("database and redis connections established")
	return db, rdb, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logr := logging.New(cfg.LogLevel, cfg.LogFormat)
	logr.Info("starting chat core")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, rdb, err := setupDependencies(ctx, cfg, logr)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	store := storage.NewStorageService(db, logr)
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	presenceStore, err := presence.New(cfg.PresenceBackend, rdb, cfg.PresenceTTL)
	if err != nil {
		return err
	}
	bus, err := broadcast.New(cfg.BusBackend, rdb, logr)
	if err != nil {
		return err
	}

	var publisher events.Publisher = events.NewLogPublisher(logr)
	if cfg.EventsBackend == "redis" {
		publisher = events.NewStreamPublisher(rdb, cfg.EventsMaxLen)
	}

	var resolver media.Resolver = media.NopResolver{}
	if cfg.MediaServiceURL != "" {
		resolver = media.NewHTTPResolver(cfg.MediaServiceURL, cfg.MediaTimeout)
	}

	engine := delivery.NewEngine(
		store,
		presenceStore,
		broadcast.NewBroadcaster(bus, store, logr),
		resolver,
		publisher,
		delivery.Options{HistoryDefaultLimit: cfg.HistoryDefaultLimit, HistoryMaxLimit: cfg.HistoryMaxLimit},
		logr,
	)

	hub := chathub.NewHub(bus, logr)
	go hub.Run(ctx)

	retrier := broadcast.NewRetrier(store, bus, broadcast.RetrierConfig{
		BatchSize:   cfg.RetryBatchSize,
		MaxAttempts: cfg.RetryMaxAttempts,
		MaxInterval: cfg.RetryMaxInterval,
	}, logr)
	scheduler, err := retrier.Start(ctx, cfg.RetrySchedule)
	if err != nil {
		return fmt.Errorf("start outbox retrier: %w", err)
	}
	defer scheduler.Stop()

	gateway := chathub.NewGateway(hub, engine, presenceStore, chathub.GatewayConfig{
		SendBuffer:     cfg.ClientSendBuffer,
		InboundRate:    cfg.InboundRate,
		InboundBurst:   cfg.InboundBurst,
		MaxMessageSize: cfg.MaxMessageSize,
	}, logr)

	verifier := identity.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	var tokens handler.TokenIssuer
	if cfg.DevTokens {
		logr.Warn("development token endpoint enabled")
		tokens = verifier
	}

	r := gin.New()
	r.Use(gin.Recovery())
	handler.NewHandler(engine, gateway, verifier, tokens, logr).Register(r)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("chat core: %v", err)
	}
}
