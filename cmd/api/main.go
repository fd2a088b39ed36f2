package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lv-restrict/internal/admin"
	"lv-restrict/internal/audit"
	"lv-restrict/internal/auth"
	"lv-restrict/internal/config"
	"lv-restrict/internal/db"
	"lv-restrict/internal/health"
	"lv-restrict/internal/httpserver"
	"lv-restrict/internal/logging"
	"lv-restrict/internal/realtime"
	"lv-restrict/internal/restriction"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.ProfectMode, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	messages, err := config.LoadMessages(cfg.MessagesFile)
	if err != nil {
		logger.Fatal("load messages", zap.Error(err))
	}
	minimum, err := messages.MinimumDeposit()
	if err != nil {
		logger.Fatal("default minimum deposit", zap.Error(err))
	}
	policy := restriction.Policy{
		DefaultThreshold: minimum,
		DefaultTemplate:  messages.Templates.Restriction,
		GenericMessage:   messages.Templates.Generic,
		CurrencySymbol:   messages.CurrencySymbol,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer pool.Close()
	if cfg.AutoMigrate {
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("ensure schema", zap.Error(err))
		}
	}

	registry := realtime.NewRegistry(logger.Named("registry"))
	healthHandler := health.NewHandler(time.Now(), cfg.HTTPAddr, cfg.InternalToken, registry).
		Check("database", pool, true)

	var notifier realtime.Notifier = realtime.NewLocalNotifier(registry)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer rdb.Close()
		relay := realtime.NewRelay(rdb, cfg.RelayChannel, registry, logger.Named("relay"))
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped", zap.Error(err))
			}
		}()
		notifier = relay
		healthHandler.Check("redis", health.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}), false)
		logger.Info("cross-instance relay enabled", zap.String("channel", cfg.RelayChannel))
	}

	var sink audit.Sink = audit.NewLogSink(logger.Named("audit"))
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAuditTopic, logger.Named("audit"))
		defer kafkaSink.Close()
		sink = kafkaSink
		logger.Info("audit to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaAuditTopic))
	}

	store := restriction.NewPGStore(pool, policy)
	svc := restriction.NewService(store, restriction.NewEvaluator(policy), notifier, sink, logger.Named("restriction"))
	authSvc := auth.NewService(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	limiter := httpserver.NewRateLimiter(10, 30)
	go limiter.Run(ctx)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		RestrictionHandler: restriction.NewHandler(svc),
		AdminHandler:       admin.NewHandler(pool, cfg.JWTSecret, notifier, logger.Named("admin")),
		HealthHandler:      healthHandler,
		AuthService:        authSvc,
		RateLimiter:        limiter,
		InternalToken:      cfg.InternalToken,
		JWTSecret:          cfg.JWTSecret,
		AllowedOrigin:      cfg.WebSocketOrigin,
		WSHandler:          httpserver.NewWSHandler(registry, authSvc, cfg.WebSocketOrigin, cfg.WSWriteTimeout, cfg.WSHandshakeWait, logger.Named("ws")),
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("server listening", zap.String("addr", cfg.HTTPAddr), zap.String("mode", cfg.ProfectMode))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server", zap.Error(err))
	}
}
