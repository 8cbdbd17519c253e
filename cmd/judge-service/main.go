package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CDeX-Labs/CDeX-Judge-Service/config"
	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/auth"
	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/challenge"
	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/fraud"
	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/handlers"
	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/history"
	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/judge"
	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/kafka"
	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/metrics"
	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/middleware"
	redisclient "github.com/CDeX-Labs/CDeX-Judge-Service/internal/redis"
	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/validation"
	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/verification"
	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/winners"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	devMode := flag.Bool("dev", false, "load .env and log to the console")
	flag.Parse()

	cfg := config.InitConfig(*devMode)
	logger := newLogger(cfg)

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal().Msg("JWT_SECRET is required")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	redis, err := redisclient.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redis.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pubsub := redisclient.NewPubSub(redis, logger)
	challenges := challenge.NewStore(redis, pubsub, cfg.Engine.ChallengeCacheTTL, logger)
	pubsub.Handle(redisclient.KindChallengeUpdated, challenges.HandleEnvelope)
	if err := pubsub.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start pubsub")
	}
	defer pubsub.Stop()

	submissions := history.NewStore(redis, cfg.Redis.HistoryTTL, logger)

	judgeLimiter := middleware.NewRateLimiter("judge", cfg.Judge.RatePerMinute, time.Minute, m, logger)
	defer judgeLimiter.Stop()
	remote := judge.NewRateLimited(
		judge.NewHTTPJudge(cfg.Judge.APIURL, cfg.Judge.APIKey, cfg.Judge.Model, cfg.Judge.Timeout, m, logger),
		judgeLimiter,
	)

	engine := verification.NewEngine(remote, challenges, verification.Options{
		Timeout:   cfg.Judge.Timeout,
		MaxTokens: cfg.Judge.MaxTokens,
		Observer:  m,
	}, logger)
	detector := fraud.NewDetector(time.Now)
	selector := winners.NewSelector(winners.DefaultRewardPolicy())
	validator := validation.New()

	producer := kafka.NewProducer(cfg.Kafka.Brokers, m, logger)
	defer producer.Close()

	pipeline := kafka.NewHandlers(kafka.Dependencies{
		Verifier:   engine,
		History:    submissions,
		Detector:   detector,
		Selector:   selector,
		Publisher:  producer,
		Notifier:   pubsub,
		Validator:  validator,
		Observer:   m,
		MaxWinners: cfg.Engine.MaxWinners,
	}, logger)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, kafka.Topics(), cfg.Engine.Concurrency, m, logger)
	pipeline.RegisterAll(consumer)
	consumer.Start()

	jwtValidator := auth.NewJWTValidator(cfg.Auth.JWTSecret)
	apiLimiter := middleware.NewRateLimiter("api", cfg.RateLimit.Requests, cfg.RateLimit.Window, m, logger)
	defer apiLimiter.Stop()

	api := handlers.NewAPI(engine, detector, selector, challenges, validator, cfg.Engine.MaxWinners, cfg.Engine.Concurrency, logger)

	mux := http.NewServeMux()
	mux.Handle("/health", handlers.HealthHandler())
	mux.Handle("/ready", handlers.ReadyHandler(map[string]handlers.Pinger{"redis": redis}))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/v1/", apiLimiter.Middleware(auth.Middleware(jwtValidator, m, logger)(api.Routes())))

	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("instanceId", pubsub.GetInstanceID()).Msg("Judge service started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := consumer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Kafka consumer shutdown failed")
	}
	logger.Info().Msg("Judge service stopped")
}

func newLogger(cfg *config.AppConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.App.DevMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return log.Logger.With().Str("service", cfg.App.Name).Logger()
}
