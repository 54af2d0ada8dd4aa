package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pawgrid/feed-service/internal/audience"
	"github.com/pawgrid/feed-service/internal/clients"
	"github.com/pawgrid/feed-service/internal/config"
	"github.com/pawgrid/feed-service/internal/cursor"
	"github.com/pawgrid/feed-service/internal/fanout"
	"github.com/pawgrid/feed-service/internal/feed"
	"github.com/pawgrid/feed-service/internal/feedstore"
	"github.com/pawgrid/feed-service/internal/infrastructure/rabbitmq"
	"github.com/pawgrid/feed-service/internal/pkg/logger"
	"github.com/pawgrid/feed-service/internal/resilience"
	"github.com/pawgrid/feed-service/internal/transport/rest"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "feed-service").
		Str("env", cfg.AppEnv).
		Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Redis ----
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Fatal().Err(err).Msg("redis ping failed")
		}
		log.Info().Msg("redis connected")
	}

	// ---- Resilience gateway ----
	limiter := resilience.NewLimiter()
	limiter.Configure(resilience.ClassUser, resilience.LimiterClass{
		Limit:  cfg.RLUserLimit,
		Window: cfg.RLUserWindow,
	})
	gateway := resilience.NewGateway(resilience.DefaultGatewayConfig(), limiter)

	// ---- Collaborator clients ----
	followers := clients.NewFollowerClient(cfg.FollowerServiceURL, gateway, rdb, cfg.FollowerCacheTTL)
	users := clients.NewUserClient(cfg.UserServiceURL, gateway, rdb, cfg.BlockCacheTTL)
	posts := clients.NewPostClient(cfg.PostServiceURL, gateway)

	// ---- Feed pipeline ----
	store := feedstore.New(rdb, cfg.FeedMaxSize, cfg.MarkerTTL, cfg.DeletedTTL)
	resolver := audience.NewResolver(followers, users)

	dlq, err := rabbitmq.NewDLQPublisher(cfg.RabbitURL, cfg.DLQExchange)
	if err != nil {
		log.Fatal().Err(err).Msg("dlq publisher init failed")
	}
	defer dlq.Close()

	distributor := fanout.NewDistributor(store, resolver, dlq, cfg.FanoutWorkers, cfg.FanoutQueueSize)
	defer distributor.Stop()

	consumer := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.PostExchange, distributor, store, dlq)
	go consumer.Start(rootCtx)

	// ---- Read path ----
	codec := cursor.NewCodec(cfg.CursorSecret, cfg.CursorTTL)
	reader := feed.NewReader(store, posts, users, codec, cfg.SnapshotCacheTTL)

	// ---- HTTP server ----
	router := rest.NewRouter(rest.RouterDeps{
		Handler:           rest.NewHandler(reader, gateway),
		Limiter:           limiter,
		IPLimit:           cfg.RLIPLimit,
		IPWindow:          cfg.RLIPWindow,
		DisableRateLimits: !cfg.RLEnabled,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	distributor.Stop()
	log.Info().Msg("shutdown complete")
}
