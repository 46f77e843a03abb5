package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vn.io.arda/livenotify/internal/application"
	"vn.io.arda/livenotify/internal/auth"
	"vn.io.arda/livenotify/internal/config"
	"vn.io.arda/livenotify/internal/domain"
	"vn.io.arda/livenotify/internal/infrastructure/postgres"
	rediscache "vn.io.arda/livenotify/internal/infrastructure/redis"
	kafkaconsumer "vn.io.arda/livenotify/internal/kafka"
	"vn.io.arda/livenotify/internal/realtime"
	transporthttp "vn.io.arda/livenotify/internal/transport/http"
	"vn.io.arda/livenotify/internal/transport/ws"
)

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Server.Env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("env", cfg.Server.Env).Str("port", cfg.Server.Port).Msg("starting livenotify")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping failed")
	}
	log.Info().Msg("postgres connected")

	pgRepo := postgres.New(pool)
	if err := pgRepo.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	// ── Unread-count cache (optional) ─────────────────────────────────────────
	var repo domain.Repository = pgRepo
	if cfg.Redis.Enabled {
		rc, err := rediscache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rc.Close()
		repo = rediscache.NewCachedRepository(pgRepo, rc, cfg.Redis.TTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis unread cache enabled")
	}

	// ── Realtime ──────────────────────────────────────────────────────────────
	verifier, err := auth.NewJWTVerifier(cfg.Auth.AccessSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create token verifier")
	}

	registry := realtime.NewRegistry(cfg.Realtime.PingInterval)

	dispatcherOpts := []realtime.DispatcherOption{realtime.WithDelay(cfg.Realtime.Debounce)}
	if cfg.Realtime.MarkOnPush {
		dispatcherOpts = append(dispatcherOpts, realtime.WithDeliveryMarker(repo, cfg.Realtime.ReplayTimeout))
	}
	dispatcher := realtime.NewDispatcher(registry, dispatcherOpts...)

	replayer := realtime.NewReplayer(repo, cfg.Realtime.ReplayTimeout)
	session := realtime.NewSession(verifier, registry, replayer)

	// ── Application Service ───────────────────────────────────────────────────
	svc := application.NewService(repo, dispatcher)

	// ── HTTP Server ───────────────────────────────────────────────────────────
	handler := transporthttp.NewHandler(svc, session, registry,
		ws.NewUpgrader(cfg.Server.AllowedOrigins),
		ws.Options{WriteWait: cfg.Realtime.WriteWait, SendBuffer: cfg.Realtime.SendBuffer},
	)
	router := transporthttp.NewRouter(handler, verifier, cfg.Server.AllowedOrigins)

	// ── Kafka Consumer ────────────────────────────────────────────────────────
	if cfg.Kafka.Enabled {
		consumer, err := kafkaconsumer.New(
			cfg.Kafka.Brokers,
			cfg.Kafka.ConsumerGroupID,
			cfg.Kafka.Topics,
			svc,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka consumer")
		}
		go consumer.Start(ctx)
		log.Info().Strs("topics", cfg.Kafka.Topics).Msg("kafka consumer started")
	}

	// ── TTL Purge Job (every 24h) ─────────────────────────────────────────────
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				svc.PurgeTTL(ctx, cfg.TTL.RetentionDays)
			case <-ctx.Done():
				return
			}
		}
	}()

	// ── Start HTTP Server ─────────────────────────────────────────────────────
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil {
			log.Info().Msg("HTTP server stopped")
		}
	}()

	// ── Graceful Shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	// Pending batches are dropped; their rows stay undelivered for replay.
	dispatcher.Stop()
	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("livenotify stopped")
}
