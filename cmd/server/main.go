// Command server runs the identity registry HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"idregistry/internal/platform/config"
	"idregistry/internal/platform/httpserver"
	"idregistry/internal/platform/logger"
	"idregistry/internal/platform/metrics"
	"idregistry/internal/platform/redis"
	"idregistry/internal/provenance/stream"
	"idregistry/internal/registry/engine"
	"idregistry/internal/registry/exclusions"
	"idregistry/internal/registry/query"
	"idregistry/internal/registry/store/postgres"
	httptransport "idregistry/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	log := logger.New()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	st, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithRetryHook(m.TxRetried))
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	rc, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var redisClient *goredis.Client
	if rc != nil {
		redisClient = rc.Client
		defer rc.Close()
	}
	cache := exclusions.New(redisClient, st, log)

	opts := []engine.Option{engine.WithExclusionInvalidator(cache)}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := stream.New(cfg.KafkaBrokers, log, stream.WithTopic(cfg.KafkaTopic))
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer pub.Close(context.Background())
		opts = append(opts, engine.WithPublisher(pub))
	}

	eng := engine.New(st, log, m, opts...)
	qs := query.New(st, query.Config{
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
	})

	handler := httptransport.NewHandler(eng, qs, cache, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, m, registry))

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
