package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Cunha-Renato/yapping-server/internal/auth"
	"github.com/Cunha-Renato/yapping-server/internal/bus"
	"github.com/Cunha-Renato/yapping-server/internal/config"
	"github.com/Cunha-Renato/yapping-server/internal/logging"
	"github.com/Cunha-Renato/yapping-server/internal/router"
	"github.com/Cunha-Renato/yapping-server/internal/server"
	"github.com/Cunha-Renato/yapping-server/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("connect to postgres", zap.Error(err))
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		logger.Fatal("migrate schema", zap.Error(err))
	}
	logger.Info("connected to postgres")

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("connect to redis", zap.Error(err))
		}
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Info("redis not configured, running single-node")
	}

	chatBus := bus.New(logger.Named("bus"), redisClient)
	rt := router.New(logger.Named("router"), chatBus)
	authService := auth.NewService(st, cfg.JWTSecret)
	srv := server.New(logger.Named("server"), rt, authService, st, st, cfg.TickEvery)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Run(gctx) })
	g.Go(func() error { return chatBus.Run(gctx) })
	g.Go(func() error {
		logger.Info("yapping server is now running", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("shut down cleanly")
}
