package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/roomchat/internal/chat"
	"github.com/suPer8Hu/roomchat/internal/config"
	"github.com/suPer8Hu/roomchat/internal/db"
	"github.com/suPer8Hu/roomchat/internal/httpapi"
	"github.com/suPer8Hu/roomchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/roomchat/internal/logx"
	"github.com/suPer8Hu/roomchat/internal/realtime"
	"github.com/suPer8Hu/roomchat/internal/store/rabbitmq"
	"github.com/suPer8Hu/roomchat/internal/store/redisstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logx.L()
		l.Fatal().Err(err).Msg("load config")
	}
	logx.Init(logx.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, ServiceName: "roomchat-server"})
	logger := logx.L()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("connect database")
	}
	if err := db.Migrate(gdb); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()
	if err := rds.Ping(ctx); err != nil {
		// the cache degrades to database reads
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable")
	}

	repo := chat.NewRepo(gdb)
	registry := realtime.NewRegistry()
	router := realtime.NewRouter(repo, redisstore.NewCachedUsernames(rds, repo, cfg.RedisIdentityTTL), registry)

	if cfg.RabbitEnabled {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logger.Warn().Err(err).Msg("rabbitmq unavailable, room activity events disabled")
		} else {
			defer pub.Close()
			router.WithEvents(pub)
		}
	}

	hub := realtime.NewHub(registry, router, repo, cfg.WS.SendBuffer)
	h := handlers.NewHandler(gdb, cfg, chat.NewService(repo), hub, rds)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown
	hub.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
