package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mya15oct/stock-backend/cmd/bridge/internal/bridge"
	"github.com/mya15oct/stock-backend/cmd/bridge/internal/gateway"
	"github.com/mya15oct/stock-backend/cmd/bridge/internal/hub"
	"github.com/mya15oct/stock-backend/pkg/admin"
	"github.com/mya15oct/stock-backend/pkg/config"
	"github.com/mya15oct/stock-backend/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	reg := metrics.NewRegistry()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()

	h := hub.NewHub(logger)

	consumer := bridge.NewConsumer(rdb, h, bridge.Options{
		TradesStream: cfg.Redis.TradesStream,
		BarsStream:   cfg.Redis.BarsStream,
		Group:        cfg.Bridge.Group,
		Consumer:     cfg.Bridge.Consumer,
		ReadBlock:    cfg.Bridge.ReadBlock,
		ReadCount:    cfg.Bridge.ReadCount,
	}, logger, reg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Stream consumer stopped", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			logger.Error("Upgrade failed", zap.Error(err))
			return
		}
		client := gateway.NewClient(conn, h, logger)
		client.Start()
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}
	go func() {
		logger.Info("Bridge Started", zap.String("addr", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("WebSocket server failed", zap.Error(err))
		}
	}()

	adminSrv := admin.NewServer(cfg.App.AdminPort, reg, nil, logger)
	adminSrv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping bridge...")
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	adminSrv.Shutdown(shutdownCtx)

	logger.Info("Bridge exited cleanly")
}
