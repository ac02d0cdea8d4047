package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mya15oct/stock-backend/cmd/persister/internal/deadletter"
	"github.com/mya15oct/stock-backend/cmd/persister/internal/persister"
	"github.com/mya15oct/stock-backend/cmd/persister/internal/relay"
	"github.com/mya15oct/stock-backend/cmd/persister/internal/storage"
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

	store, err := storage.New(cfg.Postgres.DSN())
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()

	streamRelay := relay.NewStreamRelay(rdb, cfg.Redis.TradesStream, cfg.Redis.BarsStream, cfg.Redis.StreamMaxLen)

	dlWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		RequiredAcks: kafka.RequireAll,
	}
	dlSink := deadletter.NewSink(dlWriter, cfg.Kafka.DeadLetterTopic)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Kafka.Brokers,
		GroupTopics: []string{cfg.Kafka.TradesTopic, cfg.Kafka.BarsTopic},
		GroupID:     cfg.Kafka.GroupID,
		MinBytes:    200,
		MaxBytes:    10e6,
		MaxWait:     200 * time.Millisecond,
		// Offsets advance only through explicit CommitMessages calls, after
		// the batch is durably stored.
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    10 * time.Second,
		StartOffset:       kafka.FirstOffset,
	})

	consumer := persister.NewConsumer(
		logger, reg, reader, store, streamRelay, dlSink,
		cfg.Persister.BatchSize, cfg.Persister.BatchWait, cfg.Persister.WriteRetries,
	)

	adminSrv := admin.NewServer(cfg.App.AdminPort, reg, consumer.Refresh, logger)
	adminSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Run(ctx); err != nil {
			logger.Error("Consumer stopped", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("Shutdown signal received, stopping persister...")
	cancel()
	<-done

	logger.Info("Closing Kafka Reader...")
	if err := reader.Close(); err != nil {
		logger.Error("Error closing reader", zap.Error(err))
	}
	dlWriter.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	adminSrv.Shutdown(shutdownCtx)

	logger.Info("Persister exited cleanly")
}
