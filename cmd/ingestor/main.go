package main

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mya15oct/stock-backend/cmd/ingestor/internal/feed"
	"github.com/mya15oct/stock-backend/cmd/ingestor/internal/publisher"
	"github.com/mya15oct/stock-backend/pkg/admin"
	"github.com/mya15oct/stock-backend/pkg/config"
	"github.com/mya15oct/stock-backend/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	reg := metrics.NewRegistry()

	// Ensure the pipeline topics exist before the first publish
	creator := publisher.NewTopicCreator(logger, &publisher.RealKafkaDialer{Dialer: kafka.DefaultDialer})
	creator.Create(cfg.Kafka.Brokers, cfg.Kafka.TradesTopic, cfg.Kafka.BarsTopic, cfg.Kafka.DeadLetterTopic)

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Balancer: &kafka.Hash{}, // symbol key -> stable partition -> per-symbol order
		// Send batches to reduce network IO
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}

	pub := publisher.NewPublisher(
		logger, reg, writer,
		cfg.Kafka.TradesTopic, cfg.Kafka.BarsTopic,
		cfg.Ingestor.BufferSize, cfg.Ingestor.PublishRetries,
	)

	client := feed.NewClient(
		logger, reg,
		&feed.GorillaDialer{Dialer: websocket.DefaultDialer},
		pub,
		feed.RealClock{},
		feed.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))},
		cfg.Feed.URL, cfg.Feed.Key, cfg.Feed.Secret,
		cfg.Feed.Symbols,
		cfg.Ingestor.MaxBackoff,
	)

	adminSrv := admin.NewServer(cfg.App.AdminPort, reg, nil, logger)
	adminSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	pubDone := make(chan struct{})
	go func() {
		defer close(pubDone)
		pub.Run(ctx)
	}()

	runErr := make(chan error, 1)
	go func() {
		logger.Info("Ingestor Started",
			zap.String("feed", cfg.Feed.URL), zap.Strings("symbols", cfg.Feed.Symbols))
		runErr <- client.Run(ctx)
	}()

	fatal := false
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case err := <-runErr:
		if errors.Is(err, feed.ErrAuthRejected) {
			logger.Error("Feed rejected credentials, operator intervention required")
			fatal = true
		} else {
			logger.Error("Feed client exited", zap.Error(err))
		}
	}

	cancel()
	<-pubDone

	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	adminSrv.Shutdown(shutdownCtx)

	if fatal {
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Ingestor exited cleanly")
}
