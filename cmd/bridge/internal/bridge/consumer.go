package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mya15oct/stock-backend/cmd/bridge/internal/protocol"
	"github.com/mya15oct/stock-backend/pkg/metrics"
	"github.com/mya15oct/stock-backend/pkg/models"
)

// Consumer drains the relay streams through a consumer group and fans the
// entries out to websocket viewers. An entry is acknowledged once its
// emission has been attempted; entries left pending by a crashed instance
// are replayed on the next startup.
type Consumer struct {
	rdb    StreamReader
	hub    Emitter
	logger *zap.Logger
	reg    *metrics.Registry

	tradesStream string
	barsStream   string
	group        string
	consumer     string
	readBlock    time.Duration
	readCount    int64
}

type Options struct {
	TradesStream string
	BarsStream   string
	Group        string
	Consumer     string
	ReadBlock    time.Duration
	ReadCount    int64
}

func NewConsumer(rdb StreamReader, hub Emitter, opts Options, logger *zap.Logger, reg *metrics.Registry) *Consumer {
	return &Consumer{
		rdb:          rdb,
		hub:          hub,
		logger:       logger,
		reg:          reg,
		tradesStream: opts.TradesStream,
		barsStream:   opts.BarsStream,
		group:        opts.Group,
		consumer:     opts.Consumer,
		readBlock:    opts.ReadBlock,
		readCount:    opts.ReadCount,
	}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroups(ctx); err != nil {
		return err
	}

	// Entries delivered to this consumer but never acked (crash between
	// read and ack) come back first, before any new entries.
	if err := c.replayPending(ctx); err != nil {
		return err
	}

	for {
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.tradesStream, c.barsStream, ">", ">"},
			Count:    c.readCount,
			Block:    c.readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // block timeout, nothing new
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Stream read failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				c.handleEntry(ctx, s.Stream, msg)
			}
		}
	}
}

// ensureGroups creates the consumer groups if missing. A fresh group starts
// at the stream tail: retained history predates the group and would otherwise
// be blasted at viewers on first deployment.
func (c *Consumer) ensureGroups(ctx context.Context) error {
	for _, stream := range []string{c.tradesStream, c.barsStream} {
		err := c.rdb.XGroupCreateMkStream(ctx, stream, c.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	return nil
}

func (c *Consumer) replayPending(ctx context.Context) error {
	for _, stream := range []string{c.tradesStream, c.barsStream} {
		for {
			streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    c.group,
				Consumer: c.consumer,
				Streams:  []string{stream, "0"},
				Count:    c.readCount,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					break
				}
				return err
			}

			replayed := 0
			for _, s := range streams {
				for _, msg := range s.Messages {
					c.handleEntry(ctx, s.Stream, msg)
					replayed++
				}
			}
			if replayed == 0 {
				break
			}

			c.reg.Add(metrics.BridgeRedeliveries, int64(replayed))
			c.logger.Info("Replayed pending entries",
				zap.String("stream", stream), zap.Int("count", replayed))
		}
	}
	return nil
}

// handleEntry emits one relay entry and acknowledges it. Faulty entries
// (bad symbol, missing data) are acked too: redelivering them can never
// succeed, and an unacked poison entry would be replayed forever.
func (c *Consumer) handleEntry(ctx context.Context, stream string, msg redis.XMessage) {
	defer c.ack(ctx, stream, msg.ID)

	symbol, ok := msg.Values["symbol"].(string)
	if !ok || !models.ValidSymbol(symbol) {
		c.reg.Inc(metrics.BridgeInvalidSyms)
		c.logger.Warn("Entry with invalid symbol", zap.String("id", msg.ID))
		return
	}

	data, ok := msg.Values["data"].(string)
	if !ok || !json.Valid([]byte(data)) {
		c.reg.Inc(metrics.BridgeDecodeDrops)
		c.logger.Warn("Entry with undecodable payload",
			zap.String("id", msg.ID), zap.String("symbol", symbol))
		return
	}

	eventType := protocol.TypeTradeUpdate
	if stream == c.barsStream {
		eventType = protocol.TypeBarUpdate
	}

	payload, err := json.Marshal(protocol.WSResponse{
		Type: eventType,
		Data: json.RawMessage(data),
	})
	if err != nil {
		c.reg.Inc(metrics.BridgeDecodeDrops)
		return
	}

	if err := c.hub.BroadcastAll(payload); err != nil {
		c.reg.Inc(metrics.BridgeEmitErrors)
		c.logger.Error("Broadcast failed", zap.String("symbol", symbol), zap.Error(err))
	}
	if err := c.hub.Broadcast(symbol, payload); err != nil {
		c.reg.Inc(metrics.BridgeEmitErrors)
		c.logger.Error("Room broadcast failed", zap.String("symbol", symbol), zap.Error(err))
	}
	c.reg.Inc(metrics.BridgeEmittedMsgs)
}

func (c *Consumer) ack(ctx context.Context, stream, id string) {
	if err := c.rdb.XAck(ctx, stream, c.group, id).Err(); err != nil && ctx.Err() == nil {
		c.logger.Error("Ack failed", zap.String("stream", stream), zap.String("id", id), zap.Error(err))
	}
}
