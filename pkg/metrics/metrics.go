// Package metrics is a minimal registry of named monotonic counters. The
// pipeline reports drops, sheds and dead-letters here; the admin endpoint
// exposes a snapshot for monitoring.
package metrics

import (
	"sync"
	"sync/atomic"
)

type Registry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*atomic.Int64)}
}

func (r *Registry) counter(name string) *atomic.Int64 {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; ok {
		return c
	}
	c = &atomic.Int64{}
	r.counters[name] = c
	return c
}

func (r *Registry) Inc(name string) {
	r.counter(name).Add(1)
}

func (r *Registry) Add(name string, delta int64) {
	r.counter(name).Add(delta)
}

func (r *Registry) Get(name string) int64 {
	return r.counter(name).Load()
}

// Snapshot returns a point-in-time copy of all counters.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.counters))
	for name, c := range r.counters {
		out[name] = c.Load()
	}
	return out
}

// Counter names shared across binaries.
const (
	FeedDecodeDrops    = "feed_decode_drops"
	FeedReconnects     = "feed_reconnects"
	PublishSheds       = "publish_sheds"
	PublishedEvents    = "published_events"
	PersistedTrades    = "persisted_trades"
	PersistedBars      = "persisted_bars"
	DeadLetters        = "dead_letters"
	RelayedEvents      = "relayed_events"
	BridgeDecodeDrops  = "bridge_decode_drops"
	BridgeEmitErrors   = "bridge_emit_errors"
	BridgeEmittedMsgs  = "bridge_emitted_msgs"
	BridgeInvalidSyms  = "bridge_invalid_symbols"
	BridgeRedeliveries = "bridge_redeliveries"
)
