package hub

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mya15oct/stock-backend/cmd/bridge/internal/protocol"
	"github.com/mya15oct/stock-backend/pkg/models"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// Hub tracks which viewer sits in which symbol room. Rooms are ephemeral:
// created on first subscribe, gone when the last member leaves.
type Hub struct {
	rooms      map[string]map[ClientInterface]bool
	clientSubs map[ClientInterface]map[string]bool

	logger *zap.Logger
	mu     sync.RWMutex
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[ClientInterface]bool),
		clientSubs: make(map[ClientInterface]map[string]bool),
		logger:     logger,
	}
}

// Register adds a connection with no subscriptions; it still receives
// broadcast-wide emissions.
func (h *Hub) Register(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]bool)
	}
}

func (h *Hub) HandleCommand(client ClientInterface, req protocol.WSRequest) {
	switch req.Action {
	case protocol.ActionSubscribe:
		h.handleSubscribe(client, req)
	case protocol.ActionUnsubscribe:
		h.handleUnsubscribe(client, req)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) handleSubscribe(client ClientInterface, req protocol.WSRequest) {
	symbol, err := h.requestedSymbol(client, req)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]bool)
	}
	// Idempotent: re-subscribing is acked, not an error
	h.clientSubs[client][symbol] = true
	if h.rooms[symbol] == nil {
		h.rooms[symbol] = make(map[ClientInterface]bool)
	}
	h.rooms[symbol][client] = true

	h.sendAck(client, req.ID, fmt.Sprintf("Subscribed to %s", symbol))
}

func (h *Hub) handleUnsubscribe(client ClientInterface, req protocol.WSRequest) {
	symbol, err := h.requestedSymbol(client, req)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.clientSubs[client]
	if !ok || !subs[symbol] {
		h.sendError(client, req.ID, "Not subscribed to: "+symbol)
		return
	}

	delete(subs, symbol)
	h.removeFromRoom(symbol, client)
	h.sendAck(client, req.ID, fmt.Sprintf("Unsubscribed from %s", symbol))
}

// requestedSymbol parses and validates the symbol, rejecting bad input with
// an explicit error event rather than a silent drop.
func (h *Hub) requestedSymbol(client ClientInterface, req protocol.WSRequest) (string, error) {
	symbol, err := req.ParseSymbol()
	if err != nil {
		h.sendError(client, req.ID, err.Error())
		return "", err
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !models.ValidSymbol(symbol) {
		h.sendError(client, req.ID, "Invalid symbol: "+symbol)
		return "", fmt.Errorf("invalid symbol %q", symbol)
	}
	return symbol, nil
}

// Unregister drops the connection from every room. Called on disconnect.
func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for sym := range subs {
			h.removeFromRoom(sym, client)
		}
		delete(h.clientSubs, client)
	}
	client.Close()
}

// Broadcast sends payload to the members of one symbol room.
func (h *Hub) Broadcast(symbol string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[symbol] {
		client.SendBytes(payload)
	}
	return nil
}

// BroadcastAll sends payload to every connected viewer, subscribed or not.
func (h *Hub) BroadcastAll(payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clientSubs {
		client.SendBytes(payload)
	}
	return nil
}

func (h *Hub) removeFromRoom(symbol string, client ClientInterface) {
	delete(h.rooms[symbol], client)
	if len(h.rooms[symbol]) == 0 {
		delete(h.rooms, symbol)
	}
}

func (h *Hub) sendAck(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeAck, ID: id, Status: "success", Message: msg})
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, ID: id, Message: msg})
}
