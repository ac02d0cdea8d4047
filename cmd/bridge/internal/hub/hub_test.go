package hub_test

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/mya15oct/stock-backend/cmd/bridge/internal/hub"
	"github.com/mya15oct/stock-backend/cmd/bridge/internal/protocol"
	"github.com/mya15oct/stock-backend/cmd/bridge/internal/testutils"
)

func symReq(action, symbol, id string) protocol.WSRequest {
	raw, _ := json.Marshal(symbol)
	return protocol.WSRequest{Action: action, Symbol: raw, ID: id}
}

func TestHub_Subscribe_Success(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	client := testutils.NewMockClient("c1")
	h.Register(client)

	h.HandleCommand(client, symReq("subscribe", "AAPL", "req-1"))

	if client.LastMsgType() != "ack" {
		t.Errorf("Expected ack, got %s", client.LastMsgType())
	}

	if err := h.Broadcast("AAPL", []byte(`{"p":1}`)); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(client.RawBytes) != 1 {
		t.Errorf("Expected client to receive room broadcast, got %d messages", len(client.RawBytes))
	}
}

func TestHub_Subscribe_ObjectPayload(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	client := testutils.NewMockClient("c1")
	h.Register(client)

	h.HandleCommand(client, protocol.WSRequest{
		Action: "subscribe",
		Symbol: json.RawMessage(`{"symbol":"msft"}`), // lowercase + object form
		ID:     "req-2",
	})

	if client.LastMsgType() != "ack" {
		t.Errorf("Expected ack for object payload, got %s", client.LastMsgType())
	}

	h.Broadcast("MSFT", []byte(`{"p":2}`))
	if len(client.RawBytes) != 1 {
		t.Errorf("Expected normalization to uppercase room MSFT")
	}
}

func TestHub_Subscribe_InvalidSymbol(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	client := testutils.NewMockClient("c1")
	h.Register(client)

	h.HandleCommand(client, symReq("subscribe", "aapl!", "req-3"))

	if client.LastMsgType() != "error" {
		t.Errorf("Expected error for invalid symbol, got %s", client.LastMsgType())
	}

	// The bad symbol must not create a room
	h.Broadcast("AAPL!", []byte(`{"p":3}`))
	if len(client.RawBytes) != 0 {
		t.Errorf("Client should not have joined any room")
	}
}

func TestHub_RoomIsolation(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	apple := testutils.NewMockClient("c1")
	msft := testutils.NewMockClient("c2")
	h.Register(apple)
	h.Register(msft)

	h.HandleCommand(apple, symReq("subscribe", "AAPL", ""))
	h.HandleCommand(msft, symReq("subscribe", "MSFT", ""))

	h.Broadcast("AAPL", []byte(`{"S":"AAPL"}`))

	if len(apple.RawBytes) != 1 {
		t.Errorf("AAPL subscriber should receive the message")
	}
	if len(msft.RawBytes) != 0 {
		t.Errorf("MSFT subscriber should not receive AAPL messages")
	}
}

func TestHub_BroadcastAll_ReachesUnsubscribed(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	client := testutils.NewMockClient("c1")
	h.Register(client)

	h.BroadcastAll([]byte(`{"S":"GOOGL"}`))

	if len(client.RawBytes) != 1 {
		t.Errorf("Registered client should receive broadcast-wide messages without subscribing")
	}
}

func TestHub_Subscribe_Idempotency(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	client := testutils.NewMockClient("c1")
	h.Register(client)

	h.HandleCommand(client, symReq("subscribe", "AAPL", ""))
	h.HandleCommand(client, symReq("subscribe", "AAPL", ""))

	if client.LastMsgType() != "ack" {
		t.Errorf("Re-subscribe should ack, not error")
	}

	h.Broadcast("AAPL", []byte(`{"p":1}`))
	if len(client.RawBytes) != 1 {
		t.Errorf("Duplicate subscription must not duplicate delivery, got %d", len(client.RawBytes))
	}
}

func TestHub_Unsubscribe_NotSubscribed(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	client := testutils.NewMockClient("c1")
	h.Register(client)

	h.HandleCommand(client, symReq("unsubscribe", "GOOGL", "err-check"))

	if client.LastMsgType() != "error" {
		t.Errorf("Expected error response for unsubscribing non-watched symbol")
	}
}

func TestHub_Unsubscribe_LeavesRoom(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	client := testutils.NewMockClient("c1")
	h.Register(client)

	h.HandleCommand(client, symReq("subscribe", "AAPL", ""))
	h.HandleCommand(client, symReq("unsubscribe", "AAPL", ""))

	h.Broadcast("AAPL", []byte(`{"p":1}`))
	if len(client.RawBytes) != 0 {
		t.Errorf("Unsubscribed client should not receive room messages")
	}
}

func TestHub_Unregister(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	client := testutils.NewMockClient("c1")
	h.Register(client)
	h.HandleCommand(client, symReq("subscribe", "AAPL", ""))

	h.Unregister(client)

	if !client.Closed {
		t.Errorf("Unregister should close the client")
	}
	h.Broadcast("AAPL", []byte(`{"p":1}`))
	h.BroadcastAll([]byte(`{"p":2}`))
	if len(client.RawBytes) != 0 {
		t.Errorf("Unregistered client should receive nothing")
	}
}

func TestHub_RaceCondition(t *testing.T) {
	// Run with `go test -race ./...`
	h := hub.NewHub(zap.NewNop())
	client := testutils.NewMockClient("c1")
	h.Register(client)

	go func() {
		h.HandleCommand(client, symReq("subscribe", "AAPL", ""))
	}()
	go func() {
		h.Broadcast("AAPL", []byte(`{"p":1}`))
	}()
	go func() {
		h.Unregister(client)
	}()
}
