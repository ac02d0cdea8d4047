package testutils

import (
	"sync"

	"github.com/mya15oct/stock-backend/cmd/bridge/internal/protocol"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []protocol.WSResponse // Stores decoded JSON messages
	RawBytes []string              // Stores raw bytes
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]protocol.WSResponse, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = append(m.RawBytes, string(b))
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

// MockEmitter records fan-out payloads per room
type MockEmitter struct {
	Rooms map[string][]string // symbol -> payloads
	All   []string
	Err   error
	Mu    sync.Mutex
}

func NewMockEmitter() *MockEmitter {
	return &MockEmitter{Rooms: make(map[string][]string)}
}

func (m *MockEmitter) Broadcast(symbol string, payload []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Rooms[symbol] = append(m.Rooms[symbol], string(payload))
	return nil
}

func (m *MockEmitter) BroadcastAll(payload []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.All = append(m.All, string(payload))
	return nil
}

func (m *MockEmitter) AllCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.All)
}

func (m *MockEmitter) RoomPayloads(symbol string) []string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	out := make([]string, len(m.Rooms[symbol]))
	copy(out, m.Rooms[symbol])
	return out
}
