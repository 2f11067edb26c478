package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Transport is one frame-oriented connection to the orchestrator. Connect
// may be called again after a read or write fails; implementations replace
// the underlying connection.
type Transport interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// WSTransport implements Transport over a websocket.
type WSTransport struct {
	url    string
	apiKey string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSTransport creates a websocket transport dialing url with the api
// key sent as a header.
func NewWSTransport(url, apiKey string) *WSTransport {
	return &WSTransport{url: url, apiKey: apiKey}
}

// Connect dials the hub, replacing any previous connection.
func (t *WSTransport) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("X-Api-Key", t.apiKey)

	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return fmt.Errorf("dial %q: %w", t.url, err)
	}
	// Frames can be large (session listings with metadata).
	conn.SetReadLimit(4 << 20)

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.mu.Unlock()

	if old != nil {
		_ = old.Close(websocket.StatusNormalClosure, "replaced")
	}
	return nil
}

// Read blocks for the next text frame.
func (t *WSTransport) Read(ctx context.Context) ([]byte, error) {
	conn := t.current()
	if conn == nil {
		return nil, fmt.Errorf("transport not connected")
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return data, nil
}

// Write sends one text frame.
func (t *WSTransport) Write(ctx context.Context, data []byte) error {
	conn := t.current()
	if conn == nil {
		return fmt.Errorf("transport not connected")
	}

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close shuts the connection down cleanly.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "agent stopping")
}

func (t *WSTransport) current() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

var _ Transport = (*WSTransport)(nil)
