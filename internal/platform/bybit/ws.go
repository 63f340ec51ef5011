package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is how long the connection may stay silent. The server answers
	// every ping, so this only expires on a dead link.
	readWait = 60 * time.Second

	// pingPeriod is the application-level heartbeat the server expects.
	pingPeriod = 20 * time.Second

	// maxArgsPerSubscribe is the server's limit on topics per request.
	maxArgsPerSubscribe = 10
)

// OrderBookHandler is called for every order-book push, in arrival order.
type OrderBookHandler func(OrderBookMessage)

// WSClient is a single public-stream connection. It does not reconnect;
// the caller owns the reconnect policy and creates a new client per attempt.
type WSClient struct {
	wsURL string

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
}

// NewWSClient creates a client for wsURL, e.g.
// "wss://stream.bybit.com/v5/public/linear".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{wsURL: wsURL}
}

// Connect dials the server.
func (w *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bybit/ws: connect: %w", err)
	}
	w.conn = conn
	return nil
}

// Subscribe subscribes to topics, batching to the server's per-request limit.
func (w *WSClient) Subscribe(topics []string) error {
	if w.conn == nil {
		return fmt.Errorf("bybit/ws: not connected")
	}
	for start := 0; start < len(topics); start += maxArgsPerSubscribe {
		end := min(start+maxArgsPerSubscribe, len(topics))
		if err := w.send(WSCommand{Op: "subscribe", Args: topics[start:end]}); err != nil {
			return fmt.Errorf("bybit/ws: subscribe: %w", err)
		}
	}
	return nil
}

// Run reads until the connection fails or ctx is cancelled, dispatching
// order-book pushes to handler and sending heartbeats. It always returns a
// non-nil error; on cancellation that is ctx.Err().
func (w *WSClient) Run(ctx context.Context, handler OrderBookHandler) error {
	if w.conn == nil {
		return fmt.Errorf("bybit/ws: not connected")
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			w.Close()
		case <-done:
		}
	}()
	go w.pingLoop(done)

	_ = w.conn.SetReadDeadline(time.Now().Add(readWait))
	for {
		_, raw, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("bybit/ws: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		_ = w.conn.SetReadDeadline(time.Now().Add(readWait))

		if err := dispatch(raw, handler); err != nil {
			return err
		}
	}
}

// Close closes the connection. It is safe to call more than once.
func (w *WSClient) Close() error {
	var err error
	w.closeOnce.Do(func() {
		if w.conn == nil {
			return
		}
		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		err = w.conn.Close()
	})
	return err
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (w *WSClient) send(cmd WSCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := w.send(WSCommand{Op: "ping"}); err != nil {
				return
			}
		}
	}
}

// dispatch routes one frame. Unparseable frames and non-book topics are
// ignored; a rejected subscription is returned as an error.
func dispatch(raw []byte, handler OrderBookHandler) error {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	if env.Op == "subscribe" && env.Success != nil && !*env.Success {
		return fmt.Errorf("bybit/ws: subscribe rejected: %s", env.RetMsg)
	}
	if !strings.HasPrefix(env.Topic, "orderbook.") {
		return nil
	}

	var msg OrderBookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	handler(msg)
	return nil
}
