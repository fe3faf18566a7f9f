// Package client implements the responder-side stack: the framed duplex
// transport adapter, the priority outbox with retry-until-ACK delivery,
// and the snapshot applier that keeps an observable incident view.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	dialInitialBackoff = 2 * time.Second
	dialMaxBackoff     = 60 * time.Second
	dialTimeout        = 5 * time.Second
	eventChanSize      = 256
)

// ConnectionState describes the current link status.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// EventType classifies a transport event.
type EventType int

const (
	EventOpen EventType = iota
	EventFrame
	EventClosed
)

// Event is one transport occurrence delivered to the client loop.
type Event struct {
	Type  EventType
	Frame []byte
	Err   error
}

// Transport is the abstraction over the framed duplex channel to the edge
// node. Implementations must be safe for concurrent use.
type Transport interface {
	// Connect starts the link maintenance loop. Idempotent if already
	// connected.
	Connect(ctx context.Context) error
	// Disconnect tears down the link and stops reconnecting.
	Disconnect() error
	// Send writes one text frame. Fails when the link is down.
	Send(data []byte) error
	// Events returns the stream of opens, frames, and closes.
	Events() <-chan Event
	// State returns the current link state.
	State() ConnectionState
}

// WSTransport maintains a WebSocket to the edge node, reconnecting with
// exponential backoff after any failure.
type WSTransport struct {
	url    string
	log    *zap.Logger
	events chan Event
	state  atomic.Int32 // ConnectionState

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWSTransport constructs a transport for the given ws:// URL.
func NewWSTransport(url string, log *zap.Logger) *WSTransport {
	t := &WSTransport{
		url:    url,
		log:    log,
		events: make(chan Event, eventChanSize),
	}
	t.state.Store(int32(StateDisconnected))
	return t
}

func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.runLoop(runCtx)
	return nil
}

func (t *WSTransport) Disconnect() error {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()
	t.wg.Wait()
	t.state.Store(int32(StateDisconnected))
	return nil
}

func (t *WSTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: not connected")
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

func (t *WSTransport) Events() <-chan Event { return t.events }

func (t *WSTransport) State() ConnectionState {
	return ConnectionState(t.state.Load())
}

// ── internal ──────────────────────────────────────────────────────────────

func (t *WSTransport) runLoop(ctx context.Context) {
	defer t.wg.Done()

	backoff := dialInitialBackoff
	for {
		if ctx.Err() != nil {
			t.state.Store(int32(StateDisconnected))
			return
		}

		t.state.Store(int32(StateConnecting))
		dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
		conn, _, err := dialer.DialContext(ctx, t.url, nil)
		if err != nil {
			t.log.Warn("transport: dial failed",
				zap.String("url", t.url),
				zap.Duration("retry_in", backoff),
				zap.Error(err),
			)
			t.state.Store(int32(StateFailed))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
				backoff = min(backoff*2, dialMaxBackoff)
				continue
			}
		}

		backoff = dialInitialBackoff
		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		t.state.Store(int32(StateConnected))
		t.log.Info("transport: connected", zap.String("url", t.url))
		t.emit(Event{Type: EventOpen})

		t.readFrames(ctx, conn)

		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		t.state.Store(int32(StateDisconnected))
		t.emit(Event{Type: EventClosed})

		if ctx.Err() != nil {
			return
		}
		t.log.Info("transport: connection lost, reconnecting",
			zap.Duration("backoff", backoff))
	}
}

func (t *WSTransport) readFrames(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				t.log.Debug("transport: read", zap.Error(err))
			}
			return
		}
		t.emit(Event{Type: EventFrame, Frame: data})
	}
}

func (t *WSTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.log.Warn("transport: event channel full – dropping event")
	}
}

func min(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
