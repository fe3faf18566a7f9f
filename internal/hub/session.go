package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 20 * time.Second
	maxFrameBytes = 64 * 1024
	sendBufSize   = 64
)

// session is one live responder connection. The read loop owns the
// handshake state; the write loop drains the buffered send channel so a
// slow peer never stalls the dispatcher.
type session struct {
	h    *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	// Mutated only from the read loop.
	joined      bool
	incidentID  string
	responderID string
}

func newSession(h *Hub, conn *websocket.Conn) *session {
	return &session{
		h:    h,
		conn: conn,
		send: make(chan []byte, sendBufSize),
		done: make(chan struct{}),
	}
}

// WriteFrame enqueues a frame without blocking. A full buffer drops the
// frame; the peer recovers state from its next snapshot.
func (s *session) WriteFrame(data []byte) {
	select {
	case s.send <- data:
	default:
		s.h.log.Debug("hub: peer buffer full, dropping frame",
			zap.String("responder", s.responderID))
	}
}

func (s *session) readLoop() {
	defer s.h.drop(s)
	s.conn.SetReadLimit(maxFrameBytes)
	s.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.h.log.Debug("hub: read", zap.Error(err))
			}
			return
		}
		s.h.dispatch(s, data)
	}
}

func (s *session) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer s.conn.Close()
	for {
		select {
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
