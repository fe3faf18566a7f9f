package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/firelinehq/fireline/internal/protocol"
)

// DefaultFlushTick is the cadence of the outbox flush loop.
const DefaultFlushTick = 300 * time.Millisecond

// Options configures a Client.
type Options struct {
	IncidentID  string
	ResponderID string
	ResendAfter time.Duration // default DefaultResendAfter
	FlushTick   time.Duration // default DefaultFlushTick
}

// Client binds the reliable sender and the snapshot applier to a transport.
// Enqueue methods may be called from any goroutine; delivery happens on the
// Run loop.
type Client struct {
	log  *zap.Logger
	tr   Transport
	opts Options
	view *View

	mu     sync.Mutex
	outbox *Outbox
}

// New constructs a Client over the given transport.
func New(tr Transport, opts Options, log *zap.Logger) *Client {
	if opts.FlushTick <= 0 {
		opts.FlushTick = DefaultFlushTick
	}
	return &Client{
		log:    log,
		tr:     tr,
		opts:   opts,
		view:   NewView(opts.IncidentID, opts.ResponderID),
		outbox: NewOutbox(opts.ResendAfter),
	}
}

// View returns the observable incident view.
func (c *Client) View() *View { return c.view }

// Run connects the transport and drives the event loop until ctx is
// cancelled. Queued items survive disconnects; flushing resumes once the
// link is back.
func (c *Client) Run(ctx context.Context) error {
	c.view.SetStatus(StatusConnecting)
	if err := c.tr.Connect(ctx); err != nil {
		return fmt.Errorf("client: connect: %w", err)
	}
	defer c.tr.Disconnect() //nolint:errcheck

	ticker := time.NewTicker(c.opts.FlushTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-c.tr.Events():
			if !ok {
				return nil
			}
			c.handleEvent(ev)
		case now := <-ticker.C:
			c.flush(now)
		}
	}
}

// ── Enqueue API ───────────────────────────────────────────────────────────

// SendLocation queues a location update. Each call is a fresh intent with
// its own msgId.
func (c *Client) SendLocation(lat, lng float64, accuracy *float64) (string, error) {
	fields := map[string]any{"lat": lat, "lng": lng}
	if accuracy != nil {
		fields["accuracy"] = *accuracy
	}
	return c.enqueue(protocol.KindLocationUpdate, fields)
}

// RaiseSOS queues an SOS with an optional note.
func (c *Client) RaiseSOS(note string) (string, error) {
	fields := map[string]any{}
	if note != "" {
		fields["note"] = note
	}
	return c.enqueue(protocol.KindSosRaise, fields)
}

// ClearSOS queues an SOS clear.
func (c *Client) ClearSOS() (string, error) {
	return c.enqueue(protocol.KindSosClear, nil)
}

// SendChat queues a chat line.
func (c *Client) SendChat(text string) (string, error) {
	return c.enqueue(protocol.KindChatSend, map[string]any{"text": text})
}

func (c *Client) enqueue(kind protocol.Kind, fields map[string]any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgID, err := c.outbox.Enqueue(kind, fields)
	if err != nil {
		return "", fmt.Errorf("client: enqueue: %w", err)
	}
	return msgID, nil
}

// QueueDepth returns queued and in-flight item counts.
func (c *Client) QueueDepth() (queued, pending int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbox.Len(), c.outbox.PendingLen()
}

// ── Event loop internals ──────────────────────────────────────────────────

func (c *Client) handleEvent(ev Event) {
	switch ev.Type {
	case EventOpen:
		c.view.SetStatus(StatusConnected)
		c.sendHello()
	case EventClosed:
		c.view.SetStatus(StatusDisconnected)
	case EventFrame:
		c.handleFrame(ev.Frame)
	}
}

// sendHello goes out-of-band, not through the outbox: the handshake must
// precede any data frame on every new connection.
func (c *Client) sendHello() {
	frame, err := protocol.Encode(map[string]any{
		"type":        string(protocol.KindClientHello),
		"incidentId":  c.opts.IncidentID,
		"responderId": c.opts.ResponderID,
	})
	if err != nil {
		c.log.Error("client: encode hello", zap.Error(err))
		return
	}
	if err := c.tr.Send(frame); err != nil {
		c.log.Warn("client: send hello", zap.Error(err))
	}
}

func (c *Client) handleFrame(data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		c.log.Warn("client: bad frame", zap.Error(err))
		return
	}
	switch f.Type {
	case protocol.KindAckMsg:
		c.mu.Lock()
		c.outbox.Ack(f.MsgID)
		c.mu.Unlock()
	case protocol.KindAck:
		c.log.Info("joined incident", zap.String("incident", c.opts.IncidentID))
	case protocol.KindError:
		msg, _ := f.Str("error")
		c.log.Warn("server error", zap.String("error", msg))
	default:
		c.view.Apply(f)
	}
}

// flush transmits at most one item per tick, gated on an open link rather
// than on handshake completion: a pre-handshake data frame earns a benign
// ERROR and is retried after the next reconnect.
func (c *Client) flush(now time.Time) {
	if c.tr.State() != StateConnected {
		return
	}
	c.mu.Lock()
	it := c.outbox.NextSend(now)
	c.mu.Unlock()
	if it == nil {
		return
	}
	if err := c.tr.Send(it.Frame); err != nil {
		c.log.Debug("client: send failed, will retry",
			zap.String("msgId", it.MsgID), zap.Error(err))
	}
}
