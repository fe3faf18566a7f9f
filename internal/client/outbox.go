package client

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/firelinehq/fireline/internal/protocol"
)

// DefaultResendAfter is how long an in-flight item waits for its ACK before
// the flush loop resends it.
const DefaultResendAfter = 1500 * time.Millisecond

// Item is one queued intent. It leaves the outbox only when the server
// acknowledges its msgId.
type Item struct {
	MsgID      string
	Kind       protocol.Kind
	Frame      []byte
	Priority   int
	Attempts   int
	LastSentAt time.Time

	seq int64
}

// priorityFor maps a message kind to its drain priority; lower is more
// urgent. SOS traffic always jumps the queue.
func priorityFor(k protocol.Kind) int {
	switch k {
	case protocol.KindSosRaise, protocol.KindSosClear:
		return 0
	case protocol.KindLocationUpdate:
		return 2
	case protocol.KindChatSend:
		return 3
	default:
		return 5
	}
}

// Outbox is the ordered queue of intents awaiting acknowledgement, plus the
// pending table of items currently in flight. It survives disconnects: a
// closed transport merely suspends flushing.
type Outbox struct {
	resendAfter time.Duration
	newID       func() string

	items   []*Item // sorted by (priority, insertion order)
	pending map[string]*Item
	nextSeq int64
}

// NewOutbox creates an empty Outbox.
func NewOutbox(resendAfter time.Duration) *Outbox {
	if resendAfter <= 0 {
		resendAfter = DefaultResendAfter
	}
	return &Outbox{
		resendAfter: resendAfter,
		newID:       func() string { return uuid.NewString() },
		pending:     make(map[string]*Item),
	}
}

// Enqueue creates an item for the given kind and payload fields, assigns a
// fresh msgId, and inserts it in priority order. Ties break by insertion
// order. Returns the assigned msgId.
func (o *Outbox) Enqueue(kind protocol.Kind, fields map[string]any) (string, error) {
	msgID := o.newID()
	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["type"] = string(kind)
	payload["msgId"] = msgID
	frame, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	it := &Item{
		MsgID:    msgID,
		Kind:     kind,
		Frame:    frame,
		Priority: priorityFor(kind),
		seq:      o.nextSeq,
	}
	o.nextSeq++
	o.items = append(o.items, it)
	sort.SliceStable(o.items, func(i, j int) bool {
		if o.items[i].Priority != o.items[j].Priority {
			return o.items[i].Priority < o.items[j].Priority
		}
		return o.items[i].seq < o.items[j].seq
	})
	return msgID, nil
}

// NextSend picks at most one item to transmit this tick:
//
//  1. the first item not yet in flight, else
//  2. the first in-flight item whose ACK is overdue, else
//  3. nothing.
//
// The chosen item's attempt count and last-sent time are updated.
func (o *Outbox) NextSend(now time.Time) *Item {
	for _, it := range o.items {
		if _, inflight := o.pending[it.MsgID]; !inflight {
			it.Attempts++
			it.LastSentAt = now
			o.pending[it.MsgID] = it
			return it
		}
	}
	for _, it := range o.items {
		if _, inflight := o.pending[it.MsgID]; inflight && now.Sub(it.LastSentAt) > o.resendAfter {
			it.Attempts++
			it.LastSentAt = now
			return it
		}
	}
	return nil
}

// Ack retires the item with the given msgId from both the pending table and
// the queue. Unknown msgIds are ignored (a late duplicate ACK).
func (o *Outbox) Ack(msgID string) bool {
	if _, ok := o.pending[msgID]; !ok {
		if !o.queued(msgID) {
			return false
		}
	}
	delete(o.pending, msgID)
	for i, it := range o.items {
		if it.MsgID == msgID {
			o.items = append(o.items[:i], o.items[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of queued items (in flight included).
func (o *Outbox) Len() int { return len(o.items) }

// PendingLen returns the number of items currently in flight.
func (o *Outbox) PendingLen() int { return len(o.pending) }

func (o *Outbox) queued(msgID string) bool {
	for _, it := range o.items {
		if it.MsgID == msgID {
			return true
		}
	}
	return false
}
