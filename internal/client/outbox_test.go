package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firelinehq/fireline/internal/protocol"
)

func TestEnqueueAssignsFreshIDs(t *testing.T) {
	o := NewOutbox(DefaultResendAfter)
	id1, err := o.Enqueue(protocol.KindChatSend, map[string]any{"text": "a"})
	require.NoError(t, err)
	id2, err := o.Enqueue(protocol.KindChatSend, map[string]any{"text": "a"})
	require.NoError(t, err)

	// Identical payloads are distinct intents.
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, o.Len())
}

func TestPriorityOrder(t *testing.T) {
	o := NewOutbox(DefaultResendAfter)
	now := time.Unix(1_700_000_000, 0)

	_, err := o.Enqueue(protocol.KindChatSend, map[string]any{"text": "hi"})
	require.NoError(t, err)
	_, err = o.Enqueue(protocol.KindLocationUpdate, map[string]any{"lat": 37.0, "lng": -122.0})
	require.NoError(t, err)
	sosID, err := o.Enqueue(protocol.KindSosRaise, map[string]any{"note": "trapped"})
	require.NoError(t, err)

	// SOS jumps to the head despite being enqueued last.
	first := o.NextSend(now)
	require.NotNil(t, first)
	assert.Equal(t, sosID, first.MsgID)
	assert.Equal(t, protocol.KindSosRaise, first.Kind)

	second := o.NextSend(now)
	require.NotNil(t, second)
	assert.Equal(t, protocol.KindLocationUpdate, second.Kind)

	third := o.NextSend(now)
	require.NotNil(t, third)
	assert.Equal(t, protocol.KindChatSend, third.Kind)
}

func TestTiesBreakByInsertionOrder(t *testing.T) {
	o := NewOutbox(DefaultResendAfter)
	now := time.Unix(1_700_000_000, 0)

	first, err := o.Enqueue(protocol.KindChatSend, map[string]any{"text": "one"})
	require.NoError(t, err)
	second, err := o.Enqueue(protocol.KindChatSend, map[string]any{"text": "two"})
	require.NoError(t, err)

	assert.Equal(t, first, o.NextSend(now).MsgID)
	assert.Equal(t, second, o.NextSend(now).MsgID)
}

func TestOneItemPerTick(t *testing.T) {
	o := NewOutbox(DefaultResendAfter)
	now := time.Unix(1_700_000_000, 0)

	_, err := o.Enqueue(protocol.KindChatSend, map[string]any{"text": "hi"})
	require.NoError(t, err)

	require.NotNil(t, o.NextSend(now))
	// In flight and not yet overdue: nothing more this tick.
	assert.Nil(t, o.NextSend(now.Add(300*time.Millisecond)))
}

func TestResendAfterTimeout(t *testing.T) {
	o := NewOutbox(1500 * time.Millisecond)
	now := time.Unix(1_700_000_000, 0)

	id, err := o.Enqueue(protocol.KindChatSend, map[string]any{"text": "hi"})
	require.NoError(t, err)

	it := o.NextSend(now)
	require.NotNil(t, it)
	assert.Equal(t, 1, it.Attempts)

	assert.Nil(t, o.NextSend(now.Add(1400*time.Millisecond)))

	resent := o.NextSend(now.Add(1600 * time.Millisecond))
	require.NotNil(t, resent)
	assert.Equal(t, id, resent.MsgID)
	assert.Equal(t, 2, resent.Attempts)
	// The frame bytes are identical on every attempt.
	assert.Equal(t, it.Frame, resent.Frame)
}

func TestAckRetiresItem(t *testing.T) {
	o := NewOutbox(DefaultResendAfter)
	now := time.Unix(1_700_000_000, 0)

	id, err := o.Enqueue(protocol.KindChatSend, map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.NotNil(t, o.NextSend(now))

	assert.True(t, o.Ack(id))
	assert.Equal(t, 0, o.Len())
	assert.Equal(t, 0, o.PendingLen())
	assert.Nil(t, o.NextSend(now.Add(time.Hour)))

	// A late duplicate ACK is ignored.
	assert.False(t, o.Ack(id))
}

func TestAckOfUnsentItem(t *testing.T) {
	o := NewOutbox(DefaultResendAfter)
	id, err := o.Enqueue(protocol.KindChatSend, map[string]any{"text": "hi"})
	require.NoError(t, err)

	// An ACK can arrive for an item never marked pending locally (e.g. the
	// process restarted its pending table); the queue entry still retires.
	assert.True(t, o.Ack(id))
	assert.Equal(t, 0, o.Len())
}

func TestUnknownKindGetsLowestPriority(t *testing.T) {
	o := NewOutbox(DefaultResendAfter)
	now := time.Unix(1_700_000_000, 0)

	_, err := o.Enqueue(protocol.Kind("VITALS"), map[string]any{"heartRate": 90})
	require.NoError(t, err)
	chatID, err := o.Enqueue(protocol.KindChatSend, map[string]any{"text": "hi"})
	require.NoError(t, err)

	assert.Equal(t, chatID, o.NextSend(now).MsgID)
}
