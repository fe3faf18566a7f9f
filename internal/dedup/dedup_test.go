package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestWindow(ttl time.Duration) (*Window, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	w := NewWindow(ttl, zap.NewNop())
	w.now = func() time.Time { return now }
	return w, &now
}

func TestMarkIfNew(t *testing.T) {
	w, _ := newTestWindow(15 * time.Minute)

	assert.True(t, w.MarkIfNew("I1", "m1"))
	assert.False(t, w.MarkIfNew("I1", "m1"))
	assert.True(t, w.MarkIfNew("I1", "m2"))

	// Identifiers are scoped per incident.
	assert.True(t, w.MarkIfNew("I2", "m1"))
	assert.Equal(t, 2, w.Len("I1"))
	assert.Equal(t, 1, w.Len("I2"))
}

func TestExpiredEntryIsTreatedAsNew(t *testing.T) {
	w, now := newTestWindow(15 * time.Minute)

	assert.True(t, w.MarkIfNew("I1", "m1"))
	*now = now.Add(14 * time.Minute)
	assert.False(t, w.MarkIfNew("I1", "m1"))

	// Past the window the same identifier is new intent again.
	*now = now.Add(2 * time.Minute)
	assert.True(t, w.MarkIfNew("I1", "m1"))
}

func TestSweep(t *testing.T) {
	w, now := newTestWindow(15 * time.Minute)

	w.MarkIfNew("I1", "m1")
	w.MarkIfNew("I1", "m2")
	*now = now.Add(10 * time.Minute)
	w.MarkIfNew("I1", "m3")

	*now = now.Add(6 * time.Minute) // m1, m2 now 16m old; m3 6m old
	assert.Equal(t, 2, w.Sweep())
	assert.Equal(t, 1, w.Len("I1"))

	// A fully expired incident map is removed outright.
	*now = now.Add(16 * time.Minute)
	assert.Equal(t, 1, w.Sweep())
	assert.Equal(t, 0, w.Len("I1"))
	assert.Equal(t, 0, w.Sweep())
}
