package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firelinehq/fireline/internal/protocol"
)

func mustFrame(t *testing.T, raw string) *protocol.Frame {
	t.Helper()
	f, err := protocol.Decode([]byte(raw))
	require.NoError(t, err)
	return f
}

func TestSnapshotReplacesWholesale(t *testing.T) {
	v := NewView("I1", "A")
	v.Apply(mustFrame(t, `{"type":"LOCATION_UPDATE","responderId":"stale","lat":1,"lng":1,"at":1}`))

	v.Apply(mustFrame(t, `{
		"type":"INCIDENT_SNAPSHOT","incidentId":"I1",
		"responders":["A","B"],
		"locations":{"B":{"lat":37,"lng":-122,"accuracy":8,"at":2000}},
		"sos":{"B":{"note":"trapped","at":1500}},
		"at":2500}`))

	st := v.State()
	assert.Equal(t, []string{"A", "B"}, st.Responders)
	assert.NotContains(t, st.Locations, "stale")
	require.Contains(t, st.Locations, "B")
	assert.Equal(t, 37.0, st.Locations["B"].Lat)
	require.NotNil(t, st.Locations["B"].Accuracy)
	assert.Equal(t, 8.0, *st.Locations["B"].Accuracy)
	require.Contains(t, st.Sos, "B")
	assert.Equal(t, int64(1500), st.Sos["B"].At)
}

func TestIncrementalUpdates(t *testing.T) {
	v := NewView("I1", "A")
	v.Apply(mustFrame(t, `{"type":"INCIDENT_SNAPSHOT","incidentId":"I1","responders":["A","B"],"locations":{},"sos":{},"at":1}`))

	v.Apply(mustFrame(t, `{"type":"LOCATION_UPDATE","msgId":"L1","incidentId":"I1","responderId":"B","lat":37,"lng":-122,"at":2}`))
	v.Apply(mustFrame(t, `{"type":"SOS_RAISE","msgId":"s1","incidentId":"I1","responderId":"B","note":"trapped","at":3}`))

	st := v.State()
	assert.Equal(t, -122.0, st.Locations["B"].Lng)
	assert.Equal(t, "trapped", st.Sos["B"].Note)

	v.Apply(mustFrame(t, `{"type":"SOS_CLEAR","msgId":"s2","incidentId":"I1","responderId":"B","at":4}`))
	assert.NotContains(t, v.State().Sos, "B")

	v.Apply(mustFrame(t, `{"type":"PRESENCE_LEAVE","incidentId":"I1","responderId":"B","at":5}`))
	st = v.State()
	assert.Equal(t, []string{"A"}, st.Responders)
	// Last-known location is kept for the UI even after the leave.
	assert.Contains(t, st.Locations, "B")
}

func TestSelfEchoIsIdempotent(t *testing.T) {
	v := NewView("I1", "A")
	echo := `{"type":"SOS_RAISE","msgId":"s1","incidentId":"I1","responderId":"A","note":"trapped","at":3}`
	v.Apply(mustFrame(t, echo))
	v.Apply(mustFrame(t, echo))

	st := v.State()
	assert.Equal(t, []string{"A"}, st.Responders)
	require.Contains(t, st.Sos, "A")
	assert.Equal(t, int64(3), st.Sos["A"].At)
}

func TestDisconnectPreservesCollections(t *testing.T) {
	v := NewView("I1", "A")
	v.Apply(mustFrame(t, `{"type":"INCIDENT_SNAPSHOT","incidentId":"I1","responders":["A"],"locations":{"A":{"lat":1,"lng":2,"at":1}},"sos":{},"at":1}`))

	v.SetStatus(StatusDisconnected)
	st := v.State()
	assert.Equal(t, StatusDisconnected, st.Status)
	assert.Equal(t, "I1", st.IncidentID)
	assert.Equal(t, "A", st.ResponderID)
	assert.Contains(t, st.Locations, "A")
}

func TestUnknownResponderIsAddedOnActivity(t *testing.T) {
	v := NewView("I1", "A")
	v.Apply(mustFrame(t, `{"type":"LOCATION_UPDATE","msgId":"L1","incidentId":"I1","responderId":"C","lat":3,"lng":4,"at":9}`))

	st := v.State()
	assert.Contains(t, st.Responders, "C")
	assert.Contains(t, st.Locations, "C")
}
