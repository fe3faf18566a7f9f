package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		kind    Kind
		msgID   string
	}{
		{
			name:  "chat frame",
			raw:   `{"type":"CHAT_SEND","msgId":"m1","text":"hi"}`,
			kind:  KindChatSend,
			msgID: "m1",
		},
		{
			name: "hello has no msgId",
			raw:  `{"type":"CLIENT_HELLO","incidentId":"I1","responderId":"A"}`,
			kind: KindClientHello,
		},
		{
			name: "unknown kind is preserved",
			raw:  `{"type":"CUSTOM_PING","msgId":"m2","nonce":7}`,
			kind:  Kind("CUSTOM_PING"),
			msgID: "m2",
		},
		{
			name:    "malformed json",
			raw:     `{"type":`,
			wantErr: true,
		},
		{
			name:    "missing type",
			raw:     `{"msgId":"m1"}`,
			wantErr: true,
		},
		{
			name:    "non-string type",
			raw:     `{"type":42}`,
			wantErr: true,
		},
		{
			name:    "non-object payload",
			raw:     `[1,2,3]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, f.Type)
			assert.Equal(t, tt.msgID, f.MsgID)
		})
	}
}

func TestFrameFieldHelpers(t *testing.T) {
	f, err := Decode([]byte(`{"type":"LOCATION_UPDATE","msgId":"L1","lat":37.5,"lng":-122.1,"note":3}`))
	require.NoError(t, err)

	lat, ok := f.Num("lat")
	require.True(t, ok)
	assert.Equal(t, 37.5, lat)

	_, ok = f.Num("missing")
	assert.False(t, ok)

	// A numeric value is not a string.
	_, ok = f.Str("note")
	assert.False(t, ok)

	id, ok := f.Str("msgId")
	require.True(t, ok)
	assert.Equal(t, "L1", id)
}

func TestValidCoords(t *testing.T) {
	assert.True(t, ValidCoords(0, 0))
	assert.True(t, ValidCoords(-90, 180))
	assert.True(t, ValidCoords(90, -180))
	assert.False(t, ValidCoords(90.0001, 0))
	assert.False(t, ValidCoords(0, -180.5))
	assert.False(t, ValidCoords(200, 0))
}
