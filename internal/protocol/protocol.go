// Package protocol implements the Fireline wire envelope: JSON text frames
// with a mandatory "type" discriminator, decoded leniently so that unknown
// message kinds can be relayed without loss.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Kind discriminates the envelope of a frame.
type Kind string

const (
	KindClientHello      Kind = "CLIENT_HELLO"
	KindAck              Kind = "ACK"
	KindAckMsg           Kind = "ACK_MSG"
	KindError            Kind = "ERROR"
	KindIncidentSnapshot Kind = "INCIDENT_SNAPSHOT"
	KindLocationUpdate   Kind = "LOCATION_UPDATE"
	KindSosRaise         Kind = "SOS_RAISE"
	KindSosClear         Kind = "SOS_CLEAR"
	KindChatSend         Kind = "CHAT_SEND"
	KindPresenceLeave    Kind = "PRESENCE_LEAVE"
)

// Location is a responder's last reported position. At is server epoch
// milliseconds at the moment the update was accepted.
type Location struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	At       int64    `json:"at"`
}

// SosState is an active SOS raised by a responder within one incident.
type SosState struct {
	Note string `json:"note,omitempty"`
	At   int64  `json:"at"`
}

// Frame is one decoded inbound message. Fields holds the full decoded
// object so handlers can pick typed values and relays can re-emit
// everything they did not understand.
type Frame struct {
	Type   Kind
	MsgID  string
	Fields map[string]any
}

// Decode parses a text frame into a Frame. It validates only the envelope:
// the payload must be a JSON object with a non-empty string "type".
func Decode(data []byte) (*Frame, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("protocol: decode: %w", err)
	}
	t, _ := m["type"].(string)
	if t == "" {
		return nil, errors.New("protocol: missing type")
	}
	id, _ := m["msgId"].(string)
	return &Frame{Type: Kind(t), MsgID: id, Fields: m}, nil
}

// Str returns the string value under key, and whether it was a string.
func (f *Frame) Str(key string) (string, bool) {
	s, ok := f.Fields[key].(string)
	return s, ok
}

// Num returns the numeric value under key, and whether it was a number.
func (f *Frame) Num(key string) (float64, bool) {
	n, ok := f.Fields[key].(float64)
	return n, ok
}

// ValidCoords reports whether lat/lng form a usable WGS84 coordinate.
func ValidCoords(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// ── Server-emitted frames ─────────────────────────────────────────────────

// Ack confirms a successful handshake.
type Ack struct {
	Type       Kind   `json:"type"`
	Message    string `json:"message"`
	IncidentID string `json:"incidentId"`
	At         int64  `json:"at"`
}

// AckMsg acknowledges one data message by its client-generated identifier.
type AckMsg struct {
	Type  Kind   `json:"type"`
	MsgID string `json:"msgId"`
	At    int64  `json:"at"`
}

// ErrorFrame reports a protocol or validation failure to the offender only.
type ErrorFrame struct {
	Type  Kind   `json:"type"`
	Error string `json:"error"`
	At    int64  `json:"at"`
}

// Snapshot is the authoritative room view sent to a joiner.
type Snapshot struct {
	Type       Kind                `json:"type"`
	IncidentID string              `json:"incidentId"`
	Responders []string            `json:"responders"`
	Locations  map[string]Location `json:"locations"`
	Sos        map[string]SosState `json:"sos"`
	At         int64               `json:"at"`
}

// PresenceLeave announces that a responder's connection closed. It carries
// no msgId and is not subject to deduplication.
type PresenceLeave struct {
	Type        Kind   `json:"type"`
	IncidentID  string `json:"incidentId"`
	ResponderID string `json:"responderId"`
	At          int64  `json:"at"`
}

// LocationBroadcast relays an accepted location update to the room.
type LocationBroadcast struct {
	Type        Kind     `json:"type"`
	MsgID       string   `json:"msgId"`
	IncidentID  string   `json:"incidentId"`
	ResponderID string   `json:"responderId"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Accuracy    *float64 `json:"accuracy,omitempty"`
	At          int64    `json:"at"`
}

// SosBroadcast relays an SOS_RAISE or SOS_CLEAR to the room.
type SosBroadcast struct {
	Type        Kind   `json:"type"`
	MsgID       string `json:"msgId"`
	IncidentID  string `json:"incidentId"`
	ResponderID string `json:"responderId"`
	Note        string `json:"note,omitempty"`
	At          int64  `json:"at"`
}

// ChatBroadcast relays a chat line to the room.
type ChatBroadcast struct {
	Type       Kind   `json:"type"`
	MsgID      string `json:"msgId"`
	IncidentID string `json:"incidentId"`
	From       string `json:"from"`
	Text       string `json:"text"`
	At         int64  `json:"at"`
}

// Encode marshals any server frame. Marshalling these fixed shapes cannot
// fail in practice; an error here indicates a programming bug upstream.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return data, nil
}
