// Package state implements the in-memory incident store: rooms of live
// connections, per-connection bindings, last-known responder locations,
// and active SOS flags. All exported methods are safe for concurrent use.
package state

import (
	"sync"

	"github.com/firelinehq/fireline/internal/protocol"
)

// Peer is the dispatcher's handle for one live connection. The store uses
// it only as an identity key and as the fan-out target for broadcasts.
type Peer interface {
	// WriteFrame enqueues a frame for delivery. It must not block; a full
	// peer buffer drops the frame (the peer recovers via snapshot on
	// reconnect).
	WriteFrame(data []byte)
}

// Meta is the identity a connection acquired at handshake.
type Meta struct {
	IncidentID  string
	ResponderID string
}

// Store holds all runtime state for the edge node.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]map[Peer]struct{}
	meta  map[Peer]Meta
	// Keyed by responderId, independent of connection liveness, so a
	// reconnecting responder recovers state without replay.
	locations map[string]protocol.Location
	// incidentId → responderId → active SOS.
	sos map[string]map[string]protocol.SosState
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		rooms:     make(map[string]map[Peer]struct{}),
		meta:      make(map[Peer]Meta),
		locations: make(map[string]protocol.Location),
		sos:       make(map[string]map[string]protocol.SosState),
	}
}

// ── Rooms & presence ──────────────────────────────────────────────────────

// AddConnection binds p to (incidentID, responderID), creating the room on
// first join. A prior binding of the same responder stays in place until
// its own connection closes.
func (s *Store) AddConnection(p Peer, incidentID, responderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[incidentID]
	if !ok {
		room = make(map[Peer]struct{})
		s.rooms[incidentID] = room
	}
	room[p] = struct{}{}
	s.meta[p] = Meta{IncidentID: incidentID, ResponderID: responderID}
}

// RemoveConnection unbinds p and returns its identity. A room with zero
// connections is deleted.
func (s *Store) RemoveConnection(p Peer) (Meta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[p]
	if !ok {
		return Meta{}, false
	}
	delete(s.meta, p)
	if room, ok := s.rooms[m.IncidentID]; ok {
		delete(room, p)
		if len(room) == 0 {
			delete(s.rooms, m.IncidentID)
		}
	}
	return m, true
}

// ConnectionsIn returns a snapshot of the room's live connections.
func (s *Store) ConnectionsIn(incidentID string) []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room := s.rooms[incidentID]
	out := make([]Peer, 0, len(room))
	for p := range room {
		out = append(out, p)
	}
	return out
}

// ResponderIDsIn returns the responders with a live connection in the room.
// Membership is derived from the connection set, so it reflects presence.
func (s *Store) ResponderIDsIn(incidentID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room := s.rooms[incidentID]
	seen := make(map[string]struct{}, len(room))
	out := make([]string, 0, len(room))
	for p := range room {
		rid := s.meta[p].ResponderID
		if _, dup := seen[rid]; dup {
			continue
		}
		seen[rid] = struct{}{}
		out = append(out, rid)
	}
	return out
}

// ── Locations ─────────────────────────────────────────────────────────────

// SetLocation records the responder's last-known position. Callers validate
// coordinates before storing; the store does not re-check.
func (s *Store) SetLocation(responderID string, loc protocol.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[responderID] = loc
}

// LocationsFor returns locations for responders currently present in the
// room that have one stored.
func (s *Store) LocationsFor(incidentID string) map[string]protocol.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]protocol.Location)
	for p := range s.rooms[incidentID] {
		rid := s.meta[p].ResponderID
		if loc, ok := s.locations[rid]; ok {
			out[rid] = loc
		}
	}
	return out
}

// LocationOf returns the responder's last-known location, if any.
func (s *Store) LocationOf(responderID string) (protocol.Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[responderID]
	return loc, ok
}

// ── SOS ───────────────────────────────────────────────────────────────────

// RaiseSos marks the responder as raising SOS in the incident, overwriting
// any prior SOS.
func (s *Store) RaiseSos(incidentID, responderID string, sos protocol.SosState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byResponder, ok := s.sos[incidentID]
	if !ok {
		byResponder = make(map[string]protocol.SosState)
		s.sos[incidentID] = byResponder
	}
	byResponder[responderID] = sos
}

// ClearSos removes the responder's SOS; an emptied incident map is dropped.
func (s *Store) ClearSos(incidentID, responderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byResponder, ok := s.sos[incidentID]
	if !ok {
		return
	}
	delete(byResponder, responderID)
	if len(byResponder) == 0 {
		delete(s.sos, incidentID)
	}
}

// SosFor returns a copy of the incident's active SOS map.
func (s *Store) SosFor(incidentID string) map[string]protocol.SosState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]protocol.SosState, len(s.sos[incidentID]))
	for rid, sos := range s.sos[incidentID] {
		out[rid] = sos
	}
	return out
}

// ── Metrics ───────────────────────────────────────────────────────────────

// Counts returns the number of active incidents and live connections, for
// the status endpoint.
func (s *Store) Counts() (incidents, connections int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), len(s.meta)
}
