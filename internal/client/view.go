package client

import (
	"sync"

	"github.com/firelinehq/fireline/internal/protocol"
)

// Status is the connection status surfaced to the UI.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// ViewState is one observable copy of the incident view.
type ViewState struct {
	Status      Status
	IncidentID  string
	ResponderID string
	Responders  []string
	Locations   map[string]protocol.Location
	Sos         map[string]protocol.SosState
}

// View merges server snapshots and incremental broadcasts into local
// observable state. On disconnect it keeps the last-known collections so
// the UI can show stale-but-useful data.
type View struct {
	mu          sync.RWMutex
	status      Status
	incidentID  string
	responderID string
	responders  []string
	locations   map[string]protocol.Location
	sos         map[string]protocol.SosState
}

// NewView creates a disconnected View bound to an identity.
func NewView(incidentID, responderID string) *View {
	return &View{
		status:      StatusDisconnected,
		incidentID:  incidentID,
		responderID: responderID,
		locations:   make(map[string]protocol.Location),
		sos:         make(map[string]protocol.SosState),
	}
}

// SetStatus records a connection status transition.
func (v *View) SetStatus(s Status) {
	v.mu.Lock()
	v.status = s
	v.mu.Unlock()
}

// Apply folds one server frame into the view. Self-echoes are idempotent
// with respect to prior local application.
func (v *View) Apply(f *protocol.Frame) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch f.Type {
	case protocol.KindIncidentSnapshot:
		v.applySnapshot(f)
	case protocol.KindLocationUpdate:
		rid, _ := f.Str("responderId")
		lat, latOK := f.Num("lat")
		lng, lngOK := f.Num("lng")
		if rid == "" || !latOK || !lngOK {
			return
		}
		loc := protocol.Location{Lat: lat, Lng: lng}
		if acc, ok := f.Num("accuracy"); ok {
			loc.Accuracy = &acc
		}
		if at, ok := f.Num("at"); ok {
			loc.At = int64(at)
		}
		v.locations[rid] = loc
		v.ensureResponder(rid)
	case protocol.KindSosRaise:
		rid, _ := f.Str("responderId")
		if rid == "" {
			return
		}
		note, _ := f.Str("note")
		sos := protocol.SosState{Note: note}
		if at, ok := f.Num("at"); ok {
			sos.At = int64(at)
		}
		v.sos[rid] = sos
		v.ensureResponder(rid)
	case protocol.KindSosClear:
		if rid, _ := f.Str("responderId"); rid != "" {
			delete(v.sos, rid)
		}
	case protocol.KindPresenceLeave:
		rid, _ := f.Str("responderId")
		for i, r := range v.responders {
			if r == rid {
				v.responders = append(v.responders[:i], v.responders[i+1:]...)
				break
			}
		}
	}
}

// State returns a copy of the current view.
func (v *View) State() ViewState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	st := ViewState{
		Status:      v.status,
		IncidentID:  v.incidentID,
		ResponderID: v.responderID,
		Responders:  append([]string(nil), v.responders...),
		Locations:   make(map[string]protocol.Location, len(v.locations)),
		Sos:         make(map[string]protocol.SosState, len(v.sos)),
	}
	for k, loc := range v.locations {
		st.Locations[k] = loc
	}
	for k, sos := range v.sos {
		st.Sos[k] = sos
	}
	return st
}

func (v *View) applySnapshot(f *protocol.Frame) {
	// The snapshot replaces the collections wholesale.
	v.responders = v.responders[:0]
	if list, ok := f.Fields["responders"].([]any); ok {
		for _, r := range list {
			if rid, ok := r.(string); ok {
				v.responders = append(v.responders, rid)
			}
		}
	}
	v.locations = make(map[string]protocol.Location)
	if locs, ok := f.Fields["locations"].(map[string]any); ok {
		for rid, raw := range locs {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			loc := protocol.Location{}
			if lat, ok := m["lat"].(float64); ok {
				loc.Lat = lat
			}
			if lng, ok := m["lng"].(float64); ok {
				loc.Lng = lng
			}
			if acc, ok := m["accuracy"].(float64); ok {
				loc.Accuracy = &acc
			}
			if at, ok := m["at"].(float64); ok {
				loc.At = int64(at)
			}
			v.locations[rid] = loc
		}
	}
	v.sos = make(map[string]protocol.SosState)
	if entries, ok := f.Fields["sos"].(map[string]any); ok {
		for rid, raw := range entries {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			sos := protocol.SosState{}
			if note, ok := m["note"].(string); ok {
				sos.Note = note
			}
			if at, ok := m["at"].(float64); ok {
				sos.At = int64(at)
			}
			v.sos[rid] = sos
		}
	}
}

func (v *View) ensureResponder(rid string) {
	for _, r := range v.responders {
		if r == rid {
			return
		}
	}
	v.responders = append(v.responders, rid)
}
