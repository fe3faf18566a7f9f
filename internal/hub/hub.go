// Package hub implements the protocol dispatcher: the per-connection
// handshake state machine, data message handlers, room fan-out, and
// disconnect cleanup.
package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/firelinehq/fireline/internal/dedup"
	"github.com/firelinehq/fireline/internal/protocol"
	"github.com/firelinehq/fireline/internal/state"
)

// Hub coordinates all live connections against the incident store.
type Hub struct {
	log    *zap.Logger
	store  *state.Store
	window *dedup.Window
	now    func() time.Time
}

// New constructs a Hub over the given store and dedup window.
func New(store *state.Store, window *dedup.Window, log *zap.Logger) *Hub {
	return &Hub{
		log:    log,
		store:  store,
		window: window,
		now:    time.Now,
	}
}

// ServeConn runs the session loops for one upgraded connection and blocks
// until the connection closes.
func (h *Hub) ServeConn(conn *websocket.Conn) {
	s := newSession(h, conn)
	go s.writeLoop()
	s.readLoop()
}

// drop removes a closed connection from its room and announces the leave.
func (h *Hub) drop(s *session) {
	s.once.Do(func() { close(s.done) })
	meta, ok := h.store.RemoveConnection(s)
	if !ok {
		return
	}
	h.log.Info("responder left",
		zap.String("incident", meta.IncidentID),
		zap.String("responder", meta.ResponderID))
	h.broadcast(meta.IncidentID, protocol.PresenceLeave{
		Type:        protocol.KindPresenceLeave,
		IncidentID:  meta.IncidentID,
		ResponderID: meta.ResponderID,
		At:          h.now().UnixMilli(),
	})
}

// dispatch routes one inbound frame through the handshake state machine.
// Message-level failures reply ERROR to the offender and never close the
// connection.
func (h *Hub) dispatch(s *session, data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		s.sendError("Invalid message")
		return
	}
	if !s.joined {
		if f.Type != protocol.KindClientHello {
			s.sendError("Must send CLIENT_HELLO first")
			return
		}
		h.handleHello(s, f)
		return
	}
	if f.Type == protocol.KindClientHello {
		s.sendError("Already joined")
		return
	}
	h.handleData(s, f)
}

func (h *Hub) handleHello(s *session, f *protocol.Frame) {
	incidentID, _ := f.Str("incidentId")
	responderID, _ := f.Str("responderId")
	if incidentID == "" || responderID == "" {
		s.sendError("Missing incidentId or responderId")
		return
	}
	s.joined = true
	s.incidentID = incidentID
	s.responderID = responderID
	h.store.AddConnection(s, incidentID, responderID)
	h.log.Info("responder joined",
		zap.String("incident", incidentID),
		zap.String("responder", responderID))

	at := h.now().UnixMilli()
	s.sendFrame(protocol.Ack{
		Type:       protocol.KindAck,
		Message:    "Joined incident",
		IncidentID: incidentID,
		At:         at,
	})
	s.sendFrame(protocol.Snapshot{
		Type:       protocol.KindIncidentSnapshot,
		IncidentID: incidentID,
		Responders: h.store.ResponderIDsIn(incidentID),
		Locations:  h.store.LocationsFor(incidentID),
		Sos:        h.store.SosFor(incidentID),
		At:         at,
	})
}

// handleData applies the mark-then-ACK discipline: the msgId is consumed
// and acknowledged before validation, so a retry of a rejected message is
// suppressed rather than re-reported.
func (h *Hub) handleData(s *session, f *protocol.Frame) {
	if f.MsgID == "" {
		s.sendError("Missing msgId")
		return
	}
	first := h.window.MarkIfNew(s.incidentID, f.MsgID)
	s.sendFrame(protocol.AckMsg{
		Type:  protocol.KindAckMsg,
		MsgID: f.MsgID,
		At:    h.now().UnixMilli(),
	})
	if !first {
		return
	}

	switch f.Type {
	case protocol.KindLocationUpdate:
		h.handleLocation(s, f)
	case protocol.KindSosRaise:
		h.handleSosRaise(s, f)
	case protocol.KindSosClear:
		h.handleSosClear(s, f)
	case protocol.KindChatSend:
		h.handleChat(s, f)
	default:
		h.relay(s, f)
	}
}

func (h *Hub) handleLocation(s *session, f *protocol.Frame) {
	lat, latOK := f.Num("lat")
	lng, lngOK := f.Num("lng")
	if !latOK || !lngOK || !protocol.ValidCoords(lat, lng) {
		s.sendError("Invalid coordinates")
		return
	}
	var accuracy *float64
	if acc, ok := f.Num("accuracy"); ok {
		accuracy = &acc
	}
	at := h.now().UnixMilli()
	h.store.SetLocation(s.responderID, protocol.Location{
		Lat: lat, Lng: lng, Accuracy: accuracy, At: at,
	})
	h.broadcast(s.incidentID, protocol.LocationBroadcast{
		Type:        protocol.KindLocationUpdate,
		MsgID:       f.MsgID,
		IncidentID:  s.incidentID,
		ResponderID: s.responderID,
		Lat:         lat,
		Lng:         lng,
		Accuracy:    accuracy,
		At:          at,
	})
}

func (h *Hub) handleSosRaise(s *session, f *protocol.Frame) {
	note, _ := f.Str("note")
	at := h.now().UnixMilli()
	h.store.RaiseSos(s.incidentID, s.responderID, protocol.SosState{Note: note, At: at})
	h.log.Warn("sos raised",
		zap.String("incident", s.incidentID),
		zap.String("responder", s.responderID))
	h.broadcast(s.incidentID, protocol.SosBroadcast{
		Type:        protocol.KindSosRaise,
		MsgID:       f.MsgID,
		IncidentID:  s.incidentID,
		ResponderID: s.responderID,
		Note:        note,
		At:          at,
	})
}

func (h *Hub) handleSosClear(s *session, f *protocol.Frame) {
	at := h.now().UnixMilli()
	h.store.ClearSos(s.incidentID, s.responderID)
	h.log.Info("sos cleared",
		zap.String("incident", s.incidentID),
		zap.String("responder", s.responderID))
	h.broadcast(s.incidentID, protocol.SosBroadcast{
		Type:        protocol.KindSosClear,
		MsgID:       f.MsgID,
		IncidentID:  s.incidentID,
		ResponderID: s.responderID,
		At:          at,
	})
}

func (h *Hub) handleChat(s *session, f *protocol.Frame) {
	text, ok := f.Str("text")
	if !ok || text == "" {
		s.sendError("Missing text")
		return
	}
	h.broadcast(s.incidentID, protocol.ChatBroadcast{
		Type:       protocol.KindChatSend,
		MsgID:      f.MsgID,
		IncidentID: s.incidentID,
		From:       s.responderID,
		Text:       text,
		At:         h.now().UnixMilli(),
	})
}

// relay forwards an unrecognized kind to the room. The server overwrites
// incidentId and from so a client cannot spoof authority fields.
func (h *Hub) relay(s *session, f *protocol.Frame) {
	out := make(map[string]any, len(f.Fields)+3)
	for k, v := range f.Fields {
		out[k] = v
	}
	out["incidentId"] = s.incidentID
	out["from"] = s.responderID
	out["at"] = h.now().UnixMilli()
	h.broadcast(s.incidentID, out)
}

// broadcast fans a frame out to every live connection in the room,
// including the sender. The sender retires its outbox item on ACK_MSG, so
// the self-echo is informational.
func (h *Hub) broadcast(incidentID string, v any) {
	data, err := protocol.Encode(v)
	if err != nil {
		h.log.Error("hub: encode broadcast", zap.Error(err))
		return
	}
	for _, p := range h.store.ConnectionsIn(incidentID) {
		p.WriteFrame(data)
	}
}

func (s *session) sendFrame(v any) {
	data, err := protocol.Encode(v)
	if err != nil {
		s.h.log.Error("hub: encode frame", zap.Error(err))
		return
	}
	s.WriteFrame(data)
}

func (s *session) sendError(msg string) {
	s.sendFrame(protocol.ErrorFrame{
		Type:  protocol.KindError,
		Error: msg,
		At:    s.h.now().UnixMilli(),
	})
}
