package ws

import (
	"context"
	"errors"
	"time"

	"tutorcall/internal/model"
	"tutorcall/internal/registry"
	"tutorcall/internal/service"
	"tutorcall/internal/signal"

	"github.com/rs/zerolog/log"
)

// CallLifecycle is the slice of service.Lifecycle the relay drives
type CallLifecycle interface {
	Start(ctx context.Context, sessionID string) (service.Transition, error)
	End(ctx context.Context, sessionID string) (service.Transition, error)
	Cancel(ctx context.Context, sessionID string) (service.Transition, error)
	State(ctx context.Context, sessionID string) (*model.CallState, error)
}

// Config tunes the relay
type Config struct {
	RoomMaxAge     time.Duration
	SweepInterval  time.Duration
	ReconnectGrace time.Duration
	PersistTimeout time.Duration
}

type connState int

const (
	stateUnauthenticated connState = iota
	stateJoining
	stateAdmitted
	stateLeaving
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateJoining:
		return "joining"
	case stateAdmitted:
		return "admitted"
	case stateLeaving:
		return "leaving"
	}
	return "closed"
}

// Connection is one websocket. Everything but Send is owned by the hub loop.
type Connection struct {
	ID   string
	Send chan []byte

	state     connState
	roomID    string
	sessionID string
	identity  string
	userType  model.UserType
	closed    bool
}

type inboundFrame struct {
	conn *Connection
	typ  signal.EventType
	msg  any
	err  error
}

type command struct {
	fn   func()
	done chan struct{}
}

// Hub is the signaling relay. One goroutine (Run) owns dispatch: inbound
// frames, connection close, HTTP-side commands and the periodic sweep are all
// processed in that loop, in arrival order.
type Hub struct {
	registry  *registry.Registry
	lifecycle CallLifecycle
	cfg       Config
	now       func() time.Time

	conns map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	inbound    chan inboundFrame
	commands   chan command
	done       chan struct{}
}

// NewHub creates a relay hub; call Run to start its loop
func NewHub(reg *registry.Registry, lifecycle CallLifecycle, cfg Config, clock func() time.Time) *Hub {
	if clock == nil {
		clock = time.Now
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &Hub{
		registry:   reg,
		lifecycle:  lifecycle,
		cfg:        cfg,
		now:        clock,
		conns:      make(map[string]*Connection),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		inbound:    make(chan inboundFrame),
		commands:   make(chan command),
		done:       make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	var sweep <-chan time.Time
	if h.cfg.SweepInterval > 0 {
		ticker := time.NewTicker(h.cfg.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			for _, c := range h.conns {
				h.closeConn(c)
			}
			log.Info().Str("module", "relay").Msg("hub stopped")
			return nil

		case c := <-h.register:
			h.conns[c.ID] = c
			log.Debug().Str("module", "relay").Str("conn_id", c.ID).Msg("connection registered")

		case c := <-h.unregister:
			h.handleClose(c)

		case f := <-h.inbound:
			h.dispatch(f)

		case cmd := <-h.commands:
			cmd.fn()
			close(cmd.done)

		case <-sweep:
			h.Sweep()
		}
	}
}

// Register adds a connection
func (h *Hub) Register(c *Connection) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister removes a connection
func (h *Hub) Unregister(c *Connection) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) deliver(f inboundFrame) {
	select {
	case h.inbound <- f:
	case <-h.done:
	}
}

// exec runs fn on the hub loop and waits for it
func (h *Hub) exec(ctx context.Context, fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case h.commands <- cmd:
	case <-h.done:
		return errors.New("relay stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-h.done:
		return errors.New("relay stopped")
	}
}

func (h *Hub) dispatch(f inboundFrame) {
	c := f.conn
	if c.closed {
		return
	}
	if f.err != nil {
		log.Warn().Err(f.err).Str("module", "relay").Str("conn_id", c.ID).Str("type", string(f.typ)).Msg("malformed message")
		h.sendError(c, signal.CodeBadPayload, f.err.Error())
		return
	}

	switch m := f.msg.(type) {
	case signal.JoinRoom:
		h.handleJoin(c, m)
	case signal.ReconnectAttempt:
		h.handleReconnect(c, m)
	default:
		if c.state != stateAdmitted {
			log.Debug().Str("module", "relay").Str("conn_id", c.ID).Stringer("state", c.state).
				Str("type", string(f.typ)).Msg("message before admission")
			h.sendError(c, signal.CodeNotAdmitted, "join a room first")
			return
		}
		h.handleAdmitted(c, f.typ, f.msg)
	}
}

func (h *Hub) handleAdmitted(c *Connection, typ signal.EventType, msg any) {
	switch m := msg.(type) {
	case signal.Description:
		h.relayTo(c, m.TargetConnectionID, typ, signal.RelayedDescription{SenderConnectionID: c.ID, SDP: m.SDP})
	case signal.Candidate:
		h.relayTo(c, m.TargetConnectionID, typ, signal.RelayedCandidate{SenderConnectionID: c.ID, Candidate: m.Candidate})
	case signal.ToggleAudio:
		h.broadcastRoom(c.roomID, c.ID, typ, signal.MediaToggle{SenderConnectionID: c.ID, ParticipantID: c.identity, IsMuted: &m.IsMuted})
	case signal.ToggleVideo:
		h.broadcastRoom(c.roomID, c.ID, typ, signal.MediaToggle{SenderConnectionID: c.ID, ParticipantID: c.identity, IsVideoOff: &m.IsVideoOff})
	case signal.ScreenShare:
		h.broadcastRoom(c.roomID, c.ID, typ, signal.MediaToggle{SenderConnectionID: c.ID, ParticipantID: c.identity, IsSharing: &m.IsSharing})
	case signal.ChatMessage:
		h.broadcastRoom(c.roomID, c.ID, typ, signal.RelayedChat{
			ID:                 newID(),
			SenderConnectionID: c.ID,
			ParticipantID:      c.identity,
			UserType:           c.userType,
			Text:               m.Text,
			Timestamp:          h.now().UTC(),
		})
	case signal.ConnectionState:
		h.broadcastRoom(c.roomID, c.ID, typ, signal.RelayedConnectionState{SenderConnectionID: c.ID, ParticipantID: c.identity, State: m.State})
	case signal.EndCall:
		if _, err := h.endRoom(c.roomID, c.sessionID, c.identity, signal.ReasonEnded, false); err != nil {
			h.sendError(c, signal.CodeInternal, "could not end the call, try again")
		}
	case signal.LeaveRoom:
		if err := h.leave(c.roomID, c.identity, signal.ReasonLeft); err != nil {
			h.sendError(c, signal.CodeInternal, "could not leave the call, try again")
		}
	}
}

// ---- admission ----

func (h *Hub) handleJoin(c *Connection, m signal.JoinRoom) {
	if c.state == stateAdmitted {
		h.sendError(c, signal.CodeAlreadyJoined, "connection already joined a room")
		return
	}

	userType, _ := model.ParseUserType(string(m.UserType))
	p, err := h.registry.Validate(m.RoomID, m.ParticipantID, m.AccessToken)
	if err == nil && p.UserType != userType {
		err = registry.ErrInvalidCredentials
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("conn_id", c.ID).Str("room_id", m.RoomID).
			Str("participant_id", m.ParticipantID).Msg("join rejected")
		h.sendError(c, errorCode(err), err.Error())
		return
	}
	h.admit(c, m.RoomID, p, false)
}

// handleReconnect re-binds a participant. It is accepted on the socket that
// already carries the participant too: the peer connection may fail while the
// signaling socket survives, and the peers renegotiate either way.
func (h *Hub) handleReconnect(c *Connection, m signal.ReconnectAttempt) {
	if c.state == stateAdmitted && (c.roomID != m.RoomID || c.identity != m.ParticipantID) {
		h.sendError(c, signal.CodeAlreadyJoined, "connection already joined a room")
		return
	}

	// a rejected attempt leaves the connection in whatever state it had
	p, err := h.registry.Validate(m.RoomID, m.ParticipantID, m.AccessToken)
	if err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("conn_id", c.ID).Str("room_id", m.RoomID).
			Str("participant_id", m.ParticipantID).Msg("reconnect rejected")
		h.sendError(c, errorCode(err), err.Error())
		return
	}
	h.admit(c, m.RoomID, p, true)
}

// admit binds c to the participant and assigns negotiation roles: a
// participant arriving while its peer is live answers, the peer offers.
func (h *Hub) admit(c *Connection, roomID string, p registry.Participant, reconnect bool) {
	peers := h.livePeers(roomID, p.Identity)

	prior := c.state
	if prior != stateAdmitted {
		c.state = stateJoining
	}
	prev, err := h.registry.BindConnection(roomID, p.Identity, c.ID)
	if err != nil {
		c.state = prior
		h.sendError(c, errorCode(err), err.Error())
		return
	}
	if old, ok := h.conns[prev]; ok && old != c {
		// the participant moved to a new socket; the old one stops representing it
		log.Info().Str("module", "relay").Str("conn_id", prev).Str("participant_id", p.Identity).Msg("connection superseded")
		old.state = stateUnauthenticated
		old.roomID, old.sessionID, old.identity = "", "", ""
		h.closeConn(old)
	}

	info, _ := h.registry.Room(roomID)
	c.state = stateAdmitted
	c.roomID = roomID
	c.sessionID = info.SessionID
	c.identity = p.Identity
	c.userType = p.UserType

	role := model.RoleOfferer
	if len(peers) > 0 {
		role = model.RoleAnswerer
	}
	h.assignRole(roomID, p.Identity, role)

	self := signal.Peer{ConnectionID: c.ID, ParticipantID: p.Identity, UserType: p.UserType}
	if reconnect {
		h.send(c, signal.EventReconnectSuccess, signal.ReconnectSuccess{ConnectionID: c.ID, Role: role, Users: peers})
	} else {
		h.send(c, signal.EventRoomUsers, signal.RoomUsers{ConnectionID: c.ID, Role: role, Users: peers})
	}
	for _, peer := range peers {
		h.assignRole(roomID, peer.ParticipantID, model.RoleOfferer)
		pc, ok := h.conns[peer.ConnectionID]
		if !ok {
			continue
		}
		if reconnect {
			h.send(pc, signal.EventPeerReconnected, signal.PeerReconnected{Peer: self})
		} else {
			h.send(pc, signal.EventUserJoined, signal.UserJoined{Peer: self, Role: model.RoleOfferer})
		}
	}

	log.Info().Str("module", "relay").Str("conn_id", c.ID).Str("room_id", roomID).Str("participant_id", p.Identity).
		Str("role", string(role)).Bool("reconnect", reconnect).Int("live_peers", len(peers)).Msg("connection admitted")

	// both parties live; Start is a no-op once the call is running
	if len(peers) > 0 {
		h.startCall(roomID, info.SessionID)
	}
}

// assignRole records the role; the role sent on the wire stands even if the
// participant vanished in between
func (h *Hub) assignRole(roomID, identity string, role model.Role) {
	if err := h.registry.AssignRole(roomID, identity, role); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("room_id", roomID).Str("participant_id", identity).
			Str("role", string(role)).Msg("role not recorded")
	}
}

func (h *Hub) livePeers(roomID, except string) []signal.Peer {
	var peers []signal.Peer
	for _, p := range h.registry.Participants(roomID) {
		if p.Identity == except || !p.Bound() {
			continue
		}
		peers = append(peers, signal.Peer{ConnectionID: p.ConnectionID, ParticipantID: p.Identity, UserType: p.UserType})
	}
	return peers
}

// ---- lifecycle ----

func (h *Hub) persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.cfg.PersistTimeout)
}

func (h *Hub) startCall(roomID, sessionID string) (*model.CallState, error) {
	ctx, cancel := h.persistCtx()
	defer cancel()

	tr, err := h.lifecycle.Start(ctx, sessionID)
	if err != nil {
		// retried by the next admission
		log.Error().Err(err).Str("module", "relay").Str("room_id", roomID).Msg("call start failed")
		return nil, err
	}
	if tr.Changed && tr.State.CallStartedAt != nil {
		h.broadcastRoom(roomID, "", signal.EventCallStarted, signal.CallStarted{
			SessionID:     sessionID,
			CallStartedAt: *tr.State.CallStartedAt,
		})
	}
	return tr.State, nil
}

// endRoom performs the terminal transition, tells the room and tears it down.
// On a failed write the registry is left untouched so a later event can retry.
func (h *Hub) endRoom(roomID, sessionID, endedBy, reason string, cancelSession bool) (*model.CallState, error) {
	ctx, cancel := h.persistCtx()
	defer cancel()

	var (
		tr  service.Transition
		err error
	)
	if cancelSession {
		tr, err = h.lifecycle.Cancel(ctx, sessionID)
	} else {
		tr, err = h.lifecycle.End(ctx, sessionID)
	}
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Str("room_id", roomID).Str("session_id", sessionID).Msg("call end failed")
		return nil, err
	}

	h.broadcastRoom(roomID, "", signal.EventCallEnded, signal.CallEnded{
		SessionID:    sessionID,
		CallDuration: tr.State.CallDuration,
		EndedBy:      endedBy,
		Reason:       reason,
	})
	h.teardown(roomID)

	log.Info().Str("module", "relay").Str("room_id", roomID).Str("session_id", sessionID).Str("reason", reason).
		Int64("duration", tr.State.CallDuration).Bool("changed", tr.Changed).Msg("call ended")
	return tr.State, nil
}

func (h *Hub) teardown(roomID string) {
	for _, id := range h.registry.Delete(roomID) {
		if c, ok := h.conns[id]; ok {
			c.state = stateUnauthenticated
			c.roomID, c.sessionID, c.identity = "", "", ""
		}
	}
}

// leave removes identity from the room. The last participant leaving ends the call.
func (h *Hub) leave(roomID, identity, reason string) error {
	var self *registry.Participant
	participants := h.registry.Participants(roomID)
	for i := range participants {
		if participants[i].Identity == identity {
			self = &participants[i]
		}
	}
	if self == nil {
		return nil
	}

	c := h.conns[self.ConnectionID]
	if c != nil {
		c.state = stateLeaving
	}

	if len(participants) == 1 {
		info, _ := h.registry.Room(roomID)
		if _, err := h.endRoom(roomID, info.SessionID, identity, signal.ReasonEmpty, false); err != nil {
			if c != nil {
				c.state = stateAdmitted
			}
			return err
		}
		return nil
	}

	h.registry.Remove(roomID, identity)
	if c != nil {
		c.state = stateUnauthenticated
		c.roomID, c.sessionID, c.identity = "", "", ""
	}
	h.broadcastRoom(roomID, "", signal.EventUserLeft, signal.UserLeft{
		ConnectionID:  self.ConnectionID,
		ParticipantID: identity,
		Reason:        reason,
	})
	log.Info().Str("module", "relay").Str("room_id", roomID).Str("participant_id", identity).Msg("participant left")
	return nil
}

// handleClose runs when a socket goes away. The participant keeps its slot for
// the reconnect grace window; the sweep prunes it afterwards.
func (h *Hub) handleClose(c *Connection) {
	if existing, ok := h.conns[c.ID]; !ok || existing != c {
		return
	}
	delete(h.conns, c.ID)
	h.closeConn(c)

	c.state = stateClosed

	// the registry is the source of truth for bindings, whatever the socket state
	b, ok := h.registry.Unbind(c.ID)
	if !ok {
		return
	}
	log.Info().Str("module", "relay").Str("conn_id", c.ID).Str("room_id", b.RoomID).
		Str("participant_id", b.Identity).Msg("connection lost")
	h.broadcastRoom(b.RoomID, c.ID, signal.EventUserLeft, signal.UserLeft{
		ConnectionID:  c.ID,
		ParticipantID: b.Identity,
		Reason:        signal.ReasonDisconnected,
	})
}

// Sweep reclaims expired rooms and participants whose socket stayed gone past
// the grace window. Emptied or expired rooms end the call only if it was in progress.
func (h *Hub) Sweep() {
	res := h.registry.SweepStale(h.now(), h.cfg.RoomMaxAge, h.cfg.ReconnectGrace)

	for _, p := range res.Pruned {
		log.Info().Str("module", "relay").Str("room_id", p.ID).Str("participant_id", p.Identity).Msg("stale participant pruned")
	}

	for _, room := range res.Expired {
		log.Warn().Str("module", "relay").Str("room_id", room.ID).Time("created_at", room.CreatedAt).Msg("room expired")
		duration, ended, err := h.endIfInProgress(room.SessionID)
		if err != nil {
			// the room stays so the next sweep retries the write
			continue
		}
		for _, id := range room.ConnIDs {
			c, ok := h.conns[id]
			if ok && ended {
				h.send(c, signal.EventCallEnded, signal.CallEnded{SessionID: room.SessionID, CallDuration: duration, Reason: signal.ReasonExpired})
			}
		}
		h.teardown(room.ID)
	}

	for _, room := range res.Emptied {
		ctx, cancel := h.persistCtx()
		state, err := h.lifecycle.State(ctx, room.SessionID)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("module", "relay").Str("room_id", room.ID).Msg("sweep state read failed")
			continue
		}
		if state.CallStatus == model.CallInProgress {
			// a failed write keeps the empty room so the next sweep retries
			h.endRoom(room.ID, room.SessionID, "", signal.ReasonStale, false)
			continue
		}
		h.registry.Delete(room.ID)
		log.Info().Str("module", "relay").Str("room_id", room.ID).Msg("empty room dropped")
	}
}

// endIfInProgress ends the call when it is running. ended reports whether this
// sweep wrote the end; err means the outcome is unknown.
func (h *Hub) endIfInProgress(sessionID string) (duration int64, ended bool, err error) {
	ctx, cancel := h.persistCtx()
	defer cancel()

	state, err := h.lifecycle.State(ctx, sessionID)
	if errors.Is(err, service.ErrSessionNotFound) {
		return 0, false, nil
	}
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Str("session_id", sessionID).Msg("sweep state read failed")
		return 0, false, err
	}
	if state.CallStatus != model.CallInProgress {
		return 0, false, nil
	}
	tr, err := h.lifecycle.End(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Str("session_id", sessionID).Msg("call end failed")
		return 0, false, err
	}
	return tr.State.CallDuration, true, nil
}

// ---- service.RoomController ----

// LeaveRoom removes identity from the room as if it sent leave-room
func (h *Hub) LeaveRoom(ctx context.Context, roomID, identity string) error {
	var err error
	if execErr := h.exec(ctx, func() {
		if _, ok := h.registry.Room(roomID); !ok {
			err = registry.ErrRoomNotFound
			return
		}
		err = h.leave(roomID, identity, signal.ReasonLeft)
	}); execErr != nil {
		return execErr
	}
	return err
}

// StartCall forces the in-progress transition and announces it
func (h *Hub) StartCall(ctx context.Context, roomID, sessionID string) (*model.CallState, error) {
	var (
		state *model.CallState
		err   error
	)
	if execErr := h.exec(ctx, func() {
		state, err = h.startCall(roomID, sessionID)
	}); execErr != nil {
		return nil, execErr
	}
	return state, err
}

// EndCall performs the terminal transition for a room, live or not
func (h *Hub) EndCall(ctx context.Context, req service.EndRequest) (*model.CallState, error) {
	var (
		state *model.CallState
		err   error
	)
	if execErr := h.exec(ctx, func() {
		state, err = h.endRoom(req.RoomID, req.SessionID, req.EndedBy, req.Reason, req.Cancel)
	}); execErr != nil {
		return nil, execErr
	}
	return state, err
}

// ---- outbound ----

func (h *Hub) relayTo(from *Connection, targetID string, typ signal.EventType, payload any) {
	target, ok := h.conns[targetID]
	if !ok || target == from || target.state != stateAdmitted || target.roomID != from.roomID {
		// the counterpart may have left meanwhile; stale relays are dropped
		log.Debug().Str("module", "relay").Str("conn_id", from.ID).Str("target", targetID).
			Str("type", string(typ)).Msg("relay target gone")
		return
	}
	h.send(target, typ, payload)
}

// broadcastRoom sends to every live connection of the room except exceptConn
func (h *Hub) broadcastRoom(roomID, exceptConn string, typ signal.EventType, payload any) {
	data, err := signal.Encode(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Str("type", string(typ)).Msg("encode failed")
		return
	}
	for _, p := range h.registry.Participants(roomID) {
		if !p.Bound() || p.ConnectionID == exceptConn {
			continue
		}
		if c, ok := h.conns[p.ConnectionID]; ok {
			h.enqueue(c, typ, data)
		}
	}
}

func (h *Hub) send(c *Connection, typ signal.EventType, payload any) {
	data, err := signal.Encode(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Str("type", string(typ)).Msg("encode failed")
		return
	}
	h.enqueue(c, typ, data)
}

func (h *Hub) enqueue(c *Connection, typ signal.EventType, data []byte) {
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
		// Drop message if buffer full
		log.Warn().Str("module", "relay").Str("conn_id", c.ID).Str("type", string(typ)).Msg("send buffer full, message dropped")
	}
}

func (h *Hub) sendError(c *Connection, code, message string) {
	h.send(c, signal.EventError, signal.Error{Code: code, Message: message})
}

func (h *Hub) closeConn(c *Connection) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, registry.ErrRoomNotFound):
		return signal.CodeRoomNotFound
	case errors.Is(err, registry.ErrInvalidCredentials):
		return signal.CodeInvalidCredentials
	case errors.Is(err, registry.ErrRoomFull):
		return signal.CodeRoomFull
	}
	return signal.CodeInternal
}
