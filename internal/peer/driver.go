// Package peer is the participant side of a call: it owns local media, runs
// offer/answer negotiation with the remote participant over the relay and
// keeps the connection alive across transient drops.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"tutorcall/internal/model"
	"tutorcall/internal/signal"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Status is what the UI shows about the remote participant
type Status string

const (
	StatusWaiting      Status = "waiting"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
	StatusLeft         Status = "left"
)

const (
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
)

var (
	ErrClosed         = errors.New("driver closed")
	ErrNoScreenSource = errors.New("no screen source configured")
	ErrEmptyChat      = errors.New("chat message is empty")
	ErrChatTooLong    = errors.New("chat message too long")
)

// SignalSender is the outbound half of the signaling connection
type SignalSender interface {
	Send(t signal.EventType, payload any) error
}

// ChatMessage is a chat line as shown locally. Local marks the optimistic echo.
type ChatMessage struct {
	ParticipantID string
	Text          string
	Timestamp     time.Time
	Local         bool
}

// Events are optional observers. They run on the driver loop and must not
// block, except OnRemoteTrack which is called on a pion goroutine and may keep
// reading the track.
type Events struct {
	OnStatus      func(Status)
	OnRole        func(model.Role)
	OnCallStarted func(signal.CallStarted)
	OnCallEnded   func(signal.CallEnded)
	OnChat        func(ChatMessage)
	OnPeerMedia   func(signal.MediaToggle)
	OnRemoteTrack func(*webrtc.TrackRemote)
	OnError       func(signal.Error)
}

// Config identifies the participant in its room
type Config struct {
	RoomID               string
	ParticipantID        string
	UserType             model.UserType
	AccessToken          string
	ICEServers           []model.ICEServer
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

type remotePeer struct {
	connID      string
	pc          PeerConnection
	queue       *candidateQueue
	videoSender Sender
	makingOffer bool
	ignoreOffer bool
}

// Driver manages the single peer connection of a participant. Signaling
// events, connection state changes and controls are processed on one loop (Run).
type Driver struct {
	cfg    Config
	media  LocalMedia
	screen ScreenCapture
	newPC  Factory
	events Events
	now    func() time.Time
	after  func(time.Duration, func()) (stop func() bool)

	sigMu sync.RWMutex
	sig   SignalSender

	joined atomic.Bool

	// owned by the loop
	selfID        string
	role          model.Role
	remote        *remotePeer
	status        Status
	sharing       bool
	screenOpen    bool
	reconnectStop func() bool
	reconnects    int
	ended         bool
	torn          bool

	inbox    chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	claimed  atomic.Bool // Run or Close owns tearing down and closing done
}

// New creates a driver. screen may be nil.
func New(cfg Config, media LocalMedia, screen ScreenCapture, factory Factory, events Events) *Driver {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	d := &Driver{
		cfg:    cfg,
		media:  media,
		screen: screen,
		newPC:  factory,
		events: events,
		now:    time.Now,
		status: StatusWaiting,
		inbox:  make(chan func(), 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	d.after = func(delay time.Duration, fn func()) func() bool {
		t := time.AfterFunc(delay, func() { d.post(fn) })
		return t.Stop
	}
	return d
}

// SetSignaler injects the signaling connection. It may be replaced after the
// socket is re-dialed.
func (d *Driver) SetSignaler(s SignalSender) {
	d.sigMu.Lock()
	d.sig = s
	d.sigMu.Unlock()
}

// Start acquires local media and only then presents the credentials to the
// relay. A media failure aborts before any signaling.
func (d *Driver) Start() error {
	if err := d.media.Open(); err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}
	if err := d.send(signal.EventJoinRoom, signal.JoinRoom{
		RoomID:        d.cfg.RoomID,
		ParticipantID: d.cfg.ParticipantID,
		UserType:      d.cfg.UserType,
		AccessToken:   d.cfg.AccessToken,
	}); err != nil {
		d.media.Close()
		return err
	}
	d.joined.Store(true)
	return nil
}

// Run processes events until the call ends, Close is called or ctx is done.
// Teardown happens on the way out. Run after Close returns immediately.
func (d *Driver) Run(ctx context.Context) error {
	if !d.claimed.CompareAndSwap(false, true) {
		return nil
	}
	defer close(d.done)
	defer d.teardown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.stop:
			return nil
		case fn := <-d.inbox:
			fn()
			if d.ended {
				return nil
			}
		}
	}
}

// Close stops the loop and waits for teardown. Safe to call more than once,
// and before Run, in which case it tears down itself.
func (d *Driver) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
	if d.claimed.CompareAndSwap(false, true) {
		d.teardown()
		close(d.done)
		return
	}
	<-d.done
}

// Done is closed once the driver has torn down
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// HandleSignal queues a relay event for the loop
func (d *Driver) HandleSignal(env signal.Envelope) {
	d.post(func() { d.handleSignal(env) })
}

// Reconnect re-presents the access token, e.g. after the signaling socket was re-dialed
func (d *Driver) Reconnect() {
	d.post(d.reconnectNow)
}

func (d *Driver) SetMuted(muted bool) error {
	return d.call(func() error { return d.setMuted(muted) })
}

func (d *Driver) SetCameraOff(off bool) error {
	return d.call(func() error { return d.setCameraOff(off) })
}

// StartScreenShare substitutes the screen for the camera on the existing connection
func (d *Driver) StartScreenShare() error {
	return d.call(d.startScreenShare)
}

// StopScreenShare restores the camera track
func (d *Driver) StopScreenShare() error {
	return d.call(d.stopScreenShare)
}

// SendChat relays text to the room and echoes it locally right away
func (d *Driver) SendChat(text string) error {
	return d.call(func() error { return d.sendChat(text) })
}

func (d *Driver) post(fn func()) {
	select {
	case d.inbox <- fn:
	case <-d.done:
	}
}

func (d *Driver) call(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case d.inbox <- func() { errc <- fn() }:
	case <-d.done:
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-d.done:
		return ErrClosed
	}
}

func (d *Driver) send(t signal.EventType, payload any) error {
	d.sigMu.RLock()
	s := d.sig
	d.sigMu.RUnlock()
	if s == nil {
		return fmt.Errorf("send %s: no signaling connection", t)
	}
	if err := s.Send(t, payload); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("type", string(t)).Msg("signal send failed")
		return err
	}
	return nil
}

// ---- relay events ----

func (d *Driver) handleSignal(env signal.Envelope) {
	if d.torn {
		return
	}
	switch env.Type {
	case signal.EventRoomUsers:
		var m signal.RoomUsers
		if !decode(env, &m) {
			return
		}
		d.selfID = m.ConnectionID
		d.setRole(m.Role)
		if len(m.Users) == 0 {
			d.setStatus(StatusWaiting)
			return
		}
		// answerer: the peer that was already here will offer
		if _, err := d.ensureRemote(m.Users[0].ConnectionID); err != nil {
			d.setStatus(StatusFailed)
			return
		}
		d.setStatus(StatusConnecting)

	case signal.EventUserJoined:
		var m signal.UserJoined
		if !decode(env, &m) {
			return
		}
		d.setRole(m.Role)
		d.connectTo(m.ConnectionID)

	case signal.EventReconnectSuccess:
		var m signal.ReconnectSuccess
		if !decode(env, &m) {
			return
		}
		log.Info().Str("module", "peer").Str("conn_id", m.ConnectionID).Int("attempt", d.reconnects).Msg("reconnected")
		d.cancelReconnect()
		d.selfID = m.ConnectionID
		d.setRole(m.Role)
		d.closeRemote()
		if len(m.Users) == 0 {
			d.setStatus(StatusWaiting)
			return
		}
		if _, err := d.ensureRemote(m.Users[0].ConnectionID); err != nil {
			d.setStatus(StatusFailed)
			return
		}
		d.setStatus(StatusConnecting)

	case signal.EventPeerReconnected:
		var m signal.PeerReconnected
		if !decode(env, &m) {
			return
		}
		d.closeRemote()
		d.setRole(model.RoleOfferer)
		d.connectTo(m.ConnectionID)

	case signal.EventOffer:
		var m signal.RelayedDescription
		if decode(env, &m) {
			d.handleOffer(m.SenderConnectionID, m.SDP)
		}

	case signal.EventAnswer:
		var m signal.RelayedDescription
		if decode(env, &m) {
			d.handleAnswer(m.SenderConnectionID, m.SDP)
		}

	case signal.EventICECandidate:
		var m signal.RelayedCandidate
		if decode(env, &m) {
			d.handleCandidate(m.SenderConnectionID, m.Candidate)
		}

	case signal.EventToggleAudio, signal.EventToggleVideo, signal.EventScreenShare:
		var m signal.MediaToggle
		if decode(env, &m) && d.events.OnPeerMedia != nil {
			d.events.OnPeerMedia(m)
		}

	case signal.EventChatMessage:
		var m signal.RelayedChat
		if decode(env, &m) && d.events.OnChat != nil {
			d.events.OnChat(ChatMessage{ParticipantID: m.ParticipantID, Text: m.Text, Timestamp: m.Timestamp})
		}

	case signal.EventConnectionState:
		var m signal.RelayedConnectionState
		if decode(env, &m) {
			log.Debug().Str("module", "peer").Str("participant_id", m.ParticipantID).Str("state", m.State).Msg("peer transport state")
		}

	case signal.EventCallStarted:
		var m signal.CallStarted
		if decode(env, &m) && d.events.OnCallStarted != nil {
			d.events.OnCallStarted(m)
		}

	case signal.EventCallEnded:
		var m signal.CallEnded
		if !decode(env, &m) {
			return
		}
		log.Info().Str("module", "peer").Str("session_id", m.SessionID).Int64("duration", m.CallDuration).Str("reason", m.Reason).Msg("call ended")
		d.ended = true
		if d.events.OnCallEnded != nil {
			d.events.OnCallEnded(m)
		}

	case signal.EventUserLeft:
		var m signal.UserLeft
		if !decode(env, &m) {
			return
		}
		if d.remote != nil && d.remote.connID == m.ConnectionID {
			d.closeRemote()
		}
		if m.Reason == signal.ReasonLeft {
			d.setStatus(StatusLeft)
		} else {
			d.setStatus(StatusWaiting)
		}

	case signal.EventError:
		var m signal.Error
		if !decode(env, &m) {
			return
		}
		log.Warn().Str("module", "peer").Str("code", m.Code).Str("message", m.Message).Msg("relay error")
		if d.status == StatusDisconnected && (m.Code == signal.CodeInvalidCredentials || m.Code == signal.CodeRoomNotFound) {
			d.setStatus(StatusFailed)
		}
		if d.events.OnError != nil {
			d.events.OnError(m)
		}
	}
}

func decode(env signal.Envelope, v any) bool {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("type", string(env.Type)).Msg("unreadable event")
		return false
	}
	return true
}

// ---- negotiation ----

// connectTo opens a connection to connID and sends the offer (offerer role)
func (d *Driver) connectTo(connID string) {
	r, err := d.ensureRemote(connID)
	if err != nil {
		d.setStatus(StatusFailed)
		return
	}
	d.setStatus(StatusConnecting)
	d.negotiate(r)
}

func (d *Driver) ensureRemote(connID string) (*remotePeer, error) {
	if d.remote != nil && d.remote.connID != connID {
		d.closeRemote()
	}
	if d.remote == nil {
		d.remote = &remotePeer{connID: connID, queue: newCandidateQueue(MaxQueuedCandidates)}
	}
	if d.remote.pc == nil {
		if err := d.openPeerConnection(d.remote); err != nil {
			log.Error().Err(err).Str("module", "peer").Str("remote", connID).Msg("open peer connection failed")
			d.remote = nil
			return nil, err
		}
	}
	return d.remote, nil
}

func (d *Driver) openPeerConnection(r *remotePeer) error {
	pc, err := d.newPC(Configuration(d.cfg.ICEServers))
	if err != nil {
		return err
	}
	connID := r.connID

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		d.send(signal.EventICECandidate, signal.Candidate{TargetConnectionID: connID, Candidate: raw})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		d.post(func() { d.onConnectionState(connID, s) })
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "peer").Str("kind", track.Kind().String()).Str("codec", track.Codec().MimeType).Msg("remote track")
		if d.events.OnRemoteTrack != nil {
			d.events.OnRemoteTrack(track)
		} else {
			go drainTrack(track)
		}
	})

	if audio := d.media.AudioTrack(); audio != nil {
		if _, err := pc.AddTrack(audio); err != nil {
			pc.Close()
			return fmt.Errorf("add audio track: %w", err)
		}
	}
	video := d.media.VideoTrack()
	if d.sharing && d.screen != nil {
		video = d.screen.VideoTrack()
	}
	if video != nil {
		sender, err := pc.AddTrack(video)
		if err != nil {
			pc.Close()
			return fmt.Errorf("add video track: %w", err)
		}
		r.videoSender = sender
	}

	r.pc = pc
	return nil
}

func (d *Driver) negotiate(r *remotePeer) {
	r.makingOffer = true
	defer func() { r.makingOffer = false }()

	offer, err := r.pc.CreateOffer(nil)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("create offer failed")
		return
	}
	if err := r.pc.SetLocalDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("set local offer failed")
		return
	}
	d.sendDescription(signal.EventOffer, r.connID, offer)
}

func (d *Driver) sendDescription(t signal.EventType, target string, desc webrtc.SessionDescription) {
	raw, err := json.Marshal(desc)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("marshal description failed")
		return
	}
	d.send(t, signal.Description{TargetConnectionID: target, SDP: raw})
}

// polite reports whether this side yields on an offer collision with remote.
// Both sides compute it from the same two ids, so exactly one of them yields.
func (d *Driver) polite(remoteID string) bool {
	return d.selfID < remoteID
}

func (d *Driver) handleOffer(sender string, raw json.RawMessage) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("unreadable offer")
		return
	}

	r, err := d.ensureRemote(sender)
	if err != nil {
		d.setStatus(StatusFailed)
		return
	}

	collision := r.makingOffer || r.pc.SignalingState() != webrtc.SignalingStateStable
	r.ignoreOffer = collision && !d.polite(sender)
	if r.ignoreOffer {
		log.Debug().Str("module", "peer").Str("remote", sender).Msg("offer collision, keeping local offer")
		return
	}
	if collision {
		log.Debug().Str("module", "peer").Str("remote", sender).Msg("offer collision, rolling back")
		if err := r.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			log.Error().Err(err).Str("module", "peer").Msg("rollback failed")
			return
		}
	}

	if err := r.pc.SetRemoteDescription(desc); err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("set remote offer failed")
		return
	}
	d.drainCandidates(r)

	answer, err := r.pc.CreateAnswer(nil)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("create answer failed")
		return
	}
	if err := r.pc.SetLocalDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("set local answer failed")
		return
	}
	d.sendDescription(signal.EventAnswer, sender, answer)
}

func (d *Driver) handleAnswer(sender string, raw json.RawMessage) {
	r := d.remote
	if r == nil || r.connID != sender || r.pc == nil {
		log.Debug().Str("module", "peer").Str("remote", sender).Msg("answer for a connection that is gone")
		return
	}
	if r.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		log.Debug().Str("module", "peer").Str("state", r.pc.SignalingState().String()).Msg("unexpected answer")
		return
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("unreadable answer")
		return
	}
	if err := r.pc.SetRemoteDescription(desc); err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("set remote answer failed")
		return
	}
	d.drainCandidates(r)
}

func (d *Driver) handleCandidate(sender string, raw json.RawMessage) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("unreadable candidate")
		return
	}

	r := d.remote
	if r != nil && r.connID != sender {
		log.Debug().Str("module", "peer").Str("remote", sender).Msg("candidate from a stale connection")
		return
	}
	if r == nil {
		var err error
		if r, err = d.ensureRemote(sender); err != nil {
			return
		}
	}

	if r.pc.RemoteDescription() == nil {
		r.queue.push(c)
		return
	}
	if err := r.pc.AddICECandidate(c); err != nil && !r.ignoreOffer {
		log.Warn().Err(err).Str("module", "peer").Msg("add candidate failed")
	}
}

func (d *Driver) drainCandidates(r *remotePeer) {
	for _, c := range r.queue.drain() {
		if err := r.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "peer").Msg("add queued candidate failed")
		}
	}
}

func (d *Driver) closeRemote() {
	if d.remote == nil {
		return
	}
	if d.remote.pc != nil {
		if err := d.remote.pc.Close(); err != nil {
			log.Debug().Err(err).Str("module", "peer").Msg("close peer connection")
		}
	}
	d.remote.queue.drain()
	d.remote = nil
}

// ---- connection state and recovery ----

func (d *Driver) onConnectionState(connID string, s webrtc.PeerConnectionState) {
	if d.torn || d.remote == nil || d.remote.connID != connID {
		return
	}
	log.Info().Str("module", "peer").Str("remote", connID).Str("state", s.String()).Msg("connection state")

	switch s {
	case webrtc.PeerConnectionStateConnecting:
		d.setStatus(StatusConnecting)
	case webrtc.PeerConnectionStateConnected:
		d.cancelReconnect()
		d.setStatus(StatusConnected)
	case webrtc.PeerConnectionStateDisconnected:
		d.setStatus(StatusDisconnected)
		d.scheduleReconnect()
	case webrtc.PeerConnectionStateFailed:
		d.setStatus(StatusFailed)
		d.scheduleReconnect()
	}
}

// scheduleReconnect arms one delayed attempt. It is re-armed only by a new
// disconnect after the previous attempt fired.
func (d *Driver) scheduleReconnect() {
	if d.reconnectStop != nil {
		return
	}
	if d.reconnects >= d.cfg.MaxReconnectAttempts {
		log.Warn().Str("module", "peer").Int("attempts", d.reconnects).Msg("reconnect limit reached")
		d.setStatus(StatusFailed)
		return
	}
	d.reconnectStop = d.after(d.cfg.ReconnectDelay, d.reconnectDue)
}

func (d *Driver) reconnectDue() {
	d.reconnectStop = nil
	if d.torn || d.ended || d.status == StatusConnected {
		return
	}
	d.reconnectNow()
}

func (d *Driver) reconnectNow() {
	if d.torn || d.ended {
		return
	}
	if d.reconnects >= d.cfg.MaxReconnectAttempts {
		d.setStatus(StatusFailed)
		return
	}
	d.reconnects++
	log.Info().Str("module", "peer").Int("attempt", d.reconnects).Msg("reconnect attempt")
	d.send(signal.EventReconnectAttempt, signal.ReconnectAttempt{
		RoomID:        d.cfg.RoomID,
		ParticipantID: d.cfg.ParticipantID,
		AccessToken:   d.cfg.AccessToken,
	})
}

func (d *Driver) cancelReconnect() {
	if d.reconnectStop != nil {
		d.reconnectStop()
		d.reconnectStop = nil
	}
}

func (d *Driver) setStatus(s Status) {
	if d.status == s {
		return
	}
	d.status = s
	if d.events.OnStatus != nil {
		d.events.OnStatus(s)
	}
}

func (d *Driver) setRole(r model.Role) {
	if d.role == r {
		return
	}
	d.role = r
	if d.events.OnRole != nil {
		d.events.OnRole(r)
	}
}

// ---- controls ----

func (d *Driver) setMuted(muted bool) error {
	d.media.SetAudioEnabled(!muted)
	return d.send(signal.EventToggleAudio, signal.ToggleAudio{IsMuted: muted})
}

func (d *Driver) setCameraOff(off bool) error {
	d.media.SetVideoEnabled(!off)
	return d.send(signal.EventToggleVideo, signal.ToggleVideo{IsVideoOff: off})
}

func (d *Driver) startScreenShare() error {
	if d.screen == nil {
		return ErrNoScreenSource
	}
	if d.sharing {
		return nil
	}
	if !d.screenOpen {
		if err := d.screen.Open(); err != nil {
			return fmt.Errorf("open screen: %w", err)
		}
		d.screenOpen = true
	}
	if err := d.replaceVideo(d.screen.VideoTrack()); err != nil {
		return err
	}
	d.sharing = true
	return d.send(signal.EventScreenShare, signal.ScreenShare{IsSharing: true})
}

func (d *Driver) stopScreenShare() error {
	if !d.sharing {
		return nil
	}
	if err := d.replaceVideo(d.media.VideoTrack()); err != nil {
		return err
	}
	d.sharing = false
	return d.send(signal.EventScreenShare, signal.ScreenShare{IsSharing: false})
}

// replaceVideo swaps the outgoing video without renegotiation. Without a live
// connection the choice is applied when the next one opens.
func (d *Driver) replaceVideo(track webrtc.TrackLocal) error {
	if d.remote == nil || d.remote.videoSender == nil {
		return nil
	}
	if err := d.remote.videoSender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace video track: %w", err)
	}
	return nil
}

func (d *Driver) sendChat(text string) error {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return ErrEmptyChat
	case utf8.RuneCountInString(text) > signal.MaxChatLength:
		return ErrChatTooLong
	}
	if err := d.send(signal.EventChatMessage, signal.ChatMessage{Text: text}); err != nil {
		return err
	}
	if d.events.OnChat != nil {
		d.events.OnChat(ChatMessage{ParticipantID: d.cfg.ParticipantID, Text: text, Timestamp: d.now(), Local: true})
	}
	return nil
}

// ---- teardown ----

// teardown stops media, closes the connection and tells the relay once
func (d *Driver) teardown() {
	if d.torn {
		return
	}
	d.torn = true
	d.cancelReconnect()
	d.closeRemote()

	if d.screenOpen {
		d.screen.Close()
	}
	if d.joined.Load() {
		d.media.Close()
		if !d.ended {
			d.send(signal.EventLeaveRoom, nil)
		}
	}
	d.setStatus(StatusLeft)
	log.Info().Str("module", "peer").Str("room_id", d.cfg.RoomID).Msg("driver closed")
}
