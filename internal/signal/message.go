// Package signal defines the real-time signaling protocol shared by the relay
// and the participant client. Every frame is an Envelope whose payload is one
// of the variants below; required fields are checked when a frame is decoded.
package signal

import (
	"encoding/json"
	"time"

	"tutorcall/internal/model"
)

// EventType names a signaling event
type EventType string

// Client -> server (some are also relayed server -> client with sender info attached)
const (
	EventJoinRoom         EventType = "join-room"
	EventOffer            EventType = "offer"
	EventAnswer           EventType = "answer"
	EventICECandidate     EventType = "ice-candidate"
	EventToggleAudio      EventType = "toggle-audio"
	EventToggleVideo      EventType = "toggle-video"
	EventScreenShare      EventType = "screen-share"
	EventChatMessage      EventType = "chat-message"
	EventConnectionState  EventType = "connection-state"
	EventEndCall          EventType = "end-call"
	EventReconnectAttempt EventType = "reconnect-attempt"
	EventLeaveRoom        EventType = "leave-room"
)

// Server -> client
const (
	EventRoomUsers        EventType = "room-users"
	EventUserJoined       EventType = "user-joined"
	EventCallStarted      EventType = "call-started"
	EventCallEnded        EventType = "call-ended"
	EventUserLeft         EventType = "user-left"
	EventReconnectSuccess EventType = "reconnect-success"
	EventPeerReconnected  EventType = "peer-reconnected"
	EventError            EventType = "error"
)

// Envelope is the frame format on the socket
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Error codes carried by EventError
const (
	CodeBadPayload         = "bad_payload"
	CodeInvalidCredentials = "invalid_credentials"
	CodeRoomNotFound       = "room_not_found"
	CodeRoomFull           = "room_full"
	CodeUnauthorized       = "unauthorized"
	CodeNotAdmitted        = "not_admitted"
	CodeAlreadyJoined      = "already_joined"
	CodeInternal           = "internal"
)

// Reasons carried by user-left and call-ended
const (
	ReasonLeft         = "left"
	ReasonDisconnected = "disconnected"
	ReasonEnded        = "ended"
	ReasonEmpty        = "room-empty"
	ReasonExpired      = "expired"
	ReasonCancelled    = "cancelled"
	ReasonStale        = "stale"
)

// ---- inbound variants ----

type JoinRoom struct {
	RoomID        string         `json:"roomId"`
	ParticipantID string         `json:"participantId"`
	UserType      model.UserType `json:"userType"`
	AccessToken   string         `json:"accessToken"`
}

// ReconnectAttempt re-presents the credentials issued at join on a new connection
type ReconnectAttempt struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
	AccessToken   string `json:"accessToken"`
}

// Description carries an opaque session description to a target connection
type Description struct {
	TargetConnectionID string          `json:"targetConnectionId"`
	SDP                json.RawMessage `json:"sdp"`
}

// Candidate carries an opaque ICE candidate to a target connection
type Candidate struct {
	TargetConnectionID string          `json:"targetConnectionId"`
	Candidate          json.RawMessage `json:"candidate"`
}

type ToggleAudio struct {
	IsMuted bool `json:"isMuted"`
}

type ToggleVideo struct {
	IsVideoOff bool `json:"isVideoOff"`
}

type ScreenShare struct {
	IsSharing bool `json:"isSharing"`
}

type ChatMessage struct {
	Text string `json:"text"`
}

type ConnectionState struct {
	State string `json:"state"`
}

type EndCall struct{}

type LeaveRoom struct{}

// ---- outbound variants ----

// Peer describes a participant with a live connection
type Peer struct {
	ConnectionID  string         `json:"connectionId"`
	ParticipantID string         `json:"participantId"`
	UserType      model.UserType `json:"userType"`
}

// RoomUsers is sent to a newly admitted connection. Users lists the peers that
// were already present; a non-empty list means the recipient is the answerer.
type RoomUsers struct {
	ConnectionID string     `json:"connectionId"`
	Role         model.Role `json:"role"`
	Users        []Peer     `json:"users"`
}

// UserJoined tells an admitted participant that its peer arrived. Role is the
// recipient's role.
type UserJoined struct {
	Peer
	Role model.Role `json:"role"`
}

// RelayedDescription is an offer or answer as delivered to its target
type RelayedDescription struct {
	SenderConnectionID string          `json:"senderConnectionId"`
	SDP                json.RawMessage `json:"sdp"`
}

// RelayedCandidate is an ICE candidate as delivered to its target
type RelayedCandidate struct {
	SenderConnectionID string          `json:"senderConnectionId"`
	Candidate          json.RawMessage `json:"candidate"`
}

// MediaToggle is a toggle-audio / toggle-video / screen-share event as seen by the peer
type MediaToggle struct {
	SenderConnectionID string `json:"senderConnectionId"`
	ParticipantID      string `json:"participantId"`
	IsMuted            *bool  `json:"isMuted,omitempty"`
	IsVideoOff         *bool  `json:"isVideoOff,omitempty"`
	IsSharing          *bool  `json:"isSharing,omitempty"`
}

type RelayedChat struct {
	ID                 string         `json:"id"`
	SenderConnectionID string         `json:"senderConnectionId"`
	ParticipantID      string         `json:"participantId"`
	UserType           model.UserType `json:"userType"`
	Text               string         `json:"text"`
	Timestamp          time.Time      `json:"timestamp"`
}

type RelayedConnectionState struct {
	SenderConnectionID string `json:"senderConnectionId"`
	ParticipantID      string `json:"participantId"`
	State              string `json:"state"`
}

type CallStarted struct {
	SessionID     string    `json:"sessionId"`
	CallStartedAt time.Time `json:"callStartedAt"`
}

// CallEnded is model.CallEndedEvent on the wire
type CallEnded = model.CallEndedEvent

type UserLeft struct {
	ConnectionID  string `json:"connectionId"`
	ParticipantID string `json:"participantId"`
	Reason        string `json:"reason"`
}

// ReconnectSuccess confirms a re-bind. The reconnecting side always answers.
type ReconnectSuccess struct {
	ConnectionID string     `json:"connectionId"`
	Role         model.Role `json:"role"`
	Users        []Peer     `json:"users"`
}

type PeerReconnected struct {
	Peer
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
