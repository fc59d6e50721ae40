package model

import (
	"strings"
	"time"
)

// UserType is the side a participant occupies in a session
type UserType string

const (
	UserStudent UserType = "student"
	UserTutor   UserType = "tutor"
	UserAdmin   UserType = "admin"
)

// ParseUserType accepts the wire values; "user" is the legacy name for a student
func ParseUserType(s string) (UserType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student", "user":
		return UserStudent, true
	case "tutor":
		return UserTutor, true
	case "admin":
		return UserAdmin, true
	}
	return "", false
}

// Role is the negotiation role a live connection is assigned at admission
type Role string

const (
	// RoleOfferer was admitted first and creates the offer when the peer arrives
	RoleOfferer Role = "offerer"
	// RoleAnswerer never initiates; it waits for the incoming offer
	RoleAnswerer Role = "answerer"
)

// RoomMeta is the cached roomId -> session binding (immutable once assigned)
type RoomMeta struct {
	RoomID    string    `json:"roomId"`
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoomRef is returned by ensure-room
type RoomRef struct {
	RoomID    string `json:"roomId"`
	SessionID string `json:"sessionId"`
}

// ICEServer is a STUN server handed to clients
type ICEServer struct {
	URLs []string `json:"urls"`
}

// JoinResponse is returned when a participant is admitted to a room
type JoinResponse struct {
	AccessToken   string      `json:"accessToken"`
	RoomID        string      `json:"roomId"`
	SessionID     string      `json:"sessionId"`
	ParticipantID string      `json:"participantId"`
	UserType      UserType    `json:"userType"`
	UserData      Profile     `json:"userData"`
	PeerData      Profile     `json:"peerData"`
	CallStatus    CallStatus  `json:"callStatus"`
	ICEServers    []ICEServer `json:"iceServers"`
}

// RoomStatus is the public status of a room
type RoomStatus struct {
	RoomID           string     `json:"roomId"`
	CallStatus       CallStatus `json:"callStatus"`
	ParticipantCount int        `json:"participantCount"`
	CallStartedAt    *time.Time `json:"callStartedAt,omitempty"`
	CallDuration     int64      `json:"callDuration"`
}

// CallEndedEvent is broadcast to the room when the terminal transition happens
type CallEndedEvent struct {
	SessionID    string `json:"sessionId"`
	CallDuration int64  `json:"callDuration"`
	EndedBy      string `json:"endedBy,omitempty"`
	Reason       string `json:"reason,omitempty"`
}
