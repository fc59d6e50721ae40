package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CallStatus is the persisted lifecycle stage of a session's call
type CallStatus string

const (
	CallNotStarted CallStatus = "not-started"
	CallWaiting    CallStatus = "waiting"
	CallInProgress CallStatus = "in-progress"
	CallEnded      CallStatus = "ended"
)

var callStatusRank = map[CallStatus]int{
	CallNotStarted: 0,
	CallWaiting:    1,
	CallInProgress: 2,
	CallEnded:      3,
}

// CanAdvanceTo reports whether moving from s to next keeps the status monotonic.
// Staying in place is not an advance.
func (s CallStatus) CanAdvanceTo(next CallStatus) bool {
	cur, ok := callStatusRank[s]
	if !ok {
		// Legacy documents without a status behave as not-started
		cur = 0
	}
	n, ok := callStatusRank[next]
	if !ok {
		return false
	}
	return n > cur
}

// Profile is the party snapshot embedded in a booking (name, email, image...)
type Profile map[string]interface{}

// Session is the booking record owned by the booking subsystem.
// The call fields are the only part this service writes.
type Session struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	StudentID string             `json:"userId" bson:"userId"`
	TutorID   string             `json:"tutId" bson:"tutId"`
	SlotDate  time.Time          `json:"slotDate" bson:"slotDate"`
	SlotTime  string             `json:"slotTime" bson:"slotTime"`
	Student   Profile            `json:"userData" bson:"userData"`
	Tutor     Profile            `json:"tutData" bson:"tutData"`
	Amount    float64            `json:"amount" bson:"amount"`
	Date      time.Time          `json:"date" bson:"date"`

	// Eligibility flags
	Cancelled   bool `json:"cancelled" bson:"cancelled"`
	Payment     bool `json:"payment" bson:"payment"`
	IsCompleted bool `json:"isCompleted" bson:"isCompleted"`

	// Call fields
	RoomID        string     `json:"roomId,omitempty" bson:"roomId,omitempty"`
	RoomCreatedAt *time.Time `json:"roomCreatedAt,omitempty" bson:"roomCreatedAt,omitempty"`
	CallStatus    CallStatus `json:"callStatus" bson:"callStatus"`
	CallStartedAt *time.Time `json:"callStartedAt,omitempty" bson:"callStartedAt,omitempty"`
	CallEndedAt   *time.Time `json:"callEndedAt,omitempty" bson:"callEndedAt,omitempty"`
	CallDuration  int64      `json:"callDuration" bson:"callDuration"` // seconds
}

// HexID returns the session id as a hex string
func (s *Session) HexID() string {
	return s.ID.Hex()
}

// Status returns the call status, treating an empty value as not-started
func (s *Session) Status() CallStatus {
	if s.CallStatus == "" {
		return CallNotStarted
	}
	return s.CallStatus
}

// PartyOf returns the user type of identity in this session, if any
func (s *Session) PartyOf(identity string) (UserType, bool) {
	switch identity {
	case "":
		return "", false
	case s.StudentID:
		return UserStudent, true
	case s.TutorID:
		return UserTutor, true
	}
	return "", false
}

// Profiles returns (own, peer) profile snapshots for the given side
func (s *Session) Profiles(side UserType) (Profile, Profile) {
	if side == UserTutor {
		return s.Tutor, s.Student
	}
	return s.Student, s.Tutor
}

// CallState is the slice of a Session the lifecycle exposes to clients
type CallState struct {
	SessionID     string     `json:"sessionId"`
	RoomID        string     `json:"roomId,omitempty"`
	CallStatus    CallStatus `json:"callStatus"`
	CallStartedAt *time.Time `json:"callStartedAt,omitempty"`
	CallEndedAt   *time.Time `json:"callEndedAt,omitempty"`
	CallDuration  int64      `json:"callDuration"`
	IsCompleted   bool       `json:"isCompleted"`
	Cancelled     bool       `json:"cancelled"`
}

// CallStateOf snapshots the call fields of s
func CallStateOf(s *Session) *CallState {
	return &CallState{
		SessionID:     s.HexID(),
		RoomID:        s.RoomID,
		CallStatus:    s.Status(),
		CallStartedAt: s.CallStartedAt,
		CallEndedAt:   s.CallEndedAt,
		CallDuration:  s.CallDuration,
		IsCompleted:   s.IsCompleted,
		Cancelled:     s.Cancelled,
	}
}
