package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"tutorcall/internal/model"
)

// MaxChatLength bounds a chat message in runes
const MaxChatLength = 2000

// ErrBadPayload is returned for frames that are not valid JSON, name an unknown
// event, or miss a required field
var ErrBadPayload = errors.New("bad payload")

// Encode wraps payload in an Envelope
func Encode(t EventType, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses the outer frame only
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrBadPayload)
	}
	return env, nil
}

// Decode parses an inbound frame into its typed variant and validates it.
// The returned value is one of the inbound variant types (by value).
func Decode(data []byte) (EventType, any, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return "", nil, err
	}

	var msg any
	switch env.Type {
	case EventJoinRoom:
		var m JoinRoom
		err = unmarshalPayload(env, &m)
		if err == nil {
			err = m.validate()
		}
		msg = m
	case EventReconnectAttempt:
		var m ReconnectAttempt
		err = unmarshalPayload(env, &m)
		if err == nil {
			err = m.validate()
		}
		msg = m
	case EventOffer, EventAnswer:
		var m Description
		err = unmarshalPayload(env, &m)
		if err == nil {
			err = m.validate()
		}
		msg = m
	case EventICECandidate:
		var m Candidate
		err = unmarshalPayload(env, &m)
		if err == nil {
			err = m.validate()
		}
		msg = m
	case EventToggleAudio:
		var m ToggleAudio
		err = unmarshalRequired(env, &m, "isMuted")
		msg = m
	case EventToggleVideo:
		var m ToggleVideo
		err = unmarshalRequired(env, &m, "isVideoOff")
		msg = m
	case EventScreenShare:
		var m ScreenShare
		err = unmarshalRequired(env, &m, "isSharing")
		msg = m
	case EventChatMessage:
		var m ChatMessage
		err = unmarshalPayload(env, &m)
		if err == nil {
			err = m.validate()
		}
		msg = m
	case EventConnectionState:
		var m ConnectionState
		err = unmarshalPayload(env, &m)
		if err == nil && m.State == "" {
			err = missing("state")
		}
		msg = m
	case EventEndCall:
		msg = EndCall{}
	case EventLeaveRoom:
		msg = LeaveRoom{}
	default:
		return env.Type, nil, fmt.Errorf("%w: unknown event %q", ErrBadPayload, env.Type)
	}
	if err != nil {
		return env.Type, nil, err
	}
	return env.Type, msg, nil
}

func unmarshalPayload(env Envelope, v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return fmt.Errorf("%w: %s requires a payload", ErrBadPayload, env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadPayload, env.Type, err)
	}
	return nil
}

// unmarshalRequired decodes a toggle payload, insisting the boolean is present
// rather than defaulting to false
func unmarshalRequired(env Envelope, v any, field string) error {
	if err := unmarshalPayload(env, v); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(env.Payload, &fields); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadPayload, env.Type, err)
	}
	if _, ok := fields[field]; !ok {
		return missing(field)
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrBadPayload, field)
}

func (m JoinRoom) validate() error {
	switch {
	case m.RoomID == "":
		return missing("roomId")
	case m.ParticipantID == "":
		return missing("participantId")
	case m.AccessToken == "":
		return missing("accessToken")
	}
	if _, ok := model.ParseUserType(string(m.UserType)); !ok {
		return fmt.Errorf("%w: unknown userType %q", ErrBadPayload, m.UserType)
	}
	return nil
}

func (m ReconnectAttempt) validate() error {
	switch {
	case m.RoomID == "":
		return missing("roomId")
	case m.ParticipantID == "":
		return missing("participantId")
	case m.AccessToken == "":
		return missing("accessToken")
	}
	return nil
}

func (m Description) validate() error {
	if m.TargetConnectionID == "" {
		return missing("targetConnectionId")
	}
	if len(m.SDP) == 0 || string(m.SDP) == "null" {
		return missing("sdp")
	}
	return nil
}

func (m Candidate) validate() error {
	if m.TargetConnectionID == "" {
		return missing("targetConnectionId")
	}
	if len(m.Candidate) == 0 || string(m.Candidate) == "null" {
		return missing("candidate")
	}
	return nil
}

func (m ChatMessage) validate() error {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return missing("text")
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		return fmt.Errorf("%w: text longer than %d characters", ErrBadPayload, MaxChatLength)
	}
	return nil
}
