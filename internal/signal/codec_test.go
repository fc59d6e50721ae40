package signal

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecode_Valid(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  EventType
		check func(t *testing.T, msg any)
	}{
		{
			name:  "join",
			frame: `{"type":"join-room","payload":{"roomId":"room_1","participantId":"u1","userType":"user","accessToken":"abc"}}`,
			want:  EventJoinRoom,
			check: func(t *testing.T, msg any) {
				m := msg.(JoinRoom)
				if m.RoomID != "room_1" || m.AccessToken != "abc" {
					t.Errorf("join = %+v", m)
				}
			},
		},
		{
			name:  "offer keeps sdp opaque",
			frame: `{"type":"offer","payload":{"targetConnectionId":"c2","sdp":{"type":"offer","sdp":"v=0\r\n"}}}`,
			want:  EventOffer,
			check: func(t *testing.T, msg any) {
				m := msg.(Description)
				var sdp map[string]string
				if err := json.Unmarshal(m.SDP, &sdp); err != nil || sdp["sdp"] != "v=0\r\n" {
					t.Errorf("sdp = %s (%v)", m.SDP, err)
				}
			},
		},
		{
			name:  "candidate",
			frame: `{"type":"ice-candidate","payload":{"targetConnectionId":"c2","candidate":{"candidate":"candidate:1 1 udp 1 1.2.3.4 5 typ host"}}}`,
			want:  EventICECandidate,
		},
		{
			name:  "toggle false is explicit",
			frame: `{"type":"toggle-audio","payload":{"isMuted":false}}`,
			want:  EventToggleAudio,
			check: func(t *testing.T, msg any) {
				if msg.(ToggleAudio).IsMuted {
					t.Error("IsMuted = true")
				}
			},
		},
		{
			name:  "leave without payload",
			frame: `{"type":"leave-room"}`,
			want:  EventLeaveRoom,
		},
		{
			name:  "end call",
			frame: `{"type":"end-call","payload":{}}`,
			want:  EventEndCall,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, msg, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if typ != tt.want {
				t.Errorf("type = %q, want %q", typ, tt.want)
			}
			if tt.check != nil {
				tt.check(t, msg)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	frames := map[string]string{
		"not json":           `{"type":`,
		"no type":            `{"payload":{}}`,
		"unknown event":      `{"type":"dance"}`,
		"join missing token": `{"type":"join-room","payload":{"roomId":"r","participantId":"u","userType":"tutor"}}`,
		"join bad user type": `{"type":"join-room","payload":{"roomId":"r","participantId":"u","userType":"guest","accessToken":"t"}}`,
		"offer no target":    `{"type":"offer","payload":{"sdp":{"type":"offer"}}}`,
		"answer null sdp":    `{"type":"answer","payload":{"targetConnectionId":"c","sdp":null}}`,
		"candidate missing":  `{"type":"ice-candidate","payload":{"targetConnectionId":"c"}}`,
		"toggle missing":     `{"type":"toggle-video","payload":{}}`,
		"chat blank":         `{"type":"chat-message","payload":{"text":"   "}}`,
		"chat too long":      `{"type":"chat-message","payload":{"text":"` + strings.Repeat("a", MaxChatLength+1) + `"}}`,
		"reconnect no room":  `{"type":"reconnect-attempt","payload":{"participantId":"u","accessToken":"t"}}`,
		"state missing":      `{"type":"connection-state","payload":{}}`,
		"payload wrong type": `{"type":"screen-share","payload":{"isSharing":"yes"}}`,
	}
	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode([]byte(frame))
			if !errors.Is(err, ErrBadPayload) {
				t.Fatalf("err = %v, want ErrBadPayload", err)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode(EventUserLeft, UserLeft{ConnectionID: "c1", ParticipantID: "u1", Reason: ReasonDisconnected})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Type != EventUserLeft {
		t.Errorf("type = %q", env.Type)
	}
	var got UserLeft
	if err := json.Unmarshal(env.Payload, &got); err != nil || got.Reason != ReasonDisconnected {
		t.Errorf("payload = %s (%v)", env.Payload, err)
	}

	data, _ = Encode(EventLeaveRoom, nil)
	if string(data) != `{"type":"leave-room"}` {
		t.Errorf("empty payload frame = %s", data)
	}
}
