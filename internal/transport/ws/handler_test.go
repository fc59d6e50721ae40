package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tutorcall/internal/signal"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) signal.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := signal.DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return env
}

func TestHandler_SocketRoundTrip(t *testing.T) {
	f := newRelayFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(NewHandler(f.hub).ServeWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	student := dialWS(t, url)
	tutor := dialWS(t, url)

	student.WriteMessage(websocket.TextMessage, []byte(`not json`))
	if env := readEvent(t, student); env.Type != signal.EventError {
		t.Fatalf("malformed frame answered with %s", env.Type)
	}

	student.WriteMessage(websocket.TextMessage, []byte(`{"type":"join-room","payload":{"roomId":"`+testRoom+`","participantId":"student-1","userType":"student","accessToken":"tok-student"}}`))
	if env := readEvent(t, student); env.Type != signal.EventRoomUsers {
		t.Fatalf("student got %s", env.Type)
	}

	tutor.WriteMessage(websocket.TextMessage, []byte(`{"type":"join-room","payload":{"roomId":"`+testRoom+`","participantId":"tutor-1","userType":"tutor","accessToken":"tok-tutor"}}`))
	if env := readEvent(t, tutor); env.Type != signal.EventRoomUsers {
		t.Fatalf("tutor got %s", env.Type)
	}
	if env := readEvent(t, student); env.Type != signal.EventUserJoined {
		t.Fatalf("student got %s", env.Type)
	}
	if env := readEvent(t, student); env.Type != signal.EventCallStarted {
		t.Fatalf("student got %s", env.Type)
	}
	if env := readEvent(t, tutor); env.Type != signal.EventCallStarted {
		t.Fatalf("tutor got %s", env.Type)
	}

	// closing the tutor socket without leave-room reports a disconnect
	tutor.Close()
	env := readEvent(t, student)
	if env.Type != signal.EventUserLeft || !strings.Contains(string(env.Payload), signal.ReasonDisconnected) {
		t.Fatalf("student got %s %s", env.Type, env.Payload)
	}
}
