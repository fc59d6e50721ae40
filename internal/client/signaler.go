package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tutorcall/internal/signal"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	pingInterval = 25 * time.Second
	writeTimeout = 5 * time.Second
)

// ErrSignalerClosed is returned by Send after Close or a lost connection
var ErrSignalerClosed = errors.New("signaling connection closed")

// Handler receives every server event in arrival order, on the read loop goroutine
type Handler interface {
	HandleSignal(env signal.Envelope)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(env signal.Envelope)

func (f HandlerFunc) HandleSignal(env signal.Envelope) { f(env) }

// Signaler manages the WebSocket signaling connection.
type Signaler struct {
	conn    *websocket.Conn
	handler Handler

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay and starts the read and ping loops
func Dial(ctx context.Context, url string, handler Handler) (*Signaler, error) {
	log.Info().Str("module", "signal-client").Str("url", url).Msg("connecting")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	s := &Signaler{
		conn:    conn,
		handler: handler,
		closed:  make(chan struct{}),
	}
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

// Send encodes and writes one event
func (s *Signaler) Send(t signal.EventType, payload any) error {
	data, err := signal.Encode(t, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return ErrSignalerClosed
	default:
	}

	log.Debug().Str("module", "signal-client").Str("type", string(t)).Msg(">>>")
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", t, err)
	}
	return nil
}

// Done is closed when the connection is gone
func (s *Signaler) Done() <-chan struct{} {
	return s.closed
}

// Close shuts down the WebSocket connection.
func (s *Signaler) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.mu.Unlock()
		s.conn.Close()
	})
}

func (s *Signaler) readLoop() {
	defer s.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				log.Warn().Err(err).Str("module", "signal-client").Msg("read error")
			}
			return
		}

		env, err := signal.DecodeEnvelope(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal-client").Msg("unreadable frame")
			continue
		}
		log.Debug().Str("module", "signal-client").Str("type", string(env.Type)).Msg("<<<")
		s.handler.HandleSignal(env)
	}
}

func (s *Signaler) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.mu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout))
			s.mu.Unlock()
			if err != nil {
				select {
				case <-s.closed:
				default:
					log.Warn().Err(err).Str("module", "signal-client").Msg("ping error")
				}
				return
			}
		}
	}
}
