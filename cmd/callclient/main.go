// callclient joins a session's call from the command line. Camera, microphone
// and screen are played from IVF/OGG files and the remote tracks are recorded
// to OUT_DIR. Lines typed on stdin are chat; /mute, /unmute, /camoff, /camon,
// /share, /unshare, /end and /quit are controls.
package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tutorcall/internal/client"
	"tutorcall/internal/model"
	"tutorcall/internal/peer"
	sig "tutorcall/internal/signal"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type settings struct {
	APIURL     string
	JWT        string
	SessionID  string
	UserType   model.UserType
	VideoFile  string
	AudioFile  string
	ScreenFile string
	OutDir     string
}

func loadSettings() (settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return settings{}, err
	}
	s := settings{
		APIURL:     getenv("API_URL", "http://localhost:8080"),
		JWT:        os.Getenv("JWT"),
		SessionID:  os.Getenv("SESSION_ID"),
		VideoFile:  os.Getenv("VIDEO_FILE"),
		AudioFile:  os.Getenv("AUDIO_FILE"),
		ScreenFile: os.Getenv("SCREEN_FILE"),
		OutDir:     getenv("OUT_DIR", "."),
	}
	ut, ok := model.ParseUserType(getenv("USER_TYPE", "student"))
	if !ok {
		return settings{}, errors.New("USER_TYPE must be student or tutor")
	}
	s.UserType = ut
	if s.JWT == "" || s.SessionID == "" {
		return settings{}, errors.New("JWT and SESSION_ID must be set")
	}
	return s, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	s, err := loadSettings()
	if err != nil {
		log.Fatal().Err(err).Msg("load settings")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.NewAPI(s.APIURL, s.JWT)
	ref, err := api.EnsureRoom(ctx, s.SessionID)
	if err != nil {
		log.Fatal().Err(err).Msg("ensure room")
	}
	join, err := api.Join(ctx, ref.RoomID, s.UserType)
	if err != nil {
		log.Fatal().Err(err).Msg("join room")
	}
	log.Info().Str("room_id", join.RoomID).Str("call_status", string(join.CallStatus)).Interface("peer", join.PeerData).Msg("joined")

	pionAPI, err := peer.NewAPI()
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}
	media := peer.NewFileSource(join.ParticipantID, s.VideoFile, s.AudioFile)
	var screen peer.ScreenCapture
	if s.ScreenFile != "" {
		screen = peer.NewScreenSource(join.ParticipantID+"-screen", s.ScreenFile)
	}
	if err := os.MkdirAll(s.OutDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create output dir")
	}
	recorder := peer.NewFileRecorder(s.OutDir, join.ParticipantID)

	driver := peer.New(peer.Config{
		RoomID:        join.RoomID,
		ParticipantID: join.ParticipantID,
		UserType:      join.UserType,
		AccessToken:   join.AccessToken,
		ICEServers:    join.ICEServers,
	}, media, screen, peer.PionFactory(pionAPI), peer.Events{
		OnStatus: func(st peer.Status) {
			log.Info().Str("module", "peer").Str("status", string(st)).Msg("peer status")
		},
		OnRole: func(r model.Role) {
			log.Info().Str("module", "peer").Str("role", string(r)).Msg("role")
		},
		OnCallStarted: func(m sig.CallStarted) {
			log.Info().Str("module", "peer").Time("started_at", m.CallStartedAt).Msg("call started")
		},
		OnCallEnded: func(m sig.CallEnded) {
			log.Info().Str("module", "peer").Int64("duration", m.CallDuration).Str("reason", m.Reason).Msg("call ended")
		},
		OnChat: func(m peer.ChatMessage) {
			if !m.Local {
				log.Info().Str("module", "chat").Str("from", m.ParticipantID).Msg(m.Text)
			}
		},
		OnPeerMedia: func(m sig.MediaToggle) {
			log.Info().Str("module", "peer").Interface("muted", m.IsMuted).Interface("video_off", m.IsVideoOff).Interface("sharing", m.IsSharing).Msg("peer media")
		},
		OnRemoteTrack: func(t *webrtc.TrackRemote) { recorder.HandleTrack(t) },
		OnError: func(m sig.Error) {
			log.Warn().Str("module", "peer").Str("code", m.Code).Msg(m.Message)
		},
	})

	signaler, err := client.Dial(ctx, api.WebSocketURL(), driver)
	if err != nil {
		log.Fatal().Err(err).Msg("dial signaling")
	}
	driver.SetSignaler(signaler)

	if err := driver.Start(); err != nil {
		signaler.Close()
		log.Fatal().Err(err).Msg("start call")
	}
	go driver.Run(ctx)
	go readCommands(ctx, driver, api, join, stop)

	// keep the signaling socket up; re-present the access token after a redial
	for {
		select {
		case <-driver.Done():
			signaler.Close()
			if err := recorder.Close(); err != nil {
				log.Warn().Err(err).Msg("close recordings")
			}
			log.Info().Msg("bye")
			return
		case <-signaler.Done():
			if ctx.Err() != nil {
				<-driver.Done()
				continue
			}
			log.Warn().Str("module", "signal-client").Msg("signaling lost, redialing")
			next, err := redial(ctx, api.WebSocketURL(), driver)
			if err != nil {
				log.Error().Err(err).Str("module", "signal-client").Msg("giving up")
				stop()
				<-driver.Done()
				continue
			}
			signaler = next
			driver.SetSignaler(signaler)
			driver.Reconnect()
		}
	}
}

func redial(ctx context.Context, url string, h client.Handler) (*client.Signaler, error) {
	delay := peer.DefaultReconnectDelay
	for attempt := 1; attempt <= peer.DefaultMaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		s, err := client.Dial(ctx, url, h)
		if err == nil {
			return s, nil
		}
		log.Warn().Err(err).Str("module", "signal-client").Int("attempt", attempt).Msg("redial failed")
	}
	return nil, errors.New("signaling unreachable")
}

func readCommands(ctx context.Context, d *peer.Driver, api *client.API, join *model.JoinResponse, quit context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		var err error
		switch line {
		case "":
			continue
		case "/mute":
			err = d.SetMuted(true)
		case "/unmute":
			err = d.SetMuted(false)
		case "/camoff":
			err = d.SetCameraOff(true)
		case "/camon":
			err = d.SetCameraOff(false)
		case "/share":
			err = d.StartScreenShare()
		case "/unshare":
			err = d.StopScreenShare()
		case "/end":
			var state *model.CallState
			state, err = api.EndCall(ctx, join.RoomID, join.SessionID)
			if err == nil {
				log.Info().Str("status", string(state.CallStatus)).Int64("duration", state.CallDuration).Msg("call ended")
			}
		case "/quit":
			quit()
			return
		default:
			err = d.SendChat(line)
		}
		if errors.Is(err, peer.ErrClosed) {
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("command", line).Msg("command failed")
		}
	}
}
