package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"tutorcall/internal/cache"
	"tutorcall/internal/model"
	"tutorcall/internal/registry"
	"tutorcall/internal/repository"
	"tutorcall/internal/signal"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	accessTokenBytes = 32
	assignTimeout    = 10 * time.Second
)

// CallService issues room access: it binds rooms to sessions, admits the two
// parties and answers status queries. Live room state belongs to the registry;
// call status belongs to the Lifecycle.
type CallService struct {
	sessions   repository.SessionRepo
	roomCache  cache.RoomCache
	lifecycle  *Lifecycle
	registry   *registry.Registry
	rooms      RoomController
	iceServers []model.ICEServer
	now        func() time.Time

	ensure singleflight.Group
}

// NewCallService creates a new call service
func NewCallService(
	sessions repository.SessionRepo,
	roomCache cache.RoomCache,
	lifecycle *Lifecycle,
	reg *registry.Registry,
	rooms RoomController,
	stunURLs []string,
	clock func() time.Time,
) *CallService {
	if clock == nil {
		clock = time.Now
	}
	var servers []model.ICEServer
	if len(stunURLs) > 0 {
		servers = []model.ICEServer{{URLs: stunURLs}}
	}
	return &CallService{
		sessions:   sessions,
		roomCache:  roomCache,
		lifecycle:  lifecycle,
		registry:   reg,
		rooms:      rooms,
		iceServers: servers,
		now:        clock,
	}
}

// EnsureRoom returns the session's room id, creating it on first use.
// Concurrent callers in this process share one attempt; callers in other
// processes are arbitrated by the conditional update.
func (s *CallService) EnsureRoom(ctx context.Context, sessionID, callerID string) (*model.RoomRef, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if _, ok := session.PartyOf(callerID); !ok {
		return nil, ErrUnauthorized
	}
	if err := checkEligible(session); err != nil {
		return nil, err
	}
	if session.RoomID != "" {
		return &model.RoomRef{RoomID: session.RoomID, SessionID: sessionID}, nil
	}

	// the shared attempt outlives any one caller giving up
	ch := s.ensure.DoChan(sessionID, func() (interface{}, error) {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), assignTimeout)
		defer cancel()
		return s.assignRoom(actx, sessionID)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	ref := res.Val.(model.RoomRef)
	log.Debug().Str("module", "call").Str("session_id", sessionID).Str("room_id", ref.RoomID).
		Bool("shared", res.Shared).Msg("room ensured")
	return &ref, nil
}

func (s *CallService) assignRoom(ctx context.Context, sessionID string) (model.RoomRef, error) {
	suffix, err := randomHex(8)
	if err != nil {
		return model.RoomRef{}, fmt.Errorf("failed to generate room id: %w", err)
	}
	candidate := fmt.Sprintf("room_%s_%s", sessionID, suffix)

	session, assigned, err := s.sessions.AssignRoomID(ctx, sessionID, candidate, s.now().UTC())
	if err != nil {
		return model.RoomRef{}, fmt.Errorf("failed to assign room: %w", err)
	}
	if session == nil {
		return model.RoomRef{}, ErrSessionNotFound
	}
	if session.RoomID == "" {
		// precondition failed yet no room: the session went ineligible meanwhile
		if err := checkEligible(session); err != nil {
			return model.RoomRef{}, err
		}
		return model.RoomRef{}, fmt.Errorf("room assignment lost without a winner")
	}

	if assigned {
		log.Info().Str("module", "call").Str("session_id", sessionID).Str("room_id", session.RoomID).Msg("room created")
	}
	s.cacheRoom(ctx, session)
	return model.RoomRef{RoomID: session.RoomID, SessionID: sessionID}, nil
}

// Join admits a party of the session to the live room and hands it a fresh
// access token for the signaling channel
func (s *CallService) Join(ctx context.Context, roomID, callerID string, userType model.UserType) (*model.JoinResponse, error) {
	session, err := s.sessionForRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	side, ok := session.PartyOf(callerID)
	if !ok || (userType != "" && userType != side) {
		return nil, ErrUnauthorized
	}
	if err := checkEligible(session); err != nil {
		return nil, err
	}

	tr, err := s.lifecycle.MarkWaiting(ctx, session.HexID())
	if err != nil {
		return nil, err
	}
	if tr.State.CallStatus == model.CallEnded {
		return nil, ErrAlreadyEnded
	}

	token, err := randomHex(accessTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	adm, err := s.registry.Admit(roomID, session.HexID(), callerID, side, token)
	if err != nil {
		return nil, err
	}

	log.Info().Str("module", "call").Str("room_id", roomID).Str("participant_id", callerID).
		Str("user_type", string(side)).Int("participants", adm.Count).Bool("rejoin", adm.Existing).Msg("participant admitted")

	own, peer := session.Profiles(side)
	return &model.JoinResponse{
		AccessToken:   token,
		RoomID:        roomID,
		SessionID:     session.HexID(),
		ParticipantID: callerID,
		UserType:      side,
		UserData:      own,
		PeerData:      peer,
		CallStatus:    tr.State.CallStatus,
		ICEServers:    s.iceServers,
	}, nil
}

// Leave removes the caller from the live room through the relay, so the peer
// is notified and an emptied room ends the call. Leaving twice is a no-op.
func (s *CallService) Leave(ctx context.Context, roomID, callerID string) error {
	session, err := s.sessionForRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if _, ok := session.PartyOf(callerID); !ok {
		return ErrUnauthorized
	}
	err = s.rooms.LeaveRoom(ctx, roomID, callerID)
	if errors.Is(err, registry.ErrRoomNotFound) {
		return nil
	}
	return err
}

// ValidateAccess checks a room access token and returns the holder's user type
func (s *CallService) ValidateAccess(ctx context.Context, roomID, callerID, token string) (model.UserType, error) {
	p, err := s.registry.Validate(roomID, callerID, token)
	if err != nil {
		return "", err
	}
	return p.UserType, nil
}

// RoomStatus reports the call status and live membership of a room
func (s *CallService) RoomStatus(ctx context.Context, roomID string) (*model.RoomStatus, error) {
	sessionID, err := s.sessionIDForRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	state, err := s.lifecycle.State(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	duration := state.CallDuration
	if state.CallStatus == model.CallInProgress && state.CallStartedAt != nil {
		duration = int64(s.now().Sub(*state.CallStartedAt) / time.Second)
		if duration < 0 {
			duration = 0
		}
	}
	return &model.RoomStatus{
		RoomID:           roomID,
		CallStatus:       state.CallStatus,
		ParticipantCount: s.registry.Count(roomID),
		CallStartedAt:    state.CallStartedAt,
		CallDuration:     duration,
	}, nil
}

// StartCall forces the in-progress transition (party or admin)
func (s *CallService) StartCall(ctx context.Context, roomID, callerID string, userType model.UserType) (*model.CallState, error) {
	session, err := s.sessionForRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOverride(session, callerID, userType); err != nil {
		return nil, err
	}
	if err := checkEligible(session); err != nil {
		return nil, err
	}
	return s.rooms.StartCall(ctx, roomID, session.HexID())
}

// EndCall forces the terminal transition (party or admin). A second call is a
// no-op returning the already persisted state.
func (s *CallService) EndCall(ctx context.Context, roomID, sessionID, callerID string, userType model.UserType) (*model.CallState, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.RoomID == "" || session.RoomID != roomID {
		return nil, ErrRoomNotFound
	}
	if err := authorizeOverride(session, callerID, userType); err != nil {
		return nil, err
	}
	return s.rooms.EndCall(ctx, EndRequest{
		RoomID:    roomID,
		SessionID: sessionID,
		EndedBy:   callerID,
		Reason:    signal.ReasonEnded,
	})
}

// CancelSession is the administrative cancellation: the session is flagged
// cancelled, the call ends and any live room is torn down
func (s *CallService) CancelSession(ctx context.Context, sessionID string, userType model.UserType) (*model.CallState, error) {
	if userType != model.UserAdmin {
		return nil, ErrUnauthorized
	}
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.RoomID == "" {
		tr, err := s.lifecycle.Cancel(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return tr.State, nil
	}
	return s.rooms.EndCall(ctx, EndRequest{
		RoomID:    session.RoomID,
		SessionID: sessionID,
		Reason:    signal.ReasonCancelled,
		Cancel:    true,
	})
}

func (s *CallService) sessionIDForRoom(ctx context.Context, roomID string) (string, error) {
	if info, ok := s.registry.Room(roomID); ok {
		return info.SessionID, nil
	}
	if s.roomCache != nil {
		meta, err := s.roomCache.GetMeta(ctx, roomID)
		if err != nil {
			log.Warn().Err(err).Str("module", "call").Str("room_id", roomID).Msg("room cache read failed")
		} else if meta != nil {
			return meta.SessionID, nil
		}
	}
	session, err := s.sessions.GetByRoomID(ctx, roomID)
	if err != nil {
		return "", fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return "", ErrRoomNotFound
	}
	s.cacheRoom(ctx, session)
	return session.HexID(), nil
}

// sessionForRoom always reads the session itself: eligibility flags can change
// underneath us, only the room -> session binding is cached
func (s *CallService) sessionForRoom(ctx context.Context, roomID string) (*model.Session, error) {
	sessionID, err := s.sessionIDForRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil || session.RoomID != roomID {
		return nil, ErrRoomNotFound
	}
	return session, nil
}

func (s *CallService) cacheRoom(ctx context.Context, session *model.Session) {
	if s.roomCache == nil || session.RoomID == "" {
		return
	}
	meta := &model.RoomMeta{RoomID: session.RoomID, SessionID: session.HexID()}
	if session.RoomCreatedAt != nil {
		meta.CreatedAt = *session.RoomCreatedAt
	}
	if err := s.roomCache.SetMeta(ctx, meta); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("room_id", session.RoomID).Msg("room cache write failed")
	}
}

func checkEligible(session *model.Session) error {
	switch {
	case !session.Payment:
		return ErrPaymentRequired
	case session.Cancelled:
		return ErrCancelled
	case session.IsCompleted || session.Status() == model.CallEnded:
		return ErrAlreadyEnded
	}
	return nil
}

func authorizeOverride(session *model.Session, callerID string, userType model.UserType) error {
	if userType == model.UserAdmin {
		return nil
	}
	if _, ok := session.PartyOf(callerID); !ok {
		return ErrUnauthorized
	}
	return nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
