package service

import (
	"context"
	"fmt"
	"time"

	"tutorcall/internal/cache"
	"tutorcall/internal/model"
	"tutorcall/internal/repository"

	"github.com/rs/zerolog/log"
)

// Lifecycle owns the persisted call status of a session. It is the only
// component that writes the call fields; every transition is a single
// conditional update so concurrent callers converge on one winner.
type Lifecycle struct {
	sessions repository.SessionRepo
	states   cache.SessionCache
	now      func() time.Time
}

// NewLifecycle creates a lifecycle controller. A nil clock means time.Now.
func NewLifecycle(sessions repository.SessionRepo, states cache.SessionCache, clock func() time.Time) *Lifecycle {
	if clock == nil {
		clock = time.Now
	}
	return &Lifecycle{
		sessions: sessions,
		states:   states,
		now:      clock,
	}
}

// Transition is the outcome of a lifecycle call. Changed is false when the
// precondition no longer held (another writer got there first, or the status
// is already past the target); State then reflects the persisted winner.
type Transition struct {
	State   *model.CallState
	Changed bool
}

// MarkWaiting records the first admission: not-started -> waiting
func (l *Lifecycle) MarkWaiting(ctx context.Context, sessionID string) (Transition, error) {
	session, changed, err := l.sessions.MarkWaiting(ctx, sessionID)
	return l.finish(ctx, "waiting", sessionID, session, changed, err)
}

// Start performs the two-party transition: not-started|waiting -> in-progress.
// A loser observes the winner's callStartedAt.
func (l *Lifecycle) Start(ctx context.Context, sessionID string) (Transition, error) {
	session, changed, err := l.sessions.MarkInProgress(ctx, sessionID, l.now().UTC())
	return l.finish(ctx, "in-progress", sessionID, session, changed, err)
}

// End performs the terminal transition at most once, computing the duration
// from the persisted callStartedAt (0 if the call never started)
func (l *Lifecycle) End(ctx context.Context, sessionID string) (Transition, error) {
	session, changed, err := l.sessions.MarkEnded(ctx, sessionID, l.now().UTC())
	return l.finish(ctx, "ended", sessionID, session, changed, err)
}

// Cancel is the administrative terminal transition; it also flags the session cancelled
func (l *Lifecycle) Cancel(ctx context.Context, sessionID string) (Transition, error) {
	session, changed, err := l.sessions.Cancel(ctx, sessionID, l.now().UTC())
	return l.finish(ctx, "cancelled", sessionID, session, changed, err)
}

// State returns the current call state, preferring a fresh cached snapshot
func (l *Lifecycle) State(ctx context.Context, sessionID string) (*model.CallState, error) {
	if l.states != nil {
		state, err := l.states.Get(ctx, sessionID)
		if err != nil {
			log.Warn().Err(err).Str("module", "lifecycle").Str("session_id", sessionID).Msg("status cache read failed")
		} else if state != nil {
			return state, nil
		}
	}

	session, err := l.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	state := model.CallStateOf(session)
	l.cacheState(ctx, state)
	return state, nil
}

func (l *Lifecycle) finish(ctx context.Context, target, sessionID string, session *model.Session, changed bool, err error) (Transition, error) {
	if err != nil {
		log.Error().Err(err).Str("module", "lifecycle").Str("session_id", sessionID).Str("target", target).Msg("transition write failed")
		return Transition{}, fmt.Errorf("mark %s: %w", target, err)
	}
	if session == nil {
		return Transition{}, ErrSessionNotFound
	}

	state := model.CallStateOf(session)
	if changed {
		log.Info().Str("module", "lifecycle").Str("session_id", sessionID).
			Str("status", string(state.CallStatus)).Int64("duration", state.CallDuration).Msg("call status advanced")
		l.cacheState(ctx, state)
	}
	return Transition{State: state, Changed: changed}, nil
}

// cacheState is best effort: the cache only serves status reads
func (l *Lifecycle) cacheState(ctx context.Context, state *model.CallState) {
	if l.states == nil {
		return
	}
	if err := l.states.Set(ctx, state); err != nil {
		log.Warn().Err(err).Str("module", "lifecycle").Str("session_id", state.SessionID).Msg("status cache write failed")
	}
}
