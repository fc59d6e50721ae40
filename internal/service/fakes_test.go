package service

import (
	"context"
	"sync"
	"time"

	"tutorcall/internal/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memSessionRepo mimics the conditional updates of the Mongo repository
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session

	assignWrites int
	startWrites  int
	endWrites    int
	failEnd      error

	// assignGate, when set, holds AssignRoomID until closed; assignEntered
	// is signalled as the write starts waiting
	assignGate    chan struct{}
	assignEntered chan struct{}
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*model.Session)}
}

func (r *memSessionRepo) add(s *model.Session) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	r.sessions[s.ID.Hex()] = s
	return s.ID.Hex()
}

func (r *memSessionRepo) get(id string) *model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked(id)
}

func (r *memSessionRepo) copyLocked(id string) *model.Session {
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	c := *s
	return &c
}

func (r *memSessionRepo) Create(ctx context.Context, session *model.Session) (string, error) {
	return r.add(session), nil
}

func (r *memSessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	return r.get(id), nil
}

func (r *memSessionRepo) GetByRoomID(ctx context.Context, roomID string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if roomID != "" && s.RoomID == roomID {
			return r.copyLocked(id), nil
		}
	}
	return nil, nil
}

func (r *memSessionRepo) update(id string, pred func(*model.Session) bool, apply func(*model.Session)) (*model.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false, nil
	}
	if !pred(s) {
		return r.copyLocked(id), false, nil
	}
	apply(s)
	return r.copyLocked(id), true, nil
}

func (r *memSessionRepo) AssignRoomID(ctx context.Context, id, roomID string, at time.Time) (*model.Session, bool, error) {
	if r.assignGate != nil {
		select {
		case r.assignEntered <- struct{}{}:
		default:
		}
		select {
		case <-r.assignGate:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	return r.update(id,
		func(s *model.Session) bool { return s.RoomID == "" },
		func(s *model.Session) {
			r.assignWrites++
			s.RoomID = roomID
			s.RoomCreatedAt = &at
		})
}

func (r *memSessionRepo) MarkWaiting(ctx context.Context, id string) (*model.Session, bool, error) {
	return r.update(id,
		func(s *model.Session) bool { return s.Status() == model.CallNotStarted },
		func(s *model.Session) { s.CallStatus = model.CallWaiting })
}

func (r *memSessionRepo) MarkInProgress(ctx context.Context, id string, at time.Time) (*model.Session, bool, error) {
	return r.update(id,
		func(s *model.Session) bool {
			return s.Status() == model.CallNotStarted || s.Status() == model.CallWaiting
		},
		func(s *model.Session) {
			r.startWrites++
			s.CallStatus = model.CallInProgress
			s.CallStartedAt = &at
		})
}

func (r *memSessionRepo) end(id string, at time.Time, cancel bool) (*model.Session, bool, error) {
	if r.failEnd != nil {
		return nil, false, r.failEnd
	}
	return r.update(id,
		func(s *model.Session) bool { return s.Status() != model.CallEnded },
		func(s *model.Session) {
			r.endWrites++
			s.CallStatus = model.CallEnded
			s.CallEndedAt = &at
			s.IsCompleted = true
			s.CallDuration = 0
			if s.CallStartedAt != nil {
				if d := int64(at.Sub(*s.CallStartedAt) / time.Second); d > 0 {
					s.CallDuration = d
				}
			}
			if cancel {
				s.Cancelled = true
			}
		})
}

func (r *memSessionRepo) MarkEnded(ctx context.Context, id string, at time.Time) (*model.Session, bool, error) {
	return r.end(id, at, false)
}

func (r *memSessionRepo) Cancel(ctx context.Context, id string, at time.Time) (*model.Session, bool, error) {
	return r.end(id, at, true)
}

func (r *memSessionRepo) EnsureIndexes(ctx context.Context) error { return nil }

type memStateCache struct {
	mu     sync.Mutex
	states map[string]model.CallState
}

func newMemStateCache() *memStateCache {
	return &memStateCache{states: make(map[string]model.CallState)}
}

func (c *memStateCache) Set(ctx context.Context, state *model.CallState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[state.SessionID] = *state
	return nil
}

func (c *memStateCache) Get(ctx context.Context, sessionID string) (*model.CallState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[sessionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

type memRoomCache struct {
	mu    sync.Mutex
	metas map[string]model.RoomMeta
}

func newMemRoomCache() *memRoomCache {
	return &memRoomCache{metas: make(map[string]model.RoomMeta)}
}

func (c *memRoomCache) SetMeta(ctx context.Context, meta *model.RoomMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metas[meta.RoomID] = *meta
	return nil
}

func (c *memRoomCache) GetMeta(ctx context.Context, roomID string) (*model.RoomMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.metas[roomID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// recordingRooms is a RoomController that applies transitions directly
type recordingRooms struct {
	lifecycle *Lifecycle
	left      []string
	ends      []EndRequest
}

func (f *recordingRooms) LeaveRoom(ctx context.Context, roomID, identity string) error {
	f.left = append(f.left, identity)
	return nil
}

func (f *recordingRooms) StartCall(ctx context.Context, roomID, sessionID string) (*model.CallState, error) {
	tr, err := f.lifecycle.Start(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return tr.State, nil
}

func (f *recordingRooms) EndCall(ctx context.Context, req EndRequest) (*model.CallState, error) {
	f.ends = append(f.ends, req)
	var (
		tr  Transition
		err error
	)
	if req.Cancel {
		tr, err = f.lifecycle.Cancel(ctx, req.SessionID)
	} else {
		tr, err = f.lifecycle.End(ctx, req.SessionID)
	}
	if err != nil {
		return nil, err
	}
	return tr.State, nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func paidSession() *model.Session {
	return &model.Session{
		StudentID:  "student-1",
		TutorID:    "tutor-1",
		SlotTime:   "15:00",
		Student:    model.Profile{"name": "Sam"},
		Tutor:      model.Profile{"name": "Dr. Tan"},
		Amount:     40,
		Payment:    true,
		CallStatus: model.CallNotStarted,
	}
}
