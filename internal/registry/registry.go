// Package registry is the in-memory table of live call rooms and the
// participants admitted to them.
package registry

import (
	"crypto/subtle"
	"errors"
	"sort"
	"sync"
	"time"

	"tutorcall/internal/model"
)

// MaxParticipants is the room capacity: one student and one tutor
const MaxParticipants = 2

var (
	ErrRoomFull           = errors.New("room is full")
	ErrRoomNotFound       = errors.New("room not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Participant is a copy of a registry entry; mutating it has no effect on the registry
type Participant struct {
	Identity       string
	UserType       model.UserType
	AccessToken    string
	ConnectionID   string // empty while no live connection represents the participant
	Role           model.Role
	JoinedAt       time.Time
	DisconnectedAt time.Time // zero while bound
}

// Bound reports whether a live connection currently represents the participant
func (p Participant) Bound() bool {
	return p.ConnectionID != ""
}

// RoomInfo describes a room without its participants
type RoomInfo struct {
	ID        string
	SessionID string
	CreatedAt time.Time
}

// Binding is the live connection -> participant route
type Binding struct {
	ConnectionID string
	RoomID       string
	SessionID    string
	Identity     string
	UserType     model.UserType
}

// Admission is the outcome of Admit
type Admission struct {
	Participant Participant
	Existing    bool // identity was already admitted; its token was replaced
	Count       int  // participants in the room after admission
}

// SweepResult lists what a sweep found. Expired and Emptied rooms are still in
// the registry; ConnIDs are the live bindings of an expired room.
type SweepResult struct {
	Expired []ExpiredRoom
	Pruned  []Pruned
	Emptied []RoomInfo
}

type ExpiredRoom struct {
	RoomInfo
	ConnIDs []string
}

type Pruned struct {
	RoomInfo
	Identity string
}

type room struct {
	info         RoomInfo
	participants map[string]*Participant
}

// Registry is safe for concurrent use. The clock is injected so tests control time.
type Registry struct {
	mu    sync.Mutex
	now   func() time.Time
	rooms map[string]*room
	conns map[string]Binding
}

// New creates an empty registry. A nil clock means time.Now.
func New(clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		now:   clock,
		rooms: make(map[string]*room),
		conns: make(map[string]Binding),
	}
}

// Admit creates the room bucket if absent and upserts the participant with a
// fresh token. A third distinct identity, or a second identity of the same
// user type, is rejected with ErrRoomFull and leaves the room unchanged.
func (r *Registry) Admit(roomID, sessionID, identity string, userType model.UserType, token string) (Admission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{
			info:         RoomInfo{ID: roomID, SessionID: sessionID, CreatedAt: now},
			participants: make(map[string]*Participant),
		}
	}

	if p, ok := rm.participants[identity]; ok {
		p.AccessToken = token
		p.UserType = userType
		return Admission{Participant: *p, Existing: true, Count: len(rm.participants)}, nil
	}

	if len(rm.participants) >= MaxParticipants {
		return Admission{}, ErrRoomFull
	}
	for _, other := range rm.participants {
		if other.UserType == userType {
			return Admission{}, ErrRoomFull
		}
	}

	p := &Participant{
		Identity:    identity,
		UserType:    userType,
		AccessToken: token,
		JoinedAt:    now,
		// never bound yet; the reconnect grace starts at admission
		DisconnectedAt: now,
	}
	rm.participants[identity] = p
	r.rooms[roomID] = rm
	return Admission{Participant: *p, Count: len(rm.participants)}, nil
}

// BindConnection records which live connection represents a participant,
// overwriting any prior binding. It returns the replaced connection id, if any.
func (r *Registry) BindConnection(roomID, identity, connID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return "", ErrRoomNotFound
	}
	p, ok := rm.participants[identity]
	if !ok {
		return "", ErrInvalidCredentials
	}

	prev := p.ConnectionID
	if prev != "" && prev != connID {
		delete(r.conns, prev)
	}
	// a connection represents one participant at a time
	if old, ok := r.conns[connID]; ok && (old.RoomID != roomID || old.Identity != identity) {
		r.unbindLocked(connID)
	}

	p.ConnectionID = connID
	p.DisconnectedAt = time.Time{}
	r.conns[connID] = Binding{
		ConnectionID: connID,
		RoomID:       roomID,
		SessionID:    rm.info.SessionID,
		Identity:     identity,
		UserType:     p.UserType,
	}
	if prev == connID {
		prev = ""
	}
	return prev, nil
}

// AssignRole stores the negotiation role decided at admission
func (r *Registry) AssignRole(roomID, identity string, role model.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.participantLocked(roomID, identity)
	if err != nil {
		return err
	}
	p.Role = role
	return nil
}

// Validate returns the participant iff identity is admitted to the room and token matches
func (r *Registry) Validate(roomID, identity, token string) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return Participant{}, ErrRoomNotFound
	}
	p, ok := rm.participants[identity]
	if !ok || token == "" {
		return Participant{}, ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(p.AccessToken), []byte(token)) != 1 {
		return Participant{}, ErrInvalidCredentials
	}
	return *p, nil
}

// Remove deletes the participant and its binding. It reports whether the room
// is now empty; the empty bucket stays until Delete.
func (r *Registry) Remove(roomID, identity string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false, ErrRoomNotFound
	}
	p, ok := rm.participants[identity]
	if !ok {
		return len(rm.participants) == 0, nil
	}
	if p.ConnectionID != "" {
		delete(r.conns, p.ConnectionID)
	}
	delete(rm.participants, identity)
	return len(rm.participants) == 0, nil
}

// Unbind detaches a closed connection from its participant. The participant keeps
// its slot and token so a reconnect can re-bind within the grace window.
func (r *Registry) Unbind(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbindLocked(connID)
}

func (r *Registry) unbindLocked(connID string) (Binding, bool) {
	b, ok := r.conns[connID]
	if !ok {
		return Binding{}, false
	}
	delete(r.conns, connID)
	if rm, ok := r.rooms[b.RoomID]; ok {
		if p, ok := rm.participants[b.Identity]; ok && p.ConnectionID == connID {
			p.ConnectionID = ""
			p.DisconnectedAt = r.now()
		}
	}
	return b, true
}

// Room returns the room description
func (r *Registry) Room(roomID string) (RoomInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return RoomInfo{}, false
	}
	return rm.info, true
}

// Participants returns copies of the room's participants ordered by admission time
func (r *Registry) Participants(roomID string) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Participant, 0, len(rm.participants))
	for _, p := range rm.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].Identity < out[j].Identity
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Count returns the number of admitted participants
func (r *Registry) Count(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		return len(rm.participants)
	}
	return 0
}

// Delete drops the room and returns the connection ids that were bound to it
func (r *Registry) Delete(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(roomID)
}

func (r *Registry) deleteLocked(roomID string) []string {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	var conns []string
	for _, p := range rm.participants {
		if p.ConnectionID != "" {
			conns = append(conns, p.ConnectionID)
			delete(r.conns, p.ConnectionID)
		}
	}
	delete(r.rooms, roomID)
	sort.Strings(conns)
	return conns
}

// SweepStale reports rooms older than maxAge and prunes participants whose
// connection has been gone for longer than grace. Expired rooms and rooms left
// with no participants are kept until the caller deletes them, so a failed
// terminal write can be retried by the next sweep.
func (r *Registry) SweepStale(now time.Time, maxAge, grace time.Duration) SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res SweepResult
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rm := r.rooms[id]
		if maxAge > 0 && now.Sub(rm.info.CreatedAt) > maxAge {
			var conns []string
			for _, p := range rm.participants {
				if p.ConnectionID != "" {
					conns = append(conns, p.ConnectionID)
				}
			}
			sort.Strings(conns)
			res.Expired = append(res.Expired, ExpiredRoom{RoomInfo: rm.info, ConnIDs: conns})
			continue
		}

		for identity, p := range rm.participants {
			if p.ConnectionID != "" || p.DisconnectedAt.IsZero() {
				continue
			}
			if now.Sub(p.DisconnectedAt) > grace {
				delete(rm.participants, identity)
				res.Pruned = append(res.Pruned, Pruned{RoomInfo: rm.info, Identity: identity})
			}
		}
		if len(rm.participants) == 0 {
			res.Emptied = append(res.Emptied, rm.info)
		}
	}
	return res
}

func (r *Registry) participantLocked(roomID, identity string) (*Participant, error) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	p, ok := rm.participants[identity]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return p, nil
}
