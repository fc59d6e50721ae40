package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"tutorcall/internal/model"
	"tutorcall/internal/registry"
)

type fixture struct {
	repo      *memSessionRepo
	states    *memStateCache
	rooms     *recordingRooms
	registry  *registry.Registry
	lifecycle *Lifecycle
	svc       *CallService
	clock     *testClock
}

func newFixture() *fixture {
	f := &fixture{
		repo:   newMemSessionRepo(),
		states: newMemStateCache(),
		clock:  newTestClock(),
	}
	f.registry = registry.New(f.clock.Now)
	f.lifecycle = NewLifecycle(f.repo, f.states, f.clock.Now)
	f.rooms = &recordingRooms{lifecycle: f.lifecycle}
	f.svc = NewCallService(f.repo, newMemRoomCache(), f.lifecycle, f.registry, f.rooms,
		[]string{"stun:stun.l.google.com:19302"}, f.clock.Now)
	return f
}

var roomIDPattern = regexp.MustCompile(`^room_[0-9a-f]{24}_[0-9a-f]{16}$`)

func TestEnsureRoom_ConcurrentCallersShareOneRoom(t *testing.T) {
	f := newFixture()
	id := f.repo.add(paidSession())

	const n = 16
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := "student-1"
			if i%2 == 1 {
				caller = "tutor-1"
			}
			ref, err := f.svc.EnsureRoom(context.Background(), id, caller)
			errs[i] = err
			if ref != nil {
				ids[i] = ref.RoomID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got %q, caller 0 got %q", i, ids[i], ids[0])
		}
	}
	if !roomIDPattern.MatchString(ids[0]) {
		t.Errorf("room id %q does not match room_<session>_<hex>", ids[0])
	}
	if got := f.repo.get(id).RoomID; got != ids[0] {
		t.Errorf("persisted roomId = %q, want %q", got, ids[0])
	}
	if f.repo.assignWrites != 1 {
		t.Errorf("assign writes = %d, want 1", f.repo.assignWrites)
	}

	again, err := f.svc.EnsureRoom(context.Background(), id, "tutor-1")
	if err != nil || again.RoomID != ids[0] {
		t.Errorf("repeat EnsureRoom = %+v, %v", again, err)
	}
}

func TestEnsureRoom_CancelledCallerDoesNotFailOthers(t *testing.T) {
	f := newFixture()
	id := f.repo.add(paidSession())
	f.repo.assignGate = make(chan struct{})
	f.repo.assignEntered = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.svc.EnsureRoom(ctx, id, "student-1")
		first <- err
	}()
	select {
	case <-f.repo.assignEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("room assignment never started")
	}

	second := make(chan *model.RoomRef, 1)
	go func() {
		ref, err := f.svc.EnsureRoom(context.Background(), id, "tutor-1")
		if err != nil {
			t.Errorf("coalesced caller: %v", err)
		}
		second <- ref
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-first:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller still waiting on the shared attempt")
	}

	close(f.repo.assignGate)
	var ref *model.RoomRef
	select {
	case ref = <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("coalesced caller never returned")
	}
	if ref == nil || ref.RoomID == "" || f.repo.get(id).RoomID != ref.RoomID {
		t.Fatalf("ref = %+v, persisted %q", ref, f.repo.get(id).RoomID)
	}
	if f.repo.assignWrites != 1 {
		t.Errorf("assign writes = %d, want 1", f.repo.assignWrites)
	}
}

func TestEnsureRoom_Eligibility(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Session)
		caller string
		want   error
	}{
		{"payment required", func(s *model.Session) { s.Payment = false }, "student-1", ErrPaymentRequired},
		{"cancelled", func(s *model.Session) { s.Cancelled = true }, "student-1", ErrCancelled},
		{"completed", func(s *model.Session) { s.IsCompleted = true }, "tutor-1", ErrAlreadyEnded},
		{"stranger", func(s *model.Session) {}, "someone-else", ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			s := paidSession()
			tt.mutate(s)
			id := f.repo.add(s)

			_, err := f.svc.EnsureRoom(context.Background(), id, tt.caller)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if got := f.repo.get(id).RoomID; got != "" {
				t.Errorf("roomId assigned despite error: %q", got)
			}
		})
	}

	f := newFixture()
	if _, err := f.svc.EnsureRoom(context.Background(), "000000000000000000000000", "student-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session: err = %v", err)
	}
}

func TestJoin(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.repo.add(paidSession())
	ref, err := f.svc.EnsureRoom(ctx, id, "student-1")
	if err != nil {
		t.Fatalf("EnsureRoom: %v", err)
	}

	stu, err := f.svc.Join(ctx, ref.RoomID, "student-1", model.UserStudent)
	if err != nil {
		t.Fatalf("student join: %v", err)
	}
	if stu.CallStatus != model.CallWaiting {
		t.Errorf("callStatus = %q, want waiting", stu.CallStatus)
	}
	if len(stu.AccessToken) != 64 {
		t.Errorf("access token length = %d, want 64 hex chars", len(stu.AccessToken))
	}
	if stu.UserData["name"] != "Sam" || stu.PeerData["name"] != "Dr. Tan" {
		t.Errorf("profiles = %v / %v", stu.UserData, stu.PeerData)
	}
	if len(stu.ICEServers) != 1 {
		t.Errorf("ICEServers = %v", stu.ICEServers)
	}

	tut, err := f.svc.Join(ctx, ref.RoomID, "tutor-1", "")
	if err != nil {
		t.Fatalf("tutor join: %v", err)
	}
	if tut.UserType != model.UserTutor || tut.PeerData["name"] != "Sam" {
		t.Errorf("tutor join = %+v", tut)
	}
	if tut.AccessToken == stu.AccessToken {
		t.Error("tokens are shared between participants")
	}

	ut, err := f.svc.ValidateAccess(ctx, ref.RoomID, "tutor-1", tut.AccessToken)
	if err != nil || ut != model.UserTutor {
		t.Errorf("ValidateAccess = %q, %v", ut, err)
	}
	if _, err := f.svc.ValidateAccess(ctx, ref.RoomID, "tutor-1", stu.AccessToken); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("cross token: err = %v", err)
	}

	// the persisted timestamps move only on the two-party rule
	if s := f.repo.get(id); s.CallStartedAt != nil {
		t.Errorf("callStartedAt set on join: %v", s.CallStartedAt)
	}
}

func TestJoin_UnauthorizedLeavesRegistryUnchanged(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.repo.add(paidSession())
	ref, _ := f.svc.EnsureRoom(ctx, id, "student-1")
	if _, err := f.svc.Join(ctx, ref.RoomID, "student-1", model.UserStudent); err != nil {
		t.Fatalf("join: %v", err)
	}

	_, err := f.svc.Join(ctx, ref.RoomID, "intruder", model.UserTutor)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	// claiming the other side's user type is rejected too
	if _, err := f.svc.Join(ctx, ref.RoomID, "student-1", model.UserTutor); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong side: err = %v, want ErrUnauthorized", err)
	}
	if got := f.registry.Count(ref.RoomID); got != 1 {
		t.Errorf("registry count = %d, want 1", got)
	}
}

func TestJoin_UnknownRoom(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Join(context.Background(), "room_nope", "student-1", ""); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestEndCall_AtMostOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.repo.add(paidSession())
	ref, _ := f.svc.EnsureRoom(ctx, id, "student-1")

	if _, err := f.svc.StartCall(ctx, ref.RoomID, "student-1", model.UserStudent); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	f.clock.Advance(125 * time.Second)

	first, err := f.svc.EndCall(ctx, ref.RoomID, id, "tutor-1", model.UserTutor)
	if err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if first.CallDuration != 125 || first.CallStatus != model.CallEnded {
		t.Errorf("first end = %+v", first)
	}

	f.clock.Advance(time.Minute)
	second, err := f.svc.EndCall(ctx, ref.RoomID, id, "student-1", model.UserStudent)
	if err != nil {
		t.Fatalf("second EndCall: %v", err)
	}
	if second.CallDuration != 125 || !second.CallEndedAt.Equal(*first.CallEndedAt) {
		t.Errorf("second end rewrote state: %+v", second)
	}
	if f.repo.endWrites != 1 {
		t.Errorf("end writes = %d, want 1", f.repo.endWrites)
	}
	if !f.repo.get(id).IsCompleted {
		t.Error("isCompleted not set")
	}
}

func TestEndCall_Authorization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.repo.add(paidSession())
	ref, _ := f.svc.EnsureRoom(ctx, id, "student-1")

	if _, err := f.svc.EndCall(ctx, ref.RoomID, id, "stranger", model.UserStudent); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger: err = %v", err)
	}
	if _, err := f.svc.EndCall(ctx, "room_other", id, "tutor-1", model.UserTutor); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("mismatched room: err = %v", err)
	}
	if _, err := f.svc.EndCall(ctx, ref.RoomID, id, "ops", model.UserAdmin); err != nil {
		t.Errorf("admin: %v", err)
	}
}

func TestCancelSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.repo.add(paidSession())

	if _, err := f.svc.CancelSession(ctx, id, model.UserTutor); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin: err = %v", err)
	}

	// no room yet: lifecycle is driven directly
	state, err := f.svc.CancelSession(ctx, id, model.UserAdmin)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !state.Cancelled || state.CallStatus != model.CallEnded || state.CallDuration != 0 {
		t.Errorf("state = %+v", state)
	}
	if len(f.rooms.ends) != 0 {
		t.Errorf("relay called without a room: %+v", f.rooms.ends)
	}

	g := newFixture()
	id = g.repo.add(paidSession())
	ref, _ := g.svc.EnsureRoom(ctx, id, "tutor-1")
	if _, err := g.svc.CancelSession(ctx, id, model.UserAdmin); err != nil {
		t.Fatalf("cancel with room: %v", err)
	}
	if len(g.rooms.ends) != 1 || !g.rooms.ends[0].Cancel || g.rooms.ends[0].RoomID != ref.RoomID {
		t.Errorf("relay requests = %+v", g.rooms.ends)
	}
}

func TestLeave(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.repo.add(paidSession())
	ref, _ := f.svc.EnsureRoom(ctx, id, "student-1")

	if err := f.svc.Leave(ctx, ref.RoomID, "stranger"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger: err = %v", err)
	}
	if err := f.svc.Leave(ctx, ref.RoomID, "student-1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if len(f.rooms.left) != 1 || f.rooms.left[0] != "student-1" {
		t.Errorf("relay leave calls = %v", f.rooms.left)
	}
}

func TestRoomStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.repo.add(paidSession())
	ref, _ := f.svc.EnsureRoom(ctx, id, "student-1")
	f.svc.Join(ctx, ref.RoomID, "student-1", "")
	f.svc.Join(ctx, ref.RoomID, "tutor-1", "")
	f.svc.StartCall(ctx, ref.RoomID, "tutor-1", model.UserTutor)

	f.clock.Advance(42 * time.Second)
	st, err := f.svc.RoomStatus(ctx, ref.RoomID)
	if err != nil {
		t.Fatalf("RoomStatus: %v", err)
	}
	if st.CallStatus != model.CallInProgress || st.ParticipantCount != 2 || st.CallDuration != 42 {
		t.Errorf("status = %+v", st)
	}
	if st.CallStartedAt == nil {
		t.Error("callStartedAt missing")
	}

	if _, err := f.svc.RoomStatus(ctx, "room_missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("missing room: err = %v", err)
	}
}
