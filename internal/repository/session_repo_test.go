package repository

import (
	"context"
	"testing"
	"time"

	"tutorcall/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

var (
	testOID = primitive.NewObjectID()
	started = time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)
)

func sessionDoc(status model.CallStatus, extra ...bson.E) bson.D {
	doc := bson.D{
		{Key: "_id", Value: testOID},
		{Key: "userId", Value: "student-1"},
		{Key: "tutId", Value: "tutor-1"},
		{Key: "payment", Value: true},
		{Key: "callStatus", Value: status},
	}
	return append(doc, extra...)
}

func modified(doc bson.D) bson.D {
	return mtest.CreateSuccessResponse(bson.E{Key: "value", Value: doc})
}

func unmatched() bson.D {
	return mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil})
}

func found(mt *mtest.T, doc bson.D) bson.D {
	ns := mt.DB.Name() + ".sessions"
	return mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, doc)
}

// commandDoc pops the next started command and decodes field key of it
func commandDoc(mt *mtest.T, name, key string) bson.M {
	mt.Helper()
	evt := mt.GetStartedEvent()
	if evt == nil {
		mt.Fatalf("no %s command was sent", name)
	}
	if evt.CommandName != name {
		mt.Fatalf("command = %s, want %s", evt.CommandName, name)
	}
	var out bson.M
	if err := bson.Unmarshal(evt.Command.Lookup(key).Document(), &out); err != nil {
		mt.Fatalf("decode %s.%s: %v", name, key, err)
	}
	return out
}

func TestSessionRepo_ConditionalWrites(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("in-progress applies", func(mt *mtest.T) {
		repo := NewSessionRepo(mt.DB)
		mt.AddMockResponses(modified(sessionDoc(model.CallInProgress, bson.E{Key: "callStartedAt", Value: started})))

		s, changed, err := repo.MarkInProgress(context.Background(), testOID.Hex(), started)
		if err != nil || !changed {
			mt.Fatalf("MarkInProgress: changed=%v err=%v", changed, err)
		}
		if s.CallStatus != model.CallInProgress || s.CallStartedAt == nil || !s.CallStartedAt.Equal(started) {
			mt.Errorf("session = %+v", s)
		}

		query := commandDoc(mt, "findAndModify", "query")
		if query["_id"] != testOID {
			mt.Errorf("query _id = %v", query["_id"])
		}
		or, ok := query["$or"].(bson.A)
		if !ok || len(or) != 2 {
			mt.Fatalf("query $or = %#v", query["$or"])
		}
		in := or[0].(bson.M)["callStatus"].(bson.M)["$in"].(bson.A)
		if len(in) != 2 || in[0] != string(model.CallNotStarted) || in[1] != string(model.CallWaiting) {
			mt.Errorf("guarded statuses = %v", in)
		}
	})

	mt.Run("lost race re-reads the winner", func(mt *mtest.T) {
		repo := NewSessionRepo(mt.DB)
		winner := started.Add(-2 * time.Second)
		mt.AddMockResponses(
			unmatched(),
			found(mt, sessionDoc(model.CallInProgress, bson.E{Key: "callStartedAt", Value: winner})),
		)

		s, changed, err := repo.MarkInProgress(context.Background(), testOID.Hex(), started)
		if err != nil || changed {
			mt.Fatalf("MarkInProgress: changed=%v err=%v", changed, err)
		}
		if s == nil || s.CallStartedAt == nil || !s.CallStartedAt.Equal(winner) {
			mt.Fatalf("session = %+v, want the winner's timestamp", s)
		}

		commandDoc(mt, "findAndModify", "query")
		filter := commandDoc(mt, "find", "filter")
		if len(filter) != 1 || filter["_id"] != testOID {
			mt.Errorf("re-read filter = %v", filter)
		}
	})

	mt.Run("room assignment keeps the first room", func(mt *mtest.T) {
		repo := NewSessionRepo(mt.DB)
		mt.AddMockResponses(
			unmatched(),
			found(mt, sessionDoc(model.CallNotStarted, bson.E{Key: "roomId", Value: "room_first"})),
		)

		s, assigned, err := repo.AssignRoomID(context.Background(), testOID.Hex(), "room_second", started)
		if err != nil || assigned {
			mt.Fatalf("AssignRoomID: assigned=%v err=%v", assigned, err)
		}
		if s.RoomID != "room_first" {
			mt.Errorf("roomId = %q", s.RoomID)
		}
		query := commandDoc(mt, "findAndModify", "query")
		if or, ok := query["$or"].(bson.A); !ok || len(or) != 3 {
			mt.Errorf("unassigned guard = %#v", query["$or"])
		}
	})

	mt.Run("end computes duration server side", func(mt *mtest.T) {
		repo := NewSessionRepo(mt.DB)
		ended := started.Add(125 * time.Second)
		mt.AddMockResponses(modified(sessionDoc(model.CallEnded,
			bson.E{Key: "callStartedAt", Value: started},
			bson.E{Key: "callEndedAt", Value: ended},
			bson.E{Key: "callDuration", Value: int64(125)},
			bson.E{Key: "isCompleted", Value: true},
		)))

		s, changed, err := repo.MarkEnded(context.Background(), testOID.Hex(), ended)
		if err != nil || !changed || s.CallDuration != 125 || !s.IsCompleted {
			mt.Fatalf("MarkEnded = %+v, %v, %v", s, changed, err)
		}

		evt := mt.GetStartedEvent()
		var query bson.M
		if err := bson.Unmarshal(evt.Command.Lookup("query").Document(), &query); err != nil {
			mt.Fatal(err)
		}
		if ne := query["callStatus"].(bson.M)["$ne"]; ne != string(model.CallEnded) {
			mt.Errorf("terminal guard = %v", ne)
		}
		stages, err := evt.Command.Lookup("update").Array().Values()
		if err != nil || len(stages) != 1 {
			mt.Fatalf("update is not a one-stage pipeline: %v %v", stages, err)
		}
		set := stages[0].Document().Lookup("$set").Document()
		if got := set.Lookup("callStatus").StringValue(); got != string(model.CallEnded) {
			mt.Errorf("callStatus = %q", got)
		}
		if _, ok := set.Lookup("callDuration").DocumentOK(); !ok {
			mt.Errorf("callDuration is not an expression: %s", set.Lookup("callDuration"))
		}
		if _, err := set.LookupErr("cancelled"); err == nil {
			mt.Error("plain end flagged the session cancelled")
		}
	})

	mt.Run("cancel flags the session", func(mt *mtest.T) {
		repo := NewSessionRepo(mt.DB)
		mt.AddMockResponses(modified(sessionDoc(model.CallEnded, bson.E{Key: "cancelled", Value: true})))

		s, changed, err := repo.Cancel(context.Background(), testOID.Hex(), started)
		if err != nil || !changed || !s.Cancelled {
			mt.Fatalf("Cancel = %+v, %v, %v", s, changed, err)
		}
		stages, _ := mt.GetStartedEvent().Command.Lookup("update").Array().Values()
		if !stages[0].Document().Lookup("$set", "cancelled").Boolean() {
			mt.Error("cancelled not set")
		}
	})

	mt.Run("write error is returned without a re-read", func(mt *mtest.T) {
		repo := NewSessionRepo(mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 11000, Name: "DuplicateKey", Message: "duplicate roomId"}))

		_, _, err := repo.AssignRoomID(context.Background(), testOID.Hex(), "room_x", started)
		if err == nil {
			mt.Fatal("error swallowed")
		}
		commandDoc(mt, "findAndModify", "query")
		if evt := mt.GetStartedEvent(); evt != nil {
			mt.Errorf("unexpected %s after a failed write", evt.CommandName)
		}
	})

	mt.Run("malformed id sends nothing", func(mt *mtest.T) {
		repo := NewSessionRepo(mt.DB)
		s, changed, err := repo.MarkWaiting(context.Background(), "not-an-id")
		if s != nil || changed || err != nil {
			mt.Errorf("MarkWaiting = %v, %v, %v", s, changed, err)
		}
		if evt := mt.GetStartedEvent(); evt != nil {
			mt.Errorf("sent %s for a malformed id", evt.CommandName)
		}
	})
}
