package repository

import (
	"context"
	"errors"
	"time"

	"tutorcall/internal/model"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SessionRepo handles the call slice of booking sessions in MongoDB.
//
// Every call-status write is a single conditional FindOneAndUpdate keyed on the
// current callStatus. When the filter does not match (another writer won the
// race) the methods re-read the document and return it with changed=false.
// A nil session with a nil error means the session does not exist.
type SessionRepo interface {
	Create(ctx context.Context, session *model.Session) (string, error)
	GetByID(ctx context.Context, id string) (*model.Session, error)
	GetByRoomID(ctx context.Context, roomID string) (*model.Session, error)

	// AssignRoomID sets roomId only if the session has none yet
	AssignRoomID(ctx context.Context, id, roomID string, at time.Time) (*model.Session, bool, error)
	// MarkWaiting moves not-started -> waiting
	MarkWaiting(ctx context.Context, id string) (*model.Session, bool, error)
	// MarkInProgress moves not-started|waiting -> in-progress and stamps callStartedAt
	MarkInProgress(ctx context.Context, id string, at time.Time) (*model.Session, bool, error)
	// MarkEnded moves any non-ended status -> ended, computing callDuration from callStartedAt
	MarkEnded(ctx context.Context, id string, at time.Time) (*model.Session, bool, error)
	// Cancel flags the session cancelled and performs the same terminal transition
	Cancel(ctx context.Context, id string, at time.Time) (*model.Session, bool, error)

	EnsureIndexes(ctx context.Context) error
}

type sessionRepo struct {
	collection *mongo.Collection
}

// NewSessionRepo creates a new session repository
func NewSessionRepo(db *mongo.Database) SessionRepo {
	return &sessionRepo{
		collection: db.Collection("sessions"),
	}
}

func (r *sessionRepo) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "roomId", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "slotDate", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "tutId", Value: 1}, {Key: "slotDate", Value: -1}},
		},
	}
	names, err := r.collection.Indexes().CreateMany(ctx, models)
	if err != nil {
		return err
	}
	log.Debug().Str("module", "repository").Strs("indexes", names).Msg("session indexes ensured")
	return nil
}

func (r *sessionRepo) Create(ctx context.Context, session *model.Session) (string, error) {
	if session.CallStatus == "" {
		session.CallStatus = model.CallNotStarted
	}
	if session.Date.IsZero() {
		session.Date = time.Now()
	}

	result, err := r.collection.InsertOne(ctx, session)
	if err != nil {
		return "", err
	}

	oid, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", nil
	}
	session.ID = oid
	return oid.Hex(), nil
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		// A malformed id cannot name a session
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *sessionRepo) GetByRoomID(ctx context.Context, roomID string) (*model.Session, error) {
	if roomID == "" {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"roomId": roomID})
}

func (r *sessionRepo) AssignRoomID(ctx context.Context, id, roomID string, at time.Time) (*model.Session, bool, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"roomId": bson.M{"$exists": false}},
		bson.M{"roomId": ""},
		bson.M{"roomId": nil},
	}}
	update := bson.M{"$set": bson.M{"roomId": roomID, "roomCreatedAt": at}}
	return r.conditional(ctx, id, filter, update)
}

func (r *sessionRepo) MarkWaiting(ctx context.Context, id string) (*model.Session, bool, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"callStatus": model.CallNotStarted},
		bson.M{"callStatus": bson.M{"$exists": false}},
	}}
	update := bson.M{"$set": bson.M{"callStatus": model.CallWaiting}}
	return r.conditional(ctx, id, filter, update)
}

func (r *sessionRepo) MarkInProgress(ctx context.Context, id string, at time.Time) (*model.Session, bool, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"callStatus": bson.M{"$in": bson.A{model.CallNotStarted, model.CallWaiting}}},
		bson.M{"callStatus": bson.M{"$exists": false}},
	}}
	update := bson.M{"$set": bson.M{"callStatus": model.CallInProgress, "callStartedAt": at}}
	return r.conditional(ctx, id, filter, update)
}

func (r *sessionRepo) MarkEnded(ctx context.Context, id string, at time.Time) (*model.Session, bool, error) {
	filter := bson.M{"callStatus": bson.M{"$ne": model.CallEnded}}
	return r.conditional(ctx, id, filter, endPipeline(at, false))
}

func (r *sessionRepo) Cancel(ctx context.Context, id string, at time.Time) (*model.Session, bool, error) {
	filter := bson.M{"callStatus": bson.M{"$ne": model.CallEnded}}
	return r.conditional(ctx, id, filter, endPipeline(at, true))
}

// endPipeline computes callDuration server-side so the value always derives from
// the persisted callStartedAt, never from a stale read
func endPipeline(at time.Time, cancel bool) mongo.Pipeline {
	elapsedSeconds := bson.D{{Key: "$floor", Value: bson.D{{Key: "$divide", Value: bson.A{
		bson.D{{Key: "$subtract", Value: bson.A{at, "$callStartedAt"}}},
		1000,
	}}}}}
	duration := bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$gt", Value: bson.A{"$callStartedAt", nil}}},
		bson.D{{Key: "$max", Value: bson.A{0, elapsedSeconds}}},
		0,
	}}}

	set := bson.D{
		{Key: "callStatus", Value: model.CallEnded},
		{Key: "callEndedAt", Value: at},
		{Key: "callDuration", Value: duration},
		{Key: "isCompleted", Value: true},
	}
	if cancel {
		set = append(set, bson.E{Key: "cancelled", Value: true})
	}
	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

func (r *sessionRepo) conditional(ctx context.Context, id string, filter bson.M, update interface{}) (*model.Session, bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, false, nil
	}
	filter["_id"] = oid

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var session model.Session
	err = r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&session)
	if err == nil {
		return &session, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, err
	}

	// Lost the race or the precondition no longer holds: report the winner's state
	current, err := r.findOne(ctx, bson.M{"_id": oid})
	return current, false, err
}

func (r *sessionRepo) findOne(ctx context.Context, filter bson.M) (*model.Session, error) {
	var session model.Session
	err := r.collection.FindOne(ctx, filter).Decode(&session)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}
