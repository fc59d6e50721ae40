package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"tutorcall/internal/config"
	"tutorcall/internal/model"
	"tutorcall/internal/repository"
	"tutorcall/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// seed inserts a paid booking session and prints participant tokens for it
func main() {
	var (
		studentID = flag.String("student", "", "student identity (random when empty)")
		tutorID   = flag.String("tutor", "", "tutor identity (random when empty)")
		unpaid    = flag.Bool("unpaid", false, "insert the session without payment")
		tokenTTL  = flag.Duration("ttl", 24*time.Hour, "token lifetime")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatal().Err(err).Msg("connect mongodb")
	}
	defer client.Disconnect(context.Background())

	sessions := repository.NewSessionRepo(client.Database(cfg.MongoDB))
	if err := sessions.EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure indexes")
	}

	if *studentID == "" {
		*studentID = "student_" + uuid.NewString()[:8]
	}
	if *tutorID == "" {
		*tutorID = "tutor_" + uuid.NewString()[:8]
	}

	now := time.Now().UTC()
	session := &model.Session{
		StudentID:  *studentID,
		TutorID:    *tutorID,
		SlotDate:   now.Truncate(24 * time.Hour),
		SlotTime:   now.Format("15:04"),
		Student:    model.Profile{"name": "Sample Student", "email": "student@example.com"},
		Tutor:      model.Profile{"name": "Sample Tutor", "subject": "Mathematics"},
		Amount:     45,
		Date:       now,
		Payment:    !*unpaid,
		CallStatus: model.CallNotStarted,
	}
	id, err := sessions.Create(ctx, session)
	if err != nil {
		log.Fatal().Err(err).Msg("insert session")
	}

	auth := service.NewAuthService(cfg.JWTSecret)
	studentTok, err := auth.IssueToken(*studentID, model.UserStudent, *tokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("issue student token")
	}
	tutorTok, err := auth.IssueToken(*tutorID, model.UserTutor, *tokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("issue tutor token")
	}

	log.Info().Str("session_id", id).Bool("paid", !*unpaid).Msg("session created")
	fmt.Printf("SESSION_ID=%s\n", id)
	fmt.Printf("STUDENT_ID=%s\nSTUDENT_JWT=%s\n", *studentID, studentTok)
	fmt.Printf("TUTOR_ID=%s\nTUTOR_JWT=%s\n", *tutorID, tutorTok)
}
