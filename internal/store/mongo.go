package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pavelanni/hiretest/internal/model"
)

const (
	collTests        = "tests"
	collSubmissions  = "submissions"
	collUsers        = "users"
	collAuthSessions = "auth_sessions"
	collImported     = "imported_files"
	collAttempts     = "attempts"
)

// Mongo is a Store backed by a MongoDB database. Documents use the same
// field names as the model's bson tags.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo connects to uri, pings the server and ensures indexes.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	if database == "" {
		database = "hiretest"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	m := &Mongo{client: client, db: client.Database(database)}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	slog.Info("connected to mongo", "database", database)
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collSubmissions: {
			{
				Keys:    bson.D{{Key: "test_id", Value: 1}, {Key: "student_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "student_id", Value: 1}}},
			{Keys: bson.D{{Key: "evaluated", Value: 1}, {Key: "submitted_at", Value: 1}}},
		},
		collTests: {
			{Keys: bson.D{{Key: "created_by", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		collUsers: {
			{
				Keys:    bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		collAuthSessions: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := m.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%s: %w", coll, err)
		}
	}
	return nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *Mongo) CreateTest(ctx context.Context, t model.TestDefinition) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if _, err := m.db.Collection(collTests).InsertOne(ctx, t); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", ErrDuplicate
		}
		return "", err
	}
	return t.ID, nil
}

func (m *Mongo) GetTest(ctx context.Context, id string) (model.TestDefinition, error) {
	var t model.TestDefinition
	err := m.db.Collection(collTests).FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.TestDefinition{}, ErrNotFound
	}
	return t, err
}

func (m *Mongo) ListTests(ctx context.Context) ([]model.TestDefinition, error) {
	return m.findTests(ctx, bson.M{})
}

func (m *Mongo) ListTestsByCreator(ctx context.Context, createdBy string) ([]model.TestDefinition, error) {
	return m.findTests(ctx, bson.M{"created_by": createdBy})
}

func (m *Mongo) findTests(ctx context.Context, filter bson.M) ([]model.TestDefinition, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := m.db.Collection(collTests).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var tests []model.TestDefinition
	if err := cur.All(ctx, &tests); err != nil {
		return nil, err
	}
	return tests, nil
}

func (m *Mongo) CreateSubmission(ctx context.Context, s model.Submission) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now().UTC()
	}
	if _, err := m.db.Collection(collSubmissions).InsertOne(ctx, s); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", ErrDuplicate
		}
		return "", err
	}
	return s.ID, nil
}

func (m *Mongo) GetSubmission(ctx context.Context, id string) (model.Submission, error) {
	return m.findSubmission(ctx, bson.M{"_id": id})
}

func (m *Mongo) GetSubmissionFor(ctx context.Context, testID, studentID string) (model.Submission, error) {
	return m.findSubmission(ctx, bson.M{"test_id": testID, "student_id": studentID})
}

func (m *Mongo) findSubmission(ctx context.Context, filter bson.M) (model.Submission, error) {
	var s model.Submission
	err := m.db.Collection(collSubmissions).FindOne(ctx, filter).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Submission{}, ErrNotFound
	}
	return s, err
}

func (m *Mongo) findSubmissions(ctx context.Context, filter any, sortDir int) ([]model.Submission, error) {
	opts := options.Find().SetSort(bson.D{{Key: "submitted_at", Value: sortDir}})
	cur, err := m.db.Collection(collSubmissions).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var subs []model.Submission
	if err := cur.All(ctx, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (m *Mongo) ListSubmissionsByTest(ctx context.Context, testID string) ([]model.Submission, error) {
	return m.findSubmissions(ctx, bson.M{"test_id": testID}, -1)
}

func (m *Mongo) ListSubmissionsByStudent(ctx context.Context, studentID string) ([]model.Submission, error) {
	return m.findSubmissions(ctx, bson.M{"student_id": studentID}, -1)
}

func (m *Mongo) ListPendingSubmissions(ctx context.Context, testID string) ([]model.Submission, error) {
	filter := bson.M{"evaluated": false}
	if testID != "" {
		filter["test_id"] = testID
	}
	return m.findSubmissions(ctx, filter, 1)
}

// UpdateSubmissionEvaluation sets only the evaluation fields, so a
// concurrent reader never sees answers change. The filter matches pending
// submissions only.
func (m *Mongo) UpdateSubmissionEvaluation(ctx context.Context, s model.Submission) error {
	update := bson.M{"$set": bson.M{
		"evaluations":      s.Evaluations,
		"total_score":      s.TotalScore,
		"overall_feedback": s.OverallFeedback,
		"evaluated":        s.Evaluated,
		"evaluated_at":     s.EvaluatedAt,
		"evaluated_by":     s.EvaluatedBy,
	}}
	coll := m.db.Collection(collSubmissions)
	res, err := coll.UpdateOne(ctx, bson.M{"_id": s.ID, "evaluated": false}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := coll.CountDocuments(ctx, bson.M{"_id": s.ID})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrAlreadyEvaluated
}

// SearchSubmissions matches student name or email across the tests
// created by createdBy.
func (m *Mongo) SearchSubmissions(ctx context.Context, createdBy, query string) ([]model.Submission, error) {
	tests, err := m.ListTestsByCreator(ctx, createdBy)
	if err != nil {
		return nil, err
	}
	if len(tests) == 0 {
		return nil, nil
	}
	ids := make([]string, len(tests))
	for i, t := range tests {
		ids[i] = t.ID
	}
	re := primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}
	filter := bson.M{
		"test_id": bson.M{"$in": ids},
		"$or": bson.A{
			bson.M{"student_name": re},
			bson.M{"student_email": re},
		},
	}
	return m.findSubmissions(ctx, filter, -1)
}

func (m *Mongo) CreateUser(ctx context.Context, u model.User) (string, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()
	if _, err := m.db.Collection(collUsers).InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", ErrDuplicate
		}
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return "", err
	}
	slog.Info("created user", "id", u.ID, "username", u.Username, "role", u.Role)
	return u.ID, nil
}

func (m *Mongo) findUser(ctx context.Context, filter bson.M) (*model.User, error) {
	var u model.User
	err := m.db.Collection(collUsers).FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (m *Mongo) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return m.findUser(ctx, bson.M{"username": username})
}

func (m *Mongo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return m.findUser(ctx, bson.M{"_id": id})
}

func (m *Mongo) ListUsers(ctx context.Context) ([]model.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "username", Value: 1}})
	cur, err := m.db.Collection(collUsers).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var users []model.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// ToggleUserActive flips the flag server-side with an update pipeline.
func (m *Mongo) ToggleUserActive(ctx context.Context, id string) error {
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"active": bson.M{"$not": "$active"}}}},
	}
	res, err := m.db.Collection(collUsers).UpdateByID(ctx, id, pipeline)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) UserCount(ctx context.Context) (int, error) {
	n, err := m.db.Collection(collUsers).CountDocuments(ctx, bson.M{})
	return int(n), err
}

func (m *Mongo) CreateAuthSession(ctx context.Context, userID string, ttl time.Duration) (model.AuthSession, error) {
	now := time.Now().UTC()
	sess := model.AuthSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if _, err := m.db.Collection(collAuthSessions).InsertOne(ctx, sess); err != nil {
		return model.AuthSession{}, err
	}
	return sess, nil
}

func (m *Mongo) GetAuthSession(ctx context.Context, id string) (*model.AuthSession, error) {
	var sess model.AuthSession
	err := m.db.Collection(collAuthSessions).FindOne(ctx, bson.M{"_id": id}).Decode(&sess)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = m.DeleteAuthSession(ctx, id)
		return nil, nil
	}
	return &sess, nil
}

func (m *Mongo) DeleteAuthSession(ctx context.Context, id string) error {
	_, err := m.db.Collection(collAuthSessions).DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (m *Mongo) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	res, err := m.db.Collection(collAuthSessions).DeleteMany(ctx,
		bson.M{"expires_at": bson.M{"$lt": time.Now().UTC()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

type importedFile struct {
	Path       string    `bson:"_id"`
	Hash       string    `bson:"hash"`
	ImportedAt time.Time `bson:"imported_at"`
}

func (m *Mongo) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var f importedFile
	err := m.db.Collection(collImported).FindOne(ctx, bson.M{"_id": path}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	return f.Hash, err
}

func (m *Mongo) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := m.db.Collection(collImported).ReplaceOne(ctx,
		bson.M{"_id": path},
		importedFile{Path: path, Hash: hash, ImportedAt: time.Now().UTC()},
		options.Replace().SetUpsert(true),
	)
	return err
}

type attempt struct {
	ID        string    `bson:"_id"`
	TestID    string    `bson:"test_id"`
	StudentID string    `bson:"student_id"`
	StartedAt time.Time `bson:"started_at"`
}

func attemptID(testID, studentID string) string {
	return testID + "/" + studentID
}

func (m *Mongo) StartAttempt(ctx context.Context, testID, studentID string, at time.Time) (time.Time, error) {
	coll := m.db.Collection(collAttempts)
	id := attemptID(testID, studentID)
	_, err := coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$setOnInsert": bson.M{"test_id": testID, "student_id": studentID, "started_at": at.UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return time.Time{}, err
	}
	var a attempt
	if err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&a); err != nil {
		return time.Time{}, err
	}
	return a.StartedAt, nil
}

func (m *Mongo) GetAttemptStart(ctx context.Context, testID, studentID string) (*time.Time, error) {
	var a attempt
	err := m.db.Collection(collAttempts).FindOne(ctx, bson.M{"_id": attemptID(testID, studentID)}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a.StartedAt, nil
}
