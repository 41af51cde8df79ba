package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/psantana5/autofi/pkg/models"
)

// maxUpdateAttempts bounds optimistic retries when a concurrent writer
// bumps the revision between our read and replace.
const maxUpdateAttempts = 16

// MongoStore implements Store on a MongoDB collection. Updates are
// optimistic: the replace is filtered on the revision that was read.
type MongoStore struct {
	client *mongo.Client
	jobs   *mongo.Collection
	now    func() time.Time
}

// NewMongoStore connects to config.DSN and prepares the jobs collection
func NewMongoStore(ctx context.Context, config Config) (*MongoStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("MongoDB URI is required")
	}
	dbName := config.Database
	if dbName == "" {
		dbName = "autofi"
	}

	opts := options.Client().ApplyURI(config.DSN)
	if config.MaxOpenConns > 0 {
		opts.SetMaxPoolSize(uint64(config.MaxOpenConns))
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	store := &MongoStore{
		client: client,
		jobs:   client.Database(dbName).Collection("jobs"),
		now:    time.Now,
	}
	if err := store.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return store, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.jobs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	return err
}

// CreateJob inserts a new job document
func (s *MongoStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.jobs.InsertOne(ctx, job)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *MongoStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &job, nil
}

// UpdateJob reads, merges and replaces the document, retrying when the
// revision moved underneath us
func (s *MongoStore) UpdateJob(ctx context.Context, id string, update models.JobUpdate) (*models.Job, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		seen := job.Revision

		if err := update.Apply(job, s.now().UTC()); err != nil {
			return nil, err
		}
		job.Revision = seen + 1

		res, err := s.jobs.ReplaceOne(ctx, bson.M{"_id": id, "revision": seen}, job)
		if err != nil {
			return nil, fmt.Errorf("failed to update job %s: %w", id, err)
		}
		if res.MatchedCount == 1 {
			return job, nil
		}
	}
	return nil, fmt.Errorf("failed to update job %s: concurrent modification", id)
}

// ListJobsByOwner returns one page of the owner's jobs, newest first
func (s *MongoStore) ListJobsByOwner(ctx context.Context, ownerID string, page, limit int) ([]*models.Job, error) {
	page, limit = NormalizePage(page, limit)
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	cursor, err := s.jobs.Find(ctx, bson.M{"ownerId": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return decodeJobs(ctx, cursor)
}

// GetJobsInState returns jobs in any of the given states, oldest first
func (s *MongoStore) GetJobsInState(ctx context.Context, states ...models.JobStatus) ([]*models.Job, error) {
	if len(states) == 0 {
		return []*models.Job{}, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.jobs.Find(ctx, bson.M{"status": bson.M{"$in": states}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs by state: %w", err)
	}
	return decodeJobs(ctx, cursor)
}

func decodeJobs(ctx context.Context, cursor *mongo.Cursor) ([]*models.Job, error) {
	defer cursor.Close(ctx)
	jobs := make([]*models.Job, 0)
	for cursor.Next(ctx) {
		var job models.Job
		if err := cursor.Decode(&job); err != nil {
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, cursor.Err()
}

// HealthCheck pings the primary
func (s *MongoStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
