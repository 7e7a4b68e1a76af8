package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// PutJob persists a new job.
func (s *Store) PutJob(ctx context.Context, j *job.Job) error {
	if _, err := s.jobs().InsertOne(ctx, toJobModel(j)); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return conductor.ErrJobAlreadyExists
		}
		return wrap("put job", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conductor.ErrJobNotFound
		}
		return nil, wrap("get job", err)
	}
	return fromJobModel(&m)
}

// UpdateStatus filters on the expected status so the update applies only
// if no other writer moved the job first. On a miss it re-reads the job to
// tell a conflict from a missing job.
func (s *Store) UpdateStatus(ctx context.Context, jobID id.JobID, expected, next job.Status, u job.Update) (*job.Job, error) {
	if u.At.IsZero() {
		u.At = time.Now().UTC()
	}

	filter := bson.M{"_id": jobID.String(), "status": string(expected)}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m jobModel
	err := s.jobs().FindOneAndUpdate(ctx, filter, bson.M{"$set": updateSet(next, u)}, opts).Decode(&m)
	if err == nil {
		return fromJobModel(&m)
	}
	if !isNoDocuments(err) {
		return nil, wrap("update status", err)
	}

	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, &conductor.ConflictError{
		ID:       jobID.String(),
		Expected: string(expected),
		Actual:   string(current.Status),
	}
}

// ListJobs returns jobs matching f ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		findOpts.SetLimit(int64(f.Limit))
	}
	if f.Offset > 0 {
		findOpts.SetSkip(int64(f.Offset))
	}

	cursor, err := s.jobs().Find(ctx, jobFilter(f), findOpts)
	if err != nil {
		return nil, wrap("list jobs", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, wrap("list jobs decode", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching f.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	n, err := s.jobs().CountDocuments(ctx, jobFilter(f))
	if err != nil {
		return 0, wrap("count jobs", err)
	}
	return n, nil
}

func jobFilter(f job.Filter) bson.M {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if f.Priority != "" {
		filter["priority"] = string(f.Priority)
	}
	return filter
}

// updateSet lists only the fields u sets, so untouched values survive.
func updateSet(next job.Status, u job.Update) bson.M {
	set := bson.M{
		"status":     string(next),
		"updated_at": u.At.UTC(),
	}
	if u.Attempt != nil {
		set["attempt"] = *u.Attempt
	}
	if u.StartedAt != nil {
		set["started_at"] = u.StartedAt.UTC()
	}
	if u.CompletedAt != nil {
		set["completed_at"] = u.CompletedAt.UTC()
	}
	if u.Result != nil {
		set["result"] = string(u.Result)
	}
	if u.Error != nil {
		set["error"] = *u.Error
	}
	return set
}
