package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CheckpointRecord is a crawl job's persisted resume state.
// QueueSnapshot is kept as an opaque BSON blob rather than a concrete
// queue type — the Mongo layer shouldn't need to import internal/queue's
// item representation to persist it.
type CheckpointRecord struct {
	JobID         string           `bson:"_id"`
	SavedAt       time.Time        `bson:"saved_at"`
	QueueSnapshot bson.Raw         `bson:"queue_snapshot"`
	VisitedSet    []string         `bson:"visited_set"`
	Stats         map[string]int64 `bson:"stats"`
}

// SaveCheckpoint upserts a crawl job's checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, rec CheckpointRecord) error {
	opCtx, cancel := opCtx(ctx)
	defer cancel()
	opts := options.Replace().SetUpsert(true)
	_, err := s.checkpoint.ReplaceOne(opCtx, bson.M{"_id": rec.JobID}, rec, opts)
	return err
}

// LoadCheckpoint restores a crawl job's checkpoint.
// ok is false, with a nil error, when no checkpoint exists for jobID.
func (s *Store) LoadCheckpoint(ctx context.Context, jobID string) (CheckpointRecord, bool, error) {
	opCtx, cancel := opCtx(ctx)
	defer cancel()

	var rec CheckpointRecord
	err := s.checkpoint.FindOne(opCtx, bson.M{"_id": jobID}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return CheckpointRecord{}, false, nil
	}
	if err != nil {
		return CheckpointRecord{}, false, err
	}
	return rec, true, nil
}

// DeleteCheckpoint removes a job's checkpoint, e.g. after a clean
// completion so a later run of the same job ID doesn't resume stale state.
func (s *Store) DeleteCheckpoint(ctx context.Context, jobID string) error {
	opCtx, cancel := opCtx(ctx)
	defer cancel()
	_, err := s.checkpoint.DeleteOne(opCtx, bson.M{"_id": jobID})
	return err
}
