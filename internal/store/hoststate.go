package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// HostStateRecord is the persisted host_state row — a snapshot of
// internal/throttle.Manager's adaptive-RPM state for one host, persisted
// so a restarted crawl resumes politeness decisions instead of
// re-learning them from scratch.
type HostStateRecord struct {
	Host          string    `bson:"_id"`
	RPM           float64   `bson:"rpm"`
	NextRequestAt time.Time `bson:"next_request_at"`
	BackoffUntil  time.Time `bson:"backoff_until"`
	Err429Streak  int       `bson:"err_429_streak"`
	SuccessStreak int       `bson:"success_streak"`
}

// PutHostState upserts a host's throttle snapshot.
func (s *Store) PutHostState(ctx context.Context, rec HostStateRecord) error {
	opCtx, cancel := opCtx(ctx)
	defer cancel()
	opts := options.Replace().SetUpsert(true)
	_, err := s.hostState.ReplaceOne(opCtx, bson.M{"_id": rec.Host}, rec, opts)
	return err
}

// GetHostState fetches a single host's throttle snapshot.
func (s *Store) GetHostState(ctx context.Context, host string) (HostStateRecord, bool, error) {
	opCtx, cancel := opCtx(ctx)
	defer cancel()

	var rec HostStateRecord
	err := s.hostState.FindOne(opCtx, bson.M{"_id": host}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return HostStateRecord{}, false, nil
	}
	if err != nil {
		return HostStateRecord{}, false, err
	}
	return rec, true, nil
}

// AllHostStates returns every persisted host-state row, used to rehydrate
// internal/throttle.Manager on startup.
func (s *Store) AllHostStates(ctx context.Context) ([]HostStateRecord, error) {
	opCtx, cancel := opCtx(ctx)
	defer cancel()

	cur, err := s.hostState.Find(opCtx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(opCtx)

	var recs []HostStateRecord
	if err := cur.All(opCtx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
