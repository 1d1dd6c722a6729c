package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// HostBudgetRecord is the persisted host_budget row —
// internal/throttle.Budget's error-budget circuit-breaker state for one
// host.
type HostBudgetRecord struct {
	Host          string    `bson:"_id"`
	Failures      int       `bson:"failures"`
	WindowStart   time.Time `bson:"window_start"`
	LockExpiresAt time.Time `bson:"lock_expires_at"`
}

// PutHostBudget upserts a host's budget snapshot.
func (s *Store) PutHostBudget(ctx context.Context, rec HostBudgetRecord) error {
	opCtx, cancel := opCtx(ctx)
	defer cancel()
	opts := options.Replace().SetUpsert(true)
	_, err := s.hostBudget.ReplaceOne(opCtx, bson.M{"_id": rec.Host}, rec, opts)
	return err
}

// GetHostBudget fetches a single host's budget snapshot.
func (s *Store) GetHostBudget(ctx context.Context, host string) (HostBudgetRecord, bool, error) {
	opCtx, cancel := opCtx(ctx)
	defer cancel()

	var rec HostBudgetRecord
	err := s.hostBudget.FindOne(opCtx, bson.M{"_id": host}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return HostBudgetRecord{}, false, nil
	}
	if err != nil {
		return HostBudgetRecord{}, false, err
	}
	return rec, true, nil
}

// AllHostBudgets returns every persisted host-budget row, used to
// rehydrate internal/throttle.Budget on startup.
func (s *Store) AllHostBudgets(ctx context.Context) ([]HostBudgetRecord, error) {
	opCtx, cancel := opCtx(ctx)
	defer cancel()

	cur, err := s.hostBudget.Find(opCtx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(opCtx)

	var recs []HostBudgetRecord
	if err := cur.All(opCtx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
