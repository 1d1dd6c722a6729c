// Package store implements the durable persistence layer: the cache,
// host_state, host_budget, known_404, and checkpoint collections, backed
// by MongoDB — one dedicated *mongo.Collection per concern, a bounded
// context timeout per operation.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ishaanstalk/newscrawler/internal/config"
)

// Store owns a MongoDB connection and the five crawl-state collections.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger

	cache      *mongo.Collection
	hostState  *mongo.Collection
	hostBudget *mongo.Collection
	known404   *mongo.Collection
	checkpoint *mongo.Collection
}

// New connects to MongoDB and returns a ready Store: a bounded-timeout
// Connect followed by an explicit Ping so a misconfigured URI fails fast
// at startup rather than on first use.
func New(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("store: mongodb connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("store: mongodb ping: %w", err)
	}

	db := client.Database(cfg.Database)
	return &Store{
		client:     client,
		db:         db,
		logger:     logger.With("component", "store"),
		cache:      db.Collection("cache"),
		hostState:  db.Collection("host_state"),
		hostBudget: db.Collection("host_budget"),
		known404:   db.Collection("known_404"),
		checkpoint: db.Collection("checkpoint"),
	}, nil
}

// Close disconnects the underlying Mongo client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 10*time.Second)
}
