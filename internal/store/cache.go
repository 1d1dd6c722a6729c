package store

import (
	"context"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ishaanstalk/newscrawler/internal/cache"
)

// cacheDoc is the BSON shape of the cache collection. Headers and Kind
// are carried alongside the page body for conditional-request support
// and per-kind TTL selection.
type cacheDoc struct {
	URL          string      `bson:"_id"`
	HTML         []byte      `bson:"html"`
	FetchedAt    time.Time   `bson:"fetched_at"`
	HTTPStatus   int         `bson:"http_status"`
	ETag         string      `bson:"etag,omitempty"`
	LastModified string      `bson:"last_modified,omitempty"`
	Kind         string      `bson:"kind,omitempty"`
	Headers      http.Header `bson:"headers,omitempty"`
}

// Get implements cache.DurableStore.
func (s *Store) Get(ctx context.Context, url string) (cache.Entry, bool, error) {
	opCtx, cancel := opCtx(ctx)
	defer cancel()

	var doc cacheDoc
	err := s.cache.FindOne(opCtx, bson.M{"_id": url}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, err
	}
	return cache.Entry{
		URL:          doc.URL,
		Body:         doc.HTML,
		Headers:      doc.Headers,
		ETag:         doc.ETag,
		LastModified: doc.LastModified,
		FetchedAt:    doc.FetchedAt,
		Kind:         doc.Kind,
	}, true, nil
}

// Put implements cache.DurableStore.
func (s *Store) Put(ctx context.Context, url string, entry cache.Entry) error {
	opCtx, cancel := opCtx(ctx)
	defer cancel()

	doc := cacheDoc{
		URL:          url,
		HTML:         entry.Body,
		FetchedAt:    entry.FetchedAt,
		ETag:         entry.ETag,
		LastModified: entry.LastModified,
		Kind:         entry.Kind,
		Headers:      entry.Headers,
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.cache.ReplaceOne(opCtx, bson.M{"_id": url}, doc, opts)
	return err
}

// known404Doc marks a URL that recently returned 404/410.
type known404Doc struct {
	URL       string    `bson:"_id"`
	FetchedAt time.Time `bson:"fetched_at"`
}

// Known404At implements cache.DurableStore.
func (s *Store) Known404At(ctx context.Context, url string) (time.Time, bool, error) {
	opCtx, cancel := opCtx(ctx)
	defer cancel()

	var doc known404Doc
	err := s.known404.FindOne(opCtx, bson.M{"_id": url}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return doc.FetchedAt, true, nil
}

// MarkKnown404 implements cache.DurableStore.
func (s *Store) MarkKnown404(ctx context.Context, url string, at time.Time) error {
	opCtx, cancel := opCtx(ctx)
	defer cancel()

	opts := options.Replace().SetUpsert(true)
	_, err := s.known404.ReplaceOne(opCtx, bson.M{"_id": url}, known404Doc{URL: url, FetchedAt: at}, opts)
	return err
}
