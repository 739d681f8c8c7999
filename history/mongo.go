package history

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store using MongoDB. Each entry is one document; the
// bson tags on Entry define the document shape.
//
// Example:
//
//	client, _ := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://localhost:27017"))
//	collection := client.Database("myapp").Collection("dispatch_history")
//	store := history.NewMongoStore(collection)
//
//	d := dispatch.New(dispatch.WithHistory(store))
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore creates a new MongoDB-backed history store.
//
// For production use, create indexes on event_name and recorded_at:
//
//	collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
//	    {Keys: bson.D{{Key: "event_name", Value: 1}, {Key: "started_at", Value: 1}}},
//	    {Keys: bson.D{{Key: "recorded_at", Value: 1}}},
//	})
func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// Record inserts one entry document.
func (s *MongoStore) Record(ctx context.Context, entry *Entry) error {
	entryCopy := *entry
	if entryCopy.RecordedAt.IsZero() {
		entryCopy.RecordedAt = time.Now()
	}
	if _, err := s.collection.InsertOne(ctx, &entryCopy); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// ByEvent returns every entry for the event name, oldest first.
func (s *MongoStore) ByEvent(ctx context.Context, eventName string) ([]*Entry, error) {
	cursor, err := s.collection.Find(ctx,
		bson.M{"event_name": eventName},
		options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return entries, nil
}

// List returns a page of entries matching the filter, oldest first. The
// cursor is the offset into the filtered sequence.
func (s *MongoStore) List(ctx context.Context, filter Filter) (*Page, error) {
	offset := 0
	if filter.Cursor != "" {
		n, err := strconv.Atoi(filter.Cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid cursor %q", filter.Cursor)
		}
		offset = n
	}
	limit := filter.EffectiveLimit()

	// Fetch limit+1 to detect a next page without a second query.
	cursor, err := s.collection.Find(ctx, mongoFilter(filter),
		options.Find().
			SetSort(bson.D{{Key: "started_at", Value: 1}}).
			SetSkip(int64(offset)).
			SetLimit(int64(limit+1)))
	if err != nil {
		return nil, fmt.Errorf("find entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}

	page := &Page{}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.NextCursor = strconv.Itoa(offset + limit)
		page.HasMore = true
	} else {
		page.Entries = entries
	}
	return page, nil
}

// Count returns the number of entries matching the filter.
func (s *MongoStore) Count(ctx context.Context, filter Filter) (int64, error) {
	count, err := s.collection.CountDocuments(ctx, mongoFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes entries recorded more than age ago.
func (s *MongoStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	result, err := s.collection.DeleteMany(ctx,
		bson.M{"recorded_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	return result.DeletedCount, nil
}

// Close is a no-op; the Mongo client is owned by the caller.
func (s *MongoStore) Close(ctx context.Context) error {
	return nil
}

// mongoFilter translates a Filter into a bson query document.
func mongoFilter(f Filter) bson.M {
	query := bson.M{}
	if f.EventName != "" {
		query["event_name"] = f.EventName
	}
	if f.Namespace != "" {
		query["namespace"] = f.Namespace
	}
	if f.Status != "" {
		query["status"] = f.Status
	}
	if f.HasErrors != nil {
		if *f.HasErrors {
			query["errors.0"] = bson.M{"$exists": true}
		} else {
			query["errors.0"] = bson.M{"$exists": false}
		}
	}
	started := bson.M{}
	if !f.Since.IsZero() {
		started["$gte"] = f.Since
	}
	if !f.Until.IsZero() {
		started["$lt"] = f.Until
	}
	if len(started) > 0 {
		query["started_at"] = started
	}
	return query
}

// Compile-time check.
var _ Store = (*MongoStore)(nil)
