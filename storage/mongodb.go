package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/johnwmail/vanish/models"
)

// MongoStore implements PasteStore using MongoDB
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	opts       Options
}

// mongoPaste is the document layout. purge_at carries the TTL index.
type mongoPaste struct {
	ID             string     `bson:"_id"`
	Content        string     `bson:"content"`
	ExpiresAt      *int64     `bson:"expires_at"`
	RemainingViews *int64     `bson:"remaining_views"`
	PurgeAt        *time.Time `bson:"purge_at,omitempty"`
	Retired        bool       `bson:"retired,omitempty"`
}

// NewMongoStore creates a new MongoDB storage backend
func NewMongoStore(ctx context.Context, uri, dbName, collection string, opts Options) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	// Test the connection
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	store := &MongoStore{
		client:     client,
		collection: client.Database(dbName).Collection(collection),
		opts:       opts,
	}

	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return store, nil
}

// createIndexes creates the TTL index used for garbage collection
func (m *MongoStore) createIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "purge_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := m.collection.Indexes().CreateOne(ctx, ttlIndex); err != nil {
		return fmt.Errorf("create ttl index: %w", err)
	}
	return nil
}

func (m *MongoStore) toDocument(id string, paste *models.Paste) *mongoPaste {
	doc := &mongoPaste{
		ID:             id,
		Content:        paste.Content,
		ExpiresAt:      paste.ExpiresAt,
		RemainingViews: paste.RemainingViews,
	}
	if at, ok := m.opts.purgeAt(paste); ok {
		doc.PurgeAt = &at
	}
	return doc
}

func fromDocument(doc *mongoPaste) *models.Paste {
	return &models.Paste{
		Content:        doc.Content,
		ExpiresAt:      doc.ExpiresAt,
		RemainingViews: doc.RemainingViews,
	}
}

// Put upserts the full document
func (m *MongoStore) Put(ctx context.Context, id string, paste *models.Paste) error {
	ctx, cancel := m.opts.withTimeout(ctx)
	defer cancel()

	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": id}, m.toDocument(id, paste), options.Replace().SetUpsert(true))
	return err
}

// Get retrieves a paste by its ID
func (m *MongoStore) Get(ctx context.Context, id string) (*models.Paste, error) {
	ctx, cancel := m.opts.withTimeout(ctx)
	defer cancel()
	return m.get(ctx, id)
}

func (m *MongoStore) get(ctx context.Context, id string) (*models.Paste, error) {
	var doc mongoPaste
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return fromDocument(&doc), nil
}

// Consume relies on single-document atomicity: the decrement carries the
// whole availability check in its filter, so no read-then-write window
// exists. retired sits beside the record fields and is never decoded into
// the paste.
func (m *MongoStore) Consume(ctx context.Context, id string, now time.Time) (*models.Paste, error) {
	ctx, cancel := m.opts.withTimeout(ctx)
	defer cancel()

	nowMs := now.UnixMilli()
	live := bson.M{
		"_id":     id,
		"retired": bson.M{"$ne": true},
		"$or": bson.A{
			bson.M{"expires_at": nil},
			bson.M{"expires_at": bson.M{"$gte": nowMs}},
		},
	}

	// View-limited: spend one view if any are left
	limited := bson.M{"remaining_views": bson.M{"$gt": 0}}
	for k, v := range live {
		limited[k] = v
	}
	var doc mongoPaste
	err := m.collection.FindOneAndUpdate(ctx, limited,
		bson.M{"$inc": bson.M{"remaining_views": int64(-1)}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return fromDocument(&doc), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	// Unlimited: serve without writing
	unlimited := bson.M{"remaining_views": nil}
	for k, v := range live {
		unlimited[k] = v
	}
	err = m.collection.FindOne(ctx, unlimited).Decode(&doc)
	if err == nil {
		return fromDocument(&doc), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	// Refused. Retire the id when the refusal is a time expiry.
	_, err = m.collection.UpdateOne(ctx,
		bson.M{"_id": id, "expires_at": bson.M{"$lt": nowMs}},
		bson.M{"$set": bson.M{"retired": true}},
	)
	if err != nil {
		return nil, err
	}
	return nil, ErrUnavailable
}

func (m *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := m.opts.withTimeout(ctx)
	defer cancel()
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *MongoStore) Backend() string { return "mongodb" }

// Close closes the MongoDB connection
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return m.client.Disconnect(ctx)
}
