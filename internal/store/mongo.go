package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig captures the connection parameters of the MongoDB backend.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

const (
	defaultMongoDatabase   = "magiclink"
	defaultMongoCollection = "store_entries"
	defaultMongoTimeout    = 10 * time.Second
)

type mongoEntry struct {
	Key       string     `bson:"_id"`
	Value     []byte     `bson:"value"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

// NewMongoClient connects to MongoDB and verifies the connection.
func NewMongoClient(ctx context.Context, cfg MongoConfig) (*mongo.Client, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, errors.New("mongo: uri is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMongoTimeout
	}

	connectCtx, cancel := context.WithTimeout(contextOrBackground(ctx), timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return client, nil
}

// MongoStore implements Store on a MongoDB collection keyed by _id.
// A TTL index on expires_at lets the server reap expired documents.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// MongoOption customises a MongoStore.
type MongoOption func(*MongoStore)

// WithMongoClock overrides the clock used for expiry decisions.
func WithMongoClock(now func() time.Time) MongoOption {
	return func(s *MongoStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMongoStore binds a store to the configured collection and ensures the TTL index.
func NewMongoStore(ctx context.Context, client *mongo.Client, cfg MongoConfig, opts ...MongoOption) (*MongoStore, error) {
	if client == nil {
		return nil, errors.New("store: mongo client is required")
	}
	dbName := strings.TrimSpace(cfg.Database)
	if dbName == "" {
		dbName = defaultMongoDatabase
	}
	collName := strings.TrimSpace(cfg.Collection)
	if collName == "" {
		collName = defaultMongoCollection
	}

	s := &MongoStore{
		coll: client.Database(dbName).Collection(collName),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	_, err := s.coll.Indexes().CreateOne(contextOrBackground(ctx), mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return nil, fmt.Errorf("mongo: create ttl index: %w", err)
	}
	return s, nil
}

func (s *MongoStore) clock() time.Time {
	return s.now().UTC()
}

func liveFilter(now time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"expires_at": nil},
		bson.M{"expires_at": bson.M{"$gt": now}},
	}}
}

func setDocument(value []byte, expiresAt *time.Time) bson.M {
	if expiresAt == nil {
		return bson.M{
			"$set":   bson.M{"value": value},
			"$unset": bson.M{"expires_at": ""},
		}
	}
	return bson.M{"$set": bson.M{"value": value, "expires_at": *expiresAt}}
}

// Get returns the value stored under key.
func (s *MongoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, ErrNotInitialised
	}

	var entry mongoEntry
	err := s.coll.FindOne(contextOrBackground(ctx), bson.M{"_id": key}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if entry.ExpiresAt != nil && !s.clock().Before(*entry.ExpiresAt) {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// Put upserts value under key.
func (s *MongoStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return ErrNotInitialised
	}
	_, err := s.coll.UpdateOne(contextOrBackground(ctx),
		bson.M{"_id": key},
		setDocument(value, expiryFor(s.clock(), ttl)),
		options.Update().SetUpsert(true),
	)
	return err
}

// CompareAndSwap relies on single-document atomicity of UpdateOne and the unique _id index.
func (s *MongoStore) CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	if s == nil {
		return false, ErrNotInitialised
	}
	ctx = contextOrBackground(ctx)

	now := s.clock()
	expiresAt := expiryFor(now, ttl)

	if expected == nil {
		_, err := s.coll.InsertOne(ctx, mongoEntry{Key: key, Value: value, ExpiresAt: expiresAt})
		if err == nil {
			return true, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return false, err
		}
		// the existing document may be expired but not yet reaped
		result, err := s.coll.UpdateOne(ctx,
			bson.M{"_id": key, "expires_at": bson.M{"$lte": now}},
			setDocument(value, expiresAt),
		)
		if err != nil {
			return false, err
		}
		return result.MatchedCount == 1, nil
	}

	filter := bson.M{"$and": bson.A{
		bson.M{"_id": key, "value": expected},
		liveFilter(now),
	}}
	result, err := s.coll.UpdateOne(ctx, filter, setDocument(value, expiresAt))
	if err != nil {
		return false, err
	}
	return result.MatchedCount == 1, nil
}

// Delete removes keys.
func (s *MongoStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil {
		return ErrNotInitialised
	}
	if len(keys) == 0 {
		return nil
	}
	_, err := s.coll.DeleteMany(contextOrBackground(ctx), bson.M{"_id": bson.M{"$in": keys}})
	return err
}

// Ping checks MongoDB connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	if s == nil {
		return ErrNotInitialised
	}
	return s.coll.Database().Client().Ping(contextOrBackground(ctx), nil)
}
