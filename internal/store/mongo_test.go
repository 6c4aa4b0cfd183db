package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const mongoTestNamespace = "magiclink.store_entries"

func newMockMongoStore(mt *mtest.T, clock *testClock) *MongoStore {
	mt.Helper()

	mt.AddMockResponses(mtest.CreateSuccessResponse())
	s, err := NewMongoStore(context.Background(), mt.Client, MongoConfig{}, WithMongoClock(clock.Now))
	require.NoError(mt, err)
	mt.ClearEvents()
	return s
}

func updateCountResponse(matched int32) bson.D {
	return mtest.CreateSuccessResponse(
		bson.E{Key: "n", Value: matched},
		bson.E{Key: "nModified", Value: matched},
	)
}

func duplicateKeyResponse() bson.D {
	return mtest.CreateWriteErrorsResponse(mtest.WriteError{
		Index:   0,
		Code:    11000,
		Message: "E11000 duplicate key error collection: magiclink.store_entries",
	})
}

// firstUpdate returns the single update statement of the next started update command.
func firstUpdate(mt *mtest.T) (filter, update bson.Raw) {
	mt.Helper()

	evt := mt.GetStartedEvent()
	require.NotNil(mt, evt)
	require.Equal(mt, "update", evt.CommandName)

	statement := evt.Command.Lookup("updates", "0").Document()
	return statement.Lookup("q").Document(), statement.Lookup("u").Document()
}

func TestMongoStoreCompareAndSwap(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("insert if absent", func(mt *mtest.T) {
		s := newMockMongoStore(mt, newTestClock())

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(1)}))
		ok, err := s.CompareAndSwap(context.Background(), "k", nil, []byte("v1"), time.Minute)
		require.NoError(mt, err)
		require.True(mt, ok)

		evt := mt.GetStartedEvent()
		require.Equal(mt, "insert", evt.CommandName)
		doc := evt.Command.Lookup("documents", "0").Document()
		require.Equal(mt, "k", doc.Lookup("_id").StringValue())
		require.Equal(mt, bson.TypeDateTime, doc.Lookup("expires_at").Type)
	})

	mt.Run("reclaims expired document", func(mt *mtest.T) {
		clock := newTestClock()
		s := newMockMongoStore(mt, clock)

		mt.AddMockResponses(duplicateKeyResponse(), updateCountResponse(1))
		ok, err := s.CompareAndSwap(context.Background(), "k", nil, []byte("v2"), time.Minute)
		require.NoError(mt, err)
		require.True(mt, ok)

		require.Equal(mt, "insert", mt.GetStartedEvent().CommandName)
		filter, _ := firstUpdate(mt)
		require.Equal(mt, "k", filter.Lookup("_id").StringValue())
		lte := filter.Lookup("expires_at", "$lte").Time()
		require.True(mt, lte.Equal(clock.Now()))
	})

	mt.Run("live document blocks insert", func(mt *mtest.T) {
		s := newMockMongoStore(mt, newTestClock())

		mt.AddMockResponses(duplicateKeyResponse(), updateCountResponse(0))
		ok, err := s.CompareAndSwap(context.Background(), "k", nil, []byte("v2"), time.Minute)
		require.NoError(mt, err)
		require.False(mt, ok)
	})

	mt.Run("matching value swaps", func(mt *mtest.T) {
		s := newMockMongoStore(mt, newTestClock())

		mt.AddMockResponses(updateCountResponse(1))
		ok, err := s.CompareAndSwap(context.Background(), "k", []byte("v1"), []byte("v2"), time.Minute)
		require.NoError(mt, err)
		require.True(mt, ok)

		filter, update := firstUpdate(mt)
		clause := filter.Lookup("$and", "0").Document()
		require.Equal(mt, "k", clause.Lookup("_id").StringValue())
		_, expected := clause.Lookup("value").Binary()
		require.Equal(mt, []byte("v1"), expected)
		_, value := update.Lookup("$set", "value").Binary()
		require.Equal(mt, []byte("v2"), value)
	})

	mt.Run("mismatched value misses", func(mt *mtest.T) {
		s := newMockMongoStore(mt, newTestClock())

		mt.AddMockResponses(updateCountResponse(0))
		ok, err := s.CompareAndSwap(context.Background(), "k", []byte("stale"), []byte("v2"), time.Minute)
		require.NoError(mt, err)
		require.False(mt, ok)
	})

	mt.Run("command error", func(mt *mtest.T) {
		s := newMockMongoStore(mt, newTestClock())

		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Name:    "BadValue",
			Message: "boom",
		}))
		ok, err := s.CompareAndSwap(context.Background(), "k", []byte("v1"), []byte("v2"), time.Minute)
		require.Error(mt, err)
		require.False(mt, ok)
	})
}

func TestMongoStorePut(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("with ttl", func(mt *mtest.T) {
		clock := newTestClock()
		s := newMockMongoStore(mt, clock)

		mt.AddMockResponses(updateCountResponse(1))
		require.NoError(mt, s.Put(context.Background(), "k", []byte("v"), time.Minute))

		evt := mt.GetStartedEvent()
		require.Equal(mt, "update", evt.CommandName)
		statement := evt.Command.Lookup("updates", "0").Document()
		require.True(mt, statement.Lookup("upsert").Boolean())
		expiresAt := statement.Lookup("u", "$set", "expires_at").Time()
		require.True(mt, expiresAt.Equal(clock.Now().Add(time.Minute)))
	})

	mt.Run("without ttl unsets expiry", func(mt *mtest.T) {
		s := newMockMongoStore(mt, newTestClock())

		mt.AddMockResponses(updateCountResponse(1))
		require.NoError(mt, s.Put(context.Background(), "k", []byte("v"), 0))

		_, update := firstUpdate(mt)
		_, err := update.LookupErr("$unset", "expires_at")
		require.NoError(mt, err)
		_, err = update.LookupErr("$set", "expires_at")
		require.Error(mt, err)
	})
}

func TestMongoStoreGet(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("missing", func(mt *mtest.T) {
		s := newMockMongoStore(mt, newTestClock())

		mt.AddMockResponses(mtest.CreateCursorResponse(0, mongoTestNamespace, mtest.FirstBatch))
		_, ok, err := s.Get(context.Background(), "k")
		require.NoError(mt, err)
		require.False(mt, ok)
	})

	mt.Run("live", func(mt *mtest.T) {
		clock := newTestClock()
		s := newMockMongoStore(mt, clock)

		mt.AddMockResponses(mtest.CreateCursorResponse(0, mongoTestNamespace, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "k"},
			{Key: "value", Value: []byte("v")},
			{Key: "expires_at", Value: primitive.NewDateTimeFromTime(clock.Now().Add(time.Minute))},
		}))
		value, ok, err := s.Get(context.Background(), "k")
		require.NoError(mt, err)
		require.True(mt, ok)
		require.Equal(mt, []byte("v"), value)
	})

	mt.Run("expired but not reaped", func(mt *mtest.T) {
		clock := newTestClock()
		s := newMockMongoStore(mt, clock)

		mt.AddMockResponses(mtest.CreateCursorResponse(0, mongoTestNamespace, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "k"},
			{Key: "value", Value: []byte("v")},
			{Key: "expires_at", Value: primitive.NewDateTimeFromTime(clock.Now())},
		}))
		_, ok, err := s.Get(context.Background(), "k")
		require.NoError(mt, err)
		require.False(mt, ok)
	})

	mt.Run("without expiry", func(mt *mtest.T) {
		s := newMockMongoStore(mt, newTestClock())

		mt.AddMockResponses(mtest.CreateCursorResponse(0, mongoTestNamespace, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "k"},
			{Key: "value", Value: []byte("v")},
		}))
		value, ok, err := s.Get(context.Background(), "k")
		require.NoError(mt, err)
		require.True(mt, ok)
		require.Equal(mt, []byte("v"), value)
	})
}

func TestMongoStoreDelete(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("no keys is a no-op", func(mt *mtest.T) {
		s := newMockMongoStore(mt, newTestClock())
		require.NoError(mt, s.Delete(context.Background()))
		require.Nil(mt, mt.GetStartedEvent())
	})

	mt.Run("removes keys", func(mt *mtest.T) {
		s := newMockMongoStore(mt, newTestClock())

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(2)}))
		require.NoError(mt, s.Delete(context.Background(), "a", "b"))

		evt := mt.GetStartedEvent()
		require.Equal(mt, "delete", evt.CommandName)
		in := evt.Command.Lookup("deletes", "0", "q", "_id", "$in").Array()
		values, err := in.Values()
		require.NoError(mt, err)
		require.Len(mt, values, 2)
	})
}

func TestNewMongoClientRequiresURI(t *testing.T) {
	_, err := NewMongoClient(context.Background(), MongoConfig{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "uri is required")
}
