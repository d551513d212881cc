package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cache"
	"github.com/ValentinKolb/dDoc/lib/cache/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/db/engines/memory"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/cstore"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/server"
	transport "github.com/ValentinKolb/dDoc/rpc/transport/http"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const shardId = 100

// newRemoteStore starts an rpc server with a single memory shard and returns
// a client for it
func newRemoteStore(t *testing.T, serializerName string) store.IStore {
	t.Helper()

	s, err := serializer.ByName(serializerName)
	if err != nil {
		t.Fatal(err)
	}

	engine := maple.NewMapleCache(maple.DefaultOptions())
	t.Cleanup(func() { _ = engine.Close() })

	tr := transport.NewHttpServerTransport()
	srv := server.NewRPCServer(common.ServerConfig{Endpoint: "test"}, tr, s)
	srv.AddShard(shardId, cstore.NewStore(memory.New("test", t.Name()), cache.NewMemoizer("test", engine)))
	tr.RegisterHandler(srv.Handle)

	ts := httptest.NewServer(tr.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Close() })

	remote, err := NewRPCStore(shardId, common.ClientConfig{
		Endpoints:     []string{ts.URL},
		TimeoutSecond: 5,
		RetryCount:    1,
	}, transport.NewHttpClientTransport(), s)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { _ = remote.Close(context.Background()) })
	return remote
}

var live = store.WithTTL(0)

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"binary", "json", "gob"} {
		t.Run(name, func(t *testing.T) {
			s := newRemoteStore(t, name)
			ctx := context.Background()

			// insert a single document and a sequence
			one, err := s.Insert(ctx, bson.M{"_id": "p1", "user": "BraveFox42", "text": "hello", "likes": 3})
			if err != nil || one.InsertedID != "p1" {
				t.Fatalf("unexpected insert result %+v (%v)", one, err)
			}
			many, err := s.Insert(ctx, []bson.M{
				{"user": "CalmOwl17", "text": "hi", "likes": 1},
				{"user": "BraveFox42", "text": "again", "likes": 5},
			})
			if err != nil || len(many.InsertedIDs) != 2 {
				t.Fatalf("unexpected insert result %+v (%v)", many, err)
			}
			if _, ok := many.InsertedIDs[0].(primitive.ObjectID); !ok {
				t.Errorf("expected generated object ids, got %T", many.InsertedIDs[0])
			}

			// find with sort, limit and projection
			docs, err := s.Find(ctx, store.Filter{"user": "BraveFox42"}, live,
				store.WithSort(bson.D{{Key: "likes", Value: -1}}), store.WithProjection(bson.M{"text": 1}))
			if err != nil || len(docs) != 2 {
				t.Fatalf("unexpected find result %v (%v)", docs, err)
			}
			if docs[0]["text"] != "again" || len(docs[0]) != 1 {
				t.Errorf("expected the projected, sorted result, got %v", docs)
			}

			// find one, with and without _id
			doc, err := s.FindOne(ctx, store.Filter{"_id": "p1"}, live, store.WithID(true))
			if err != nil || doc["_id"] != "p1" {
				t.Errorf("unexpected find one result %v (%v)", doc, err)
			}
			doc, err = s.FindOne(ctx, store.Filter{"user": "nobody"}, live)
			if err != nil || doc != nil {
				t.Errorf("expected no document, got %v (%v)", doc, err)
			}

			// updates
			res, err := s.UpdateOne(ctx, store.Filter{"_id": "p1"}, bson.M{"$inc": bson.M{"likes": 1}})
			if err != nil || res.MatchedCount != 1 || res.ModifiedCount != 1 {
				t.Errorf("unexpected update one result %+v (%v)", res, err)
			}
			res, err = s.Update(ctx, nil, bson.M{"$set": bson.M{"seen": true}})
			if err != nil || res.MatchedCount != 3 {
				t.Errorf("unexpected update result %+v (%v)", res, err)
			}
			res, err = s.Update(ctx, store.Filter{"_id": "p9"}, bson.M{"$set": bson.M{"user": "NewBee10"}}, store.WithUpsert(true))
			if err != nil || res.UpsertedID != "p9" {
				t.Errorf("unexpected upsert result %+v (%v)", res, err)
			}

			// replace
			res, err = s.Replace(ctx, store.Filter{"_id": "p9"}, bson.M{"user": "NewBee10", "text": "replaced"})
			if err != nil || res.ModifiedCount != 1 {
				t.Errorf("unexpected replace result %+v (%v)", res, err)
			}

			// count, distinct and aggregate
			n, err := s.Count(ctx, nil, live)
			if err != nil || n != 4 {
				t.Errorf("expected 4 documents, got %d (%v)", n, err)
			}
			users, err := s.Distinct(ctx, "user", nil, live)
			if err != nil || len(users) != 3 {
				t.Errorf("expected 3 users, got %v (%v)", users, err)
			}
			out, err := s.Aggregate(ctx, store.Pipeline{
				{"$match": bson.M{"likes": bson.M{"$exists": true}}},
				{"$group": bson.M{"_id": nil, "likes": bson.M{"$sum": "$likes"}}},
			}, live)
			if err != nil || len(out) != 1 {
				t.Fatalf("unexpected aggregate result %v (%v)", out, err)
			}
			if total, ok := out[0]["likes"].(int32); !ok || total != 10 {
				t.Errorf("expected 10 likes, got %v (%T)", out[0]["likes"], out[0]["likes"])
			}

			// deletes
			del, err := s.DeleteOne(ctx, store.Filter{"user": "BraveFox42"})
			if err != nil || del.DeletedCount != 1 {
				t.Errorf("unexpected delete one result %+v (%v)", del, err)
			}
			del, err = s.Delete(ctx, nil)
			if err != nil || del.DeletedCount != 3 {
				t.Errorf("unexpected delete result %+v (%v)", del, err)
			}

			// info
			info, err := s.GetInfo(ctx)
			if err != nil || info.Cache == nil || info.CacheNamespace != "test" {
				t.Errorf("unexpected info %+v (%v)", info, err)
			}
		})
	}
}

func TestServerSideCaching(t *testing.T) {
	s := newRemoteStore(t, "binary")
	ctx := context.Background()

	if _, err := s.Insert(ctx, bson.M{"n": 1}); err != nil {
		t.Fatal(err)
	}

	ttl := store.WithTTL(time.Minute)
	if n, _ := s.Count(ctx, nil, ttl); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
	if _, err := s.Insert(ctx, bson.M{"n": 2}); err != nil {
		t.Fatal(err)
	}

	if n, _ := s.Count(ctx, nil, ttl); n != 1 {
		t.Errorf("expected the cached count, got %d", n)
	}
	if n, _ := s.Count(ctx, nil, live); n != 2 {
		t.Errorf("expected the live count, got %d", n)
	}
}

func TestErrorCodesSurvive(t *testing.T) {
	s := newRemoteStore(t, "binary")
	ctx := context.Background()

	if _, err := s.Insert(ctx, bson.M{"_id": 1}); err != nil {
		t.Fatal(err)
	}

	// duplicate keys are validation errors on the client side
	_, err := s.Insert(ctx, bson.M{"_id": 1})
	if !store.IsValidationError(err) {
		t.Errorf("expected a validation error for a duplicate key, got %v", err)
	}

	// the store keeps working after a failure
	if _, err := s.Insert(ctx, bson.M{"_id": 2}); err != nil {
		t.Errorf("expected the store to remain usable, got %v", err)
	}

	// invalid options never leave the client
	if _, err := s.Find(ctx, nil, store.WithLimit(-1)); !store.IsValidationError(err) {
		t.Errorf("expected a validation error, got %v", err)
	}

	// unknown operators are reported as unsupported
	_, err = s.Find(ctx, store.Filter{"_id": bson.M{"$near": 1}}, live)
	if store.CodeOf(err) != store.RetCUnsupportedOperation {
		t.Errorf("expected an unsupported operation, got %v", err)
	}

	// arguments the server cannot use are validation errors
	if _, err := s.Insert(ctx, "not a document"); !store.IsValidationError(err) {
		t.Errorf("expected a validation error, got %v", err)
	}
}

func TestUnknownShard(t *testing.T) {
	s := newRemoteStore(t, "json")
	other := s.(*rpcStore)
	other.shardId = shardId + 1

	if _, err := other.Count(context.Background(), nil); !store.IsValidationError(err) {
		t.Errorf("expected an error for an unknown shard, got %v", err)
	}
}

func TestUnreachableServer(t *testing.T) {
	s, err := NewRPCStore(shardId, common.ClientConfig{
		Endpoints:     []string{"127.0.0.1:1"},
		TimeoutSecond: 1,
		RetryCount:    2,
	}, transport.NewHttpClientTransport(), serializer.NewBinarySerializer())
	if err != nil {
		t.Fatalf("connect must not dial, got %v", err)
	}

	if _, err := s.Count(context.Background(), nil); !store.IsConnectionError(err) {
		t.Errorf("expected a connection error, got %v", err)
	}
}
