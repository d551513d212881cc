package testing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/db"
	"go.mongodb.org/mongo-driver/bson"
)

// CollectionFactory creates a new, empty collection
type CollectionFactory func() db.Collection

// RunCollectionTests runs the conformance suite for a db.Collection implementation.
func RunCollectionTests(t *testing.T, name string, factory CollectionFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Insert&Find", func(t *testing.T) {
			testInsertFind(t, open(t, factory))
		})

		t.Run("QueryOperators", func(t *testing.T) {
			testQueryOperators(t, open(t, factory))
		})

		t.Run("SortSkipLimit", func(t *testing.T) {
			testSortSkipLimit(t, open(t, factory))
		})

		t.Run("Projection", func(t *testing.T) {
			testProjection(t, open(t, factory))
		})

		t.Run("DuplicateKey", func(t *testing.T) {
			testDuplicateKey(t, open(t, factory))
		})

		t.Run("InsertMany", func(t *testing.T) {
			testInsertMany(t, open(t, factory))
		})

		t.Run("Update", func(t *testing.T) {
			testUpdate(t, open(t, factory))
		})

		t.Run("Upsert", func(t *testing.T) {
			testUpsert(t, open(t, factory))
		})

		t.Run("Replace", func(t *testing.T) {
			testReplace(t, open(t, factory))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, open(t, factory))
		})

		t.Run("Aggregate", func(t *testing.T) {
			testAggregate(t, open(t, factory))
		})

		t.Run("Count&Distinct", func(t *testing.T) {
			testCountDistinct(t, open(t, factory))
		})

		t.Run("InvalidUpdates", func(t *testing.T) {
			testInvalidUpdates(t, open(t, factory))
		})

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, open(t, factory))
		})

		t.Run("GetInfo", func(t *testing.T) {
			testGetInfo(t, open(t, factory))
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// open creates a collection that is emptied and closed when the test ends
func open(t testing.TB, factory CollectionFactory) db.Collection {
	coll := factory()
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = coll.DeleteMany(ctx, nil, db.Options{})
		_ = coll.Close(ctx)
	})
	return coll
}

// Checks if the collection supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, coll db.Collection, feature db.Feature) {
	if !coll.SupportsFeature(feature) {
		t.Skip()
	}
}

func ptr[T any](v T) *T {
	return &v
}

// num converts the numeric types an engine may return to int64
func num(t testing.TB, v any) int64 {
	t.Helper()
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	t.Fatalf("expected a number, got %T (%v)", v, v)
	return 0
}

func mustInsert(t testing.TB, coll db.Collection, docs ...bson.M) {
	t.Helper()
	for _, doc := range docs {
		if _, err := coll.InsertOne(context.Background(), doc, db.Options{}); err != nil {
			t.Fatalf("InsertOne(%v) failed: %v", doc, err)
		}
	}
}

func mustCount(t testing.TB, coll db.Collection, filter bson.M) int64 {
	t.Helper()
	n, err := coll.CountDocuments(context.Background(), filter, db.Options{})
	if err != nil {
		t.Fatalf("CountDocuments(%v) failed: %v", filter, err)
	}
	return n
}

func names(docs []db.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		s, _ := d["name"].(string)
		out = append(out, s)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// people inserts a fixed data set used by several tests
func people(t testing.TB, coll db.Collection) {
	mustInsert(t, coll,
		bson.M{"name": "alice", "age": 31, "tags": bson.A{"go", "db"}, "address": bson.M{"city": "Ulm"}},
		bson.M{"name": "bob", "age": 25, "tags": bson.A{"rust"}, "address": bson.M{"city": "Berlin"}},
		bson.M{"name": "carol", "age": 42, "tags": bson.A{"go"}, "address": bson.M{"city": "Ulm"}},
		bson.M{"name": "dave", "age": 25},
	)
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testInsertFind(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureInsert|db.FeatureFind)
	ctx := context.Background()

	id, err := coll.InsertOne(ctx, bson.M{"name": "alice", "age": 31}, db.Options{})
	if err != nil {
		t.Fatalf("InsertOne failed: %v", err)
	}
	if id == nil {
		t.Fatalf("expected a generated _id")
	}

	docs, err := coll.Find(ctx, nil, db.Options{})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0]["name"] != "alice" || num(t, docs[0]["age"]) != 31 {
		t.Errorf("unexpected document %v", docs[0])
	}
	if fmt.Sprint(docs[0]["_id"]) != fmt.Sprint(id) {
		t.Errorf("expected _id %v, got %v", id, docs[0]["_id"])
	}

	// returned documents must not alias stored ones
	docs[0]["name"] = "mallory"
	doc, found, err := coll.FindOne(ctx, bson.M{"_id": id}, db.Options{})
	if err != nil || !found {
		t.Fatalf("FindOne by _id failed: found=%v err=%v", found, err)
	}
	if doc["name"] != "alice" {
		t.Errorf("stored document was modified through a returned copy")
	}

	_, found, err = coll.FindOne(ctx, bson.M{"name": "nobody"}, db.Options{})
	if err != nil || found {
		t.Errorf("expected no match, got found=%v err=%v", found, err)
	}

	// empty filter and nil filter are the same
	all, err := coll.Find(ctx, bson.M{}, db.Options{})
	if err != nil || len(all) != 1 {
		t.Errorf("expected 1 document for an empty filter, got %d (%v)", len(all), err)
	}
}

func testQueryOperators(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureInsert|db.FeatureCount)
	people(t, coll)

	cases := []struct {
		filter bson.M
		want   int64
	}{
		{bson.M{"age": 25}, 2},
		{bson.M{"age": bson.M{"$gt": 30}}, 2},
		{bson.M{"age": bson.M{"$gte": 25, "$lt": 42}}, 3},
		{bson.M{"age": bson.M{"$ne": 25}}, 2},
		{bson.M{"name": bson.M{"$in": bson.A{"alice", "dave", "eve"}}}, 2},
		{bson.M{"name": bson.M{"$nin": bson.A{"alice"}}}, 3},
		{bson.M{"tags": "go"}, 2},
		{bson.M{"tags": bson.M{"$all": bson.A{"go", "db"}}}, 1},
		{bson.M{"tags": bson.M{"$size": 1}}, 2},
		{bson.M{"tags": bson.M{"$exists": false}}, 1},
		{bson.M{"address.city": "Ulm"}, 2},
		{bson.M{"name": bson.M{"$regex": "^[ab]"}}, 2},
		{bson.M{"name": bson.M{"$regex": "^ALI", "$options": "i"}}, 1},
		{bson.M{"$or": bson.A{bson.M{"age": 42}, bson.M{"name": "bob"}}}, 2},
		{bson.M{"$and": bson.A{bson.M{"age": 25}, bson.M{"tags": "rust"}}}, 1},
		{bson.M{"$nor": bson.A{bson.M{"age": 25}}}, 2},
		{bson.M{"age": bson.M{"$not": bson.M{"$gt": 30}}}, 2},
		{bson.M{"address": bson.M{"$exists": true}, "age": bson.M{"$lt": 40}}, 2},
	}

	for _, c := range cases {
		if got := mustCount(t, coll, c.filter); got != c.want {
			t.Errorf("filter %v: expected %d matches, got %d", c.filter, c.want, got)
		}
	}
}

func testSortSkipLimit(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureInsert|db.FeatureFind)
	people(t, coll)
	ctx := context.Background()

	docs, err := coll.Find(ctx, nil, db.Options{Sort: bson.D{{Key: "age", Value: -1}, {Key: "name", Value: 1}}})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got, want := names(docs), []string{"carol", "alice", "bob", "dave"}; !equalStrings(got, want) {
		t.Errorf("expected order %v, got %v", want, got)
	}

	docs, err = coll.Find(ctx, nil, db.Options{
		Sort:  bson.D{{Key: "name", Value: 1}},
		Skip:  ptr(int64(1)),
		Limit: ptr(int64(2)),
	})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got, want := names(docs), []string{"bob", "carol"}; !equalStrings(got, want) {
		t.Errorf("expected window %v, got %v", want, got)
	}

	docs, err = coll.Find(ctx, nil, db.Options{Skip: ptr(int64(10))})
	if err != nil || len(docs) != 0 {
		t.Errorf("expected nothing when skipping past the end, got %d (%v)", len(docs), err)
	}

	first, found, err := coll.FindOne(ctx, bson.M{"age": 25}, db.Options{Sort: bson.D{{Key: "name", Value: -1}}})
	if err != nil || !found || first["name"] != "dave" {
		t.Errorf("expected dave as first by name descending, got %v (%v)", first, err)
	}
}

func testProjection(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureInsert|db.FeatureFind)
	people(t, coll)
	ctx := context.Background()

	doc, found, err := coll.FindOne(ctx, bson.M{"name": "alice"}, db.Options{Projection: bson.M{"name": 1, "address.city": 1}})
	if err != nil || !found {
		t.Fatalf("FindOne failed: found=%v err=%v", found, err)
	}
	if _, ok := doc["_id"]; !ok {
		t.Errorf("inclusion projection must keep _id")
	}
	if _, ok := doc["age"]; ok {
		t.Errorf("inclusion projection must drop other fields, got %v", doc)
	}
	if addr, ok := doc["address"].(bson.M); !ok || addr["city"] != "Ulm" {
		t.Errorf("expected nested field address.city, got %v", doc["address"])
	}

	doc, _, err = coll.FindOne(ctx, bson.M{"name": "alice"}, db.Options{Projection: bson.M{"_id": 0, "tags": 0, "address": 0}})
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if len(doc) != 2 || doc["name"] != "alice" {
		t.Errorf("expected name and age only, got %v", doc)
	}

	if _, err := coll.Find(ctx, nil, db.Options{Projection: bson.M{"name": 1, "age": 0}}); err == nil {
		t.Errorf("expected an error when mixing inclusion and exclusion")
	}
}

func testDuplicateKey(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureInsert)
	ctx := context.Background()

	if _, err := coll.InsertOne(ctx, bson.M{"_id": "a", "v": 1}, db.Options{}); err != nil {
		t.Fatalf("InsertOne failed: %v", err)
	}
	_, err := coll.InsertOne(ctx, bson.M{"_id": "a", "v": 2}, db.Options{})
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected a duplicate key error, got %v", err)
	}

	doc, _, _ := coll.FindOne(ctx, bson.M{"_id": "a"}, db.Options{})
	if num(t, doc["v"]) != 1 {
		t.Errorf("the failed insert must not overwrite the document, got %v", doc)
	}
}

func testInsertMany(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureInsert|db.FeatureDelete)
	ctx := context.Background()

	docs := []any{bson.M{"_id": 1}, bson.M{"_id": 1}, bson.M{"_id": 2}}

	ids, err := coll.InsertMany(ctx, docs, db.Options{})
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected a duplicate key error, got %v", err)
	}
	if len(ids) != 1 || mustCount(t, coll, nil) != 1 {
		t.Errorf("ordered insert must stop at the first error, got ids %v", ids)
	}

	if _, err := coll.DeleteMany(ctx, nil, db.Options{}); err != nil {
		t.Fatalf("DeleteMany failed: %v", err)
	}

	ids, err = coll.InsertMany(ctx, docs, db.Options{Ordered: ptr(false)})
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected a duplicate key error, got %v", err)
	}
	if len(ids) != 2 || mustCount(t, coll, nil) != 2 {
		t.Errorf("unordered insert must continue after an error, got ids %v", ids)
	}

	ids, err = coll.InsertMany(ctx, []any{bson.M{"n": 1}, bson.M{"n": 2}}, db.Options{})
	if err != nil || len(ids) != 2 {
		t.Errorf("expected two generated ids, got %v (%v)", ids, err)
	}
	if len(ids) == 2 && fmt.Sprint(ids[0]) == fmt.Sprint(ids[1]) {
		t.Errorf("generated ids must be unique")
	}
}

func testUpdate(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureInsert|db.FeatureUpdate|db.FeatureFind)
	people(t, coll)
	ctx := context.Background()

	res, err := coll.UpdateOne(ctx, bson.M{"name": "alice"}, bson.M{"$set": bson.M{"address.zip": "89073"}, "$inc": bson.M{"age": 1}}, db.Options{})
	if err != nil {
		t.Fatalf("UpdateOne failed: %v", err)
	}
	if res.MatchedCount != 1 || res.ModifiedCount != 1 || res.UpsertedID != nil {
		t.Errorf("unexpected result %+v", res)
	}

	doc, _, _ := coll.FindOne(ctx, bson.M{"name": "alice"}, db.Options{})
	if num(t, doc["age"]) != 32 {
		t.Errorf("expected age 32, got %v", doc["age"])
	}
	if addr, _ := doc["address"].(bson.M); addr == nil || addr["zip"] != "89073" || addr["city"] != "Ulm" {
		t.Errorf("expected merged address, got %v", doc["address"])
	}

	// setting the current value matches but does not modify
	res, err = coll.UpdateOne(ctx, bson.M{"name": "alice"}, bson.M{"$set": bson.M{"name": "alice"}}, db.Options{})
	if err != nil || res.MatchedCount != 1 || res.ModifiedCount != 0 {
		t.Errorf("expected matched=1 modified=0, got %+v (%v)", res, err)
	}

	res, err = coll.UpdateMany(ctx, bson.M{"age": 25}, bson.M{"$push": bson.M{"tags": "new"}}, db.Options{})
	if err != nil || res.MatchedCount != 2 || res.ModifiedCount != 2 {
		t.Errorf("expected 2 modified documents, got %+v (%v)", res, err)
	}
	if n := mustCount(t, coll, bson.M{"tags": "new"}); n != 2 {
		t.Errorf("expected 2 documents tagged new, got %d", n)
	}

	res, err = coll.UpdateMany(ctx, bson.M{"tags": "go"}, bson.M{"$pull": bson.M{"tags": "go"}, "$unset": bson.M{"address": ""}}, db.Options{})
	if err != nil || res.ModifiedCount != 2 {
		t.Errorf("expected 2 modified documents, got %+v (%v)", res, err)
	}
	if n := mustCount(t, coll, bson.M{"address": bson.M{"$exists": true}}); n != 1 {
		t.Errorf("expected one document with an address left, got %d", n)
	}

	res, err = coll.UpdateOne(ctx, bson.M{"name": "nobody"}, bson.M{"$set": bson.M{"x": 1}}, db.Options{})
	if err != nil || res.MatchedCount != 0 || res.UpsertedID != nil {
		t.Errorf("expected no match and no upsert, got %+v (%v)", res, err)
	}
}

func testUpsert(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureUpdate|db.FeatureFind)
	ctx := context.Background()

	res, err := coll.UpdateOne(ctx,
		bson.M{"name": "eve", "age": bson.M{"$gt": 10}},
		bson.M{"$set": bson.M{"role": "admin"}, "$setOnInsert": bson.M{"created": true}},
		db.Options{Upsert: ptr(true)})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if res.UpsertedID == nil || res.MatchedCount != 0 {
		t.Fatalf("expected an upserted id, got %+v", res)
	}

	doc, found, _ := coll.FindOne(ctx, bson.M{"_id": res.UpsertedID}, db.Options{})
	if !found || doc["name"] != "eve" || doc["role"] != "admin" || doc["created"] != true {
		t.Errorf("unexpected upserted document %v", doc)
	}
	if _, ok := doc["age"]; ok {
		t.Errorf("range conditions must not be copied into the upserted document")
	}

	res, err = coll.UpdateOne(ctx, bson.M{"name": "eve"}, bson.M{"$set": bson.M{"role": "user"}, "$setOnInsert": bson.M{"created": false}}, db.Options{Upsert: ptr(true)})
	if err != nil || res.MatchedCount != 1 || res.UpsertedID != nil {
		t.Errorf("expected an update of the existing document, got %+v (%v)", res, err)
	}
	doc, _, _ = coll.FindOne(ctx, bson.M{"name": "eve"}, db.Options{})
	if doc["role"] != "user" || doc["created"] != true {
		t.Errorf("$setOnInsert must only apply to inserts, got %v", doc)
	}
}

func testReplace(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureInsert|db.FeatureReplace|db.FeatureFind)
	ctx := context.Background()

	id, _ := coll.InsertOne(ctx, bson.M{"name": "alice", "age": 31}, db.Options{})

	res, err := coll.ReplaceOne(ctx, bson.M{"name": "alice"}, bson.M{"name": "alice", "role": "owner"}, db.Options{})
	if err != nil || res.MatchedCount != 1 || res.ModifiedCount != 1 {
		t.Fatalf("ReplaceOne failed: %+v (%v)", res, err)
	}

	doc, _, _ := coll.FindOne(ctx, bson.M{"_id": id}, db.Options{})
	if _, ok := doc["age"]; ok || doc["role"] != "owner" {
		t.Errorf("replacement must drop old fields, got %v", doc)
	}

	if _, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"x": 1}}, db.Options{}); err == nil {
		t.Errorf("expected an error for a replacement with operators")
	}

	res, err = coll.ReplaceOne(ctx, bson.M{"name": "bob"}, bson.M{"name": "bob"}, db.Options{Upsert: ptr(true)})
	if err != nil || res.UpsertedID == nil {
		t.Errorf("expected an upserted replacement, got %+v (%v)", res, err)
	}
}

func testDelete(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureInsert|db.FeatureDelete)
	people(t, coll)
	ctx := context.Background()

	n, err := coll.DeleteOne(ctx, bson.M{"age": 25}, db.Options{})
	if err != nil || n != 1 {
		t.Errorf("expected 1 deleted document, got %d (%v)", n, err)
	}

	n, err = coll.DeleteMany(ctx, bson.M{"tags": "go"}, db.Options{})
	if err != nil || n != 2 {
		t.Errorf("expected 2 deleted documents, got %d (%v)", n, err)
	}

	n, err = coll.DeleteOne(ctx, bson.M{"name": "nobody"}, db.Options{})
	if err != nil || n != 0 {
		t.Errorf("expected nothing deleted, got %d (%v)", n, err)
	}

	if left := mustCount(t, coll, nil); left != 1 {
		t.Errorf("expected 1 document left, got %d", left)
	}

	// the _id of a deleted document can be used again
	mustInsert(t, coll, bson.M{"_id": "x"})
	if _, err := coll.DeleteOne(ctx, bson.M{"_id": "x"}, db.Options{}); err != nil {
		t.Fatalf("DeleteOne failed: %v", err)
	}
	mustInsert(t, coll, bson.M{"_id": "x"})
}

func testAggregate(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureInsert|db.FeatureAggregate)
	people(t, coll)
	ctx := context.Background()

	out, err := coll.Aggregate(ctx, []bson.M{
		{"$match": bson.M{"age": bson.M{"$gte": 25}}},
		{"$group": bson.M{"_id": "$age", "count": bson.M{"$sum": 1}, "names": bson.M{"$push": "$name"}}},
		{"$sort": bson.D{{Key: "_id", Value: 1}}},
	}, db.Options{})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 groups, got %d: %v", len(out), out)
	}
	if num(t, out[0]["_id"]) != 25 || num(t, out[0]["count"]) != 2 {
		t.Errorf("unexpected first group %v", out[0])
	}
	if arr, ok := out[0]["names"].(bson.A); !ok || len(arr) != 2 {
		t.Errorf("expected two pushed names, got %v", out[0]["names"])
	}

	out, err = coll.Aggregate(ctx, []bson.M{
		{"$unwind": "$tags"},
		{"$group": bson.M{"_id": "$tags", "n": bson.M{"$sum": 1}}},
		{"$sort": bson.D{{Key: "n", Value: -1}, {Key: "_id", Value: 1}}},
		{"$limit": 1},
	}, db.Options{})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(out) != 1 || out[0]["_id"] != "go" || num(t, out[0]["n"]) != 2 {
		t.Errorf("expected go as most used tag, got %v", out)
	}

	out, err = coll.Aggregate(ctx, []bson.M{{"$count": "total"}}, db.Options{})
	if err != nil || len(out) != 1 || num(t, out[0]["total"]) != 4 {
		t.Errorf("expected total 4, got %v (%v)", out, err)
	}

	out, err = coll.Aggregate(ctx, nil, db.Options{})
	if err != nil || len(out) != 4 {
		t.Errorf("an empty pipeline must return all documents, got %d (%v)", len(out), err)
	}
}

func testCountDistinct(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureInsert|db.FeatureCount|db.FeatureDistinct)
	people(t, coll)
	ctx := context.Background()

	n, err := coll.CountDocuments(ctx, nil, db.Options{Skip: ptr(int64(1)), Limit: ptr(int64(2))})
	if err != nil || n != 2 {
		t.Errorf("expected a count of 2 with skip and limit, got %d (%v)", n, err)
	}

	values, err := coll.Distinct(ctx, "tags", nil, db.Options{})
	if err != nil {
		t.Fatalf("Distinct failed: %v", err)
	}
	tags := make([]string, 0, len(values))
	for _, v := range values {
		tags = append(tags, fmt.Sprint(v))
	}
	sort.Strings(tags)
	if want := []string{"db", "go", "rust"}; !equalStrings(tags, want) {
		t.Errorf("expected distinct tags %v, got %v", want, tags)
	}

	values, err = coll.Distinct(ctx, "address.city", bson.M{"age": bson.M{"$gt": 30}}, db.Options{})
	if err != nil || len(values) != 1 || values[0] != "Ulm" {
		t.Errorf("expected [Ulm], got %v (%v)", values, err)
	}
}

func testInvalidUpdates(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureInsert|db.FeatureUpdate)
	mustInsert(t, coll, bson.M{"_id": "a", "name": "alice"})
	ctx := context.Background()

	if _, err := coll.UpdateOne(ctx, bson.M{"_id": "a"}, bson.M{"name": "bob"}, db.Options{}); err == nil {
		t.Errorf("expected an error for an update without operators")
	}
	if _, err := coll.UpdateOne(ctx, bson.M{"_id": "a"}, bson.M{"$set": bson.M{"_id": "b"}}, db.Options{}); err == nil {
		t.Errorf("expected an error when changing _id")
	}
	if _, err := coll.UpdateOne(ctx, bson.M{"_id": "a"}, bson.M{"$inc": bson.M{"name": 1}}, db.Options{}); err == nil {
		t.Errorf("expected an error for $inc on a string")
	}

	doc, _, _ := coll.FindOne(ctx, bson.M{"_id": "a"}, db.Options{})
	if doc["name"] != "alice" {
		t.Errorf("failed updates must not change the document, got %v", doc)
	}
}

func testConcurrent(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureInsert|db.FeatureUpdate|db.FeatureCount)
	ctx := context.Background()

	const workers, perWorker = 8, 25
	mustInsert(t, coll, bson.M{"_id": "counter", "n": 0})

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := coll.InsertOne(ctx, bson.M{"worker": w, "i": i}, db.Options{}); err != nil {
					errs <- err
					return
				}
				if _, err := coll.UpdateOne(ctx, bson.M{"_id": "counter"}, bson.M{"$inc": bson.M{"n": 1}}, db.Options{}); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent write failed: %v", err)
	}

	if n := mustCount(t, coll, bson.M{"worker": bson.M{"$exists": true}}); n != workers*perWorker {
		t.Errorf("expected %d documents, got %d", workers*perWorker, n)
	}
	doc, _, _ := coll.FindOne(ctx, bson.M{"_id": "counter"}, db.Options{})
	if num(t, doc["n"]) != workers*perWorker {
		t.Errorf("lost increments: expected %d, got %v", workers*perWorker, doc["n"])
	}
}

func testGetInfo(t *testing.T, coll db.Collection) {
	requireFeature(t, coll, db.FeatureInsert)
	people(t, coll)

	info, err := coll.GetInfo(context.Background())
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	if info.Documents != 4 {
		t.Errorf("expected 4 documents, got %d", info.Documents)
	}
	if info.Collection == "" || info.Engine == "" {
		t.Errorf("expected engine and collection to be set, got %+v", info)
	}
	for _, f := range info.SupportedFeatures {
		if !coll.SupportsFeature(f) {
			t.Errorf("GetInfo lists %s but SupportsFeature denies it", f)
		}
	}
	if err := coll.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func testClosed(t *testing.T, coll db.Collection) {
	ctx := context.Background()
	if err := coll.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := coll.Find(ctx, nil, db.Options{}); err == nil {
		t.Errorf("expected Find on a closed collection to fail")
	}
	if _, err := coll.InsertOne(ctx, bson.M{"a": 1}, db.Options{}); err == nil {
		t.Errorf("expected InsertOne on a closed collection to fail")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := coll.Ping(cancelled); err == nil {
		t.Errorf("expected Ping to fail")
	}
}
