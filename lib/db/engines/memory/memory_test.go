package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func mustFindOne(t *testing.T, coll db.Collection, filter bson.M) db.Document {
	t.Helper()
	doc, found, err := coll.FindOne(context.Background(), filter, db.Options{})
	if err != nil || !found {
		t.Fatalf("FindOne(%v): found=%v err=%v", filter, found, err)
	}
	return doc
}

func TestOpenSharesCollections(t *testing.T) {
	ctx := context.Background()
	t.Cleanup(func() {
		Drop("shared", "wall")
		Drop("shared", "other")
	})

	a := Open("shared", "wall")
	b := Open("shared", "wall")
	other := Open("shared", "other")

	if _, err := a.InsertOne(ctx, bson.M{"text": "hi"}, db.Options{}); err != nil {
		t.Fatal(err)
	}
	if n, _ := b.CountDocuments(ctx, nil, db.Options{}); n != 1 {
		t.Errorf("expected the second handle to see 1 document, got %d", n)
	}
	if n, _ := other.CountDocuments(ctx, nil, db.Options{}); n != 0 {
		t.Errorf("expected other collection to be empty, got %d", n)
	}

	// closing one handle keeps the data for the others
	_ = a.Close(ctx)
	if n, _ := b.CountDocuments(ctx, nil, db.Options{}); n != 1 {
		t.Errorf("expected data to survive closing a handle, got %d", n)
	}
	if n, _ := Open("shared", "wall").CountDocuments(ctx, nil, db.Options{}); n != 1 {
		t.Errorf("expected a new handle to see the data, got %d", n)
	}

	Drop("shared", "wall")
	if n, _ := Open("shared", "wall").CountDocuments(ctx, nil, db.Options{}); n != 0 {
		t.Errorf("expected a dropped collection to start empty, got %d", n)
	}
}

func TestNewIsPrivate(t *testing.T) {
	ctx := context.Background()
	a, b := New("db", "c"), New("db", "c")
	_, _ = a.InsertOne(ctx, bson.M{"x": 1}, db.Options{})
	if n, _ := b.CountDocuments(ctx, nil, db.Options{}); n != 0 {
		t.Errorf("collections from New must not share data, got %d", n)
	}
	if a.Name() != "db.c" {
		t.Errorf("unexpected name %s", a.Name())
	}
}

func TestNormalizesInputTypes(t *testing.T) {
	ctx := context.Background()
	coll := New("db", "types")

	type address struct {
		City string `bson:"city"`
	}
	type person struct {
		Name    string  `bson:"name"`
		Age     int     `bson:"age"`
		Address address `bson:"address"`
	}

	if _, err := coll.InsertOne(ctx, person{Name: "alice", Age: 31, Address: address{City: "Ulm"}}, db.Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := coll.InsertOne(ctx, bson.D{{Key: "name", Value: "bob"}, {Key: "age", Value: int64(25)}}, db.Options{}); err != nil {
		t.Fatal(err)
	}

	doc := mustFindOne(t, coll, bson.M{"address.city": "Ulm"})
	if _, ok := doc["address"].(bson.M); !ok {
		t.Errorf("expected nested documents as bson.M, got %T", doc["address"])
	}
	if _, ok := doc["age"].(int32); !ok {
		t.Errorf("expected int to be stored as int32, got %T", doc["age"])
	}
	if _, ok := doc["_id"].(primitive.ObjectID); !ok {
		t.Errorf("expected a generated ObjectID, got %T", doc["_id"])
	}

	// numbers compare by value across types
	if n, _ := coll.CountDocuments(ctx, bson.M{"age": 25.0}, db.Options{}); n != 1 {
		t.Errorf("expected 25.0 to match int64 25, got %d", n)
	}

	if _, err := coll.InsertOne(ctx, "not a document", db.Options{}); err == nil {
		t.Errorf("expected an error for a non document")
	}
}

func TestUnsupportedOperators(t *testing.T) {
	ctx := context.Background()
	coll := New("db", "unsupported")
	_, _ = coll.InsertOne(ctx, bson.M{"a": 1}, db.Options{})

	_, err := coll.Find(ctx, bson.M{"$where": "this.a == 1"}, db.Options{})
	if !errors.Is(err, db.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for $where, got %v", err)
	}
	_, err = coll.Find(ctx, bson.M{"a": bson.M{"$mod": bson.A{2, 1}}}, db.Options{})
	if !errors.Is(err, db.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for $mod, got %v", err)
	}
	_, err = coll.UpdateOne(ctx, nil, bson.M{"$bit": bson.M{"a": bson.M{"and": 1}}}, db.Options{})
	if !errors.Is(err, db.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for $bit, got %v", err)
	}
	_, err = coll.UpdateOne(ctx, nil, []bson.M{{"$set": bson.M{"a": 2}}}, db.Options{})
	if !errors.Is(err, db.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for update pipelines, got %v", err)
	}
	_, err = coll.Aggregate(ctx, []bson.M{{"$lookup": bson.M{"from": "x"}}}, db.Options{})
	if !errors.Is(err, db.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for $lookup, got %v", err)
	}

	if coll.SupportsFeature(db.FeatureExtraOptions) || coll.SupportsFeature(db.FeaturePersistence) {
		t.Errorf("memory engine must not report extra options or persistence")
	}
	if !coll.SupportsFeature(db.FeatureFind | db.FeatureAggregate) {
		t.Errorf("memory engine must report find and aggregate")
	}
}

func TestUpdateOperators(t *testing.T) {
	ctx := context.Background()
	coll := New("db", "updates")
	_, _ = coll.InsertOne(ctx, bson.M{
		"_id":    "x",
		"n":      10,
		"price":  2.5,
		"low":    5,
		"high":   5,
		"old":    "v",
		"tags":   bson.A{"a", "b", "c"},
		"scores": bson.A{1, 5, 9},
	}, db.Options{})

	_, err := coll.UpdateOne(ctx, bson.M{"_id": "x"}, bson.M{
		"$mul":      bson.M{"price": 2},
		"$min":      bson.M{"low": 3},
		"$max":      bson.M{"high": 3},
		"$rename":   bson.M{"old": "new"},
		"$addToSet": bson.M{"tags": bson.M{"$each": bson.A{"c", "d"}}},
		"$pop":      bson.M{"scores": -1},
		"$inc":      bson.M{"n": int64(5), "missing": 1},
	}, db.Options{})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	doc := mustFindOne(t, coll, bson.M{"_id": "x"})
	if doc["price"] != 5.0 {
		t.Errorf("$mul: expected 5.0, got %v", doc["price"])
	}
	if doc["low"] != int32(3) || doc["high"] != int32(5) {
		t.Errorf("$min/$max: got low=%v high=%v", doc["low"], doc["high"])
	}
	if _, ok := doc["old"]; ok || doc["new"] != "v" {
		t.Errorf("$rename: got %v", doc)
	}
	if tags, _ := doc["tags"].(bson.A); len(tags) != 4 {
		t.Errorf("$addToSet: expected 4 tags, got %v", doc["tags"])
	}
	if scores, _ := doc["scores"].(bson.A); len(scores) != 2 || scores[0] != int32(5) {
		t.Errorf("$pop: got %v", doc["scores"])
	}
	if doc["n"] != int64(15) {
		t.Errorf("$inc with int64 must widen the result, got %v (%T)", doc["n"], doc["n"])
	}
	if doc["missing"] != int32(1) {
		t.Errorf("$inc on a missing field sets it, got %v", doc["missing"])
	}

	_, err = coll.UpdateOne(ctx, bson.M{"_id": "x"}, bson.M{
		"$currentDate": bson.M{"touched": true},
		"$pull":        bson.M{"scores": bson.M{"$gte": 9}},
		"$set":         bson.M{"tags.0": "z", "deep.er.field": 1},
	}, db.Options{})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	doc = mustFindOne(t, coll, bson.M{"_id": "x"})
	if _, ok := doc["touched"].(primitive.DateTime); !ok {
		t.Errorf("$currentDate: expected a date, got %T", doc["touched"])
	}
	if scores, _ := doc["scores"].(bson.A); len(scores) != 1 {
		t.Errorf("$pull with a condition: got %v", doc["scores"])
	}
	if tags, _ := doc["tags"].(bson.A); tags[0] != "z" {
		t.Errorf("$set with an array index: got %v", doc["tags"])
	}
	if n, _ := coll.CountDocuments(ctx, bson.M{"deep.er.field": 1}, db.Options{}); n != 1 {
		t.Errorf("$set must create intermediate documents")
	}
}

func TestUpdateIsAtomicPerCall(t *testing.T) {
	ctx := context.Background()
	coll := New("db", "atomic")
	_, _ = coll.InsertMany(ctx, []any{
		bson.M{"_id": 1, "v": 1},
		bson.M{"_id": 2, "v": "text"},
	}, db.Options{})

	// the second document makes $inc fail, the first must stay untouched
	if _, err := coll.UpdateMany(ctx, nil, bson.M{"$inc": bson.M{"v": 1}}, db.Options{}); err == nil {
		t.Fatalf("expected an error")
	}
	if doc := mustFindOne(t, coll, bson.M{"_id": 1}); doc["v"] != int32(1) {
		t.Errorf("failed UpdateMany must not apply partially, got %v", doc["v"])
	}
}

func TestFindElemMatchAndNull(t *testing.T) {
	ctx := context.Background()
	coll := New("db", "elem")
	_, _ = coll.InsertMany(ctx, []any{
		bson.M{"_id": 1, "items": bson.A{bson.M{"sku": "a", "qty": 1}, bson.M{"sku": "b", "qty": 10}}},
		bson.M{"_id": 2, "items": bson.A{bson.M{"sku": "a", "qty": 10}}, "note": nil},
		bson.M{"_id": 3},
	}, db.Options{})

	count := func(filter bson.M) int64 {
		n, err := coll.CountDocuments(ctx, filter, db.Options{})
		if err != nil {
			t.Fatalf("CountDocuments(%v): %v", filter, err)
		}
		return n
	}

	if n := count(bson.M{"items": bson.M{"$elemMatch": bson.M{"sku": "a", "qty": bson.M{"$gte": 5}}}}); n != 1 {
		t.Errorf("$elemMatch must match within one element, got %d", n)
	}
	// without $elemMatch the conditions may hold on different elements
	if n := count(bson.M{"items.sku": "a", "items.qty": bson.M{"$gte": 5}}); n != 2 {
		t.Errorf("expected 2 matches across elements, got %d", n)
	}
	if n := count(bson.M{"note": nil}); n != 3 {
		t.Errorf("null must match explicit null and missing fields, got %d", n)
	}
	if n := count(bson.M{"items.0.qty": 10}); n != 1 {
		t.Errorf("expected array index paths to work, got %d", n)
	}
	if n := count(bson.M{"_id": primitive.Regex{Pattern: "x"}}); n != 0 {
		t.Errorf("regex must not match numbers, got %d", n)
	}
}

func TestSortOrderAcrossTypes(t *testing.T) {
	ctx := context.Background()
	coll := New("db", "sort")
	_, _ = coll.InsertMany(ctx, []any{
		bson.M{"_id": 1, "v": "b"},
		bson.M{"_id": 2, "v": 3},
		bson.M{"_id": 3},
		bson.M{"_id": 4, "v": bson.A{10, 1}},
		bson.M{"_id": 5, "v": true},
		bson.M{"_id": 6, "v": 2.5},
	}, db.Options{})

	docs, err := coll.Find(ctx, nil, db.Options{Sort: bson.D{{Key: "v", Value: 1}}})
	if err != nil {
		t.Fatal(err)
	}
	var ids []int32
	for _, d := range docs {
		ids = append(ids, d["_id"].(int32))
	}

	// missing, then numbers (array by its smallest element), strings, booleans
	want := []int32{3, 4, 6, 2, 1, 5}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, ids)
		}
	}
}

func TestAggregateExpressions(t *testing.T) {
	ctx := context.Background()
	coll := New("db", "agg")
	_, _ = coll.InsertMany(ctx, []any{
		bson.M{"_id": 1, "first": "Ada", "last": "Lovelace", "score": 10, "tags": bson.A{"x", "y"}},
		bson.M{"_id": 2, "first": "Alan", "last": "Turing", "score": 20, "tags": bson.A{}},
		bson.M{"_id": 3, "first": "Grace", "last": "Hopper", "score": 30},
	}, db.Options{})

	out, err := coll.Aggregate(ctx, []bson.M{
		{"$project": bson.M{
			"_id":    0,
			"name":   bson.M{"$concat": bson.A{"$first", " ", bson.M{"$toUpper": "$last"}}},
			"len":    bson.M{"$strLenCP": "$first"},
			"double": bson.M{"$multiply": bson.A{"$score", 2}},
			"half":   bson.M{"$divide": bson.A{"$score", 4}},
			"n":      bson.M{"$size": bson.M{"$ifNull": bson.A{"$tags", bson.A{}}}},
			"lit":    bson.M{"$literal": "$score"},
		}},
		{"$sort": bson.D{{Key: "double", Value: -1}}},
	}, db.Options{})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	top := out[0]
	if top["name"] != "Grace HOPPER" || top["len"] != int32(5) || top["double"] != int32(60) || top["half"] != 7.5 {
		t.Errorf("unexpected computed fields %v", top)
	}
	if top["n"] != int32(0) || top["lit"] != "$score" {
		t.Errorf("unexpected $ifNull/$literal result %v", top)
	}
	if _, ok := top["_id"]; ok {
		t.Errorf("_id must be excluded")
	}

	out, err = coll.Aggregate(ctx, []bson.M{
		{"$unwind": bson.M{"path": "$tags", "preserveNullAndEmptyArrays": true, "includeArrayIndex": "idx"}},
		{"$group": bson.M{
			"_id":   nil,
			"rows":  bson.M{"$count": bson.M{}},
			"avg":   bson.M{"$avg": "$score"},
			"max":   bson.M{"$max": "$score"},
			"first": bson.M{"$first": "$first"},
			"tags":  bson.M{"$addToSet": "$tags"},
		}},
	}, db.Options{})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one group, got %v", out)
	}
	g := out[0]
	if g["rows"] != int32(4) || g["max"] != int32(30) || g["first"] != "Ada" {
		t.Errorf("unexpected group %v", g)
	}
	if avg := g["avg"].(float64); avg != 17.5 {
		t.Errorf("expected avg 17.5 over the unwound rows, got %v", avg)
	}
	if tags, _ := g["tags"].(bson.A); len(tags) != 2 {
		t.Errorf("expected tags x and y, got %v", g["tags"])
	}

	if _, err := coll.Aggregate(ctx, []bson.M{{"$project": bson.M{"x": bson.M{"$divide": bson.A{1, 0}}}}}, db.Options{}); err == nil {
		t.Errorf("expected an error for a division by zero")
	}
	if _, err := coll.Aggregate(ctx, []bson.M{{"$match": bson.M{}, "$limit": 1}}, db.Options{}); err == nil {
		t.Errorf("expected an error for a stage with two operators")
	}
}

func TestAggregateDoesNotModifyStoredDocuments(t *testing.T) {
	ctx := context.Background()
	coll := New("db", "agg-copy")
	_, _ = coll.InsertOne(ctx, bson.M{"_id": 1, "a": bson.M{"b": 1}}, db.Options{})

	_, err := coll.Aggregate(ctx, []bson.M{
		{"$set": bson.M{"a.c": 2}},
		{"$unset": "a.b"},
	}, db.Options{})
	if err != nil {
		t.Fatal(err)
	}

	doc := mustFindOne(t, coll, bson.M{"_id": 1})
	if a := doc["a"].(bson.M); len(a) != 1 || a["b"] != int32(1) {
		t.Errorf("stored document changed by a pipeline: %v", doc)
	}
}

func TestGetInfo(t *testing.T) {
	ctx := context.Background()
	coll := New("db", "info")
	_, _ = coll.InsertOne(ctx, bson.M{"text": "hello"}, db.Options{})

	info, err := coll.GetInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Engine != db.ImplMemory || info.Database != "db" || info.Collection != "info" {
		t.Errorf("unexpected info %+v", info)
	}
	if info.Documents != 1 || info.SizeBytes <= 0 {
		t.Errorf("expected one document with a size, got %+v", info)
	}
}

func TestCancelledContext(t *testing.T) {
	coll := New("db", "ctx")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := coll.InsertOne(ctx, bson.M{"a": 1}, db.Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRenameCannotTargetIdentifier(t *testing.T) {
	ctx := context.Background()
	coll := New("db", "rename")
	_, _ = coll.InsertMany(ctx, []any{
		bson.M{"_id": 1, "other": 2},
		bson.M{"_id": 2, "other": 1},
	}, db.Options{})

	for _, target := range []string{"_id", "_id.x"} {
		if _, err := coll.UpdateMany(ctx, bson.M{}, bson.M{"$rename": bson.M{"other": target}}, db.Options{}); err == nil {
			t.Errorf("expected renaming to %q to fail", target)
		}
	}

	for _, id := range []int{1, 2} {
		if n, _ := coll.CountDocuments(ctx, bson.M{"_id": id}, db.Options{}); n != 1 {
			t.Errorf("expected exactly one document with _id %d, got %d", id, n)
		}
	}
	if n, _ := coll.CountDocuments(ctx, bson.M{"other": bson.M{"$exists": true}}, db.Options{}); n != 2 {
		t.Errorf("expected the documents to be unchanged, got %d with the field", n)
	}
}
