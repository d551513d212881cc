package testing

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/db"
	"go.mongodb.org/mongo-driver/bson"
)

// RunCollectionBenchmarks runs all benchmarks for a db.Collection implementation
func RunCollectionBenchmarks(b *testing.B, name string, factory CollectionFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("InsertOne", func(b *testing.B) {
			benchmarkInsertOne(b, open(b, factory))
		})

		b.Run("FindOne(id)", func(b *testing.B) {
			benchmarkFindOneByID(b, open(b, factory))
		})

		b.Run("Find(filter)", func(b *testing.B) {
			benchmarkFindFilter(b, open(b, factory))
		})

		b.Run("UpdateOne", func(b *testing.B) {
			benchmarkUpdateOne(b, open(b, factory))
		})

		b.Run("Aggregate", func(b *testing.B) {
			benchmarkAggregate(b, open(b, factory))
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, open(b, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// seed inserts n documents with _id "doc-<i>"
func seed(b *testing.B, coll db.Collection, n int) {
	b.Helper()
	docs := make([]any, n)
	for i := range docs {
		docs[i] = bson.M{"_id": fmt.Sprintf("doc-%d", i), "group": i % 10, "n": i, "text": "lorem ipsum"}
	}
	if _, err := coll.InsertMany(context.Background(), docs, db.Options{}); err != nil {
		b.Fatalf("seeding failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkInsertOne(b *testing.B, coll db.Collection) {
	requireFeature(b, coll, db.FeatureInsert)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := coll.InsertOne(ctx, bson.M{"n": i, "text": "lorem ipsum"}, db.Options{}); err != nil {
				b.Error(err)
				return
			}
			i++
		}
	})
}

func benchmarkFindOneByID(b *testing.B, coll db.Collection) {
	requireFeature(b, coll, db.FeatureInsert|db.FeatureFind)
	const n = 1000
	seed(b, coll, n)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			if _, _, err := coll.FindOne(ctx, bson.M{"_id": fmt.Sprintf("doc-%d", r.Intn(n))}, db.Options{}); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func benchmarkFindFilter(b *testing.B, coll db.Collection) {
	requireFeature(b, coll, db.FeatureInsert|db.FeatureFind)
	seed(b, coll, 1000)
	ctx := context.Background()
	limit := int64(20)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, err := coll.Find(ctx, bson.M{"group": 3, "n": bson.M{"$gte": 500}}, db.Options{
				Sort:  bson.D{{Key: "n", Value: -1}},
				Limit: &limit,
			})
			if err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func benchmarkUpdateOne(b *testing.B, coll db.Collection) {
	requireFeature(b, coll, db.FeatureInsert|db.FeatureUpdate)
	const n = 1000
	seed(b, coll, n)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			_, err := coll.UpdateOne(ctx, bson.M{"_id": fmt.Sprintf("doc-%d", r.Intn(n))}, bson.M{"$inc": bson.M{"n": 1}}, db.Options{})
			if err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func benchmarkAggregate(b *testing.B, coll db.Collection) {
	requireFeature(b, coll, db.FeatureInsert|db.FeatureAggregate)
	seed(b, coll, 1000)
	ctx := context.Background()
	pipeline := []bson.M{
		{"$match": bson.M{"n": bson.M{"$lt": 800}}},
		{"$group": bson.M{"_id": "$group", "total": bson.M{"$sum": "$n"}}},
		{"$sort": bson.D{{Key: "total", Value: -1}}},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := coll.Aggregate(ctx, pipeline, db.Options{}); err != nil {
			b.Fatal(err)
		}
	}
}

// 70% reads, 20% updates, 10% inserts
func benchmarkMixedUsage(b *testing.B, coll db.Collection) {
	requireFeature(b, coll, db.FeatureInsert|db.FeatureFind|db.FeatureUpdate)
	const n = 1000
	seed(b, coll, n)
	ctx := context.Background()
	var inserted atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			id := fmt.Sprintf("doc-%d", r.Intn(n))
			var err error
			switch op := r.Intn(10); {
			case op < 7:
				_, _, err = coll.FindOne(ctx, bson.M{"_id": id}, db.Options{})
			case op < 9:
				_, err = coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"text": "dolor"}}, db.Options{})
			default:
				_, err = coll.InsertOne(ctx, bson.M{"_id": fmt.Sprintf("new-%d", inserted.Add(1))}, db.Options{})
			}
			if err != nil {
				b.Error(err)
				return
			}
		}
	})
}
