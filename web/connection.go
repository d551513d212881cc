package web

import (
	"context"

	"github.com/ValentinKolb/dDoc/lib/store"
	"go.mongodb.org/mongo-driver/bson"
)

// DemoCall is one example on the connection page
type DemoCall struct {
	Key   string
	Group string
	Code  string
	Run   func(ctx context.Context, s store.IStore) (any, error)
}

// demoGroups lists the tabs of the connection page in order
var demoGroups = []string{"Find", "Insert", "Update", "Delete", "Extra"}

// demoCalls are the examples of the connection page, keyed by DemoCall.Key
var demoCalls = []DemoCall{
	{
		Key:   "find-1",
		Group: "Find",
		Code:  `s.Find(ctx, store.Filter{"a": bson.M{"$gt": 0}}, store.WithSort(bson.D{{Key: "a", Value: -1}}))`,
		Run: func(ctx context.Context, s store.IStore) (any, error) {
			return s.Find(ctx, store.Filter{"a": bson.M{"$gt": 0}}, store.WithSort(bson.D{{Key: "a", Value: -1}}))
		},
	},
	{
		Key:   "find-2",
		Group: "Find",
		Code:  `s.Find(ctx, nil, store.WithSort(bson.D{{Key: "b", Value: -1}}), store.WithLimit(3), store.WithTTL(0))`,
		Run: func(ctx context.Context, s store.IStore) (any, error) {
			return s.Find(ctx, nil, store.WithSort(bson.D{{Key: "b", Value: -1}}), store.WithLimit(3), store.WithTTL(0))
		},
	},
	{
		Key:   "find-3",
		Group: "Find",
		Code: `s.FindOne(ctx, store.Filter{"z": 8}, store.WithID(true))
s.Find(ctx, store.Filter{"z": 8}, store.WithOne(true), store.WithID(true)) // same operation`,
		Run: func(ctx context.Context, s store.IStore) (any, error) {
			return s.FindOne(ctx, store.Filter{"z": 8}, store.WithID(true))
		},
	},
	{
		Key:   "insert-1",
		Group: "Insert",
		Code:  `s.Insert(ctx, bson.M{"a": 55, "b": 6})`,
		Run: func(ctx context.Context, s store.IStore) (any, error) {
			return s.Insert(ctx, bson.M{"a": 55, "b": 6})
		},
	},
	{
		Key:   "insert-2",
		Group: "Insert",
		Code:  `s.Insert(ctx, []bson.M{{"a": 77, "b": 100}, {"d": 4}, {"a": 0}})`,
		Run: func(ctx context.Context, s store.IStore) (any, error) {
			return s.Insert(ctx, []bson.M{{"a": 77, "b": 100}, {"d": 4}, {"a": 0}})
		},
	},
	{
		Key:   "update-1",
		Group: "Update",
		Code:  `s.Update(ctx, store.Filter{"a": bson.M{"$gte": 2}}, bson.M{"$set": bson.M{"u": 1}})`,
		Run: func(ctx context.Context, s store.IStore) (any, error) {
			return s.Update(ctx, store.Filter{"a": bson.M{"$gte": 2}}, bson.M{"$set": bson.M{"u": 1}})
		},
	},
	{
		Key:   "update-2",
		Group: "Update",
		Code:  `s.Update(ctx, store.Filter{"h": 2}, bson.M{"$push": bson.M{"l": 7}}, store.WithUpsert(true))`,
		Run: func(ctx context.Context, s store.IStore) (any, error) {
			return s.Update(ctx, store.Filter{"h": 2}, bson.M{"$push": bson.M{"l": 7}}, store.WithUpsert(true))
		},
	},
	{
		Key:   "update-3",
		Group: "Update",
		Code: `s.UpdateOne(ctx, store.Filter{"a": bson.M{"$lt": 100}}, bson.M{"$set": bson.M{"s": 5}})
s.Update(ctx, store.Filter{"a": bson.M{"$lt": 100}}, bson.M{"$set": bson.M{"s": 5}}, store.WithOne(true)) // same`,
		Run: func(ctx context.Context, s store.IStore) (any, error) {
			return s.UpdateOne(ctx, store.Filter{"a": bson.M{"$lt": 100}}, bson.M{"$set": bson.M{"s": 5}})
		},
	},
	{
		Key:   "delete-1",
		Group: "Delete",
		Code:  `s.Delete(ctx, store.Filter{"d": 4})`,
		Run: func(ctx context.Context, s store.IStore) (any, error) {
			return s.Delete(ctx, store.Filter{"d": 4})
		},
	},
	{
		Key:   "delete-2",
		Group: "Delete",
		Code: `s.DeleteOne(ctx, store.Filter{"a": 77})
s.Delete(ctx, store.Filter{"a": 77}, store.WithOne(true)) // same operation`,
		Run: func(ctx context.Context, s store.IStore) (any, error) {
			return s.DeleteOne(ctx, store.Filter{"a": 77})
		},
	},
	{
		Key:   "replace",
		Group: "Extra",
		Code:  `s.Replace(ctx, store.Filter{"a": 77}, bson.M{"n": 6})`,
		Run: func(ctx context.Context, s store.IStore) (any, error) {
			return s.Replace(ctx, store.Filter{"a": 77}, bson.M{"n": 6})
		},
	},
	{
		Key:   "aggregate",
		Group: "Extra",
		Code: `s.Aggregate(ctx, store.Pipeline{
	{"$match": bson.M{"b": bson.M{"$ne": nil}}},
	{"$project": bson.M{"mul": bson.M{"$multiply": bson.A{10, "$b"}}}},
	{"$limit": 2},
})`,
		Run: func(ctx context.Context, s store.IStore) (any, error) {
			return s.Aggregate(ctx, store.Pipeline{
				{"$match": bson.M{"b": bson.M{"$ne": nil}}},
				{"$project": bson.M{"mul": bson.M{"$multiply": bson.A{10, "$b"}}}},
				{"$limit": 2},
			})
		},
	},
	{
		Key:   "count",
		Group: "Extra",
		Code:  `s.Count(ctx, store.Filter{"a": bson.M{"$ne": 3}})`,
		Run: func(ctx context.Context, s store.IStore) (any, error) {
			n, err := s.Count(ctx, store.Filter{"a": bson.M{"$ne": 3}})
			return bson.M{"documents": n}, err
		},
	},
	{
		Key:   "distinct",
		Group: "Extra",
		Code:  `s.Distinct(ctx, "b", nil)`,
		Run: func(ctx context.Context, s store.IStore) (any, error) {
			return s.Distinct(ctx, "b", nil)
		},
	},
}

// findDemoCall returns the demo call with key
func findDemoCall(key string) (DemoCall, bool) {
	for _, call := range demoCalls {
		if call.Key == key {
			return call, true
		}
	}
	return DemoCall{}, false
}

// demoCallsByGroup groups the demo calls for the page
func demoCallsByGroup() map[string][]DemoCall {
	groups := make(map[string][]DemoCall, len(demoGroups))
	for _, call := range demoCalls {
		groups[call.Group] = append(groups[call.Group], call)
	}
	return groups
}
