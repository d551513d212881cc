package cstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cache"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/memory"
	"github.com/ValentinKolb/dDoc/lib/db/engines/mongo"
	"github.com/ValentinKolb/dDoc/lib/logging"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"go.mongodb.org/mongo-driver/bson"
)

var logger = logging.GetLogger("store")

type storeImpl struct {
	coll db.Collection
	memo *cache.Memoizer
}

// NewStore creates a store on top of coll whose results are cached by memo.
// A nil memo disables caching.
func NewStore(coll db.Collection, memo *cache.Memoizer) store.IStore {
	return &storeImpl{coll: coll, memo: memo}
}

// Open connects to the collection described by conf and returns a store caching
// in engine (nil = no caching). mongodb:// and mongodb+srv:// urls use the
// MongoDB driver with conf.Kwargs as connection string options, memory:// urls
// a collection in process memory shared by database and collection name.
//
// All failures are returned as *store.Error with store.RetCConnectionError.
func Open(ctx context.Context, conf store.ConnectionConfig, engine cache.Engine) (store.IStore, error) {
	scheme, err := conf.Scheme()
	if err != nil {
		return nil, err
	}

	var coll db.Collection
	switch scheme {
	case store.SchemeMemory:
		coll = memory.Open(conf.Database, conf.Collection)
	default:
		coll, err = mongo.Connect(ctx, conf.URL, conf.Database, conf.Collection, conf.Kwargs)
		if err != nil {
			return nil, store.WrapError(store.RetCConnectionError, err, "failed to connect to %s", conf.Redacted())
		}
	}

	var memo *cache.Memoizer
	if engine != nil {
		memo = cache.NewMemoizer(Namespace(conf), engine)
	}

	logger.Infow("opened store", "url", conf.Redacted(), "collection", coll.Name(), "cached", memo != nil)
	return NewStore(coll, memo), nil
}

// Namespace returns the cache namespace of the collection described by conf
func Namespace(conf store.ConnectionConfig) string {
	return fmt.Sprintf("ddoc:%s:%s.%s", conf.Redacted(), conf.Database, conf.Collection)
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// call is the identity of a memoized call, TTL excluded
type call struct {
	Filter   store.Filter
	Data     any
	Field    string
	Pipeline store.Pipeline
	Options  store.Options
}

// doc returns the call as document for the cache key. Nil and empty
// filters or pipelines are equal and both left out.
func (c call) doc() bson.D {
	d := bson.D{}
	if len(c.Filter) > 0 {
		d = append(d, bson.E{Key: "filter", Value: c.Filter})
	}
	if c.Data != nil {
		d = append(d, bson.E{Key: "data", Value: c.Data})
	}
	if c.Field != "" {
		d = append(d, bson.E{Key: "field", Value: c.Field})
	}
	if len(c.Pipeline) > 0 {
		d = append(d, bson.E{Key: "pipeline", Value: c.Pipeline})
	}
	return append(d, bson.E{Key: "options", Value: optionsDoc(c.Options)})
}

// optionsDoc lists the set options in a fixed order, TTL excluded
func optionsDoc(o store.Options) bson.D {
	d := bson.D{}
	add := func(key string, v any) { d = append(d, bson.E{Key: key, Value: v}) }
	if len(o.Sort) > 0 {
		add("sort", o.Sort)
	}
	if o.Limit != nil {
		add("limit", *o.Limit)
	}
	if o.Skip != nil {
		add("skip", *o.Skip)
	}
	if len(o.Projection) > 0 {
		add("projection", o.Projection)
	}
	if o.Upsert != nil {
		add("upsert", *o.Upsert)
	}
	if o.Ordered != nil {
		add("ordered", *o.Ordered)
	}
	if o.BypassValidation != nil {
		add("bypassDocumentValidation", *o.BypassValidation)
	}
	if o.One {
		add("one", true)
	}
	if o.IncludeID {
		add("includeId", true)
	}
	if len(o.Extra) > 0 {
		add("extra", o.Extra)
	}
	return d
}

func (s *storeImpl) prepare(opts []store.Option) (store.Options, error) {
	o := store.NewOptions(opts...)
	return o, o.Validate()
}

func (s *storeImpl) require(feature db.Feature, op string) error {
	if !s.coll.SupportsFeature(feature) {
		return store.NewError(store.RetCUnsupportedOperation, fmt.Sprintf("%s is not supported by %s", op, s.coll.Name()))
	}
	return nil
}

// run memoizes fn under op and records duration and failures
func run[T any](ctx context.Context, s *storeImpl, op string, args call, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := cache.Memoize(ctx, s.memo, op, args.doc(), ttl, fn)
	metrics.GetOrCreateHistogram(fmt.Sprintf(`ddoc_store_duration_seconds{op=%q}`, op)).UpdateDuration(start)
	if err != nil {
		metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_store_errors_total{op=%q}`, op)).Inc()
		logger.Debugf("%s on %s failed: %v", op, s.coll.Name(), err)
	}
	return v, err
}

// dbOptions converts store options to engine options
func dbOptions(o store.Options) db.Options {
	return db.Options{
		Projection:       o.Projection,
		Sort:             o.Sort,
		Limit:            o.Limit,
		Skip:             o.Skip,
		Upsert:           o.Upsert,
		Ordered:          o.Ordered,
		BypassValidation: o.BypassValidation,
		Extra:            o.Extra,
	}
}

// projection merges the caller's projection with the exclusion of _id.
// An explicit _id entry of the caller wins.
func projection(o store.Options) bson.M {
	if o.IncludeID && o.Projection == nil {
		return nil
	}
	p := bson.M{}
	if !o.IncludeID {
		p["_id"] = 0
	}
	for k, v := range o.Projection {
		p[k] = v
	}
	return p
}

// documents splits insert data into documents. many reports whether data was a sequence.
func documents(data any) (docs []any, many bool, err error) {
	switch d := data.(type) {
	case bson.M, bson.D:
		return []any{d}, false, nil
	case map[string]any:
		return []any{d}, false, nil
	case []bson.M:
		for _, doc := range d {
			docs = append(docs, doc)
		}
	case []map[string]any:
		for _, doc := range d {
			docs = append(docs, doc)
		}
	case []bson.D:
		for _, doc := range d {
			docs = append(docs, doc)
		}
	case []any:
		for i, doc := range d {
			switch doc.(type) {
			case bson.M, bson.D, map[string]any:
				docs = append(docs, doc)
			default:
				return nil, true, store.NewError(store.RetCValidationError, fmt.Sprintf("element %d is not a document but %T", i, doc))
			}
		}
	case bson.A:
		return documents([]any(d))
	default:
		return nil, false, store.NewError(store.RetCValidationError, fmt.Sprintf("insert needs a document or a sequence of documents, got %T", data))
	}

	if len(docs) == 0 {
		return nil, true, store.NewError(store.RetCValidationError, "insert needs at least one document")
	}
	return docs, true, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Find(ctx context.Context, filter store.Filter, opts ...store.Option) ([]store.Document, error) {
	o, err := s.prepare(opts)
	if err != nil {
		return nil, err
	}
	if err := s.require(db.FeatureFind, "find"); err != nil {
		return nil, err
	}

	args := call{Filter: filter, Options: o.Identity()}
	return run(ctx, s, "find", args, o.TTLOr(store.DefaultReadTTL), func(ctx context.Context) ([]store.Document, error) {
		dbo := dbOptions(o)
		dbo.Projection = projection(o)

		if o.One {
			doc, found, err := s.coll.FindOne(ctx, filter, dbo)
			if err != nil || !found {
				return []store.Document{}, err
			}
			return []store.Document{doc}, nil
		}

		docs, err := s.coll.Find(ctx, filter, dbo)
		if docs == nil && err == nil {
			docs = []store.Document{}
		}
		return docs, err
	})
}

func (s *storeImpl) FindOne(ctx context.Context, filter store.Filter, opts ...store.Option) (store.Document, error) {
	docs, err := s.Find(ctx, filter, append(opts, store.WithOne(true))...)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (s *storeImpl) Insert(ctx context.Context, data any, opts ...store.Option) (store.InsertResult, error) {
	o, err := s.prepare(opts)
	if err != nil {
		return store.InsertResult{}, err
	}
	docs, many, err := documents(data)
	if err != nil {
		return store.InsertResult{}, err
	}
	if err := s.require(db.FeatureInsert, "insert"); err != nil {
		return store.InsertResult{}, err
	}

	args := call{Data: data, Options: o.Identity()}
	return run(ctx, s, "insert", args, o.TTLOr(store.DefaultWriteTTL), func(ctx context.Context) (store.InsertResult, error) {
		if !many {
			id, err := s.coll.InsertOne(ctx, docs[0], dbOptions(o))
			if err != nil {
				return store.InsertResult{}, err
			}
			return store.InsertResult{InsertedID: id}, nil
		}

		ids, err := s.coll.InsertMany(ctx, docs, dbOptions(o))
		if err != nil {
			return store.InsertResult{}, err
		}
		return store.InsertResult{InsertedIDs: ids}, nil
	})
}

func (s *storeImpl) Update(ctx context.Context, filter store.Filter, update any, opts ...store.Option) (store.UpdateResult, error) {
	o, err := s.prepare(opts)
	if err != nil {
		return store.UpdateResult{}, err
	}
	if update == nil {
		return store.UpdateResult{}, store.NewError(store.RetCValidationError, "update must not be empty")
	}
	if err := s.require(db.FeatureUpdate, "update"); err != nil {
		return store.UpdateResult{}, err
	}

	args := call{Filter: filter, Data: update, Options: o.Identity()}
	return run(ctx, s, "update", args, o.TTLOr(store.DefaultWriteTTL), func(ctx context.Context) (store.UpdateResult, error) {
		var (
			res db.UpdateResult
			err error
		)
		if o.One {
			res, err = s.coll.UpdateOne(ctx, filter, update, dbOptions(o))
		} else {
			res, err = s.coll.UpdateMany(ctx, filter, update, dbOptions(o))
		}
		return updateResult(res), err
	})
}

func (s *storeImpl) UpdateOne(ctx context.Context, filter store.Filter, update any, opts ...store.Option) (store.UpdateResult, error) {
	return s.Update(ctx, filter, update, append(opts, store.WithOne(true))...)
}

func (s *storeImpl) Delete(ctx context.Context, filter store.Filter, opts ...store.Option) (store.DeleteResult, error) {
	o, err := s.prepare(opts)
	if err != nil {
		return store.DeleteResult{}, err
	}
	if err := s.require(db.FeatureDelete, "delete"); err != nil {
		return store.DeleteResult{}, err
	}

	args := call{Filter: filter, Options: o.Identity()}
	return run(ctx, s, "delete", args, o.TTLOr(store.DefaultWriteTTL), func(ctx context.Context) (store.DeleteResult, error) {
		var (
			n   int64
			err error
		)
		if o.One {
			n, err = s.coll.DeleteOne(ctx, filter, dbOptions(o))
		} else {
			n, err = s.coll.DeleteMany(ctx, filter, dbOptions(o))
		}
		return store.DeleteResult{DeletedCount: n}, err
	})
}

func (s *storeImpl) DeleteOne(ctx context.Context, filter store.Filter, opts ...store.Option) (store.DeleteResult, error) {
	return s.Delete(ctx, filter, append(opts, store.WithOne(true))...)
}

func (s *storeImpl) Replace(ctx context.Context, filter store.Filter, replacement any, opts ...store.Option) (store.UpdateResult, error) {
	o, err := s.prepare(opts)
	if err != nil {
		return store.UpdateResult{}, err
	}
	switch replacement.(type) {
	case bson.M, bson.D, map[string]any:
	default:
		return store.UpdateResult{}, store.NewError(store.RetCValidationError, fmt.Sprintf("replacement must be a document, got %T", replacement))
	}
	if err := s.require(db.FeatureReplace, "replace"); err != nil {
		return store.UpdateResult{}, err
	}

	args := call{Filter: filter, Data: replacement, Options: o.Identity()}
	return run(ctx, s, "replace", args, o.TTLOr(store.DefaultWriteTTL), func(ctx context.Context) (store.UpdateResult, error) {
		res, err := s.coll.ReplaceOne(ctx, filter, replacement, dbOptions(o))
		return updateResult(res), err
	})
}

func (s *storeImpl) Aggregate(ctx context.Context, pipeline store.Pipeline, opts ...store.Option) ([]store.Document, error) {
	o, err := s.prepare(opts)
	if err != nil {
		return nil, err
	}
	if err := s.require(db.FeatureAggregate, "aggregate"); err != nil {
		return nil, err
	}

	args := call{Pipeline: pipeline, Options: o.Identity()}
	return run(ctx, s, "aggregate", args, o.TTLOr(store.DefaultReadTTL), func(ctx context.Context) ([]store.Document, error) {
		docs, err := s.coll.Aggregate(ctx, pipeline, dbOptions(o))
		if docs == nil && err == nil {
			docs = []store.Document{}
		}
		return docs, err
	})
}

func (s *storeImpl) Count(ctx context.Context, filter store.Filter, opts ...store.Option) (int64, error) {
	o, err := s.prepare(opts)
	if err != nil {
		return 0, err
	}
	if err := s.require(db.FeatureCount, "count"); err != nil {
		return 0, err
	}

	args := call{Filter: filter, Options: o.Identity()}
	return run(ctx, s, "count", args, o.TTLOr(store.DefaultReadTTL), func(ctx context.Context) (int64, error) {
		return s.coll.CountDocuments(ctx, filter, dbOptions(o))
	})
}

func (s *storeImpl) Distinct(ctx context.Context, field string, filter store.Filter, opts ...store.Option) ([]any, error) {
	o, err := s.prepare(opts)
	if err != nil {
		return nil, err
	}
	if field == "" {
		return nil, store.NewError(store.RetCValidationError, "distinct needs a field name")
	}
	if err := s.require(db.FeatureDistinct, "distinct"); err != nil {
		return nil, err
	}

	args := call{Filter: filter, Field: field, Options: o.Identity()}
	return run(ctx, s, "distinct", args, o.TTLOr(store.DefaultReadTTL), func(ctx context.Context) ([]any, error) {
		values, err := s.coll.Distinct(ctx, field, filter, dbOptions(o))
		if values == nil && err == nil {
			values = []any{}
		}
		return values, err
	})
}

func (s *storeImpl) GetInfo(ctx context.Context) (store.Info, error) {
	dbInfo, err := s.coll.GetInfo(ctx)
	if err != nil {
		return store.Info{}, err
	}
	info := store.Info{Collection: dbInfo}

	if engine := s.memo.Engine(); engine != nil {
		cacheInfo, err := engine.GetInfo(ctx)
		if err != nil {
			logger.Warnf("failed to read cache info: %v", err)
		} else {
			info.Cache = &cacheInfo
			info.CacheNamespace = s.memo.Namespace()
		}
	}
	return info, nil
}

func (s *storeImpl) Close(ctx context.Context) error {
	return s.coll.Close(ctx)
}

func updateResult(res db.UpdateResult) store.UpdateResult {
	return store.UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedID:    res.UpsertedID,
	}
}
