package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/logging"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var logger = logging.GetLogger("mongo")

type mongoCollection struct {
	client   *mongo.Client
	coll     *mongo.Collection
	database string
	name     string
}

// --------------------------------------------------------------------------
// Constructor
// --------------------------------------------------------------------------

// ConnectionURI appends kwargs as connection string options to uri.
// Values already present in uri are overwritten by kwargs.
func ConnectionURI(uri string, kwargs map[string]any) (string, error) {
	if len(kwargs) == 0 {
		return uri, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("malformed connection url: %w", err)
	}

	q := u.Query()
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, fmt.Sprint(kwargs[k]))
	}
	u.RawQuery = q.Encode()

	// mongodb URIs need a path separator before the options
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// Connect opens a client for uri, verifies the connection with a ping and
// returns a handle to database.collection.
func Connect(ctx context.Context, uri, database, collection string, kwargs map[string]any) (db.Collection, error) {
	full, err := ConnectionURI(uri, kwargs)
	if err != nil {
		return nil, err
	}

	clientOpts := options.Client().ApplyURI(full).SetAppName("ddoc")
	if err := clientOpts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection options: %w", err)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("server not reachable: %w", err)
	}

	logger.Infof("connected to %s.%s", database, collection)

	return NewFromClient(client, database, collection), nil
}

// NewFromClient wraps an already connected client. Close disconnects the client.
func NewFromClient(client *mongo.Client, database, collection string) db.Collection {
	return &mongoCollection{
		client:   client,
		coll:     client.Database(database).Collection(collection),
		database: database,
		name:     collection,
	}
}

// the driver rejects nil filters
func orAll(filter bson.M) bson.M {
	if filter == nil {
		return bson.M{}
	}
	return filter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.Collection)
// --------------------------------------------------------------------------

func (m *mongoCollection) Find(ctx context.Context, filter bson.M, o db.Options) ([]db.Document, error) {
	opts, err := findOptions(o)
	if err != nil {
		return nil, err
	}

	cursor, err := m.coll.Find(ctx, orAll(filter), opts)
	if err != nil {
		return nil, err
	}

	docs := make([]db.Document, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (m *mongoCollection) FindOne(ctx context.Context, filter bson.M, o db.Options) (db.Document, bool, error) {
	opts, err := findOneOptions(o)
	if err != nil {
		return nil, false, err
	}

	var doc db.Document
	err = m.coll.FindOne(ctx, orAll(filter), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (m *mongoCollection) Aggregate(ctx context.Context, pipeline []bson.M, o db.Options) ([]db.Document, error) {
	opts, err := aggregateOptions(o)
	if err != nil {
		return nil, err
	}
	if pipeline == nil {
		pipeline = []bson.M{}
	}

	cursor, err := m.coll.Aggregate(ctx, pipeline, opts)
	if err != nil {
		return nil, err
	}

	docs := make([]db.Document, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (m *mongoCollection) CountDocuments(ctx context.Context, filter bson.M, o db.Options) (int64, error) {
	opts, err := countOptions(o)
	if err != nil {
		return 0, err
	}
	return m.coll.CountDocuments(ctx, orAll(filter), opts)
}

func (m *mongoCollection) Distinct(ctx context.Context, field string, filter bson.M, o db.Options) ([]any, error) {
	opts, err := distinctOptions(o)
	if err != nil {
		return nil, err
	}

	values, err := m.coll.Distinct(ctx, field, orAll(filter), opts)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = documentsAsM(v)
	}
	return out, nil
}

// documentsAsM converts the bson.D documents the driver decodes into untyped
// values to bson.M, the document type of all other results
func documentsAsM(v any) any {
	switch t := v.(type) {
	case bson.D:
		m := make(bson.M, len(t))
		for _, e := range t {
			m[e.Key] = documentsAsM(e.Value)
		}
		return m
	case bson.A:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = documentsAsM(item)
		}
		return out
	}
	return v
}

func (m *mongoCollection) InsertOne(ctx context.Context, doc any, o db.Options) (any, error) {
	opts, err := insertOneOptions(o)
	if err != nil {
		return nil, err
	}

	res, err := m.coll.InsertOne(ctx, doc, opts)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (m *mongoCollection) InsertMany(ctx context.Context, docs []any, o db.Options) ([]any, error) {
	opts, err := insertManyOptions(o)
	if err != nil {
		return nil, err
	}

	res, err := m.coll.InsertMany(ctx, docs, opts)
	if err == nil {
		return res.InsertedIDs, nil
	}

	// the driver reports the ids of all documents, keep only the stored ones
	var bwe mongo.BulkWriteException
	if res == nil || !errors.As(err, &bwe) {
		return nil, err
	}
	failed := make(map[int]bool, len(bwe.WriteErrors))
	first := len(res.InsertedIDs)
	for _, we := range bwe.WriteErrors {
		failed[we.Index] = true
		if we.Index < first {
			first = we.Index
		}
	}

	ordered := o.Ordered == nil || *o.Ordered
	if ordered {
		return res.InsertedIDs[:first], err
	}

	ids := make([]any, 0, len(res.InsertedIDs))
	for i, id := range res.InsertedIDs {
		if !failed[i] {
			ids = append(ids, id)
		}
	}
	return ids, err
}

func (m *mongoCollection) UpdateOne(ctx context.Context, filter bson.M, update any, o db.Options) (db.UpdateResult, error) {
	opts, err := updateOptions(o)
	if err != nil {
		return db.UpdateResult{}, err
	}
	return toUpdateResult(m.coll.UpdateOne(ctx, orAll(filter), update, opts))
}

func (m *mongoCollection) UpdateMany(ctx context.Context, filter bson.M, update any, o db.Options) (db.UpdateResult, error) {
	opts, err := updateOptions(o)
	if err != nil {
		return db.UpdateResult{}, err
	}
	return toUpdateResult(m.coll.UpdateMany(ctx, orAll(filter), update, opts))
}

func (m *mongoCollection) ReplaceOne(ctx context.Context, filter bson.M, replacement any, o db.Options) (db.UpdateResult, error) {
	opts, err := replaceOptions(o)
	if err != nil {
		return db.UpdateResult{}, err
	}
	return toUpdateResult(m.coll.ReplaceOne(ctx, orAll(filter), replacement, opts))
}

func toUpdateResult(res *mongo.UpdateResult, err error) (db.UpdateResult, error) {
	if err != nil {
		return db.UpdateResult{}, err
	}
	return db.UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedID:    res.UpsertedID,
	}, nil
}

func (m *mongoCollection) DeleteOne(ctx context.Context, filter bson.M, o db.Options) (int64, error) {
	opts, err := deleteOptions(o)
	if err != nil {
		return 0, err
	}
	res, err := m.coll.DeleteOne(ctx, orAll(filter), opts)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *mongoCollection) DeleteMany(ctx context.Context, filter bson.M, o db.Options) (int64, error) {
	opts, err := deleteOptions(o)
	if err != nil {
		return 0, err
	}
	res, err := m.coll.DeleteMany(ctx, orAll(filter), opts)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// --------------------------------------------------------------------------
// Management
// --------------------------------------------------------------------------

func (m *mongoCollection) Name() string {
	return m.database + "." + m.name
}

func (m *mongoCollection) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *mongoCollection) SupportsFeature(feature db.Feature) bool {
	supported := db.FeatureFind |
		db.FeatureInsert |
		db.FeatureUpdate |
		db.FeatureReplace |
		db.FeatureDelete |
		db.FeatureAggregate |
		db.FeatureCount |
		db.FeatureDistinct |
		db.FeatureExtraOptions |
		db.FeaturePersistence
	return supported&feature == feature
}

// GetInfo reports the estimated document count and, if the server allows
// collStats, the data size of the collection.
func (m *mongoCollection) GetInfo(ctx context.Context) (db.Info, error) {
	count, err := m.coll.EstimatedDocumentCount(ctx)
	if err != nil {
		return db.Info{}, err
	}

	var size int64
	var stats bson.M
	err = m.client.Database(m.database).RunCommand(ctx, bson.D{{Key: "collStats", Value: m.name}}).Decode(&stats)
	if err == nil {
		if s, ok := toInt64(stats["size"]); ok {
			size = s
		}
	} else {
		logger.Debugf("collStats for %s not available: %v", m.Name(), err)
	}

	return db.Info{
		Engine:     db.ImplMongo,
		Database:   m.database,
		Collection: m.name,
		Documents:  count,
		SizeBytes:  size,
		SupportedFeatures: []db.Feature{
			db.FeatureFind, db.FeatureInsert, db.FeatureUpdate, db.FeatureReplace,
			db.FeatureDelete, db.FeatureAggregate, db.FeatureCount, db.FeatureDistinct,
			db.FeatureExtraOptions, db.FeaturePersistence,
		},
		Metadata: &struct {
			SessionsInProgress int `json:"sessions_in_progress"`
		}{
			SessionsInProgress: m.client.NumberSessionsInProgress(),
		},
	}, nil
}

func (m *mongoCollection) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
