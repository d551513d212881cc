package db

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMongo  Implementation = "mongo"
	ImplMemory Implementation = "memory"
)

// Document is a single record as returned by the engines
type Document = bson.M

// Feature represents engine features as bit flags
type Feature uint64

const (
	FeatureFind         Feature = 1 << iota // Support for Find and FindOne
	FeatureInsert                           // Support for InsertOne and InsertMany
	FeatureUpdate                           // Support for UpdateOne and UpdateMany
	FeatureReplace                          // Support for ReplaceOne
	FeatureDelete                           // Support for DeleteOne and DeleteMany
	FeatureAggregate                        // Support for Aggregate
	FeatureCount                            // Support for CountDocuments
	FeatureDistinct                         // Support for Distinct
	FeatureExtraOptions                     // Engine honours Options.Extra
	FeaturePersistence                      // Data survives a restart of the process
)

func (f Feature) String() string {
	switch f {
	case FeatureFind:
		return "Find"
	case FeatureInsert:
		return "Insert"
	case FeatureUpdate:
		return "Update"
	case FeatureReplace:
		return "Replace"
	case FeatureDelete:
		return "Delete"
	case FeatureAggregate:
		return "Aggregate"
	case FeatureCount:
		return "Count"
	case FeatureDistinct:
		return "Distinct"
	case FeatureExtraOptions:
		return "ExtraOptions"
	case FeaturePersistence:
		return "Persistence"
	default:
		return "Unknown"
	}
}

// Options are the driver level options of a single call. Nil fields are unset.
// Every call ignores the options that do not apply to it.
type Options struct {
	Projection       bson.M // find: fields to include (1) or exclude (0)
	Sort             bson.D // find: ordered sort keys, 1 or -1
	Limit            *int64 // find: maximum number of documents
	Skip             *int64 // find, count: number of documents to skip
	Upsert           *bool  // update, replace: insert when nothing matches
	Ordered          *bool  // insert many: stop at the first failing document (default true)
	BypassValidation *bool  // insert, update, replace: skip schema validation
	Extra            bson.M // engine specific options, passed through untouched
}

type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedID    any // nil if no document was upserted
}

type Info struct {
	Engine            Implementation `json:"engine"`
	Database          string         `json:"database"`
	Collection        string         `json:"collection"`
	Documents         int64          `json:"documents"`
	SizeBytes         int64          `json:"size_bytes"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

var (
	// ErrDuplicateKey is returned by engines without a native error type when
	// a write violates the unique _id constraint.
	ErrDuplicateKey = errors.New("duplicate key error")

	// ErrUnsupported is wrapped by errors about operators, stages or options
	// an engine does not implement.
	ErrUnsupported = errors.New("unsupported")
)

// IsDuplicateKey reports whether err is a unique constraint violation of any engine
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey) || mongo.IsDuplicateKeyError(err)
}

// --------------------------------------------------------------------------
// Collection Interface
// --------------------------------------------------------------------------

// Collection is a handle to a single collection of a document database.
// The methods mirror the single and multi document calls of the MongoDB
// driver one to one. A nil filter matches every document. All implementations
// must be safe for concurrent use.
type Collection interface {

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Find returns all documents matching filter in sort order (natural order
	// without Sort), honouring Projection, Skip and Limit.
	Find(ctx context.Context, filter bson.M, opts Options) ([]Document, error)

	// FindOne returns the first document Find would return. found is false if
	// nothing matched.
	FindOne(ctx context.Context, filter bson.M, opts Options) (doc Document, found bool, err error)

	// Aggregate runs pipeline over the collection and returns the output documents
	Aggregate(ctx context.Context, pipeline []bson.M, opts Options) ([]Document, error)

	// CountDocuments returns the number of documents matching filter
	CountDocuments(ctx context.Context, filter bson.M, opts Options) (int64, error)

	// Distinct returns each distinct value of field among the matching documents.
	// Array values contribute their elements.
	Distinct(ctx context.Context, field string, filter bson.M, opts Options) ([]any, error)

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// InsertOne stores doc, generating an _id if it has none, and returns the _id
	InsertOne(ctx context.Context, doc any, opts Options) (id any, err error)

	// InsertMany stores docs and returns their _ids in input order. With
	// Ordered (the default) it stops at the first failing document and
	// returns the ids inserted so far together with the error.
	InsertMany(ctx context.Context, docs []any, opts Options) (ids []any, err error)

	// UpdateOne applies update to the first matching document
	UpdateOne(ctx context.Context, filter bson.M, update any, opts Options) (UpdateResult, error)

	// UpdateMany applies update to all matching documents
	UpdateMany(ctx context.Context, filter bson.M, update any, opts Options) (UpdateResult, error)

	// ReplaceOne replaces the first matching document entirely, keeping its _id
	ReplaceOne(ctx context.Context, filter bson.M, replacement any, opts Options) (UpdateResult, error)

	// DeleteOne removes the first matching document and returns the number removed
	DeleteOne(ctx context.Context, filter bson.M, opts Options) (int64, error)

	// DeleteMany removes all matching documents and returns the number removed
	DeleteMany(ctx context.Context, filter bson.M, opts Options) (int64, error)

	// --------------------------------------------------------------------------
	// Management
	// --------------------------------------------------------------------------

	// Name returns "<database>.<collection>"
	Name() string

	// Ping checks that the backing database is reachable
	Ping(ctx context.Context) error

	// SupportsFeature checks if the engine supports all given features.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) bool

	// GetInfo returns information about the collection
	GetInfo(ctx context.Context) (Info, error)

	// Close releases the connection. The handle must not be used afterwards.
	Close(ctx context.Context) error
}
