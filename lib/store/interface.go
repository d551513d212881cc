package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/cache"
	"github.com/ValentinKolb/dDoc/lib/db"
	"go.mongodb.org/mongo-driver/bson"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Document is a schemaless record of a collection
type Document = bson.M

// Filter selects documents. A nil or empty filter matches every document.
type Filter = bson.M

// Pipeline is an ordered list of aggregation stages
type Pipeline = []bson.M

// InsertResult holds the generated identifiers of an insert. InsertedID is set
// for a single document, InsertedIDs (in input order) for a sequence.
type InsertResult struct {
	InsertedID  any   `bson:"inserted_id,omitempty" json:"inserted_id,omitempty"`
	InsertedIDs []any `bson:"inserted_ids,omitempty" json:"inserted_ids,omitempty"`
}

// UpdateResult is the outcome of an update or replace. UpsertedID is nil if
// no document was inserted.
type UpdateResult struct {
	MatchedCount  int64 `bson:"matched_count" json:"matched_count"`
	ModifiedCount int64 `bson:"modified_count" json:"modified_count"`
	UpsertedID    any   `bson:"upserted_id,omitempty" json:"upserted_id,omitempty"`
}

// DeleteResult is the outcome of a delete
type DeleteResult struct {
	DeletedCount int64 `bson:"deleted_count" json:"deleted_count"`
}

// Info describes the collection behind a store and its result cache
type Info struct {
	Collection     db.Info     `json:"collection"`
	Cache          *cache.Info `json:"cache,omitempty"` // nil if results are not cached
	CacheNamespace string      `json:"cache_namespace,omitempty"`
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the document store adapter for a single collection.
//
// Every operation takes a context first and a list of options last. Read
// operations (Find, FindOne, Aggregate, Count, Distinct) cache their results
// for DefaultReadTTL unless WithTTL says otherwise, writes are not cached
// unless WithTTL asks for it. Writes never invalidate cached reads: a read
// cached before a write returns the old result until its TTL expires.
//
// Argument errors are returned as *Error with RetCValidationError. Errors of
// the underlying database (e.g. a duplicate _id) are returned unchanged and
// leave the store usable.
type IStore interface {
	// Find returns the documents matching filter. The _id field is excluded
	// unless WithID is given or the projection includes it explicitly. With
	// WithOne the result holds at most one document.
	Find(ctx context.Context, filter Filter, opts ...Option) ([]Document, error)

	// FindOne is Find with WithOne forced. A nil document means nothing matched.
	FindOne(ctx context.Context, filter Filter, opts ...Option) (Document, error)

	// Insert stores a single document (bson.M, map[string]any, bson.D) or a
	// sequence of documents ([]bson.M, []map[string]any, []bson.D, []any).
	Insert(ctx context.Context, data any, opts ...Option) (InsertResult, error)

	// Update applies update to every matching document, or to the first one
	// with WithOne.
	Update(ctx context.Context, filter Filter, update any, opts ...Option) (UpdateResult, error)

	// UpdateOne is Update with WithOne forced
	UpdateOne(ctx context.Context, filter Filter, update any, opts ...Option) (UpdateResult, error)

	// Delete removes every matching document, or the first one with WithOne
	Delete(ctx context.Context, filter Filter, opts ...Option) (DeleteResult, error)

	// DeleteOne is Delete with WithOne forced
	DeleteOne(ctx context.Context, filter Filter, opts ...Option) (DeleteResult, error)

	// Replace replaces the first matching document as a whole
	Replace(ctx context.Context, filter Filter, replacement any, opts ...Option) (UpdateResult, error)

	// Aggregate runs pipeline and returns its output unchanged. A nil or
	// empty pipeline returns all documents.
	Aggregate(ctx context.Context, pipeline Pipeline, opts ...Option) ([]Document, error)

	// Count returns the number of matching documents
	Count(ctx context.Context, filter Filter, opts ...Option) (int64, error)

	// Distinct returns every distinct value of field among the matching documents once
	Distinct(ctx context.Context, field string, filter Filter, opts ...Option) ([]any, error)

	// GetInfo returns metadata about the collection and the cache.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetInfo(ctx context.Context) (Info, error)

	// Close releases the connection. The store must not be used afterwards.
	Close(ctx context.Context) error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and optionally the error that caused it.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("StoreError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new Error with the given code and message caused by err.
func WrapError(code RetCode, err error, format string, args ...any) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
		Err:  err,
	}
}

// CodeOf returns the code of the first *Error in err's chain, RetCSuccess for
// nil and RetCInternalError for any other error.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// IsConnectionError reports whether err was caused by an unusable connection
func IsConnectionError(err error) bool {
	return err != nil && CodeOf(err) == RetCConnectionError
}

// IsValidationError reports whether err was caused by malformed arguments
func IsValidationError(err error) bool {
	return err != nil && CodeOf(err) == RetCValidationError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCValidationError                     // 3: Malformed arguments or a violated constraint.
	RetCConnectionError                     // 4: The database could not be reached or is misconfigured.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCValidationError:
		return "ValidationError"
	case RetCConnectionError:
		return "ConnectionError"
	default:
		return "Unknown"
	}
}
