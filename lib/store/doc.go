// Package store defines the document store adapter: a high-level interface
// for a single collection of a document database, with per-call result
// caching and unified error handling.
//
// Key Components:
//
//   - IStore Interface: find, insert, update, delete, replace, aggregate, count
//     and distinct on one collection. The single document variants (FindOne,
//     UpdateOne, DeleteOne) are the multi document calls with WithOne forced.
//     The caching implementation lives in the cstore package, the rpc client
//     implements the same interface remotely.
//
//   - Options: functional options for the typed keys (sort, limit, skip,
//     projection, upsert, ordered, bypassDocumentValidation), the adapter flags
//     (one, includeId, ttl) and an Extra map for engine specific keys that is
//     passed through unchecked. Options.Validate checks the typed keys.
//
//   - ConnectionConfig: url, database, collection and driver kwargs. Configs
//     from a file are merged with call site values using Merge.
//
//   - Error System: *Error carries a RetCode. Connection problems at
//     construction use RetCConnectionError, malformed arguments
//     RetCValidationError. Errors of the database itself are returned unchanged.
//
// Example:
//
//	s, err := cstore.Open(ctx, store.ConnectionConfig{
//		URL:        "mongodb://localhost:27017",
//		Database:   "streamy",
//		Collection: "posts",
//		Kwargs:     map[string]any{"retryWrites": false},
//	}, maple.NewMapleCache(maple.DefaultOptions()))
//
//	// cached for an hour
//	posts, err := s.Find(ctx, store.Filter{"user": "BraveFox42"}, store.WithSort(bson.D{{Key: "timestamp", Value: -1}}))
//
//	// always live
//	n, err := s.Count(ctx, nil, store.WithTTL(0))
package store
