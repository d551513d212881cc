// Package db defines the Collection interface dDoc uses to talk to a document
// database, together with the option and result types shared by all engines.
//
// Engines:
//
//   - engines/mongo: a MongoDB collection accessed through the official driver
//     (go.mongodb.org/mongo-driver). Options.Extra is mapped to driver options.
//   - engines/memory: an in-process collection that evaluates the common
//     query, update, projection and aggregation operators itself. It backs the
//     demo app and the tests and needs no server.
//
// The testing subpackage contains a conformance suite every engine runs, so
// both engines answer the same calls with the same documents.
//
// Feature support can be queried with Collection.SupportsFeature, e.g.
//
//	if coll.SupportsFeature(db.FeatureAggregate | db.FeatureDistinct) { ... }
package db
