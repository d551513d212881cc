// Package common provides the data structures shared by the RPC client and
// server of dDoc.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. Filters, data,
//     options and results are carried as BSON so that ObjectIDs, dates and
//     integer widths survive the round trip. Errors carry the store.RetCode
//     of the server side failure.
//
//   - MessageType: Enumeration of the store operations. The single document
//     variants (FindOne, UpdateOne, DeleteOne) reuse the multi document types
//     with store.Options.One set.
//
//   - ServerConfig: Shards (shard id -> collection), the database connection
//     shared by all shards, the result cache engine and the http endpoint.
//
//   - ClientConfig: Endpoints, timeouts and retry behavior of clients.
package common
