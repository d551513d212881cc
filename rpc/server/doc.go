// Package server implements the RPC server of dDoc. A server hosts any
// number of shards, each shard is a store.IStore on one collection. All
// shards share the database connection settings and the result cache engine
// of the server.
//
// Key Components:
//
//   - IRPCServerAdapter: maps a decoded request to a store call and encodes the
//     result or the error (with its store.RetCode) into the response.
//
//   - RPCServer: the shard registry (shard id -> store) on top of an
//     xsync.MapOf, wired to a transport and a serializer. Serve opens the
//     configured stores with cstore.Open and blocks until its context ends.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, Collection: "posts"},
//	    {ShardID: 200, Collection: "connection"},
//	  },
//	  Connection: store.ConnectionConfig{URL: "mongodb://localhost:27017", Database: "streamy"},
//	  Cache:      cstore.CacheMaple,
//	  Endpoint:   "0.0.0.0:8080",
//	  LogLevel:   "info",
//	}
//
//	s := server.NewRPCServer(config, http.NewHttpServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(ctx); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Error codes: errors of the store keep their code, duplicate key errors of
// the database are reported as RetCValidationError, operators or stages the
// engine does not implement as RetCUnsupportedOperation, everything else as
// RetCInternalError.
//
// Thread Safety:
//
//	Requests are handled concurrently, shards may be added while serving.
//	Serve must be called only once.
package server
