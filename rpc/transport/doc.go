// Package transport defines the interfaces for moving serialized RPC
// messages between clients and servers. Requests are routed by shard id,
// every shard of a server exposes one collection.
//
// Key Components:
//
//   - IRPCClientTransport: sends a request to one of the configured endpoints
//     and returns the raw response.
//
//   - IRPCServerTransport: receives requests and passes them to the registered
//     ServerHandleFunc.
//
// The http subpackage provides the only implementation.
package transport
