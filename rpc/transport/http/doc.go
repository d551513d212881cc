// Package http implements the RPC transport over HTTP.
//
// Key Components:
//
//   - httpClientTransport: Implements IRPCClientTransport. Requests are
//     POSTed to <endpoint>/<shardId>. Endpoints are selected round-robin,
//     failed attempts are retried on the next endpoint with exponential
//     backoff until RetryCount attempts were made or the context ends.
//
//   - HttpServerTransport: Implements IRPCServerTransport with a chi router.
//     Besides POST /{shardId} it serves /healthz, /readyz and /metrics, see
//     web/lifecycle. Listen shuts the server down gracefully when its
//     context is cancelled.
//
// Thread Safety:
//
//	The client transport is safe for concurrent use once Connect returned.
//	The round-robin counter is atomic.
package http
