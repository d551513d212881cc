// Package client implements store.IStore on top of the RPC transport. Every
// call is forwarded to the shard of a remote server, which runs it against
// its cached store. Options, filters and documents are sent as BSON.
//
// Errors reported by the server keep their store.RetCode, an unreachable
// server yields store.RetCConnectionError. Caching happens on the server:
// WithTTL is forwarded and applies to the server's result cache.
//
// Failed requests are retried RetryCount times. A request that reached the
// server but whose response was lost is sent again, so a retried Insert may
// insert its documents twice.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"localhost:8080"},
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	}
//
//	posts, _ := client.NewRPCStore(100, config, http.NewHttpClientTransport(), serializer.NewBinarySerializer())
//	_, err := posts.Insert(ctx, bson.M{"user": "BraveFox42", "post": "hello"})
//	wall, err := posts.Find(ctx, nil, store.WithTTL(10*time.Second))
//
// Thread Safety:
//
//	All client implementations are thread-safe and can be used concurrently from
//	multiple goroutines without additional synchronization.
package client
