// Package rpc exposes document stores over the network. A server hosts one
// store.IStore per shard, clients implement store.IStore by forwarding every
// call, so local and remote stores are interchangeable.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol and the client and server configuration.
//
//   - transport: network abstractions, implemented over HTTP.
//
//   - serializer: Message encodings (Binary, JSON, GOB).
//
//   - client: the remote store.IStore.
//
//   - server: the shard registry and the adapter that maps messages to
//     store calls.
package rpc
