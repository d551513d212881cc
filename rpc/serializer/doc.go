// Package serializer converts RPC messages to bytes and back. It defines a
// common interface and three implementations with different trade offs.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format. A flag byte marks the present
//     fields, only those are written. Filters, data and results are already
//     BSON and are copied as they are. Recommended for production use.
//
//   - jsonSerializerImpl: JSON encoding. The BSON payloads are base64 encoded,
//     the envelope stays readable, which helps when debugging with curl.
//
//   - gobSerializerImpl: Go's gob encoding. Works, but produces larger payloads
//     and is slower than both other implementations.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(message)
//	// ... send data ...
//	var received common.Message
//	err = s.Deserialize(receivedData, &received)
package serializer
