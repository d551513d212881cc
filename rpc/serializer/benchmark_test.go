package serializer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"go.mongodb.org/mongo-driver/bson"
)

// benchmarkMessages returns a set of messages for targeted benchmarking
func benchmarkMessages(b *testing.B) map[string]common.Message {
	posts := make([]store.Document, 500)
	for i := range posts {
		posts[i] = store.Document{"user": fmt.Sprintf("user-%d", i%20), "text": strings.Repeat("x", 140), "ref": i}
	}

	return map[string]common.Message{
		"Empty": {
			MsgType: common.MsgTSuccess,
		},
		"FindOne": mustRequest(b, common.MsgTFind, store.Filter{"_id": "doc-1"}, nil, store.WithOne(true)),
		"FindSorted": mustRequest(b, common.MsgTFind, store.Filter{"user": "BraveFox42"}, nil,
			store.WithSort(bson.D{{Key: "timestamp", Value: -1}}), store.WithLimit(500), store.WithTTL(0)),
		"InsertPost": mustRequest(b, common.MsgTInsert, nil, bson.M{"user": "BraveFox42", "text": strings.Repeat("x", 140)}),
		"Aggregate": mustRequest(b, common.MsgTAggregate, nil, store.Pipeline{
			{"$addFields": bson.M{"len": bson.M{"$strLenCP": "$text"}}},
			{"$group": bson.M{"_id": nil, "total": bson.M{"$sum": "$len"}}},
		}),
		"Wall":  *common.NewResponse(common.MsgTFind, posts, nil),
		"Count": *common.NewResponse(common.MsgTCount, int64(500), nil),
		"ErrorMessage": *common.NewErrorResponse(common.MsgTUpdate,
			store.NewError(store.RetCValidationError, "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.")),
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various message types
func BenchmarkSerialize(b *testing.B) {
	messages := benchmarkMessages(b)

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					if _, err := serializer.Serialize(msg); err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various message types
func BenchmarkDeserialize(b *testing.B) {
	messages := benchmarkMessages(b)
	serializedData := make(map[string]map[string][]byte)

	// Pre-serialize all messages with all serializers
	for name, factory := range testSerializers {
		serializer := factory()
		serializedData[name] = make(map[string][]byte)

		for msgName, msg := range messages {
			data, err := serializer.Serialize(msg)
			if err != nil {
				b.Fatalf("Failed to serialize %s with %s: %v", msgName, name, err)
			}
			serializedData[name][msgName] = data
		}
	}

	for name, factory := range testSerializers {
		for msgName := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				data := serializedData[name][msgName]
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					var msg common.Message
					if err := serializer.Deserialize(data, &msg); err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkSize measures and reports the serialized size for each message type
func BenchmarkSize(b *testing.B) {
	messages := benchmarkMessages(b)

	for name, factory := range testSerializers {
		serializer := factory()

		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				data, err := serializer.Serialize(msg)
				if err != nil {
					b.Fatalf("Failed to serialize: %v", err)
				}

				// Report the size as a custom metric
				b.ReportMetric(float64(len(data)), "bytes")

				for i := 0; i < b.N; i++ {
					_ = data
				}
			})
		}
	}
}
