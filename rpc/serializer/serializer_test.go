package serializer

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// mustRequest builds a request with real BSON payloads
func mustRequest(t testing.TB, typ common.MessageType, filter store.Filter, data any, opts ...store.Option) common.Message {
	t.Helper()
	msg, err := common.NewRequest(typ, filter, data, store.NewOptions(opts...))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return *msg
}

// testMessages creates a set of test messages with different fields filled
func testMessages(t testing.TB) []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Find request
		mustRequest(t, common.MsgTFind, store.Filter{"user": "BraveFox42"}, nil,
			store.WithSort(bson.D{{Key: "timestamp", Value: -1}}), store.WithLimit(500)),

		// Insert request with a sequence of documents
		mustRequest(t, common.MsgTInsert, nil, bson.A{bson.M{"a": 1}, bson.M{"a": 2}}),

		// Distinct request
		func() common.Message {
			m := mustRequest(t, common.MsgTDistinct, nil, nil)
			m.Field = "user"
			return m
		}(),

		// Count response
		*common.NewResponse(common.MsgTCount, int64(42), nil),

		// Error response
		*common.NewErrorResponse(common.MsgTFind, store.NewError(store.RetCValidationError, "limit must not be negative")),
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages(t)

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestPayloadsSurvive checks that the BSON payloads decode to the same values after transport
func TestPayloadsSurvive(t *testing.T) {
	id := primitive.NewObjectID()
	req := mustRequest(t, common.MsgTUpdate, store.Filter{"_id": id}, bson.M{"$set": bson.M{"n": int64(7)}},
		store.WithUpsert(true), store.WithTTL(0), store.WithOne(true))

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			data, err := serializer.Serialize(req)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}
			var got common.Message
			if err := serializer.Deserialize(data, &got); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			filter, err := got.DecodeFilter()
			if err != nil || filter["_id"] != id {
				t.Errorf("expected the object id to survive, got %v (%v)", filter, err)
			}

			update, err := got.DecodeData()
			if err != nil {
				t.Fatalf("failed to decode data: %v", err)
			}
			set, ok := update.(bson.M)["$set"].(bson.M)
			if !ok || set["n"] != int64(7) {
				t.Errorf("unexpected update %v", update)
			}

			opts, err := got.DecodeOptions()
			if err != nil {
				t.Fatalf("failed to decode options: %v", err)
			}
			if opts.Upsert == nil || !*opts.Upsert || !opts.One || opts.TTL == nil || *opts.TTL != 0 {
				t.Errorf("unexpected options %+v", opts)
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for msgType := common.MsgTSuccess; msgType <= common.MsgTInfo; msgType++ {
				msg := common.Message{MsgType: msgType}

				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestErrorCodes checks that error responses keep their return code
func TestErrorCodes(t *testing.T) {
	cases := map[string]struct {
		err  error
		code store.RetCode
	}{
		"validation":  {store.NewError(store.RetCValidationError, "bad"), store.RetCValidationError},
		"unsupported": {store.NewError(store.RetCUnsupportedOperation, "no"), store.RetCUnsupportedOperation},
		"plain":       {errors.New("boom"), store.RetCInternalError},
	}

	serializer := NewBinarySerializer()
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := serializer.Serialize(*common.NewErrorResponse(common.MsgTFind, c.err))
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}
			var got common.Message
			if err := serializer.Deserialize(data, &got); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}
			if store.CodeOf(got.Error()) != c.code {
				t.Errorf("expected code %s, got %v", c.code, got.Error())
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Ok without payload",
			msg:  common.Message{MsgType: common.MsgTFind, Ok: true},
		},
		{
			name: "Empty but present payloads",
			msg: common.Message{
				MsgType: common.MsgTInsert,
				Filter:  []byte{},
				Data:    []byte{},
				Result:  []byte{},
			},
		},
		{
			name: "Code without message",
			msg:  common.Message{MsgType: common.MsgTError, Code: store.RetCConnectionError},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			// the binary format keeps the difference between nil and empty payloads
			if !reflect.DeepEqual(tc.msg, result) {
				t.Errorf("mismatch:\nexpected %+v\ngot      %+v", tc.msg, result)
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1}, // Only message type, no flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0}, // Message type 1, no flags
			expectError: false,
		},
		{
			name:        "Invalid length for filter",
			data:        []byte{3, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Missing code",
			data:        []byte{2, 128, 0, 0, 0}, // Code flag set but only 3 bytes follow
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"binary", "json", "gob"} {
		if _, err := ByName(name); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
	if _, err := ByName("xml"); err == nil {
		t.Errorf("expected an error for an unknown serializer")
	}
	if names := Names(); len(names) != 3 || names[0] != "binary" || names[2] != "json" {
		t.Errorf("unexpected serializer names %v", names)
	}
}
