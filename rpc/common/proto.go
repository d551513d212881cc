package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/store"
	"go.mongodb.org/mongo-driver/bson"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message. Documents, options
// and results travel as BSON so that types like ObjectID or dates survive the
// round trip.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	Filter  []byte `json:"filter,omitempty"`  // BSON document, used for: Find, Update, Delete, Replace, Count, Distinct
	Data    []byte `json:"data,omitempty"`    // BSON envelope {v: ...}, used for: Insert, Update, Replace, Aggregate
	Field   string `json:"field,omitempty"`   // Used for: Distinct
	Options []byte `json:"options,omitempty"` // BSON encoded store.Options

	// Response only fields
	Result []byte        `json:"result,omitempty"` // BSON, layout depends on the message type
	Ok     bool          `json:"ok,omitempty"`     // Used for: Find (false if nothing was found)
	Err    string        `json:"err,omitempty"`    // Empty if no error, otherwise contains the error message
	Code   store.RetCode `json:"code,omitempty"`   // Return code of the error
}

// envelope wraps values that are not documents themselves
type envelope struct {
	V any `bson:"v"`
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewRequest creates a request of type t. filter and data may be nil.
func NewRequest(t MessageType, filter store.Filter, data any, opts store.Options) (*Message, error) {
	msg := &Message{MsgType: t}

	if filter != nil {
		b, err := bson.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to encode filter: %w", err)
		}
		msg.Filter = b
	}

	if data != nil {
		b, err := bson.Marshal(envelope{V: data})
		if err != nil {
			return nil, fmt.Errorf("failed to encode data: %w", err)
		}
		msg.Data = b
	}

	b, err := bson.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode options: %w", err)
	}
	msg.Options = b

	return msg, nil
}

// NewResponse creates a response of type t carrying result (may be nil) or err.
// Result structs are encoded as documents, everything else inside an envelope.
func NewResponse(t MessageType, result any, err error) *Message {
	if err != nil {
		return NewErrorResponse(t, err)
	}

	msg := &Message{MsgType: t, Ok: true}
	if result == nil {
		return msg
	}

	var b []byte
	switch r := result.(type) {
	case store.InsertResult, store.UpdateResult, store.DeleteResult:
		b, err = bson.Marshal(r)
	case store.Info:
		b, err = json.Marshal(r) // metadata of engines is not guaranteed to be BSON encodable
	default:
		b, err = bson.Marshal(envelope{V: r})
	}
	if err != nil {
		return NewErrorResponse(t, fmt.Errorf("failed to encode result: %w", err))
	}
	msg.Result = b
	return msg
}

// NewErrorResponse creates a response of type t for err. The code is taken
// from err if it is a *store.Error, otherwise it is derived from the error
// class (duplicate key -> validation, unsupported -> unsupported operation).
func NewErrorResponse(t MessageType, err error) *Message {
	msg := &Message{MsgType: t, Code: store.RetCInternalError, Err: err.Error()}

	var storeErr *store.Error
	switch {
	case errors.As(err, &storeErr):
		msg.Code = storeErr.Code
		msg.Err = storeErr.Msg
		if storeErr.Err != nil {
			msg.Err += ": " + storeErr.Err.Error()
		}
	case db.IsDuplicateKey(err):
		msg.Code = store.RetCValidationError
	case errors.Is(err, db.ErrUnsupported):
		msg.Code = store.RetCUnsupportedOperation
	}
	return msg
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Error returns the error carried by a response or nil
func (m *Message) Error() error {
	if m.MsgType != MsgTError && m.Err == "" {
		return nil
	}
	code := m.Code
	if code == store.RetCSuccess {
		code = store.RetCInternalError
	}
	return store.NewError(code, m.Err)
}

// DecodeFilter returns the filter of a request (nil if absent)
func (m *Message) DecodeFilter() (store.Filter, error) {
	if len(m.Filter) == 0 {
		return nil, nil
	}
	var f store.Filter
	if err := bson.Unmarshal(m.Filter, &f); err != nil {
		return nil, store.WrapError(store.RetCValidationError, err, "malformed filter")
	}
	return f, nil
}

// DecodeData returns the data of a request (nil if absent). Documents decode
// to bson.M, sequences to bson.A.
func (m *Message) DecodeData() (any, error) {
	if len(m.Data) == 0 {
		return nil, nil
	}
	v, err := unwrap(m.Data)
	if err != nil {
		return nil, store.WrapError(store.RetCValidationError, err, "malformed data")
	}
	return v, nil
}

// DecodePipeline returns the data of a request as aggregation pipeline
func (m *Message) DecodePipeline() (store.Pipeline, error) {
	v, err := m.DecodeData()
	if err != nil || v == nil {
		return nil, err
	}
	stages, ok := v.(bson.A)
	if !ok {
		return nil, store.NewError(store.RetCValidationError, fmt.Sprintf("pipeline must be a sequence of stages, got %T", v))
	}
	return ToDocuments(stages)
}

// DecodeOptions returns the options of a request
func (m *Message) DecodeOptions() (store.Options, error) {
	var o store.Options
	if len(m.Options) == 0 {
		return o, nil
	}
	if err := bson.Unmarshal(m.Options, &o); err != nil {
		return o, store.WrapError(store.RetCValidationError, err, "malformed options")
	}
	return o, nil
}

// DecodeResult decodes a result document into out (*store.InsertResult, ...)
func (m *Message) DecodeResult(out any) error {
	if len(m.Result) == 0 {
		return fmt.Errorf("response of type %s carries no result", m.MsgType)
	}
	if info, ok := out.(*store.Info); ok {
		return json.Unmarshal(m.Result, info)
	}
	return bson.Unmarshal(m.Result, out)
}

// DecodeValue returns an enveloped result (nil if absent)
func (m *Message) DecodeValue() (any, error) {
	if len(m.Result) == 0 {
		return nil, nil
	}
	return unwrap(m.Result)
}

// ToDocuments converts a decoded sequence to documents
func ToDocuments(a bson.A) ([]store.Document, error) {
	docs := make([]store.Document, 0, len(a))
	for i, v := range a {
		doc, ok := v.(bson.M)
		if !ok {
			return nil, store.NewError(store.RetCValidationError, fmt.Sprintf("element %d is not a document but %T", i, v))
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func unwrap(b []byte) (any, error) {
	var m bson.M
	if err := bson.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m["v"], nil
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:   "success",
	MsgTError:     "error",
	MsgTFind:      "find",
	MsgTInsert:    "insert",
	MsgTUpdate:    "update",
	MsgTDelete:    "delete",
	MsgTReplace:   "replace",
	MsgTAggregate: "aggregate",
	MsgTCount:     "count",
	MsgTDistinct:  "distinct",
	MsgTInfo:      "info",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for k, name := range messageTypeNames {
		if name == s {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IStore operations (single document variants set store.Options.One)

	MsgTFind      // Find documents, result: {v: [docs]}
	MsgTInsert    // Insert documents, result: store.InsertResult
	MsgTUpdate    // Update documents, result: store.UpdateResult
	MsgTDelete    // Delete documents, result: store.DeleteResult
	MsgTReplace   // Replace a document, result: store.UpdateResult
	MsgTAggregate // Run a pipeline, result: {v: [docs]}
	MsgTCount     // Count documents, result: {v: n}
	MsgTDistinct  // Distinct values, result: {v: [values]}
	MsgTInfo      // Collection and cache info, result: JSON store.Info
)
