package serializer

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dDoc/rpc/common"
)

// NewJSONSerializer creates a serializer writing messages as json. The BSON
// payloads of a message are base64 strings in the output.
func NewJSONSerializer() IRPCSerializer {
	return jsonSerializerImpl{}
}

// NewGOBSerializer creates a serializer using Go's gob format
func NewGOBSerializer() IRPCSerializer {
	return gobSerializerImpl{}
}

type jsonSerializerImpl struct{}

type gobSerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("json: failed to encode %s message: %w", msg.MsgType, err)
	}
	return b, nil
}

func (jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	if err := json.Unmarshal(b, msg); err != nil {
		return fmt.Errorf("json: failed to decode message: %w", err)
	}
	return nil
}

func (gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("gob: failed to encode %s message: %w", msg.MsgType, err)
	}
	return buf.Bytes(), nil
}

func (gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(msg); err != nil {
		return fmt.Errorf("gob: failed to decode message: %w", err)
	}
	return nil
}
