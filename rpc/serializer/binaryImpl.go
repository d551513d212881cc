package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
//
// Layout: 1 byte MsgType, 1 byte flags, followed by the present fields in
// flag order. Byte and string fields are prefixed by a 4 byte big endian
// length, Code is 8 bytes big endian, Ok is encoded in the flags only.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasFilter  byte = 1 << 0
	hasData    byte = 1 << 1
	hasField   byte = 1 << 2
	hasOptions byte = 1 << 3
	hasResult  byte = 1 << 4
	hasOk      byte = 1 << 5
	hasErr     byte = 1 << 6
	hasCode    byte = 1 << 7
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, 2, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags byte
	putBytes := func(flag byte, v []byte) {
		flags |= flag
		result = binary.BigEndian.AppendUint32(result, uint32(len(v)))
		result = append(result, v...)
	}

	if msg.Filter != nil {
		putBytes(hasFilter, msg.Filter)
	}
	if msg.Data != nil {
		putBytes(hasData, msg.Data)
	}
	if msg.Field != "" {
		putBytes(hasField, []byte(msg.Field))
	}
	if msg.Options != nil {
		putBytes(hasOptions, msg.Options)
	}
	if msg.Result != nil {
		putBytes(hasResult, msg.Result)
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Err != "" {
		putBytes(hasErr, []byte(msg.Err))
	}
	if msg.Code != store.RetCSuccess {
		flags |= hasCode
		result = binary.BigEndian.AppendUint64(result, uint64(msg.Code))
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := data[1]
	pos := 2

	// readBytes reads a length prefixed field. The result is a copy, empty
	// fields decode to a non nil empty slice.
	readBytes := func(name string) ([]byte, error) {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("data too short for %s length", name)
		}
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if n < 0 || pos+n > len(data) {
			return nil, fmt.Errorf("data too short for %s data", name)
		}
		v := make([]byte, n)
		copy(v, data[pos:pos+n])
		pos += n
		return v, nil
	}

	var err error
	if flags&hasFilter != 0 {
		if msg.Filter, err = readBytes("filter"); err != nil {
			return err
		}
	}
	if flags&hasData != 0 {
		if msg.Data, err = readBytes("data"); err != nil {
			return err
		}
	}
	if flags&hasField != 0 {
		field, err := readBytes("field")
		if err != nil {
			return err
		}
		msg.Field = string(field)
	}
	if flags&hasOptions != 0 {
		if msg.Options, err = readBytes("options"); err != nil {
			return err
		}
	}
	if flags&hasResult != 0 {
		if msg.Result, err = readBytes("result"); err != nil {
			return err
		}
	}
	msg.Ok = flags&hasOk != 0
	if flags&hasErr != 0 {
		e, err := readBytes("error")
		if err != nil {
			return err
		}
		msg.Err = string(e)
	}
	if flags&hasCode != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for code")
		}
		msg.Code = store.RetCode(binary.BigEndian.Uint64(data[pos : pos+8]))
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2

	for _, v := range [][]byte{msg.Filter, msg.Data, msg.Options, msg.Result} {
		if v != nil {
			size += 4 + len(v)
		}
	}
	if msg.Field != "" {
		size += 4 + len(msg.Field)
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Code != store.RetCSuccess {
		size += 8
	}

	return size
}
