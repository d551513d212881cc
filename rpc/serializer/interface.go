package serializer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ValentinKolb/dDoc/rpc/common"
)

// IRPCSerializer is the interface for all Message Serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into a Message
	// It takes a byte array and a pointer to a Message as parameters
	// It returns an error if any
	Deserialize(b []byte, msg *common.Message) error
}

// constructors of the serializers selectable by name
var serializers = map[string]func() IRPCSerializer{
	"binary": NewBinarySerializer,
	"json":   NewJSONSerializer,
	"gob":    NewGOBSerializer,
}

// Names returns the names accepted by ByName in sorted order
func Names() []string {
	names := make([]string, 0, len(serializers))
	for name := range serializers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByName returns the serializer called name
func ByName(name string) (IRPCSerializer, error) {
	newSerializer, ok := serializers[name]
	if !ok {
		return nil, fmt.Errorf("invalid serializer: %s (expected one of: %s)", name, strings.Join(Names(), ", "))
	}
	return newSerializer(), nil
}
