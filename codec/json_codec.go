package codec

import (
	"encoding/json"
	"reflect"
)

// JSONCodec writes the value as a single JSON envelope.
// Human-readable and easy to debug, at the cost of size and speed.
type JSONCodec struct {
	Types *TypeRegistry
}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	w, err := toWire(reflect.ValueOf(&v).Elem())
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (c *JSONCodec) Decode(data []byte) (any, error) {
	v, err := fromWire(data, anyType, c.types())
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

func (c *JSONCodec) types() *TypeRegistry {
	if c.Types == nil {
		return DefaultTypes
	}
	return c.Types
}
