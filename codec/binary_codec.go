package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"reflect"
)

// BinaryCodec frames the top-level envelope in binary and keeps JSON for the value:
//
//	[2 bytes type name length][type name][4 bytes value length][value]
//
// A zero type name length encodes nil.
type BinaryCodec struct {
	Types *TypeRegistry
}

var errShortBuffer = errors.New("BinaryCodec: short buffer")

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	if v == nil {
		return []byte{0, 0, 0, 0, 0, 0}, nil
	}
	rv := reflect.ValueOf(v)
	typeName := TypeName(rv.Type())
	if len(typeName) > 0xFFFF {
		return nil, errors.New("BinaryCodec: type name too long")
	}
	w, err := toWire(rv)
	if err != nil {
		return nil, err
	}
	value, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}

	total := 2 + len(typeName) + 4 + len(value)
	buf := make([]byte, total)
	offset := 0

	// Type name length -- 2 bytes
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(typeName)))
	offset += 2

	// Type name -- n bytes
	copy(buf[offset:offset+len(typeName)], typeName)
	offset += len(typeName)

	// Value length -- 4 bytes
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(value)))
	offset += 4

	// Value -- n bytes
	copy(buf[offset:], value)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte) (any, error) {
	offset := 0
	if len(data) < 2 {
		return nil, errShortBuffer
	}

	// Read type name
	nameLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if len(data) < offset+nameLen+4 {
		return nil, errShortBuffer
	}
	typeName := string(data[offset : offset+nameLen])
	offset += nameLen

	// Read value
	valueLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if len(data) < offset+valueLen {
		return nil, errShortBuffer
	}
	if nameLen == 0 {
		return nil, nil
	}

	types := c.Types
	if types == nil {
		types = DefaultTypes
	}
	t, err := types.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	v, err := fromWire(data[offset:offset+valueLen], t, types)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
