// Package codec serializes the values carried by requests and responses.
//
// Every value sitting in an interface-typed position (the top level, the elements of
// message.Call.Args, message.Return.Value, any nested field of type any) is written as an
// envelope naming its concrete type:
//
//	{"type": "peer-rpc/message.Call", "value": {...}}
//
// On decode the name is resolved through a TypeRegistry, so the receiver gets back the same
// concrete type the sender had. Names the registry cannot resolve fail with UnknownTypeError.
package codec

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
	Type() CodecType // 0=JSON, 1=Binary
}

// GetCodec returns the codec for codecType resolving type names through types.
// A nil registry means DefaultTypes.
func GetCodec(codecType CodecType, types *TypeRegistry) Codec {
	if types == nil {
		types = DefaultTypes
	}
	if codecType == CodecTypeJSON {
		return &JSONCodec{Types: types}
	}

	return &BinaryCodec{Types: types}
}
