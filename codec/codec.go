// Package codec converts Request and Response records to and from their wire bytes.
//
// Two encodings are available. FlatBuffers is the default and is what the existing
// C++ and Rust peers speak. The protobuf wire encoding is offered for peers that
// already carry a protobuf runtime. Both tolerate absent fields (decoded as zero
// values) and trailing zero padding, so a message read into a larger fixed buffer
// still decodes.
package codec

import (
	"strings"

	"github.com/pkg/errors"
)

type CodecType byte

const (
	CodecTypeFlatBuffers CodecType = 0
	CodecTypeProto       CodecType = 1
)

var (
	// ErrMalformed is returned when bytes cannot be interpreted as the requested record.
	ErrMalformed = errors.New("codec: malformed message")
	// ErrUnsupportedValue is returned when Encode or Decode is handed something other
	// than *message.Request or *message.Response.
	ErrUnsupportedValue = errors.New("codec: unsupported value")
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for codecType. strict only affects FlatBuffers,
// which otherwise reads whatever the offsets in the buffer point at.
func GetCodec(codecType CodecType, strict bool) Codec {
	if codecType == CodecTypeProto {
		return &ProtoCodec{}
	}

	return &FlatBufferCodec{Strict: strict}
}

// ParseCodecType maps a config/flag value to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "flatbuffers", "fbs":
		return CodecTypeFlatBuffers, nil
	case "proto", "protobuf":
		return CodecTypeProto, nil
	}
	return 0, errors.Errorf("codec: unknown codec %q", name)
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeFlatBuffers:
		return "flatbuffers"
	case CodecTypeProto:
		return "proto"
	}
	return "unknown"
}
