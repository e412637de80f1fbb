package codec

import (
	"ackrpc/message"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the protobuf rendition:
//
//	message Request  { uint64 id = 1; }
//	message Response { uint64 id = 1; string message = 2; bool success = 3; }
const (
	fieldID      protowire.Number = 1
	fieldMessage protowire.Number = 2
	fieldSuccess protowire.Number = 3
)

// ProtoCodec encodes records in protobuf wire format without generated code.
// Every field is always written so that an all-default Request is never zero bytes
// long (a zero-length write would put nothing on the stream).
type ProtoCodec struct{}

func (c *ProtoCodec) Encode(v any) ([]byte, error) {
	var b []byte
	switch msg := v.(type) {
	case *message.Request:
		b = protowire.AppendTag(b, fieldID, protowire.VarintType)
		b = protowire.AppendVarint(b, msg.ID)
	case *message.Response:
		b = protowire.AppendTag(b, fieldID, protowire.VarintType)
		b = protowire.AppendVarint(b, msg.ID)
		b = protowire.AppendTag(b, fieldMessage, protowire.BytesType)
		b = protowire.AppendString(b, msg.Message)
		b = protowire.AppendTag(b, fieldSuccess, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(msg.Success))
	default:
		return nil, errors.Wrapf(ErrUnsupportedValue, "proto encode %T", v)
	}
	return b, nil
}

func (c *ProtoCodec) Decode(data []byte, v any) error {
	switch msg := v.(type) {
	case *message.Request:
		*msg = message.Request{}
		return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) int {
			if num == fieldID && typ == protowire.VarintType {
				id, n := protowire.ConsumeVarint(b)
				if n >= 0 {
					msg.ID = id
				}
				return n
			}
			return protowire.ConsumeFieldValue(num, typ, b)
		})
	case *message.Response:
		*msg = message.Response{}
		return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) int {
			switch {
			case num == fieldID && typ == protowire.VarintType:
				id, n := protowire.ConsumeVarint(b)
				if n >= 0 {
					msg.ID = id
				}
				return n
			case num == fieldMessage && typ == protowire.BytesType:
				text, n := protowire.ConsumeBytes(b)
				if n >= 0 {
					msg.Message = string(text)
				}
				return n
			case num == fieldSuccess && typ == protowire.VarintType:
				x, n := protowire.ConsumeVarint(b)
				if n >= 0 {
					msg.Success = protowire.DecodeBool(x)
				}
				return n
			}
			return protowire.ConsumeFieldValue(num, typ, b)
		})
	}
	return errors.Wrapf(ErrUnsupportedValue, "proto decode %T", v)
}

func (c *ProtoCodec) Type() CodecType {
	return CodecTypeProto
}

// consumeFields walks the tag/value pairs in data. A zero byte in tag position
// (field number 0 is never valid) marks the start of buffer padding and ends the walk.
func consumeFields(data []byte, field func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(data) > 0 {
		if data[0] == 0 {
			return nil
		}
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrapf(ErrMalformed, "proto tag: %v", protowire.ParseError(n))
		}
		data = data[n:]

		m := field(num, typ, data)
		if m < 0 {
			return errors.Wrapf(ErrMalformed, "proto field %d: %v", num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}
