package codec

import (
	"ackrpc/codec/fbs"
	"ackrpc/message"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/pkg/errors"
)

// FlatBufferCodec encodes records as FlatBuffers tables (see fbs/message.fbs).
//
// Without Strict, Decode performs no schema verification: garbage input yields
// whatever field values the offsets lead to. Reads that would run off the end of
// the buffer are reported as ErrMalformed rather than crashing the caller.
type FlatBufferCodec struct {
	Strict bool
}

func (c *FlatBufferCodec) Encode(v any) ([]byte, error) {
	b := flatbuffers.NewBuilder(64)
	switch msg := v.(type) {
	case *message.Request:
		fbs.RequestStart(b)
		fbs.RequestAddId(b, msg.ID)
		b.Finish(fbs.RequestEnd(b))
	case *message.Response:
		// Strings must be created before the table is started
		text := b.CreateString(msg.Message)
		fbs.ResponseStart(b)
		fbs.ResponseAddId(b, msg.ID)
		fbs.ResponseAddMessage(b, text)
		fbs.ResponseAddSuccess(b, msg.Success)
		b.Finish(fbs.ResponseEnd(b))
	default:
		return nil, errors.Wrapf(ErrUnsupportedValue, "flatbuffers encode %T", v)
	}
	return b.FinishedBytes(), nil
}

func (c *FlatBufferCodec) Decode(data []byte, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrMalformed, "flatbuffers decode: %v", r)
		}
	}()

	switch msg := v.(type) {
	case *message.Request:
		if c.Strict {
			if verr := fbs.VerifyRequest(data); verr != nil {
				return errors.Wrap(ErrMalformed, verr.Error())
			}
		}
		msg.ID = fbs.GetRootAsRequest(data, 0).Id()
	case *message.Response:
		if c.Strict {
			if verr := fbs.VerifyResponse(data); verr != nil {
				return errors.Wrap(ErrMalformed, verr.Error())
			}
		}
		r := fbs.GetRootAsResponse(data, 0)
		msg.ID = r.Id()
		msg.Message = string(r.Message())
		msg.Success = r.Success()
	default:
		return errors.Wrapf(ErrUnsupportedValue, "flatbuffers decode %T", v)
	}
	return nil
}

func (c *FlatBufferCodec) Type() CodecType {
	return CodecTypeFlatBuffers
}
