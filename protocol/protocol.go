// Package protocol splits a TCP byte stream into messages.
//
// RawFramer is the default and matches the deployed peers: one Read is one
// message, one Write is one message. TCP does not preserve write boundaries, so
// this only holds while each side keeps a single message in flight and messages
// stay under the receive buffer size.
//
// LengthFramer prefixes each message with its length and reads exactly that many
// bytes, which removes the boundary assumption at the cost of wire compatibility
// with peers that do not frame.
//
// Length frame format:
//
//	0         4
//	┌─────────┬───────────────┐
//	│ bodyLen │    body ...    │
//	│ uint32  │ bodyLen bytes  │
//	└─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	HeaderSize = 4 // bodyLen, big-endian
)

// ErrFrameTooLarge is returned when a length header announces more bytes than the receive buffer holds.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds receive buffer")

// Framer reads and writes whole messages.
//
// ReadMessage reads into buf and returns the message bytes, which alias buf and are
// only valid until the next call. WriteMessage sends b as one message.
type Framer interface {
	ReadMessage(r io.Reader, buf []byte) ([]byte, error)
	WriteMessage(w io.Writer, b []byte) error
}

// ParseFramer maps a config/flag value ("raw" or "length") to a Framer.
func ParseFramer(name string) (Framer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "raw":
		return RawFramer{}, nil
	case "length":
		return LengthFramer{}, nil
	}
	return nil, errors.Errorf("protocol: unknown framing %q", name)
}

// RawFramer performs a single bounded Read per message and a single Write per reply.
type RawFramer struct{}

func (RawFramer) ReadMessage(r io.Reader, buf []byte) ([]byte, error) {
	n, err := r.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (RawFramer) WriteMessage(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}

// LengthFramer prefixes every message with a 4-byte big-endian body length.
type LengthFramer struct{}

// ReadMessage uses io.ReadFull for both header and body so short reads never split a message.
func (LengthFramer) ReadMessage(r io.Reader, buf []byte) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	bodyLen := binary.BigEndian.Uint32(header[:])
	if uint64(bodyLen) > uint64(len(buf)) {
		return nil, errors.Wrapf(ErrFrameTooLarge, "body %d bytes, buffer %d", bodyLen, len(buf))
	}

	body := buf[:bodyLen]
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteMessage sends header and body in one Write so a frame is never interleaved
// with another writer's bytes at the syscall level.
func (LengthFramer) WriteMessage(w io.Writer, b []byte) error {
	frame := make([]byte, HeaderSize+len(b))
	binary.BigEndian.PutUint32(frame[:HeaderSize], uint32(len(b)))
	copy(frame[HeaderSize:], b)

	_, err := w.Write(frame)
	return err
}
