// Package client is a synchronous client for the ack server: write one
// Request, read one Response, repeat. One call is in flight per Client.
package client

import (
	"context"
	"net"
	"sync"
	"time"

	"ackrpc/codec"
	"ackrpc/loadbalance"
	"ackrpc/message"
	"ackrpc/protocol"

	"github.com/pkg/errors"
)

// ErrIDMismatch is returned when the server answers with a different identifier
// than the one sent, which means the stream lost message alignment.
var ErrIDMismatch = errors.New("client: response id does not match request")

type Options struct {
	Codec       codec.Codec     // default FlatBuffers
	Framer      protocol.Framer // default raw
	BufferSize  int             // default 512
	DialTimeout time.Duration   // default 5s

	// Balancer picks the instance in DialService; default random.
	Balancer loadbalance.Balancer
}

func (o *Options) withDefaults() {
	if o.Codec == nil {
		o.Codec = codec.GetCodec(codec.CodecTypeFlatBuffers, false)
	}
	if o.Framer == nil {
		o.Framer = protocol.RawFramer{}
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 512
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
}

type Client struct {
	conn   net.Conn
	codec  codec.Codec
	framer protocol.Framer

	mu  sync.Mutex // serializes Call; guards buf
	buf []byte
}

// Dial connects to addr over TCP.
func Dial(addr string, opts Options) (*Client, error) {
	opts.withDefaults()
	conn, err := net.DialTimeout("tcp", addr, opts.DialTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return NewClient(conn, opts), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, opts Options) *Client {
	opts.withDefaults()
	return &Client{
		conn:   conn,
		codec:  opts.Codec,
		framer: opts.Framer,
		buf:    make([]byte, opts.BufferSize),
	}
}

// Call sends Request{ID: id} and waits for its Response. A deadline on ctx
// bounds the whole exchange.
func (c *Client) Call(ctx context.Context, id uint64) (*message.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline() // zero time clears any previous deadline
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	body, err := c.codec.Encode(&message.Request{ID: id})
	if err != nil {
		return nil, err
	}
	if err := c.framer.WriteMessage(c.conn, body); err != nil {
		return nil, errors.Wrap(err, "write request")
	}

	data, err := c.framer.ReadMessage(c.conn, c.buf)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	resp := &message.Response{}
	if err := c.codec.Decode(data, resp); err != nil {
		return nil, err
	}
	if resp.ID != id {
		return resp, errors.Wrapf(ErrIDMismatch, "sent %d, got %d", id, resp.ID)
	}
	return resp, nil
}

func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Client) Close() error {
	return c.conn.Close()
}
