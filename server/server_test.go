package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ackrpc/client"
	"ackrpc/codec"
	"ackrpc/config"
	"ackrpc/message"
	"ackrpc/metrics"
	"ackrpc/protocol"
	"ackrpc/registry"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t testing.TB, opts Options) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	svr := NewServer(opts)
	go svr.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return svr, ln.Addr().String()
}

func dial(t testing.TB, addr string, opts client.Options) *client.Client {
	t.Helper()
	cli, err := client.Dial(addr, opts)
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	return cli
}

func callCtx(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestServerAcknowledgesRequest(t *testing.T) {
	_, addr := startServer(t, Options{})
	cli := dial(t, addr, client.Options{})

	resp, err := cli.Call(callCtx(t), 42)
	require.NoError(t, err)
	assert.Equal(t, message.Response{ID: 42, Message: "response message", Success: true}, *resp)
}

func TestSequentialRequestsOnOneConnection(t *testing.T) {
	svr, addr := startServer(t, Options{})
	cli := dial(t, addr, client.Options{})
	ctx := callCtx(t)

	const n = 50
	for i := uint64(0); i < n; i++ {
		id := i*7919 + 1
		resp, err := cli.Call(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, resp.ID)
		assert.True(t, resp.Success)
	}
	assert.Equal(t, float64(n), testutil.ToFloat64(svr.Metrics().Requests))
	assert.Equal(t, 1.0, testutil.ToFloat64(svr.Metrics().ConnectionsAccepted))
}

func TestCodecAndFramingMatrix(t *testing.T) {
	codecs := []codec.Codec{
		codec.GetCodec(codec.CodecTypeFlatBuffers, false),
		codec.GetCodec(codec.CodecTypeFlatBuffers, true),
		codec.GetCodec(codec.CodecTypeProto, false),
	}
	framers := []protocol.Framer{protocol.RawFramer{}, protocol.LengthFramer{}}

	for _, c := range codecs {
		for _, f := range framers {
			_, addr := startServer(t, Options{Codec: c, Framer: f})
			cli := dial(t, addr, client.Options{Codec: c, Framer: f})

			for _, id := range []uint64{0, 1, ^uint64(0)} {
				resp, err := cli.Call(callCtx(t), id)
				require.NoError(t, err, "%s/%T id=%d", c.Type(), f, id)
				assert.Equal(t, id, resp.ID)
				assert.Equal(t, message.AckText, resp.Message)
			}
		}
	}
}

// With length framing several requests may share one TCP segment.
func TestLengthFramingPipelinedRequests(t *testing.T) {
	c := codec.GetCodec(codec.CodecTypeFlatBuffers, true)
	f := protocol.LengthFramer{}
	_, addr := startServer(t, Options{Codec: c, Framer: f})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	var batch bytes.Buffer
	ids := []uint64{10, 20, 30, 40, 50}
	for _, id := range ids {
		body, err := c.Encode(&message.Request{ID: id})
		require.NoError(t, err)
		require.NoError(t, f.WriteMessage(&batch, body))
	}
	_, err = conn.Write(batch.Bytes())
	require.NoError(t, err)

	buf := make([]byte, 512)
	for _, id := range ids {
		data, err := f.ReadMessage(conn, buf)
		require.NoError(t, err)
		var resp message.Response
		require.NoError(t, c.Decode(data, &resp))
		assert.Equal(t, id, resp.ID)
	}
}

func TestPeerResetOnlyEndsThatConnection(t *testing.T) {
	svr, addr := startServer(t, Options{})
	ctx := callCtx(t)

	survivor := dial(t, addr, client.Options{})
	_, err := survivor.Call(ctx, 1)
	require.NoError(t, err)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	victim := client.NewClient(conn, client.Options{})
	_, err = victim.Call(ctx, 2)
	require.NoError(t, err)

	// Linger 0 turns Close into a TCP reset.
	require.NoError(t, conn.(*net.TCPConn).SetLinger(0))
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(svr.Metrics().ConnectionErrors.WithLabelValues(metrics.ReasonRead)) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	for id := uint64(100); id < 110; id++ {
		resp, err := survivor.Call(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, resp.ID)
	}
}

func TestConcurrentConnections(t *testing.T) {
	_, addr := startServer(t, Options{MaxConnections: 64})

	var wg sync.WaitGroup
	for c := 0; c < 16; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			cli, err := client.Dial(addr, client.Options{})
			if !assert.NoError(t, err) {
				return
			}
			defer cli.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for i := 0; i < 20; i++ {
				id := uint64(c*1000 + i)
				resp, err := cli.Call(ctx, id)
				if assert.NoError(t, err) {
					assert.Equal(t, id, resp.ID)
				}
			}
		}(c)
	}
	wg.Wait()
}

var errInjected = errors.New("injected accept failure")

// flakyListener fails the first `failures` Accept calls.
type flakyListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, errInjected
	}
	return l.Listener.Accept()
}

func TestAcceptErrorDoesNotStopListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	fl := &flakyListener{Listener: ln}
	fl.failures.Store(5)

	// Fewer slots than failures: a slot leaked on the error path would deadlock the loop.
	svr := NewServer(Options{MaxConnections: 2})
	go svr.Serve(fl)

	cli := dial(t, ln.Addr().String(), client.Options{})
	resp, err := cli.Call(callCtx(t), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), resp.ID)
	assert.Equal(t, 5.0, testutil.ToFloat64(svr.Metrics().AcceptErrors))
}

func TestBindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	err = NewServer(Options{}).ListenAndServe(taken.Addr().String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind")
}

func TestCloseStopsServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	svr := NewServer(Options{})
	done := make(chan error, 1)
	go func() { done <- svr.Serve(ln) }()

	require.Eventually(t, func() bool { return svr.Addr() != nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, svr.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestCloseWithAllSlotsHeld(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	svr := NewServer(Options{MaxConnections: 1})
	done := make(chan error, 1)
	go func() { done <- svr.Serve(ln) }()

	// The only slot goes to a peer that stays connected and idle.
	idle := dial(t, ln.Addr().String(), client.Options{})
	_, err = idle.Call(callCtx(t), 1)
	require.NoError(t, err)

	require.NoError(t, svr.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close while at max connections")
	}
}

func TestCloseBeforeServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	svr := NewServer(Options{MaxConnections: 1})
	require.NoError(t, svr.Close())
	require.NoError(t, svr.Serve(ln))

	_, err = ln.Accept()
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestPeerHangupIsNotAnError(t *testing.T) {
	svr, addr := startServer(t, Options{})
	m := svr.Metrics()

	cli, err := client.Dial(addr, client.Options{})
	require.NoError(t, err)
	_, err = cli.Call(callCtx(t), 5)
	require.NoError(t, err)
	require.NoError(t, cli.Close())

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ConnectionsAccepted) == 1 && testutil.ToFloat64(m.ConnectionsActive) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionErrors.WithLabelValues(metrics.ReasonRead)))
}

func TestMaxConnectionsHoldsBackExtraPeers(t *testing.T) {
	c := codec.GetCodec(codec.CodecTypeFlatBuffers, false)
	_, addr := startServer(t, Options{MaxConnections: 1, Codec: c})

	first, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	firstCli := client.NewClient(first, client.Options{Codec: c})
	_, err = firstCli.Call(callCtx(t), 1)
	require.NoError(t, err)

	// The second peer completes the TCP handshake via the backlog but is not served yet.
	second, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer second.Close()
	body, err := c.Encode(&message.Request{ID: 2})
	require.NoError(t, err)
	_, err = second.Write(body)
	require.NoError(t, err)

	buf := make([]byte, 512)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err = second.Read(buf)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())

	// Freeing the slot lets the pending request through.
	require.NoError(t, first.Close())
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := second.Read(buf)
	require.NoError(t, err)

	var resp message.Response
	require.NoError(t, c.Decode(buf[:n], &resp))
	assert.Equal(t, uint64(2), resp.ID)
}

func TestStrictDecodeClosesWithoutResponse(t *testing.T) {
	svr, addr := startServer(t, Options{Codec: codec.GetCodec(codec.CodecTypeFlatBuffers, true)})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(make([]byte, 16))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(make([]byte, 512))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(svr.Metrics().ConnectionErrors.WithLabelValues(metrics.ReasonDecode)) == 1
	}, time.Second, 5*time.Millisecond)
}

// Without verification a zero payload is read as a Request with default fields.
func TestLenientDecodeAnswersZeroPayload(t *testing.T) {
	c := codec.GetCodec(codec.CodecTypeFlatBuffers, false)
	_, addr := startServer(t, Options{Codec: c})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(make([]byte, 16))
	require.NoError(t, err)

	buf := make([]byte, 512)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	var resp message.Response
	require.NoError(t, c.Decode(buf[:n], &resp))
	assert.Equal(t, uint64(0), resp.ID)
	assert.True(t, resp.Success)
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	_, addr := startServer(t, Options{IdleTimeout: 100 * time.Millisecond})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

type recordingRegistry struct {
	mu        sync.Mutex
	service   string
	instances []registry.ServiceInstance
}

func (r *recordingRegistry) Register(ctx context.Context, serviceName string, inst registry.ServiceInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.service = serviceName
	r.instances = append(r.instances, inst)
	return nil
}

func (r *recordingRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	return nil
}

func (r *recordingRegistry) Discover(ctx context.Context, serviceName string) ([]registry.ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.ServiceInstance(nil), r.instances...), nil
}

func (r *recordingRegistry) Close() error { return nil }

func TestServeRegistersInstance(t *testing.T) {
	reg := &recordingRegistry{}
	_, addr := startServer(t, Options{
		Registry:    reg,
		ServiceName: "ack",
		Version:     "0.1.0",
		Weight:      3,
		Codec:       codec.GetCodec(codec.CodecTypeProto, false),
		Framer:      protocol.LengthFramer{},
	})

	require.Eventually(t, func() bool {
		instances, _ := reg.Discover(context.Background(), "ack")
		return len(instances) == 1
	}, time.Second, 5*time.Millisecond)

	instances, _ := reg.Discover(context.Background(), "ack")
	assert.Equal(t, registry.ServiceInstance{Addr: addr, Version: "0.1.0", Weight: 3, Codec: "proto", Framing: "length"}, instances[0])

	// A client that only knows the service name reaches the server with the published wire settings.
	cli, err := client.DialService(context.Background(), reg, "ack", client.Options{})
	require.NoError(t, err)
	defer cli.Close()
	resp, err := cli.Call(callCtx(t), 11)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), resp.ID)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default().Server
	cfg.Codec = "proto"
	cfg.Framing = "length"
	cfg.MaxConnections = 3

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, codec.CodecTypeProto, opts.Codec.Type())
	assert.IsType(t, protocol.LengthFramer{}, opts.Framer)
	assert.Equal(t, 3, opts.MaxConnections)
	assert.Equal(t, 512, opts.BufferSize)

	cfg.Codec = "xml"
	_, err = OptionsFromConfig(cfg)
	assert.Error(t, err)
}
