// Package server implements the TCP listener and the per-connection handler.
//
// Request processing pipeline:
//
//	Accept conn (bounded by the connection limiter) → go handleConn
//	  → loop: Framer.ReadMessage → Codec.Decode → middleware chain → Ack → Codec.Encode → Framer.WriteMessage
//
// Handlers share no state with each other or with the accept loop beyond the
// limiter and the metrics collectors. A connection lives until its first I/O or
// decode error; the listener lives until the process exits or Close is called.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"ackrpc/codec"
	"ackrpc/config"
	"ackrpc/logger"
	"ackrpc/message"
	"ackrpc/metrics"
	"ackrpc/middleware"
	"ackrpc/protocol"
	"ackrpc/registry"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const DefaultBufferSize = 512

// Options configures a Server. Zero values pick the reference behaviour:
// FlatBuffers, raw framing, 512-byte buffer, unbounded connections.
type Options struct {
	MaxConnections int // 0 = unbounded
	BufferSize     int
	IdleTimeout    time.Duration // 0 = reads block until the peer sends or disconnects
	Codec          codec.Codec
	Framer         protocol.Framer
	Metrics        *metrics.Metrics

	// Registry, when set, receives the bound address after Serve starts.
	Registry      registry.Registry
	ServiceName   string
	AdvertiseAddr string // defaults to the listener address
	RegistryTTL   int64
	Version       string // published with the instance
	Weight        int    // relative share for weighted balancing, 0 = 1
}

// OptionsFromConfig translates the [server] section into Options.
func OptionsFromConfig(cfg config.ServerConf) (Options, error) {
	ct, err := codec.ParseCodecType(cfg.Codec)
	if err != nil {
		return Options{}, err
	}
	framer, err := protocol.ParseFramer(cfg.Framing)
	if err != nil {
		return Options{}, err
	}
	return Options{
		MaxConnections: cfg.MaxConnections,
		BufferSize:     cfg.BufferSize,
		IdleTimeout:    cfg.IdleTimeout,
		Codec:          codec.GetCodec(ct, cfg.StrictDecode),
		Framer:         framer,
		AdvertiseAddr:  cfg.AdvertiseAddr,
	}, nil
}

// Server accepts TCP connections and answers every decoded Request with an Ack.
type Server struct {
	opts        Options
	log         zerolog.Logger
	metrics     *metrics.Metrics
	limiter     *semaphore.Weighted // nil when unbounded
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // built once in Serve

	// Accept errors can repeat in a tight loop (e.g. EMFILE); log the first few, then once a second.
	acceptLog rate.Sometimes

	// ctx is cancelled by Close so a Serve blocked on a full limiter returns.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a server with the default middleware chain
// (metrics → logging → panic recovery) around the acknowledgment handler.
func NewServer(opts Options) *Server {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Codec == nil {
		opts.Codec = codec.GetCodec(codec.CodecTypeFlatBuffers, false)
	}
	if opts.Framer == nil {
		opts.Framer = protocol.RawFramer{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New("ackrpc")
	}

	svr := &Server{
		opts:      opts,
		log:       logger.WithComponent("server"),
		metrics:   opts.Metrics,
		acceptLog: rate.Sometimes{First: 3, Interval: time.Second},
	}
	svr.ctx, svr.cancel = context.WithCancel(context.Background())
	if opts.MaxConnections > 0 {
		svr.limiter = semaphore.NewWeighted(int64(opts.MaxConnections))
	}
	svr.Use(middleware.MetricsMiddleware(svr.metrics))
	svr.Use(middleware.LoggingMiddleware())
	svr.Use(middleware.RecoverMiddleware())
	return svr
}

// Use registers a middleware. Middlewares are applied in the order they are
// added and must be registered before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Metrics returns the collectors this server reports to.
func (svr *Server) Metrics() *metrics.Metrics {
	return svr.metrics
}

// ListenAndServe binds addr and runs the accept loop. A bind failure is
// returned immediately; the process cannot serve without its port.
func (svr *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "bind %s", addr)
	}
	return svr.Serve(ln)
}

// Serve runs the accept loop on ln. Every accept error is counted in
// accept_errors_total and the loop continues; the log line is throttled to the
// first three errors, then at most one per second. Serve only returns (nil)
// once ln or the server has been closed, including while all connection
// slots are held.
func (svr *Server) Serve(ln net.Listener) error {
	svr.mu.Lock()
	svr.listener = ln
	svr.mu.Unlock()

	if svr.ctx.Err() != nil {
		// Closed before Serve got the listener.
		return ln.Close()
	}

	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	svr.log.Info().
		Str("addr", ln.Addr().String()).
		Str("codec", svr.opts.Codec.Type().String()).
		Int("max_connections", svr.opts.MaxConnections).
		Msg("Server listening")

	if svr.opts.Registry != nil {
		svr.register(ln.Addr())
	}

	for {
		// Take a slot before accepting so a full server leaves new peers in the
		// kernel backlog instead of holding their sockets.
		if svr.limiter != nil {
			if err := svr.limiter.Acquire(svr.ctx, 1); err != nil {
				svr.log.Info().Msg("server closed while at max connections")
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			svr.release()
			if errors.Is(err, net.ErrClosed) {
				svr.log.Info().Msg("listener closed")
				return nil
			}
			svr.metrics.AcceptErrors.Inc()
			svr.acceptLog.Do(func() {
				svr.log.Error().Err(err).Msg("accept failed")
			})
			continue
		}

		svr.metrics.ConnectionsAccepted.Inc()
		svr.log.Info().Str("peer", conn.RemoteAddr().String()).Msg("New connection")
		go svr.handleConn(conn)
	}
}

// Addr returns the listener address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// Close closes the listener, which makes Serve return. Connections already
// handed to a handler are not touched.
func (svr *Server) Close() error {
	svr.cancel()

	svr.mu.Lock()
	ln := svr.listener
	svr.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (svr *Server) release() {
	if svr.limiter != nil {
		svr.limiter.Release(1)
	}
}

func (svr *Server) register(addr net.Addr) {
	advertise := svr.opts.AdvertiseAddr
	if advertise == "" {
		advertise = addr.String()
	}
	ttl := svr.opts.RegistryTTL
	if ttl <= 0 {
		ttl = 10
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := svr.opts.Registry.Register(ctx, svr.opts.ServiceName, registry.ServiceInstance{
		Addr:    advertise,
		Version: svr.opts.Version,
		Weight:  svr.opts.Weight,
		Codec:   svr.opts.Codec.Type().String(),
		Framing: framingName(svr.opts.Framer),
	}, ttl)
	if err != nil {
		svr.log.Error().Err(err).Str("advertise", advertise).Msg("service registration failed")
	}
}

// businessHandler answers every request with the fixed acknowledgment.
func (svr *Server) businessHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.Ack(req)
}

func framingName(f protocol.Framer) string {
	if _, ok := f.(protocol.LengthFramer); ok {
		return "length"
	}
	return "raw"
}
