package server

import (
	"context"
	"io"
	"net"
	"time"

	"ackrpc/message"
	"ackrpc/metrics"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// handleConn owns conn for its whole life. It runs the read → decode → handle →
// encode → write cycle until the first failure, logs the peer and the failure,
// and closes the connection exactly once.
func (svr *Server) handleConn(conn net.Conn) {
	defer svr.release()
	svr.metrics.ConnectionsActive.Inc()
	defer svr.metrics.ConnectionsActive.Dec()

	peer := conn.RemoteAddr().String()
	log := svr.log.With().
		Str("conn_id", uuid.NewString()).
		Str("peer", peer).
		Logger()
	ctx := log.WithContext(context.Background())

	reason, err := svr.serveConn(ctx, conn)

	// A peer hanging up between requests is the normal end of a connection.
	if reason == metrics.ReasonRead && errors.Is(err, io.EOF) {
		log.Info().Msg("Connection closed by peer")
	} else {
		svr.metrics.ConnectionErrors.WithLabelValues(reason).Inc()
		log.Error().Err(err).Str("stage", reason).Msg("An error occurred, terminating connection")
	}

	if cerr := conn.Close(); cerr != nil {
		log.Debug().Err(cerr).Msg("close")
	}
}

// serveConn loops until something fails and reports which stage failed.
func (svr *Server) serveConn(ctx context.Context, conn net.Conn) (string, error) {
	buf := make([]byte, svr.opts.BufferSize)
	for {
		if svr.opts.IdleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(svr.opts.IdleTimeout)); err != nil {
				return metrics.ReasonRead, err
			}
		}

		data, err := svr.opts.Framer.ReadMessage(conn, buf)
		if err != nil {
			return metrics.ReasonRead, err
		}

		req := message.Request{}
		if err := svr.opts.Codec.Decode(data, &req); err != nil {
			return metrics.ReasonDecode, err
		}

		resp := svr.handler(ctx, &req)

		out, err := svr.opts.Codec.Encode(resp)
		if err != nil {
			return metrics.ReasonEncode, err
		}
		if err := svr.opts.Framer.WriteMessage(conn, out); err != nil {
			return metrics.ReasonWrite, err
		}
	}
}
