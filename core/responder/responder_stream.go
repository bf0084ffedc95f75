package responder

import (
	"context"
	"crypto/cipher"
	"log/slog"

	"example.com/device-time/net/stream"
)

func serveStreamConn(ctx context.Context, log *slog.Logger, mtrcs *responderMetrics,
	conn *stream.Conn, aead cipher.AEAD) {
	defer conn.Close()
	log.LogAttrs(ctx, slog.LevelDebug, "stream connected",
		slog.Any("remote", conn.RemoteAddr()))

	buf := make([]byte, stream.MaxFrameLen)
	for {
		buf = buf[:cap(buf)]
		n, err := conn.ReadFrame(buf)
		if err != nil {
			log.LogAttrs(ctx, slog.LevelDebug, "stream closed",
				slog.Any("remote", conn.RemoteAddr()), slog.Any("error", err))
			return
		}
		buf = buf[:n]
		mtrcs.pktsReceived.Inc()

		buf, err = handleQuery(buf, aead)
		if err != nil {
			log.LogAttrs(ctx, slog.LevelInfo, "failed to decode query", slog.Any("error", err))
			continue
		}
		mtrcs.reqsAccepted.Inc()

		err = conn.WriteFrame(buf)
		if err != nil {
			log.LogAttrs(ctx, slog.LevelError, "failed to write reply", slog.Any("error", err))
			return
		}
		mtrcs.reqsServed.Inc()
	}
}

func runStreamResponder(ctx context.Context, log *slog.Logger, mtrcs *responderMetrics,
	listener *stream.Listener, aead cipher.AEAD) {
	defer listener.Close()
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.LogAttrs(ctx, slog.LevelError, "failed to accept stream", slog.Any("error", err))
			continue
		}
		go serveStreamConn(ctx, log, mtrcs, conn, aead)
	}
}
