package responder

// The device side of the probe exchange: answers each query with the local
// monotonic clock reading taken when the reply is built. Runs over plain
// datagrams, over the reliable stream, or both at once.

import (
	"context"
	"crypto/cipher"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/libp2p/go-reuseport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/device-time/base/logbase"
	"example.com/device-time/base/metrics"
	"example.com/device-time/core/timebase"
	"example.com/device-time/net/stream"
	"example.com/device-time/net/tsp"
	"example.com/device-time/net/udp"
)

const responderNumGoroutine = 4

type responderMetrics struct {
	pktsReceived prometheus.Counter
	reqsAccepted prometheus.Counter
	reqsServed   prometheus.Counter
}

var (
	responderMetricsOnce sync.Once
	responderMetricsInst *responderMetrics
)

// getResponderMetrics returns the shared responder metrics, registering them
// with the default registry on first use.
func getResponderMetrics() *responderMetrics {
	responderMetricsOnce.Do(func() {
		responderMetricsInst = &responderMetrics{
			pktsReceived: promauto.NewCounter(prometheus.CounterOpts{
				Name: metrics.ResponderPktsReceivedN,
				Help: metrics.ResponderPktsReceivedH,
			}),
			reqsAccepted: promauto.NewCounter(prometheus.CounterOpts{
				Name: metrics.ResponderReqsAcceptedN,
				Help: metrics.ResponderReqsAcceptedH,
			}),
			reqsServed: promauto.NewCounter(prometheus.CounterOpts{
				Name: metrics.ResponderReqsServedN,
				Help: metrics.ResponderReqsServedH,
			}),
		}
	})
	return responderMetricsInst
}

func handleQuery(buf []byte, aead cipher.AEAD) ([]byte, error) {
	var q tsp.Query
	var err error
	if aead != nil {
		err = tsp.DecodeSealedQuery(&q, aead, buf)
	} else {
		err = tsp.DecodeQuery(&q, buf)
	}
	if err != nil {
		return buf, err
	}

	r := tsp.Reply{Query: q.Query, Response: timebase.Now()}
	if aead != nil {
		err = tsp.EncodeSealedReply(&buf, aead, &r)
		if err != nil {
			return buf, err
		}
	} else {
		tsp.EncodeReply(&buf, &r)
	}
	return buf, nil
}

func runUDPResponder(ctx context.Context, log *slog.Logger, mtrcs *responderMetrics,
	conn *net.UDPConn, dscp uint8, aead cipher.AEAD) {
	defer conn.Close()
	err := udp.SetDSCP(conn, dscp)
	if err != nil {
		log.LogAttrs(ctx, slog.LevelInfo, "failed to set DSCP", slog.Any("error", err))
	}

	buf := make([]byte, 2048)
	for {
		if ctx.Err() != nil {
			return
		}
		err = conn.SetReadDeadline(time.Now().Add(time.Second))
		if err != nil {
			log.LogAttrs(ctx, slog.LevelError, "failed to set read deadline", slog.Any("error", err))
			return
		}
		buf = buf[:cap(buf)]
		n, srcAddr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			log.LogAttrs(ctx, slog.LevelError, "failed to read packet", slog.Any("error", err))
			continue
		}
		buf = buf[:n]
		mtrcs.pktsReceived.Inc()

		buf, err = handleQuery(buf, aead)
		if err != nil {
			log.LogAttrs(ctx, slog.LevelInfo, "failed to decode query", slog.Any("error", err))
			continue
		}
		mtrcs.reqsAccepted.Inc()

		n, err = conn.WriteToUDPAddrPort(buf, srcAddr)
		if err != nil || n != len(buf) {
			log.LogAttrs(ctx, slog.LevelError, "failed to write reply", slog.Any("error", err))
			continue
		}
		mtrcs.reqsServed.Inc()
	}
}

// StartResponder launches the configured listeners. A nil localHost disables
// the datagram path, an empty streamAddr disables the stream path. With a
// non-nil aead only sealed queries are answered.
func StartResponder(ctx context.Context, log *slog.Logger, localHost *net.UDPAddr,
	streamAddr string, tlsConfig *tls.Config, dscp uint8, aead cipher.AEAD) {

	mtrcs := getResponderMetrics()

	if localHost != nil {
		log.LogAttrs(ctx, slog.LevelInfo, "responder listening via UDP",
			slog.Any("local host", localHost.IP),
			slog.Int("port", localHost.Port),
		)
		if responderNumGoroutine == 1 {
			conn, err := net.ListenUDP("udp", localHost)
			if err != nil {
				logbase.FatalContext(ctx, log, "failed to listen for packets", slog.Any("error", err))
			}
			go runUDPResponder(ctx, log, mtrcs, conn, dscp, aead)
		} else {
			for range responderNumGoroutine {
				conn, err := reuseport.ListenPacket("udp", localHost.String())
				if err != nil {
					logbase.FatalContext(ctx, log, "failed to listen for packets", slog.Any("error", err))
				}
				go runUDPResponder(ctx, log, mtrcs, conn.(*net.UDPConn), dscp, aead)
			}
		}
	}

	if streamAddr != "" {
		log.LogAttrs(ctx, slog.LevelInfo, "responder listening via stream",
			slog.String("address", streamAddr),
		)
		listener, err := stream.Listen(streamAddr, tlsConfig)
		if err != nil {
			logbase.FatalContext(ctx, log, "failed to listen for streams", slog.Any("error", err))
		}
		go runStreamResponder(ctx, log, mtrcs, listener, aead)
	}
}
