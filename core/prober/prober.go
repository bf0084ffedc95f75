package prober

// The probe origin. One Prober maintains the clock relationship to a single
// device: a scheduler goroutine fires queries on the estimator's cadence and
// the receive loop feeds completed round trips back into the estimation
// window. Replies are stamped with the local monotonic clock the moment the
// read returns, so query and received stay in the same clock domain.

import (
	"context"
	"crypto/cipher"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/device-time/base/metrics"
	"example.com/device-time/core/estimator"
	"example.com/device-time/core/timebase"
	"example.com/device-time/net/ip"
	"example.com/device-time/net/stream"
	"example.com/device-time/net/tsp"
	"example.com/device-time/net/udp"
)

const defaultTick = 10 * time.Millisecond

var (
	errUnexpectedPacketSource = errors.New("unexpected packet source")
	errUnexpectedPacketQuery  = errors.New("unexpected query timestamp in reply")
)

type proberMetrics struct {
	probesSent      prometheus.Counter
	sendErrors      prometheus.Counter
	repliesReceived prometheus.Counter
	repliesInvalid  prometheus.Counter
	samplesAdmitted prometheus.Counter
	samplesDropped  prometheus.Counter
	negTranslations prometheus.Counter
	modelSlope      prometheus.Gauge
	modelOffset     prometheus.Gauge
}

var (
	proberMtrcsOnce sync.Once
	proberMtrcs     *proberMetrics
)

func getProberMetrics() *proberMetrics {
	proberMtrcsOnce.Do(func() {
		proberMtrcs = &proberMetrics{
			probesSent: promauto.NewCounter(prometheus.CounterOpts{
				Name: metrics.ProberProbesSentN,
				Help: metrics.ProberProbesSentH,
			}),
			sendErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: metrics.ProberSendErrorsN,
				Help: metrics.ProberSendErrorsH,
			}),
			repliesReceived: promauto.NewCounter(prometheus.CounterOpts{
				Name: metrics.ProberRepliesReceivedN,
				Help: metrics.ProberRepliesReceivedH,
			}),
			repliesInvalid: promauto.NewCounter(prometheus.CounterOpts{
				Name: metrics.ProberRepliesInvalidN,
				Help: metrics.ProberRepliesInvalidH,
			}),
			samplesAdmitted: promauto.NewCounter(prometheus.CounterOpts{
				Name: metrics.ProberSamplesAdmittedN,
				Help: metrics.ProberSamplesAdmittedH,
			}),
			samplesDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: metrics.ProberSamplesDroppedN,
				Help: metrics.ProberSamplesDroppedH,
			}),
			negTranslations: promauto.NewCounter(prometheus.CounterOpts{
				Name: metrics.ModelNegTranslationsN,
				Help: metrics.ModelNegTranslationsH,
			}),
			modelSlope: promauto.NewGauge(prometheus.GaugeOpts{
				Name: metrics.ModelSlopeN,
				Help: metrics.ModelSlopeH,
			}),
			modelOffset: promauto.NewGauge(prometheus.GaugeOpts{
				Name: metrics.ModelOffsetN,
				Help: metrics.ModelOffsetH,
			}),
		}
	})
	return proberMtrcs
}

type Prober struct {
	Log       *slog.Logger
	Estimator *estimator.Estimator
	DSCP      uint8
	AEAD      cipher.AEAD
	Tick      time.Duration
}

// sendLoop polls the estimator's probe schedule and hands due queries to
// send. Send failures cost one sample and are not retried.
func (p *Prober) sendLoop(ctx context.Context, mtrcs *proberMetrics, send func([]byte) error) {
	tick := p.Tick
	if tick == 0 {
		tick = defaultTick
	}
	t := time.NewTicker(tick)
	defer t.Stop()

	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		queryTime, ok := p.Estimator.MaybeProbe()
		if !ok {
			continue
		}
		q := tsp.Query{Query: queryTime}
		if p.AEAD != nil {
			err := tsp.EncodeSealedQuery(&buf, p.AEAD, &q)
			if err != nil {
				mtrcs.sendErrors.Inc()
				p.Log.LogAttrs(ctx, slog.LevelError, "failed to seal probe", slog.Any("error", err))
				continue
			}
		} else {
			tsp.EncodeQuery(&buf, &q)
		}
		err := send(buf)
		if err != nil {
			mtrcs.sendErrors.Inc()
			p.Log.LogAttrs(ctx, slog.LevelDebug, "failed to send probe", slog.Any("error", err))
			continue
		}
		mtrcs.probesSent.Inc()
	}
}

func (p *Prober) handleReply(ctx context.Context, mtrcs *proberMetrics, buf []byte, received int64) {
	var r tsp.Reply
	var err error
	if p.AEAD != nil {
		err = tsp.DecodeSealedReply(&r, p.AEAD, buf)
	} else {
		err = tsp.DecodeReply(&r, buf)
	}
	if err != nil {
		mtrcs.repliesInvalid.Inc()
		p.Log.LogAttrs(ctx, slog.LevelInfo, "failed to decode reply", slog.Any("error", err))
		return
	}

	if !p.Estimator.AddSample(r.Query, r.Response, received) {
		mtrcs.samplesDropped.Inc()
		return
	}
	mtrcs.samplesAdmitted.Inc()

	m := p.Estimator.Model()
	mtrcs.modelSlope.Set(m.A)
	mtrcs.modelOffset.Set(m.B)
	if deviceTime := m.ToDevice(received); deviceTime < 0 {
		mtrcs.negTranslations.Inc()
		p.Log.LogAttrs(ctx, slog.LevelDebug, "model produced negative device time",
			slog.Int64("server time [ns]", received),
			slog.Int64("device time [ns]", deviceTime),
		)
	}
	p.Log.LogAttrs(ctx, slog.LevelDebug, "admitted sample",
		slog.Int64("latency [ns]", received-r.Query),
		slog.Float64("slope", m.A),
		slog.Float64("offset [ns]", m.B),
	)
}

// RunUDP probes the device at remoteAddr over datagrams until ctx is done.
func (p *Prober) RunUDP(ctx context.Context, localAddr, remoteAddr *net.UDPAddr) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: localAddr.IP})
	if err != nil {
		return err
	}
	defer conn.Close()
	err = udp.SetDSCP(conn, p.DSCP)
	if err != nil {
		p.Log.LogAttrs(ctx, slog.LevelInfo, "failed to set DSCP", slog.Any("error", err))
	}

	mtrcs := getProberMetrics()
	go p.sendLoop(ctx, mtrcs, func(b []byte) error {
		_, err := conn.WriteToUDPAddrPort(b, remoteAddr.AddrPort())
		return err
	})

	buf := make([]byte, 2048)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = conn.SetReadDeadline(time.Now().Add(time.Second))
		if err != nil {
			return err
		}
		buf = buf[:cap(buf)]
		n, srcAddr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return err
		}
		received := timebase.Now()
		if ip.CompareAddrs(srcAddr.Addr(), remoteAddr.AddrPort().Addr()) != 0 ||
			srcAddr.Port() != remoteAddr.AddrPort().Port() {
			mtrcs.repliesInvalid.Inc()
			p.Log.LogAttrs(ctx, slog.LevelDebug, "received packet from unexpected source",
				slog.Any("source", srcAddr))
			continue
		}
		mtrcs.repliesReceived.Inc()
		p.handleReply(ctx, mtrcs, buf[:n], received)
	}
}

// Probe performs a single query/reply exchange with the device at remoteAddr
// and returns the completed sample. The context deadline bounds the wait for
// the reply; stray or mismatched packets are skipped within that budget.
func Probe(ctx context.Context, log *slog.Logger, localAddr, remoteAddr *net.UDPAddr,
	aead cipher.AEAD) (query, response, received int64, err error) {

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: localAddr.IP})
	if err != nil {
		return 0, 0, 0, err
	}
	defer conn.Close()
	deadline, deadlineIsSet := ctx.Deadline()
	if deadlineIsSet {
		err = conn.SetDeadline(deadline)
		if err != nil {
			return 0, 0, 0, err
		}
	}

	var buf []byte
	q := tsp.Query{Query: timebase.Now()}
	if aead != nil {
		err = tsp.EncodeSealedQuery(&buf, aead, &q)
		if err != nil {
			return 0, 0, 0, err
		}
	} else {
		tsp.EncodeQuery(&buf, &q)
	}
	_, err = conn.WriteToUDPAddrPort(buf, remoteAddr.AddrPort())
	if err != nil {
		return 0, 0, 0, err
	}

	rbuf := make([]byte, 2048)
	const maxNumRetries = 3
	for numRetries := 0; ; numRetries++ {
		rbuf = rbuf[:cap(rbuf)]
		var n int
		var srcAddr netip.AddrPort
		n, srcAddr, err = conn.ReadFromUDPAddrPort(rbuf)
		if err != nil {
			if numRetries != maxNumRetries && deadlineIsSet && time.Now().Before(deadline) {
				log.LogAttrs(ctx, slog.LevelInfo, "failed to read packet", slog.Any("error", err))
				continue
			}
			return 0, 0, 0, err
		}
		received = timebase.Now()
		rbuf = rbuf[:n]
		if ip.CompareAddrs(srcAddr.Addr(), remoteAddr.AddrPort().Addr()) != 0 ||
			srcAddr.Port() != remoteAddr.AddrPort().Port() {
			err = errUnexpectedPacketSource
			if numRetries != maxNumRetries && deadlineIsSet && time.Now().Before(deadline) {
				log.LogAttrs(ctx, slog.LevelInfo, "received packet from unexpected source",
					slog.Any("source", srcAddr))
				continue
			}
			return 0, 0, 0, err
		}

		var r tsp.Reply
		if aead != nil {
			err = tsp.DecodeSealedReply(&r, aead, rbuf)
		} else {
			err = tsp.DecodeReply(&r, rbuf)
		}
		if err != nil {
			if numRetries != maxNumRetries && deadlineIsSet && time.Now().Before(deadline) {
				log.LogAttrs(ctx, slog.LevelInfo, "failed to decode packet", slog.Any("error", err))
				continue
			}
			return 0, 0, 0, err
		}
		if r.Query != q.Query {
			err = errUnexpectedPacketQuery
			if numRetries != maxNumRetries && deadlineIsSet && time.Now().Before(deadline) {
				log.LogAttrs(ctx, slog.LevelInfo, "received reply for different query",
					slog.Int64("query [ns]", r.Query))
				continue
			}
			return 0, 0, 0, err
		}

		return r.Query, r.Response, received, nil
	}
}

// RunStream probes the device over the reliable stream until ctx is done.
func (p *Prober) RunStream(ctx context.Context, remoteAddr string, tlsConfig *tls.Config) error {
	conn, err := stream.Dial(ctx, remoteAddr, tlsConfig)
	if err != nil {
		return err
	}
	defer conn.Close()
	p.Log.LogAttrs(ctx, slog.LevelInfo, "stream connected",
		slog.Any("remote", conn.RemoteAddr()))

	mtrcs := getProberMetrics()
	go p.sendLoop(ctx, mtrcs, conn.WriteFrame)

	buf := make([]byte, stream.MaxFrameLen)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = conn.SetReadDeadline(time.Now().Add(time.Second))
		if err != nil {
			return err
		}
		n, err := conn.ReadFrame(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return err
		}
		received := timebase.Now()
		mtrcs.repliesReceived.Inc()
		p.handleReply(ctx, mtrcs, buf[:n], received)
	}
}
