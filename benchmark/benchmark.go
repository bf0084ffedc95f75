package benchmark

import (
	"context"
	"crypto/cipher"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/mmcloughlin/profile"

	"example.com/device-time/core/prober"
)

// RunBenchmark floods the responder at remoteAddr with one-shot probe
// exchanges and prints the round trip latency distribution in microseconds.
func RunBenchmark(localAddr, remoteAddr *net.UDPAddr, aead cipher.AEAD,
	profileRun bool, log *slog.Logger) {
	const numClientGoroutine = 20
	const numRequestPerClient = 5_000

	ctx := context.Background()
	dlog := slog.New(slog.DiscardHandler)

	if profileRun {
		defer profile.Start(profile.CPUProfile).Stop()
	}

	var mu sync.Mutex
	total := hdrhistogram.New(1, 50000, 5)
	sg := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(numClientGoroutine)

	for range numClientGoroutine {
		go func() {
			hg := hdrhistogram.New(1, 50000, 5)

			defer wg.Done()
			<-sg
			for range numRequestPerClient {
				ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
				query, _, received, err := prober.Probe(ctx, dlog, localAddr, remoteAddr, aead)
				if err != nil {
					dlog.LogAttrs(ctx, slog.LevelInfo,
						"failed to probe",
						slog.Any("error", err),
					)
				} else {
					_ = hg.RecordValue((received - query) / 1000)
				}
				cancel()
			}
			mu.Lock()
			defer mu.Unlock()
			_ = total.Merge(hg)
		}()
	}
	t0 := time.Now()
	close(sg)
	wg.Wait()
	_, _ = total.PercentilesPrint(os.Stdout, 1, 1.0)
	log.LogAttrs(ctx, slog.LevelInfo, "time elapsed", slog.Duration("duration", time.Since(t0)))
}
