package estimator

// Midpoint regression estimator for the offset between the local clock and
// the monotonic clock of a remote device.
//
// Completed probe round trips are stored in a fixed-capacity window. Each
// stored round trip contributes one regression point: the X value is the
// midpoint of the local send and receive times, which attributes half of the
// round trip to each direction (a stated approximation, the network is
// assumed symmetric), and the Y value is the clock reading the device
// reported. While the window is filling the clocks are assumed to run at the
// same rate and only the offset between them is corrected. Once the window is
// full, an ordinary least squares fit over centered coordinates yields slope
// and offset, and new round trips whose latency exceeds three times the
// window mean are dropped as retransmission or congestion artifacts.

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"example.com/device-time/base/timebase"
	"example.com/device-time/core/timemap"
)

const NumSamples = 100

const (
	DefaultInitialInterval = 100 * time.Millisecond
	DefaultProbeInterval   = 1 * time.Second
)

const (
	outlierFactor = 3

	// Below this per-sample X variance (ns^2) the window spans too little
	// local time for a meaningful slope and the fit is rejected.
	degenerateVariance = 1e3
)

type sample struct {
	query, response, received int64
}

type Estimator struct {
	log    *slog.Logger
	logCtx context.Context
	clk    timebase.LocalClock

	// Scheduling state. nextProbe belongs to the single goroutine calling
	// MaybeProbe; interval is additionally written by the admission path
	// when the window fills.
	nextProbe int64
	interval  atomic.Int64
	steady    int64

	mu      sync.Mutex
	samples []sample
	cursor  int
	model   timemap.Model
}

func New(log *slog.Logger, clk timebase.LocalClock, initial, steady time.Duration) *Estimator {
	if clk == nil {
		panic("local clock must not be nil")
	}
	if initial == 0 {
		initial = DefaultInitialInterval
	}
	if steady == 0 {
		steady = DefaultProbeInterval
	}
	if initial < 0 || steady < initial {
		panic("probe intervals must be positive and must not narrow over time")
	}
	e := &Estimator{
		log:     log,
		logCtx:  context.Background(),
		clk:     clk,
		steady:  steady.Nanoseconds(),
		samples: make([]sample, 0, NumSamples),
		model:   timemap.Identity(),
	}
	e.interval.Store(initial.Nanoseconds())
	return e
}

// MaybeProbe reports whether a probe is due. When it is, the probe deadline
// advances by the current interval and the local clock reading to stamp into
// the query is returned. The deadline advances whether or not the caller
// manages to deliver the probe; a lost probe costs one sample, nothing else.
// MaybeProbe must only be called from a single goroutine.
func (e *Estimator) MaybeProbe() (query int64, ok bool) {
	now := e.clk.Now()
	if now < e.nextProbe {
		return 0, false
	}
	e.nextProbe = now + e.interval.Load()
	return now, true
}

// Interval returns the current probe interval.
func (e *Estimator) Interval() time.Duration {
	return time.Duration(e.interval.Load())
}

// AddSample admits one completed round trip: query and received are local
// clock readings taken when the probe was sent and when the reply arrived,
// response is the device clock reading carried in the reply. It reports
// whether the sample entered the window. While the window is filling every
// sample is admitted; afterwards high latency round trips are dropped and
// the probe interval settles at its steady state value.
func (e *Estimator) AddSample(query, response, received int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.samples) < NumSamples {
		e.samples = append(e.samples, sample{query, response, received})
	} else {
		var latency int64
		for _, s := range e.samples {
			latency += s.received - s.query
		}
		latency /= int64(len(e.samples))
		if received-query > outlierFactor*latency {
			if e.log != nil {
				e.log.LogAttrs(e.logCtx, slog.LevelDebug, "dropped high latency sample",
					slog.Int64("latency [ns]", received-query),
					slog.Int64("limit [ns]", outlierFactor*latency))
			}
			return false
		}
		e.interval.Store(e.steady)
		e.samples[e.cursor] = sample{query, response, received}
		e.cursor = (e.cursor + 1) % NumSamples
	}
	e.recompute()
	return true
}

// Model returns a copy of the current clock model.
func (e *Estimator) Model() timemap.Model {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

// recompute refits the model over the stored samples. Callers must hold mu.
func (e *Estimator) recompute() {
	n := len(e.samples)
	if n == 0 {
		return
	}
	inv := 1.0 / float64(n)

	var x0, y0 float64
	for _, s := range e.samples {
		x0 += float64(s.query+s.received) * 0.5
		y0 += float64(s.response)
	}
	x0 *= inv
	y0 *= inv

	if n < NumSamples {
		e.model = timemap.Model{A: 1, B: y0 - x0}
		return
	}

	var sx, sy, sxx, sxy float64
	for _, s := range e.samples {
		x := float64(s.query+s.received)*0.5 - x0
		y := float64(s.response) - y0
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}

	if !(sxx > degenerateVariance*float64(n)) || math.IsInf(sxx, 0) {
		if e.log != nil {
			e.log.LogAttrs(e.logCtx, slog.LevelWarn, "degenerate sample window, keeping previous model",
				slog.Float64("variance [ns^2]", sxx*inv))
		}
		return
	}
	a := sxy / sxx
	b := sy*inv - a*sx*inv
	if math.IsNaN(a) || math.IsInf(a, 0) || a <= 0 {
		if e.log != nil {
			e.log.LogAttrs(e.logCtx, slog.LevelWarn, "unusable slope estimate, keeping previous model",
				slog.Float64("slope", a))
		}
		return
	}
	e.model = timemap.Model{A: a, B: y0 + b - a*x0}
}
