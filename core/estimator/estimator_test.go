package estimator_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"example.com/device-time/core/estimator"
)

type testClock struct {
	now int64
}

func (c *testClock) Now() int64 {
	return c.now
}

func (c *testClock) Sleep(duration time.Duration) {
	c.now += duration.Nanoseconds()
}

func TestProbeSchedule(t *testing.T) {
	clk := &testClock{now: 5_000}
	e := estimator.New(nil, clk, 100*time.Millisecond, time.Second)

	if e.Interval() != 100*time.Millisecond {
		t.Errorf("initial interval: got %v, want %v", e.Interval(), 100*time.Millisecond)
	}

	q, ok := e.MaybeProbe()
	if !ok || q != 5_000 {
		t.Errorf("first probe: got %d, %t, want 5000, true", q, ok)
	}
	if _, ok = e.MaybeProbe(); ok {
		t.Error("probe fired before the interval elapsed")
	}
	clk.now += 50_000_000
	if _, ok = e.MaybeProbe(); ok {
		t.Error("probe fired before the interval elapsed")
	}
	clk.now = 5_000 + 100_000_000
	q, ok = e.MaybeProbe()
	if !ok || q != clk.now {
		t.Errorf("second probe: got %d, %t, want %d, true", q, ok, clk.now)
	}
}

func TestDefaultIntervals(t *testing.T) {
	clk := &testClock{}
	e := estimator.New(nil, clk, 0, 0)
	if e.Interval() != estimator.DefaultInitialInterval {
		t.Errorf("default interval: got %v, want %v", e.Interval(), estimator.DefaultInitialInterval)
	}
}

func TestBootstrapModel(t *testing.T) {
	clk := &testClock{}
	e := estimator.New(nil, clk, 0, 0)

	for i := range 8 {
		x := int64(i) * 1_000_000
		if !e.AddSample(x, x+500_000, x) {
			t.Fatal("sample rejected")
		}
	}
	m := e.Model()
	if m.A != 1.0 {
		t.Errorf("bootstrap slope: got %v, want 1.0", m.A)
	}
	if m.B != 500_000.0 {
		t.Errorf("bootstrap offset: got %v, want 500000.0", m.B)
	}
}

func TestSteadyStateFit(t *testing.T) {
	clk := &testClock{}
	e := estimator.New(nil, clk, 0, 0)

	type sample struct{ query, response, received int64 }
	var samples []sample
	for i := range estimator.NumSamples {
		query := int64(i) * 1_000_000
		received := query + 10_000
		response := (query+received)/2 + 500_000
		samples = append(samples, sample{query, response, received})
	}
	for _, s := range samples {
		if !e.AddSample(s.query, s.response, s.received) {
			t.Fatal("sample rejected")
		}
	}

	m := e.Model()
	if math.Abs(m.A-1.0) > 1e-9 {
		t.Errorf("slope: got %v, want 1.0", m.A)
	}
	if math.Abs(m.B-500_000.0) > 1e-3 {
		t.Errorf("offset: got %v, want 500000.0", m.B)
	}
	for _, s := range samples {
		mid := (s.query + s.received) / 2
		if d := m.ToDevice(mid) - s.response; d < -1 || d > 1 {
			t.Errorf("translation at %d: off by %d", mid, d)
		}
		if d := m.ToServer(m.ToDevice(mid)) - mid; d < -1 || d > 1 {
			t.Errorf("round trip at %d: off by %d", mid, d)
		}
	}
}

func TestFitActivatesAtCapacity(t *testing.T) {
	clk := &testClock{}
	e := estimator.New(nil, clk, 0, 0)

	for i := range estimator.NumSamples - 1 {
		x := int64(i) * 1_000_000
		e.AddSample(x, x+int64(i)*200, x)
	}
	if m := e.Model(); m.A != 1.0 {
		t.Errorf("slope while filling: got %v, want 1.0", m.A)
	}

	x := int64(estimator.NumSamples-1) * 1_000_000
	e.AddSample(x, x+int64(estimator.NumSamples-1)*200, x)
	m := e.Model()
	if math.Abs(m.A-1.0002) > 1e-6 {
		t.Errorf("slope at capacity: got %v, want 1.0002", m.A)
	}
}

func TestHighLatencyRejected(t *testing.T) {
	clk := &testClock{}
	e := estimator.New(nil, clk, 100*time.Millisecond, time.Second)

	for i := range estimator.NumSamples {
		query := int64(i) * 1_000_000
		received := query + 10_000
		e.AddSample(query, (query+received)/2+500_000, received)
	}
	before := e.Model()

	query := int64(estimator.NumSamples) * 1_000_000
	received := query + 40_000
	if e.AddSample(query, (query+received)/2+500_000, received) {
		t.Fatal("high latency sample admitted")
	}
	if e.Model() != before {
		t.Error("rejected sample changed the model")
	}
	if e.Interval() != 100*time.Millisecond {
		t.Errorf("rejected sample widened the interval: got %v", e.Interval())
	}

	received = query + 30_000
	if !e.AddSample(query, (query+received)/2+500_000, received) {
		t.Fatal("sample at the latency limit rejected")
	}
	if e.Interval() != time.Second {
		t.Errorf("interval after admission: got %v, want %v", e.Interval(), time.Second)
	}
}

func TestIntervalWidensOnce(t *testing.T) {
	clk := &testClock{}
	e := estimator.New(nil, clk, 100*time.Millisecond, time.Second)

	for i := range estimator.NumSamples {
		x := int64(i) * 1_000_000
		e.AddSample(x, x+500_000, x)
	}
	if e.Interval() != 100*time.Millisecond {
		t.Errorf("interval after fill: got %v, want %v", e.Interval(), 100*time.Millisecond)
	}

	for i := range 3 {
		x := int64(estimator.NumSamples+i) * 1_000_000
		if !e.AddSample(x, x+500_000, x) {
			t.Fatal("sample rejected")
		}
		if e.Interval() != time.Second {
			t.Errorf("interval after overwrite: got %v, want %v", e.Interval(), time.Second)
		}
	}
}

func TestConcurrentAdmission(t *testing.T) {
	clk := &testClock{}
	e := estimator.New(nil, clk, 0, 0)

	// All writers sample the same underlying relation, so the fitted model
	// is the same no matter how their admissions interleave.
	const numWriters = 4
	var wg sync.WaitGroup
	wg.Add(numWriters)
	for w := range numWriters {
		go func() {
			defer wg.Done()
			for i := range estimator.NumSamples {
				x := int64(w*estimator.NumSamples+i) * 1_000_000
				e.AddSample(x, x+500_000, x)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for stop := false; !stop; {
		select {
		case <-done:
			stop = true
		default:
		}
		if m := e.Model(); m.A <= 0 {
			t.Fatalf("unusable model published: %+v", m)
		}
		if e.Interval() <= 0 {
			t.Fatal("unusable probe interval published")
		}
	}

	m := e.Model()
	if math.Abs(m.A-1.0) > 1e-6 {
		t.Errorf("slope: got %v, want 1.0", m.A)
	}
	if math.Abs(m.B-500_000.0) > 1.0 {
		t.Errorf("offset: got %v, want 500000.0", m.B)
	}
	if e.Interval() != estimator.DefaultProbeInterval {
		t.Errorf("interval: got %v, want %v", e.Interval(), estimator.DefaultProbeInterval)
	}
}

func TestDegenerateWindowKeepsModel(t *testing.T) {
	clk := &testClock{}
	e := estimator.New(nil, clk, 0, 0)

	for range estimator.NumSamples - 1 {
		e.AddSample(1_000, 501_000, 1_000)
	}
	before := e.Model()
	if before.A != 1.0 {
		t.Errorf("bootstrap slope: got %v, want 1.0", before.A)
	}

	e.AddSample(1_000, 501_000, 1_000)
	if e.Model() != before {
		t.Error("degenerate window changed the model")
	}

	e.AddSample(1_000, 501_000, 1_000)
	if e.Model() != before {
		t.Error("degenerate window changed the model")
	}
}
