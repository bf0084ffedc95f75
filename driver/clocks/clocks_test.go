package clocks_test

import (
	"log/slog"
	"testing"
	"time"

	"example.com/device-time/driver/clocks"
)

func TestSystemClockMonotonic(t *testing.T) {
	clk := clocks.NewSystemClock(slog.New(slog.DiscardHandler))
	t0 := clk.Now()
	if t0 < 0 {
		t.Errorf("clock reading: got %d", t0)
	}
	clk.Sleep(10 * time.Millisecond)
	t1 := clk.Now()
	if t1 <= t0 {
		t.Errorf("clock went backwards: %d then %d", t0, t1)
	}
	if d := t1 - t0; d < (5 * time.Millisecond).Nanoseconds() {
		t.Errorf("slept too little: %d ns", d)
	}
}
