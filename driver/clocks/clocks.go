package clocks

import (
	"context"
	"log/slog"
	"time"

	"example.com/device-time/base/timebase"
)

// SystemClock reads the OS monotonic clock. Readings share one arbitrary
// origin for the lifetime of the process.
type SystemClock struct {
	Log   *slog.Logger
	epoch time.Time
}

var _ timebase.LocalClock = (*SystemClock)(nil)

func NewSystemClock(log *slog.Logger) *SystemClock {
	return &SystemClock{Log: log, epoch: time.Now()}
}

func (c *SystemClock) Sleep(duration time.Duration) {
	c.Log.LogAttrs(context.Background(), slog.LevelDebug, "sleeping",
		slog.Duration("duration", duration))
	time.Sleep(duration)
}
