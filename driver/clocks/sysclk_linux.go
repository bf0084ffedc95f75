//go:build linux

package clocks

import (
	"log/slog"

	"golang.org/x/sys/unix"

	"example.com/device-time/base/logbase"
)

func (c *SystemClock) Now() int64 {
	var ts unix.Timespec
	err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	if err != nil {
		logbase.Fatal(c.Log, "failed to read CLOCK_MONOTONIC", slog.Any("error", err))
	}
	return ts.Nano()
}
