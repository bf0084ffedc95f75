package timebase

import (
	"time"

	"example.com/device-time/base/timebase"
)

var lclk timebase.LocalClock

func RegisterClock(c timebase.LocalClock) {
	if c == nil {
		panic("local clock must not be nil")
	}
	if lclk != nil {
		panic("local clock already registered")
	}
	lclk = c
}

// Now returns the registered clock's monotonic reading in nanoseconds.
func Now() int64 {
	if lclk == nil {
		panic("no local clock registered")
	}
	return lclk.Now()
}

func Sleep(duration time.Duration) {
	if lclk == nil {
		panic("no local clock registered")
	}
	lclk.Sleep(duration)
}
