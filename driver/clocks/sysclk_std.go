//go:build !linux

package clocks

import (
	"time"
)

func (c *SystemClock) Now() int64 {
	return time.Since(c.epoch).Nanoseconds()
}
