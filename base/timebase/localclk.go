package timebase

import (
	"time"
)

// LocalClock is a monotonic time source. Now returns nanoseconds since an
// arbitrary, fixed origin; readings are comparable only to readings of the
// same clock and never step backwards.
type LocalClock interface {
	Now() int64
	Sleep(duration time.Duration)
}
