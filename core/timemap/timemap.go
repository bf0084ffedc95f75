// Package timemap relates the monotonic clocks of two endpoints by an affine
// model, device_time = A*server_time + B, with all times in nanoseconds.
// Models are plain values; obtain a snapshot once and translate lock-free.
package timemap

import (
	"math"
)

type Model struct {
	A float64
	B float64
}

// Identity is the usable start state before any measurement has been
// admitted. The zero value of Model is not usable (A must not be 0).
func Identity() Model {
	return Model{A: 1, B: 0}
}

// ToDevice translates a server clock reading to the device clock domain.
// A negative result means the model is not yet well conditioned. It is
// returned as is so that callers can treat it as a diagnostic.
func (m Model) ToDevice(serverNs int64) int64 {
	return int64(math.Round(m.A*float64(serverNs))) + int64(math.Round(m.B))
}

// ToServer translates a device clock reading to the server clock domain.
// Inverse of ToDevice up to rounding. Negative results are returned as is.
func (m Model) ToServer(deviceNs int64) int64 {
	return int64(math.Round((float64(deviceNs) - m.B) / m.A))
}
