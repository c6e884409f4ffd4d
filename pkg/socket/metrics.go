package socket

import (
	"sync/atomic"
)

// Metrics contains counters for one socket.
type Metrics struct {
	// AcksSent is the number of ACKs emitted.
	AcksSent uint64

	// BytesSent is the number of IPv4 bytes emitted.
	BytesSent uint64

	// SackBlocksSent is the number of SACK blocks carried by emitted ACKs.
	SackBlocksSent uint64

	// Errors is the number of ACKs that could not be emitted.
	Errors uint64
}

func loadMetrics(m *Metrics) Metrics {
	return Metrics{
		AcksSent:       atomic.LoadUint64(&m.AcksSent),
		BytesSent:      atomic.LoadUint64(&m.BytesSent),
		SackBlocksSent: atomic.LoadUint64(&m.SackBlocksSent),
		Errors:         atomic.LoadUint64(&m.Errors),
	}
}

// ResetMetrics resets all metrics to zero
func ResetMetrics(m *Metrics) {
	atomic.StoreUint64(&m.AcksSent, 0)
	atomic.StoreUint64(&m.BytesSent, 0)
	atomic.StoreUint64(&m.SackBlocksSent, 0)
	atomic.StoreUint64(&m.Errors, 0)
}
