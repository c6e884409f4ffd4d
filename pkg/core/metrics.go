package core

import "sync/atomic"

// AvoiderMetrics counts what an avoider did. All counters are updated
// atomically and may be read while notifications are being handled.
type AvoiderMetrics struct {
	Notifications   uint64
	DecodeErrors    uint64
	NoTransport     uint64
	OutOfWindow     uint64
	Incomplete      uint64
	Uncorrelated    uint64
	AddressMismatch uint64
	Connections     uint64
	Queued          uint64
	Forwarded       uint64
	Stale           uint64
	Overlaps        uint64
	Evictions       uint64
	AcksSent        uint64
	BlocksInjected  uint64
	SendErrors      uint64
}

// Add increments the counter at p.
func Add(p *uint64, n uint64) { atomic.AddUint64(p, n) }

// Snapshot returns a consistent-per-field copy of m.
func (m *AvoiderMetrics) Snapshot() AvoiderMetrics {
	return AvoiderMetrics{
		Notifications:   atomic.LoadUint64(&m.Notifications),
		DecodeErrors:    atomic.LoadUint64(&m.DecodeErrors),
		NoTransport:     atomic.LoadUint64(&m.NoTransport),
		OutOfWindow:     atomic.LoadUint64(&m.OutOfWindow),
		Incomplete:      atomic.LoadUint64(&m.Incomplete),
		Uncorrelated:    atomic.LoadUint64(&m.Uncorrelated),
		AddressMismatch: atomic.LoadUint64(&m.AddressMismatch),
		Connections:     atomic.LoadUint64(&m.Connections),
		Queued:          atomic.LoadUint64(&m.Queued),
		Forwarded:       atomic.LoadUint64(&m.Forwarded),
		Stale:           atomic.LoadUint64(&m.Stale),
		Overlaps:        atomic.LoadUint64(&m.Overlaps),
		Evictions:       atomic.LoadUint64(&m.Evictions),
		AcksSent:        atomic.LoadUint64(&m.AcksSent),
		BlocksInjected:  atomic.LoadUint64(&m.BlocksInjected),
		SendErrors:      atomic.LoadUint64(&m.SendErrors),
	}
}
