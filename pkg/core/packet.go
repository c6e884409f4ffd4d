package core

import (
	"sync/atomic"
)

// copyMode mirrors AvoiderConfig.CopyPackets.
var copyMode uint32

// SetCopyMode sets whether packets copy the bytes they are built from.
// When enabled, a caller that recycles its receive buffers cannot corrupt a
// packet that is still being inspected.
func SetCopyMode(enabled bool) {
	if enabled {
		atomic.StoreUint32(&copyMode, 1)
	} else {
		atomic.StoreUint32(&copyMode, 0)
	}
}

// IsCopyMode returns whether copy mode is enabled
func IsCopyMode() bool {
	return atomic.LoadUint32(&copyMode) == 1
}

// Packet is the raw PDU attached to a buffering notification. Consumers
// must not modify the slice returned by Data.
type Packet interface {
	// Data returns the PDU bytes, starting at the RLC header.
	Data() []byte

	// Length returns the PDU length
	Length() int
}

// pduPacket is the default Packet implementation.
type pduPacket struct {
	data []byte
}

// NewPacket wraps data as a Packet. In copy mode the bytes are copied on
// construction, otherwise data is used directly.
func NewPacket(data []byte) Packet {
	if data == nil {
		return &pduPacket{data: make([]byte, 0)}
	}
	if IsCopyMode() {
		dataCopy := make([]byte, len(data))
		copy(dataCopy, data)
		return &pduPacket{data: dataCopy}
	}
	return &pduPacket{data: data}
}

func (p *pduPacket) Data() []byte { return p.data }
func (p *pduPacket) Length() int  { return len(p.data) }
