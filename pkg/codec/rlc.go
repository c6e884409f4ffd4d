package codec

import (
	"fmt"
)

// SN10 is a 10-bit RLC AM sequence number.
type SN10 uint16

const (
	sn10Modulus = 1 << 10
	// amWindowSize is the RLC AM window (half the sequence space).
	amWindowSize = sn10Modulus / 2
)

// Value returns the sequence number reduced to 10 bits.
func (s SN10) Value() uint16 { return uint16(s) % sn10Modulus }

// Add returns s+n modulo 1024.
func (s SN10) Add(n uint16) SN10 { return SN10((uint32(s) + uint32(n)) % sn10Modulus) }

// InWindow reports whether s lies strictly after base and inside the AM
// receive window that starts at base (VR(R) < SN < VR(R)+512).
func (s SN10) InWindow(base SN10) bool {
	d := (int(s.Value()) - int(base.Value()) + sn10Modulus) % sn10Modulus
	return d > 0 && d < amWindowSize
}

// Framing info bits of an AMD PDU.
const (
	// FIFirstNotSDUStart is set when the first byte of the data field is not
	// the first byte of an RLC SDU.
	FIFirstNotSDUStart uint8 = 0x2
	// FILastNotSDUEnd is set when the last byte of the data field is not the
	// last byte of an RLC SDU.
	FILastNotSDUEnd uint8 = 0x1
)

const (
	maxLI       = 1<<11 - 1
	maxSO       = 1<<15 - 1
	cptStatus   = 0
	rlcFixedLen = 2
)

// RLCNack is one NACK_SN entry of a STATUS PDU.
type RLCNack struct {
	SN SN10
	// HasSegment is the E2 bit: SOStart/SOEnd follow.
	HasSegment bool
	SOStart    uint16
	SOEnd      uint16
}

// RLCHeader is an LTE RLC AM header: either an AMD PDU (Data) or a STATUS
// control PDU. Extension/E bits are derived from the LI and NACK lists.
type RLCHeader struct {
	Data bool

	// AMD PDU fields.
	Resegmented   bool
	Poll          bool
	FramingInfo   uint8
	SN            SN10
	LastSegment   bool
	SegmentOffset uint16
	// LengthIndicators holds one LI per SDU in the data field except the last.
	LengthIndicators []uint16

	// STATUS PDU fields.
	AckSN SN10
	Nacks []RLCNack

	// Pad holds the value of the alignment bits that close the header.
	Pad uint8
}

// CarriesSDUStart reports whether the data field begins with the first byte
// of an SDU, i.e. whether a PDCP header is expected right after this header.
func (h *RLCHeader) CarriesSDUStart() bool {
	if !h.Data {
		return false
	}
	if h.FramingInfo&FIFirstNotSDUStart != 0 {
		return false
	}
	return !(h.Resegmented && h.SegmentOffset > 0)
}

// FirstSDULen returns the length of the first SDU of a data field that is
// dataLen bytes long.
func (h *RLCHeader) FirstSDULen(dataLen int) int {
	if len(h.LengthIndicators) > 0 && int(h.LengthIndicators[0]) < dataLen {
		return int(h.LengthIndicators[0])
	}
	return dataLen
}

// ParseRLCHeader parses the RLC AM header at the start of b and returns it
// together with the number of header bytes.
func ParseRLCHeader(b []byte) (*RLCHeader, int, error) {
	if len(b) < rlcFixedLen {
		return nil, 0, fmt.Errorf("%w: rlc: %d bytes", ErrShortBuffer, len(b))
	}
	r := &bitReader{b: b}
	h := &RLCHeader{}
	dc, _ := r.flag()
	h.Data = dc
	var err error
	if h.Data {
		err = h.parseData(r)
	} else {
		err = h.parseStatus(r)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: rlc: %v", ErrMalformed, err)
	}
	if pad := r.padBits(); pad > 0 {
		v, _ := r.read(pad)
		h.Pad = uint8(v)
	}
	return h, r.consumed(), nil
}

func (h *RLCHeader) parseData(r *bitReader) error {
	h.Resegmented, _ = r.flag()
	h.Poll, _ = r.flag()
	fi, _ := r.read(2)
	h.FramingInfo = uint8(fi)
	more, _ := r.flag()
	sn, _ := r.read(10)
	h.SN = SN10(sn)
	if h.Resegmented {
		lsf, err := r.flag()
		if err != nil {
			return err
		}
		so, err := r.read(15)
		if err != nil {
			return err
		}
		h.LastSegment = lsf
		h.SegmentOffset = uint16(so)
	}
	for more {
		e, err := r.flag()
		if err != nil {
			return err
		}
		li, err := r.read(11)
		if err != nil {
			return err
		}
		if li == 0 {
			return fmt.Errorf("zero length indicator")
		}
		h.LengthIndicators = append(h.LengthIndicators, uint16(li))
		more = e
	}
	return nil
}

func (h *RLCHeader) parseStatus(r *bitReader) error {
	cpt, _ := r.read(3)
	if cpt != cptStatus {
		return fmt.Errorf("unsupported control PDU type %d", cpt)
	}
	ack, _ := r.read(10)
	h.AckSN = SN10(ack)
	more, _ := r.flag()
	for more {
		sn, err := r.read(10)
		if err != nil {
			return err
		}
		e1, err := r.flag()
		if err != nil {
			return err
		}
		e2, err := r.flag()
		if err != nil {
			return err
		}
		n := RLCNack{SN: SN10(sn), HasSegment: e2}
		if e2 {
			start, err := r.read(15)
			if err != nil {
				return err
			}
			end, err := r.read(15)
			if err != nil {
				return err
			}
			n.SOStart, n.SOEnd = uint16(start), uint16(end)
		}
		h.Nacks = append(h.Nacks, n)
		more = e1
	}
	return nil
}

// Marshal returns the wire form of the header.
func (h *RLCHeader) Marshal() ([]byte, error) {
	w := &bitWriter{}
	if h.Data {
		if h.SegmentOffset > maxSO {
			return nil, fmt.Errorf("rlc: segment offset %d out of range", h.SegmentOffset)
		}
		w.flag(true)
		w.flag(h.Resegmented)
		w.flag(h.Poll)
		w.write(uint32(h.FramingInfo&0x3), 2)
		w.flag(len(h.LengthIndicators) > 0)
		w.write(uint32(h.SN.Value()), 10)
		if h.Resegmented {
			w.flag(h.LastSegment)
			w.write(uint32(h.SegmentOffset), 15)
		}
		for i, li := range h.LengthIndicators {
			if li == 0 || li > maxLI {
				return nil, fmt.Errorf("rlc: length indicator %d out of range", li)
			}
			w.flag(i < len(h.LengthIndicators)-1)
			w.write(uint32(li), 11)
		}
	} else {
		w.flag(false)
		w.write(cptStatus, 3)
		w.write(uint32(h.AckSN.Value()), 10)
		w.flag(len(h.Nacks) > 0)
		for i, n := range h.Nacks {
			if n.SOStart > maxSO || n.SOEnd > maxSO {
				return nil, fmt.Errorf("rlc: nack segment offsets out of range")
			}
			w.write(uint32(n.SN.Value()), 10)
			w.flag(i < len(h.Nacks)-1)
			w.flag(n.HasSegment)
			if n.HasSegment {
				w.write(uint32(n.SOStart), 15)
				w.write(uint32(n.SOEnd), 15)
			}
		}
	}
	if pad := w.padBits(); pad > 0 {
		w.write(uint32(h.Pad)&(1<<uint(pad)-1), pad)
	}
	return w.bytes(), nil
}
