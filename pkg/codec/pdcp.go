package codec

import "fmt"

// PDCPHeaderLen is the length of a PDCP data PDU header with a 12-bit SN.
const PDCPHeaderLen = 2

// PDCPHeader is a PDCP header with a 12-bit sequence number.
type PDCPHeader struct {
	Data     bool
	Reserved uint8 // 3 bits, zero on the wire in practice
	SN       uint16
}

// ParsePDCPHeader parses the PDCP header at the start of b.
func ParsePDCPHeader(b []byte) (*PDCPHeader, error) {
	if len(b) < PDCPHeaderLen {
		return nil, fmt.Errorf("%w: pdcp: %d bytes", ErrShortBuffer, len(b))
	}
	return &PDCPHeader{
		Data:     b[0]&0x80 != 0,
		Reserved: (b[0] >> 4) & 0x07,
		SN:       uint16(b[0]&0x0f)<<8 | uint16(b[1]),
	}, nil
}

// Marshal returns the wire form of the header.
func (h *PDCPHeader) Marshal() ([]byte, error) {
	if h.SN > 0x0fff {
		return nil, fmt.Errorf("pdcp: sequence number %d out of range", h.SN)
	}
	b := make([]byte, PDCPHeaderLen)
	if h.Data {
		b[0] = 0x80
	}
	b[0] |= (h.Reserved & 0x07) << 4
	b[0] |= byte(h.SN >> 8)
	b[1] = byte(h.SN)
	return b, nil
}
