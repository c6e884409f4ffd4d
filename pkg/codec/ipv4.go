package codec

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/ipv4"
)

// IPv4Header is a wire-format IPv4 header backed by gopacket's decoder.
// Options and Padding hold the option area as decoded, so a parsed header
// marshals back to the same bytes.
type IPv4Header struct {
	layers.IPv4
}

// ParseIPv4Header parses the IPv4 header at the start of b and checks the
// fields the rest of the stack depends on. b may be shorter than the total
// length when the packet continues in a later PDU.
func ParseIPv4Header(b []byte) (*IPv4Header, error) {
	if len(b) < ipv4.HeaderLen {
		return nil, fmt.Errorf("%w: ipv4: header truncated at %d bytes", ErrMalformed, len(b))
	}
	if b[0]>>4 != ipv4.Version {
		return nil, fmt.Errorf("%w: ipv4: version %d", ErrMalformed, b[0]>>4)
	}
	// gopacket substitutes the buffer length for a zero total length.
	if n := binary.BigEndian.Uint16(b[2:4]); n < ipv4.HeaderLen {
		return nil, fmt.Errorf("%w: ipv4: total length %d", ErrMalformed, n)
	}
	h := &IPv4Header{}
	if err := h.DecodeFromBytes(b, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: ipv4: %v", ErrMalformed, err)
	}
	return h, nil
}

// Len is the header length in bytes as given by IHL.
func (h *IPv4Header) Len() int {
	return int(h.IHL) * 4
}

// TotalLen is the packet length carried in the header.
func (h *IPv4Header) TotalLen() int {
	return int(h.Length)
}

// Marshal returns the header bytes exactly as described by its fields. The
// option area is written from Options and Padding and zero filled up to Len.
func (h *IPv4Header) Marshal() ([]byte, error) {
	fixed := h.IPv4
	fixed.Options = nil
	fixed.Padding = nil
	buf := gopacket.NewSerializeBuffer()
	if err := fixed.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		return nil, fmt.Errorf("ipv4: %w", err)
	}
	out := make([]byte, 0, h.Len())
	out = append(out, buf.Bytes()...)
	for _, o := range h.Options {
		switch o.OptionType {
		case 0, 1:
			out = append(out, o.OptionType)
		default:
			if int(o.OptionLength) != 2+len(o.OptionData) {
				return nil, fmt.Errorf("ipv4: option %d length %d carries %d data bytes", o.OptionType, o.OptionLength, len(o.OptionData))
			}
			out = append(out, o.OptionType, o.OptionLength)
			out = append(out, o.OptionData...)
		}
	}
	out = append(out, h.Padding...)
	if len(out) > h.Len() {
		return nil, fmt.Errorf("ipv4: options need %d bytes, header length is %d", len(out), h.Len())
	}
	for len(out) < h.Len() {
		out = append(out, 0)
	}
	return out, nil
}

// Finalize sets the header length, total length and checksum for a packet
// carrying n bytes after the header.
func (h *IPv4Header) Finalize(n int) error {
	optLen := 0
	for _, o := range h.Options {
		if o.OptionType <= 1 {
			optLen++
			continue
		}
		optLen += 2 + len(o.OptionData)
	}
	optLen += len(h.Padding)
	if rem := optLen % 4; rem != 0 {
		optLen += 4 - rem
	}
	h.IHL = uint8((ipv4.HeaderLen + optLen) / 4)
	h.Length = uint16(h.Len() + n)
	h.Checksum = 0
	b, err := h.Marshal()
	if err != nil {
		return err
	}
	h.Checksum = ipChecksum(b)
	return nil
}

func (h *IPv4Header) addr(dst bool) netip.Addr {
	ip := h.SrcIP
	if dst {
		ip = h.DstIP
	}
	a, ok := netip.AddrFromSlice(ip.To4())
	if !ok {
		return netip.Addr{}
	}
	return a
}

func (h *IPv4Header) carriesTCP() bool {
	return h.Protocol == layers.IPProtocolTCP && h.FragOffset == 0
}
