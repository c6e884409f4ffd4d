package codec

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/netstack/tcpip/header"
	"github.com/google/netstack/tcpip/seqnum"
)

const (
	// TCPMinHeaderLen is the length of a TCP header without options.
	TCPMinHeaderLen = 20
	// MaxOptionLength is the space available to TCP options (60 - 20).
	MaxOptionLength = 40
	// MaxSACKBlocks is the most SACK blocks a single option can carry.
	MaxSACKBlocks = 4

	sackBlockLen  = 8
	sackOptionHdr = 2
)

// TCPHeader is a TCP header backed by gopacket's decoder. Reserved keeps the
// three reserved bits that gopacket does not model, so a parsed header
// marshals back to the same bytes.
type TCPHeader struct {
	layers.TCP
	Reserved uint8
}

// ParseTCPHeader parses the TCP header at the start of b. The returned
// header's Payload aliases b.
func ParseTCPHeader(b []byte) (*TCPHeader, error) {
	h := &TCPHeader{}
	if err := h.DecodeFromBytes(b, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: tcp: %v", ErrMalformed, err)
	}
	h.Reserved = (b[12] >> 1) & 0x07
	return h, nil
}

// Len is the header length in bytes as given by the data offset.
func (h *TCPHeader) Len() int {
	return int(h.DataOffset) * 4
}

// Marshal returns the header bytes exactly as described by its fields.
func (h *TCPHeader) Marshal() ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := h.TCP.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		return nil, fmt.Errorf("tcp: %w", err)
	}
	out := buf.Bytes()
	out[12] |= (h.Reserved & 0x07) << 1
	return out, nil
}

// Finalize serializes the header followed by payload with lengths and the
// checksum computed for the given IPv4 endpoints.
func (h *TCPHeader) Finalize(src, dst netip.Addr, payload []byte) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		SrcIP:    net.IP(src.AsSlice()),
		DstIP:    net.IP(dst.AsSlice()),
		Protocol: layers.IPProtocolTCP,
	}
	if err := h.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("tcp: %w", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &h.TCP, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("tcp: %w", err)
	}
	return buf.Bytes(), nil
}

// OptionLength is the number of bytes used by options, excluding padding.
func (h *TCPHeader) OptionLength() int {
	n := 0
	for _, o := range h.Options {
		switch o.OptionType {
		case layers.TCPOptionKindEndList, layers.TCPOptionKindNop:
			n++
		default:
			n += sackOptionHdr + len(o.OptionData)
		}
	}
	return n
}

// AppendOption adds opt after the existing options. A trailing end-of-list
// marker and padding are dropped and the data offset is recomputed.
func (h *TCPHeader) AppendOption(opt layers.TCPOption) {
	for len(h.Options) > 0 && h.Options[len(h.Options)-1].OptionType == layers.TCPOptionKindEndList {
		h.Options = h.Options[:len(h.Options)-1]
	}
	h.Options = append(h.Options, opt)
	optLen := h.OptionLength()
	h.Padding = nil
	if rem := optLen % 4; rem != 0 {
		h.Padding = make([]byte, 4-rem)
	}
	h.DataOffset = uint8((TCPMinHeaderLen + optLen + len(h.Padding)) / 4)
}

// AllowedSACKBlocks returns how many SACK blocks still fit in h's option space.
func AllowedSACKBlocks(h *TCPHeader) int {
	avail := MaxOptionLength - h.OptionLength()
	if avail < sackOptionHdr+sackBlockLen {
		return 0
	}
	n := (avail - sackOptionHdr) / sackBlockLen
	if n > MaxSACKBlocks {
		n = MaxSACKBlocks
	}
	return n
}

// SACKOption encodes blocks as a SACK option (kind 5). Blocks beyond
// MaxSACKBlocks are ignored.
func SACKOption(blocks []header.SACKBlock) layers.TCPOption {
	if len(blocks) > MaxSACKBlocks {
		blocks = blocks[:MaxSACKBlocks]
	}
	data := make([]byte, len(blocks)*sackBlockLen)
	for i, b := range blocks {
		binary.BigEndian.PutUint32(data[i*sackBlockLen:], uint32(b.Start))
		binary.BigEndian.PutUint32(data[i*sackBlockLen+4:], uint32(b.End))
	}
	return layers.TCPOption{
		OptionType:   layers.TCPOptionKindSACK,
		OptionLength: uint8(sackOptionHdr + len(data)),
		OptionData:   data,
	}
}

// ParseSACKOption decodes the blocks of a SACK option.
func ParseSACKOption(opt layers.TCPOption) ([]header.SACKBlock, error) {
	if opt.OptionType != layers.TCPOptionKindSACK {
		return nil, fmt.Errorf("%w: option kind %d is not SACK", ErrMalformed, opt.OptionType)
	}
	if len(opt.OptionData)%sackBlockLen != 0 {
		return nil, fmt.Errorf("%w: SACK option data length %d", ErrMalformed, len(opt.OptionData))
	}
	blocks := make([]header.SACKBlock, 0, len(opt.OptionData)/sackBlockLen)
	for i := 0; i+sackBlockLen <= len(opt.OptionData); i += sackBlockLen {
		blocks = append(blocks, header.SACKBlock{
			Start: seqnum.Value(binary.BigEndian.Uint32(opt.OptionData[i:])),
			End:   seqnum.Value(binary.BigEndian.Uint32(opt.OptionData[i+4:])),
		})
	}
	return blocks, nil
}

// SACKBlocks returns the blocks of every SACK option carried by h.
func SACKBlocks(h *TCPHeader) []header.SACKBlock {
	var out []header.SACKBlock
	for _, o := range h.Options {
		if o.OptionType != layers.TCPOptionKindSACK {
			continue
		}
		if blocks, err := ParseSACKOption(o); err == nil {
			out = append(out, blocks...)
		}
	}
	return out
}
