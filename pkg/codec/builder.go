package codec

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket/layers"
	"github.com/google/netstack/tcpip/seqnum"
	"golang.org/x/net/ipv4"
)

// SegmentSpec describes a TCP segment carried as a single SDU of an AMD PDU.
type SegmentSpec struct {
	RLCSN       SN10
	PDCPSN      uint16
	FramingInfo uint8
	Src         netip.AddrPort
	Dst         netip.AddrPort
	Seq         seqnum.Value
	Ack         seqnum.Value
	Payload     []byte
	// IPOptions are carried in the IPv4 header.
	IPOptions []layers.IPv4Option
}

// BuildDataPDU assembles the header chain of a segment with valid lengths and
// checksums.
func BuildDataPDU(spec SegmentSpec) (*Stack, error) {
	if !spec.Src.Addr().Is4() || !spec.Dst.Addr().Is4() {
		return nil, fmt.Errorf("build: IPv4 endpoints required, got %s -> %s", spec.Src, spec.Dst)
	}
	tcp := &TCPHeader{TCP: layers.TCP{
		SrcPort:    layers.TCPPort(spec.Src.Port()),
		DstPort:    layers.TCPPort(spec.Dst.Port()),
		Seq:        uint32(spec.Seq),
		Ack:        uint32(spec.Ack),
		ACK:        true,
		PSH:        len(spec.Payload) > 0,
		Window:     0xffff,
		DataOffset: TCPMinHeaderLen / 4,
	}}
	raw, err := tcp.Finalize(spec.Src.Addr(), spec.Dst.Addr(), spec.Payload)
	if err != nil {
		return nil, err
	}
	tcp, err = ParseTCPHeader(raw)
	if err != nil {
		return nil, err
	}

	ip := &IPv4Header{IPv4: layers.IPv4{
		Version:  ipv4.Version,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP(spec.Src.Addr().AsSlice()),
		DstIP:    net.IP(spec.Dst.Addr().AsSlice()),
		Options:  spec.IPOptions,
	}}
	if err := ip.Finalize(len(raw)); err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	payload := make([]byte, len(spec.Payload))
	copy(payload, spec.Payload)
	return &Stack{
		RLC: &RLCHeader{
			Data:        true,
			FramingInfo: spec.FramingInfo & 0x3,
			SN:          spec.RLCSN,
		},
		PDCP:    &PDCPHeader{Data: true, SN: spec.PDCPSN & 0x0fff},
		IP:      ip,
		TCP:     tcp,
		Payload: payload,
	}, nil
}

// BuildStatusPDU assembles an RLC STATUS PDU.
func BuildStatusPDU(ack SN10, nacks ...RLCNack) *Stack {
	return &Stack{RLC: &RLCHeader{AckSN: ack, Nacks: nacks}}
}

func ipChecksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		if i == 10 {
			continue
		}
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
