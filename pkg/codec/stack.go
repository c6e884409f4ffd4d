// Package codec decodes and encodes the header chain seen on an LTE/mmWave
// radio bearer: RLC AM, PDCP, IPv4 and TCP. Decoding never mutates its input
// and Encode(Decode(b)) reproduces b byte for byte.
package codec

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/netstack/tcpip/header"
	"github.com/google/netstack/tcpip/seqnum"
)

var (
	// ErrShortBuffer is returned when a layer is truncated.
	ErrShortBuffer = errors.New("short buffer")
	// ErrMalformed is returned when a layer cannot be decoded.
	ErrMalformed = errors.New("malformed header")
)

// Layer identifies a position in the header chain.
type Layer int

const (
	LayerNone Layer = iota
	LayerRLC
	LayerPDCP
	LayerNetwork
	LayerTransport
)

func (l Layer) String() string {
	switch l {
	case LayerRLC:
		return "rlc"
	case LayerPDCP:
		return "pdcp"
	case LayerNetwork:
		return "ipv4"
	case LayerTransport:
		return "tcp"
	default:
		return "none"
	}
}

// Stack is a decoded header chain. Layers that were not decoded are nil and
// everything after the deepest decoded layer is kept in Payload.
type Stack struct {
	RLC     *RLCHeader
	PDCP    *PDCPHeader
	IP      *IPv4Header
	TCP     *TCPHeader
	Payload []byte
}

// Decode parses b as deep as the layers allow. A STATUS PDU or a data field
// that does not start an SDU stops after RLC, a PDCP control PDU stops after
// PDCP, and an IPv4 packet that is not an unfragmented-start TCP packet stops
// after IPv4. A truncated or malformed layer returns an error and no Stack.
func Decode(b []byte) (*Stack, error) {
	buf := make([]byte, len(b))
	copy(buf, b)

	rlc, n, err := ParseRLCHeader(buf)
	if err != nil {
		return nil, err
	}
	s := &Stack{RLC: rlc}
	rest := buf[n:]
	if !rlc.CarriesSDUStart() {
		s.Payload = rest
		return s, nil
	}

	pdcp, err := ParsePDCPHeader(rest)
	if err != nil {
		return nil, err
	}
	s.PDCP = pdcp
	rest = rest[PDCPHeaderLen:]
	if !pdcp.Data {
		s.Payload = rest
		return s, nil
	}

	ip, err := ParseIPv4Header(rest)
	if err != nil {
		return nil, err
	}
	s.IP = ip
	rest = rest[ip.Len():]
	if !ip.carriesTCP() {
		s.Payload = rest
		return s, nil
	}

	tcp, err := ParseTCPHeader(rest)
	if err != nil {
		return nil, err
	}
	if ip.TotalLen() < ip.Len()+tcp.Len() {
		return nil, fmt.Errorf("%w: ipv4: total length %d shorter than headers", ErrMalformed, ip.TotalLen())
	}
	s.TCP = tcp
	s.Payload = rest[tcp.Len():]
	return s, nil
}

// Depth returns the deepest decoded layer.
func (s *Stack) Depth() Layer {
	switch {
	case s.TCP != nil:
		return LayerTransport
	case s.IP != nil:
		return LayerNetwork
	case s.PDCP != nil:
		return LayerPDCP
	case s.RLC != nil:
		return LayerRLC
	default:
		return LayerNone
	}
}

// Encode serializes the stack.
func (s *Stack) Encode() ([]byte, error) {
	if s.RLC == nil {
		return nil, fmt.Errorf("encode: missing rlc header")
	}
	if (s.TCP != nil && s.IP == nil) || (s.IP != nil && s.PDCP == nil) {
		return nil, fmt.Errorf("encode: header chain has a gap below %s", s.Depth())
	}
	out, err := s.RLC.Marshal()
	if err != nil {
		return nil, err
	}
	if s.PDCP != nil {
		b, err := s.PDCP.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	if s.IP != nil {
		b, err := s.IP.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	if s.TCP != nil {
		b, err := s.TCP.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return append(out, s.Payload...), nil
}

// Segment describes the TCP payload carried by a decoded stack.
type Segment struct {
	Src netip.AddrPort
	Dst netip.AddrPort
	Seq seqnum.Value
	Len seqnum.Size
	// Complete is false when the IPv4 packet continues in a later PDU.
	Complete bool
}

// Block returns the byte range [Seq, Seq+Len).
func (g Segment) Block() header.SACKBlock {
	return header.SACKBlock{Start: g.Seq, End: g.Seq.Add(g.Len)}
}

// Segment extracts the transport information of the stack. ok is false
// when the stack was not decoded down to TCP.
func (s *Stack) Segment() (Segment, bool) {
	if s.TCP == nil || s.IP == nil || s.RLC == nil {
		return Segment{}, false
	}
	g := Segment{
		Src: netip.AddrPortFrom(s.IP.addr(false), uint16(s.TCP.SrcPort)),
		Dst: netip.AddrPortFrom(s.IP.addr(true), uint16(s.TCP.DstPort)),
		Seq: seqnum.Value(s.TCP.Seq),
	}
	payloadLen := s.IP.TotalLen() - s.IP.Len() - s.TCP.Len()
	if payloadLen < 0 {
		return Segment{}, false
	}
	g.Len = seqnum.Size(payloadLen)

	dataField := PDCPHeaderLen + s.IP.Len() + s.TCP.Len() + len(s.Payload)
	available := s.RLC.FirstSDULen(dataField) - PDCPHeaderLen
	g.Complete = s.IP.TotalLen() <= available
	return g, true
}
