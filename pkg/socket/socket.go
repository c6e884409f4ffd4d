// Package socket is an in-memory receiving TCP environment for the avoider:
// bound sockets with a next expected sequence number and SACK list, grouped
// per endpoint, that record every ACK they are asked to emit.
package socket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/netstack/tcpip/header"
	"github.com/google/netstack/tcpip/seqnum"

	"github.com/irctrakz/l2sack/pkg/codec"
	"github.com/irctrakz/l2sack/pkg/core"
	"github.com/irctrakz/l2sack/pkg/logging"
)

// ErrClosed is returned when sending on an unbound socket.
var ErrClosed = errors.New("socket closed")

// SentAck is an ACK emitted by a Socket.
type SentAck struct {
	// Header is the TCP header after the builder ran.
	Header *codec.TCPHeader
	// Wire is the serialized IPv4 packet.
	Wire []byte
	// Blocks are the SACK blocks carried by the header.
	Blocks []header.SACKBlock
}

// Socket is a bound receiving socket.
type Socket struct {
	local  netip.AddrPort
	remote netip.AddrPort

	mu      sync.Mutex
	cfg     Config
	nextRx  seqnum.Value
	sack    []header.SACKBlock
	tsVal   uint32
	closed  bool
	sendErr error
	sent    []SentAck

	metrics Metrics
}

var _ core.Socket = (*Socket)(nil)

// NewSocket creates a socket from cfg.
func NewSocket(cfg Config) *Socket {
	s := &Socket{
		local:  cfg.Local,
		remote: cfg.Remote,
		cfg:    cfg,
		nextRx: cfg.NextRx,
	}
	s.sack = append(s.sack, cfg.Sack...)
	return s
}

// LocalAddr implements core.Socket.
func (s *Socket) LocalAddr() netip.AddrPort { return s.local }

// RemoteAddr returns the peer address.
func (s *Socket) RemoteAddr() netip.AddrPort { return s.remote }

// NextRx implements core.Socket.
func (s *Socket) NextRx() seqnum.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRx
}

// SetNextRx moves the next expected sequence number, as the TCP stack
// does when in-order data is delivered.
func (s *Socket) SetNextRx(v seqnum.Value) {
	s.mu.Lock()
	s.nextRx = v
	s.mu.Unlock()
}

// SackList implements core.Socket.
func (s *Socket) SackList() []header.SACKBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]header.SACKBlock(nil), s.sack...)
}

// SetSackList replaces the socket's own SACK list.
func (s *Socket) SetSackList(blocks []header.SACKBlock) {
	s.mu.Lock()
	s.sack = append([]header.SACKBlock(nil), blocks...)
	s.mu.Unlock()
}

// FailSends makes every following SendCustomSack return err. A nil err
// restores normal operation.
func (s *Socket) FailSends(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

func (s *Socket) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// SendCustomSack implements core.Socket. The ACK header carries the current
// NextRx and, when configured, a timestamp option; build runs on it before
// it is serialized. build is called without the socket lock held.
func (s *Socket) SendCustomSack(build core.AckBuilder) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		atomic.AddUint64(&s.metrics.Errors, 1)
		return fmt.Errorf("send ack on %s: %w", s.local, ErrClosed)
	}
	if s.sendErr != nil {
		err := s.sendErr
		s.mu.Unlock()
		atomic.AddUint64(&s.metrics.Errors, 1)
		return fmt.Errorf("send ack on %s: %w", s.local, err)
	}
	h := s.ackHeaderLocked()
	s.mu.Unlock()

	if build != nil {
		build(h)
	}

	wire, err := s.serialize(h)
	if err != nil {
		atomic.AddUint64(&s.metrics.Errors, 1)
		return err
	}
	ack := SentAck{Header: h, Wire: wire, Blocks: codec.SACKBlocks(h)}

	s.mu.Lock()
	s.sent = append(s.sent, ack)
	s.mu.Unlock()

	atomic.AddUint64(&s.metrics.AcksSent, 1)
	atomic.AddUint64(&s.metrics.BytesSent, uint64(len(wire)))
	atomic.AddUint64(&s.metrics.SackBlocksSent, uint64(len(ack.Blocks)))
	logging.Debugf("Socket %s sent ACK %d with %d SACK blocks", s.local, uint32(h.Ack), len(ack.Blocks))
	return nil
}

func (s *Socket) ackHeaderLocked() *codec.TCPHeader {
	h := &codec.TCPHeader{TCP: layers.TCP{
		SrcPort:    layers.TCPPort(s.local.Port()),
		DstPort:    layers.TCPPort(s.remote.Port()),
		Seq:        uint32(s.cfg.SndNxt),
		Ack:        uint32(s.nextRx),
		ACK:        true,
		Window:     s.cfg.Window,
		DataOffset: codec.TCPMinHeaderLen / 4,
	}}
	if s.cfg.Timestamps {
		s.tsVal++
		ts := make([]byte, 8)
		binary.BigEndian.PutUint32(ts, s.tsVal)
		h.AppendOption(layers.TCPOption{OptionType: layers.TCPOptionKindNop, OptionLength: 1})
		h.AppendOption(layers.TCPOption{OptionType: layers.TCPOptionKindNop, OptionLength: 1})
		h.AppendOption(layers.TCPOption{OptionType: layers.TCPOptionKindTimestamps, OptionLength: 10, OptionData: ts})
	}
	return h
}

func (s *Socket) serialize(h *codec.TCPHeader) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		Id:       nextIPID(),
		Flags:    layers.IPv4DontFragment,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP(s.local.Addr().AsSlice()),
		DstIP:    net.IP(s.remote.Addr().AsSlice()),
	}
	if err := h.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("send ack on %s: %w", s.local, err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, &h.TCP); err != nil {
		return nil, fmt.Errorf("send ack on %s: %w", s.local, err)
	}
	return buf.Bytes(), nil
}

// SentAcks returns every ACK emitted so far.
func (s *Socket) SentAcks() []SentAck {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentAck(nil), s.sent...)
}

// LastAck returns the most recent ACK.
func (s *Socket) LastAck() (SentAck, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return SentAck{}, false
	}
	return s.sent[len(s.sent)-1], true
}

// Metrics returns the socket counters.
func (s *Socket) Metrics() Metrics {
	return loadMetrics(&s.metrics)
}
