// Package replay drives a Hub from a YAML scenario: a set of endpoints with
// bound sockets and an ordered list of link-layer buffering events.
package replay

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/google/netstack/tcpip/header"
	"github.com/google/netstack/tcpip/seqnum"
	"gopkg.in/yaml.v3"

	"github.com/irctrakz/l2sack/pkg/codec"
	"github.com/irctrakz/l2sack/pkg/socket"
)

// ErrScenario is wrapped by every scenario validation error.
var ErrScenario = errors.New("invalid scenario")

// Scenario is a replayable description of a receiver and its link events.
type Scenario struct {
	Endpoints []EndpointSpec `yaml:"endpoints"`
	Events    []Event        `yaml:"events"`
}

// EndpointSpec describes one receiving endpoint.
type EndpointSpec struct {
	ID      string       `yaml:"id"`
	Sockets []SocketSpec `yaml:"sockets"`
}

// SocketSpec describes one socket bound on an endpoint.
type SocketSpec struct {
	Local      string      `yaml:"local"`
	Remote     string      `yaml:"remote"`
	NextRx     uint32      `yaml:"nextRx"`
	SndNxt     uint32      `yaml:"sndNxt"`
	Window     uint16      `yaml:"window"`
	Timestamps bool        `yaml:"timestamps"`
	Sack       []BlockSpec `yaml:"sack"`
}

// BlockSpec is a byte range [Start, End).
type BlockSpec struct {
	Start uint32 `yaml:"start"`
	End   uint32 `yaml:"end"`
}

// Event is one step of a scenario. Exactly one of PDU, Segment or Advance
// is set.
type Event struct {
	Endpoint string `yaml:"endpoint"`
	// Local is the bearer's receiver address, if the link layer knows it.
	Local string `yaml:"local"`
	VrR   uint16 `yaml:"vrR"`
	VrH   uint16 `yaml:"vrH"`

	// PDU is a raw RLC PDU in hex.
	PDU     string        `yaml:"pdu"`
	Segment *SegmentEvent `yaml:"segment"`
	Advance *AdvanceEvent `yaml:"advance"`
}

// SegmentEvent synthesizes a PDU carrying one TCP segment, or a STATUS PDU.
type SegmentEvent struct {
	RLCSN   uint16 `yaml:"rlcSN"`
	PDCPSN  uint16 `yaml:"pdcpSN"`
	Src     string `yaml:"src"`
	Dst     string `yaml:"dst"`
	SrcPort uint16 `yaml:"srcPort"`
	DstPort uint16 `yaml:"dstPort"`
	Seq     uint32 `yaml:"seq"`
	Len     int    `yaml:"len"`
	FI      uint8  `yaml:"fi"`
	// LI ends the first SDU after LI bytes, so the segment continues in a
	// later PDU when LI is shorter than the IPv4 packet.
	LI        uint16 `yaml:"li"`
	StatusPDU bool   `yaml:"statusPdu"`
}

// AdvanceEvent changes the state of a bound socket: its next expected
// sequence number, as in-order delivery would, its own SACK list, or its
// ability to send.
type AdvanceEvent struct {
	Socket string  `yaml:"socket"`
	NextRx *uint32 `yaml:"nextRx"`
	// Sack replaces the socket's SACK list when set.
	Sack []BlockSpec `yaml:"sack"`
	// Fail makes following sends fail with this message; Restore clears it.
	Fail    string `yaml:"fail"`
	Restore bool   `yaml:"restore"`
	// Unbind closes the socket.
	Unbind bool `yaml:"unbind"`
}

// Kind names the event type.
func (e *Event) Kind() string {
	switch {
	case e.Advance != nil:
		return "advance"
	case e.Segment != nil && e.Segment.StatusPDU:
		return "status"
	case e.Segment != nil:
		return "segment"
	default:
		return "pdu"
	}
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML scenario.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that every endpoint, socket and event is well formed.
func (s *Scenario) Validate() error {
	ids := make(map[string]bool)
	for i, ep := range s.Endpoints {
		if ep.ID == "" {
			return fmt.Errorf("%w: endpoint %d has no id", ErrScenario, i)
		}
		if ids[ep.ID] {
			return fmt.Errorf("%w: duplicate endpoint %q", ErrScenario, ep.ID)
		}
		ids[ep.ID] = true
		for j, sock := range ep.Sockets {
			if _, err := sock.config(); err != nil {
				return fmt.Errorf("%w: endpoint %q socket %d: %v", ErrScenario, ep.ID, j, err)
			}
		}
	}
	for i := range s.Events {
		if err := s.Events[i].validate(); err != nil {
			return fmt.Errorf("%w: event %d: %v", ErrScenario, i, err)
		}
	}
	return nil
}

// Network binds every socket of the scenario on a fresh socket.Network.
func (s *Scenario) Network() (*socket.Network, error) {
	net := socket.NewNetwork()
	for _, ep := range s.Endpoints {
		tbl := net.Table(ep.ID)
		for _, spec := range ep.Sockets {
			cfg, err := spec.config()
			if err != nil {
				return nil, fmt.Errorf("%w: endpoint %q: %v", ErrScenario, ep.ID, err)
			}
			if _, err := tbl.Bind(cfg); err != nil {
				return nil, fmt.Errorf("endpoint %q: %w", ep.ID, err)
			}
		}
	}
	return net, nil
}

func (s SocketSpec) config() (socket.Config, error) {
	cfg := socket.DefaultConfig()
	var err error
	if cfg.Local, err = netip.ParseAddrPort(s.Local); err != nil {
		return cfg, fmt.Errorf("local: %w", err)
	}
	if cfg.Remote, err = netip.ParseAddrPort(s.Remote); err != nil {
		return cfg, fmt.Errorf("remote: %w", err)
	}
	cfg.NextRx = seqnum.Value(s.NextRx)
	cfg.SndNxt = seqnum.Value(s.SndNxt)
	if s.Window != 0 {
		cfg.Window = s.Window
	}
	cfg.Timestamps = s.Timestamps
	cfg.Sack = sackBlocks(s.Sack)
	return cfg, nil
}

func sackBlocks(specs []BlockSpec) []header.SACKBlock {
	var out []header.SACKBlock
	for _, b := range specs {
		out = append(out, header.SACKBlock{Start: seqnum.Value(b.Start), End: seqnum.Value(b.End)})
	}
	return out
}

func (e *Event) validate() error {
	set := 0
	if e.PDU != "" {
		set++
	}
	if e.Segment != nil {
		set++
	}
	if e.Advance != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of pdu, segment or advance must be set, got %d", set)
	}
	if e.Endpoint == "" {
		return errors.New("no endpoint")
	}
	if e.Local != "" {
		if _, err := netip.ParseAddrPort(e.Local); err != nil {
			return fmt.Errorf("local: %w", err)
		}
	}
	if e.VrR >= 1024 || e.VrH >= 1024 {
		return fmt.Errorf("window state %d/%d exceeds the 10-bit sequence space", e.VrR, e.VrH)
	}
	switch {
	case e.Advance != nil:
		if _, err := netip.ParseAddrPort(e.Advance.Socket); err != nil {
			return fmt.Errorf("advance socket: %w", err)
		}
		if e.Advance.Fail != "" && e.Advance.Restore {
			return errors.New("advance: fail and restore are exclusive")
		}
	default:
		if _, err := e.Packet(); err != nil {
			return err
		}
	}
	return nil
}

// Packet returns the PDU bytes of a pdu, segment or status event.
func (e *Event) Packet() ([]byte, error) {
	if e.PDU != "" {
		b, err := hex.DecodeString(strings.Join(strings.Fields(e.PDU), ""))
		if err != nil {
			return nil, fmt.Errorf("pdu: %w", err)
		}
		return b, nil
	}
	if e.Segment == nil {
		return nil, errors.New("event carries no PDU")
	}
	stack, err := e.Segment.stack()
	if err != nil {
		return nil, err
	}
	return stack.Encode()
}

func (g *SegmentEvent) stack() (*codec.Stack, error) {
	if g.RLCSN >= 1024 {
		return nil, fmt.Errorf("segment: RLC SN %d exceeds 10 bits", g.RLCSN)
	}
	if g.StatusPDU {
		return codec.BuildStatusPDU(codec.SN10(g.RLCSN)), nil
	}
	src, err := netip.ParseAddr(g.Src)
	if err != nil {
		return nil, fmt.Errorf("segment src: %w", err)
	}
	dst, err := netip.ParseAddr(g.Dst)
	if err != nil {
		return nil, fmt.Errorf("segment dst: %w", err)
	}
	if g.Len < 0 {
		return nil, fmt.Errorf("segment: negative length %d", g.Len)
	}
	stack, err := codec.BuildDataPDU(codec.SegmentSpec{
		RLCSN:       codec.SN10(g.RLCSN),
		PDCPSN:      g.PDCPSN,
		FramingInfo: g.FI,
		Src:         netip.AddrPortFrom(src, g.SrcPort),
		Dst:         netip.AddrPortFrom(dst, g.DstPort),
		Seq:         seqnum.Value(g.Seq),
		Payload:     make([]byte, g.Len),
	})
	if err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}
	if g.LI != 0 {
		stack.RLC.LengthIndicators = []uint16{g.LI}
	}
	return stack, nil
}
