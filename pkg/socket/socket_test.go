package socket

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/netstack/tcpip/header"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/l2sack/pkg/codec"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Local = netip.MustParseAddrPort("10.0.0.2:5000")
	cfg.Remote = netip.MustParseAddrPort("192.168.1.10:40000")
	cfg.NextRx = 1000
	cfg.SndNxt = 77
	return cfg
}

func TestSendCustomSack(t *testing.T) {
	s := NewSocket(testConfig())
	blocks := []header.SACKBlock{{Start: 2000, End: 2500}, {Start: 1500, End: 1600}}

	var allowed int
	err := s.SendCustomSack(func(h *codec.TCPHeader) {
		allowed = codec.AllowedSACKBlocks(h)
		h.AppendOption(codec.SACKOption(blocks))
	})
	require.NoError(t, err)
	assert.Equal(t, 4, allowed)

	ack, ok := s.LastAck()
	require.True(t, ok)
	assert.Equal(t, blocks, ack.Blocks)
	assert.Equal(t, uint32(1000), ack.Header.Ack)

	pkt := gopacket.NewPacket(ack.Wire, layers.LayerTypeIPv4, gopacket.Default)
	ip, _ := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.NotNil(t, ip)
	assert.Equal(t, "10.0.0.2", ip.SrcIP.String())
	assert.Equal(t, "192.168.1.10", ip.DstIP.String())
	assert.Equal(t, uint16(len(ack.Wire)), ip.Length)

	tcp, _ := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	require.NotNil(t, tcp)
	assert.Equal(t, layers.TCPPort(5000), tcp.SrcPort)
	assert.Equal(t, layers.TCPPort(40000), tcp.DstPort)
	assert.Equal(t, uint32(77), tcp.Seq)
	assert.True(t, tcp.ACK)
	assert.Equal(t, blocks, codec.SACKBlocks(&codec.TCPHeader{TCP: *tcp}))

	m := s.Metrics()
	assert.Equal(t, uint64(1), m.AcksSent)
	assert.Equal(t, uint64(2), m.SackBlocksSent)
	assert.Equal(t, uint64(len(ack.Wire)), m.BytesSent)
}

func TestSendCustomSackTimestamps(t *testing.T) {
	cfg := testConfig()
	cfg.Timestamps = true
	s := NewSocket(cfg)

	var allowed int
	require.NoError(t, s.SendCustomSack(func(h *codec.TCPHeader) {
		allowed = codec.AllowedSACKBlocks(h)
	}))
	assert.Equal(t, 3, allowed)

	ack, _ := s.LastAck()
	assert.Empty(t, ack.Blocks)
	assert.Equal(t, 12, ack.Header.OptionLength())
}

func TestSendCustomSackNilBuilder(t *testing.T) {
	s := NewSocket(testConfig())
	require.NoError(t, s.SendCustomSack(nil))
	ack, ok := s.LastAck()
	require.True(t, ok)
	assert.Len(t, ack.Wire, 40)
	assert.Empty(t, ack.Blocks)
}

func TestSendCustomSackFailures(t *testing.T) {
	s := NewSocket(testConfig())
	boom := errors.New("boom")
	s.FailSends(boom)
	called := false
	err := s.SendCustomSack(func(*codec.TCPHeader) { called = true })
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)

	s.FailSends(nil)
	assert.NoError(t, s.SendCustomSack(nil))

	s.close()
	assert.ErrorIs(t, s.SendCustomSack(nil), ErrClosed)
	assert.Equal(t, uint64(2), s.Metrics().Errors)
	assert.Len(t, s.SentAcks(), 1)
}

func TestSocketState(t *testing.T) {
	cfg := testConfig()
	cfg.Sack = []header.SACKBlock{{Start: 3000, End: 3100}}
	s := NewSocket(cfg)

	assert.Equal(t, cfg.Sack, s.SackList())
	list := s.SackList()
	list[0].Start = 1
	assert.Equal(t, cfg.Sack, s.SackList())

	s.SetNextRx(1600)
	assert.EqualValues(t, 1600, s.NextRx())
	s.SetSackList(nil)
	assert.Empty(t, s.SackList())
}

func TestResetMetrics(t *testing.T) {
	s := NewSocket(testConfig())
	require.NoError(t, s.SendCustomSack(nil))
	ResetMetrics(&s.metrics)
	assert.Equal(t, Metrics{}, s.Metrics())
}
