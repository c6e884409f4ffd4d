package avoider

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/google/netstack/tcpip/header"
	"github.com/google/netstack/tcpip/seqnum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/l2sack/pkg/codec"
	"github.com/irctrakz/l2sack/pkg/core"
	"github.com/irctrakz/l2sack/pkg/socket"
)

var (
	localAddr  = netip.MustParseAddrPort("10.0.0.2:5000")
	remoteAddr = netip.MustParseAddrPort("192.168.1.10:40000")
)

func blk(start, end uint32) header.SACKBlock {
	return header.SACKBlock{Start: seqnum.Value(start), End: seqnum.Value(end)}
}

type testEnv struct {
	table   *socket.Table
	sock    *socket.Socket
	avoider *Avoider
}

func newEnv(t *testing.T, nextRx uint32, mut func(*socket.Config, *core.AvoiderConfig)) *testEnv {
	t.Helper()
	scfg := socket.DefaultConfig()
	scfg.Local = localAddr
	scfg.Remote = remoteAddr
	scfg.NextRx = seqnum.Value(nextRx)
	acfg := core.DefaultAvoiderConfig()
	if mut != nil {
		mut(&scfg, &acfg)
	}
	table := socket.NewTable("ue1")
	sock, err := table.Bind(scfg)
	require.NoError(t, err)
	return &testEnv{table: table, sock: sock, avoider: New(table, acfg)}
}

type pduOpt func(*codec.SegmentSpec, *codec.Stack)

func withLI(li uint16) pduOpt {
	return func(_ *codec.SegmentSpec, s *codec.Stack) { s.RLC.LengthIndicators = []uint16{li} }
}

func segmentPDU(t *testing.T, sn codec.SN10, dst netip.AddrPort, seq uint32, n int, opts ...pduOpt) core.Packet {
	t.Helper()
	spec := codec.SegmentSpec{
		RLCSN:   sn,
		Src:     remoteAddr,
		Dst:     dst,
		Seq:     seqnum.Value(seq),
		Payload: make([]byte, n),
	}
	s, err := codec.BuildDataPDU(spec)
	require.NoError(t, err)
	for _, o := range opts {
		o(&spec, s)
	}
	b, err := s.Encode()
	require.NoError(t, err)
	return core.NewPacket(b)
}

func (e *testEnv) notify(pkt core.Packet, vrR codec.SN10) core.Outcome {
	return e.avoider.HandleBuffering(core.BufferingNotification{
		Endpoint: "ue1",
		Local:    localAddr,
		Packet:   pkt,
		VrR:      vrR,
	})
}

func TestEndToEndAccepted(t *testing.T) {
	env := newEnv(t, 1000, nil)

	out := env.notify(segmentPDU(t, 901, localAddr, 1000, 500), 900)
	assert.Equal(t, core.OutcomeAckSent, out)

	st := env.avoider.Current()
	require.NotNil(t, st)
	assert.Equal(t, []header.SACKBlock{blk(1000, 1500)}, st.Blocks())
	assert.Equal(t, 0, st.Pending())

	ack, ok := env.sock.LastAck()
	require.True(t, ok)
	assert.Equal(t, []header.SACKBlock{blk(1000, 1500)}, ack.Blocks)

	m := env.avoider.Metrics()
	assert.Equal(t, uint64(1), m.Connections)
	assert.Equal(t, uint64(1), m.Queued)
	assert.Equal(t, uint64(1), m.Forwarded)
	assert.Equal(t, uint64(1), m.BlocksInjected)
	assert.Equal(t, uint64(1), m.AcksSent)
}

func TestEndToEndAlreadyDelivered(t *testing.T) {
	env := newEnv(t, 1000, nil)
	env.sock.SetNextRx(1600)

	out := env.notify(segmentPDU(t, 901, localAddr, 1000, 500), 900)
	assert.Equal(t, core.OutcomeAckSent, out)

	st := env.avoider.Current()
	require.NotNil(t, st)
	assert.Empty(t, st.Blocks())

	ack, ok := env.sock.LastAck()
	require.True(t, ok)
	assert.Empty(t, ack.Blocks)
	assert.Equal(t, uint32(1600), ack.Header.Ack)
	assert.Equal(t, uint64(1), env.avoider.Metrics().Stale)
}

func TestStraddlingRangeIsStale(t *testing.T) {
	env := newEnv(t, 1000, nil)
	out := env.notify(segmentPDU(t, 5, localAddr, 900, 600), 4)
	assert.Equal(t, core.OutcomeAckSent, out)
	assert.Empty(t, env.avoider.Current().Blocks())

	ack, ok := env.sock.LastAck()
	require.True(t, ok)
	assert.Empty(t, ack.Blocks)
	assert.Equal(t, uint32(1000), ack.Header.Ack)
	assert.Equal(t, uint64(1), env.avoider.Metrics().Stale)
	assert.Zero(t, env.avoider.Metrics().Forwarded)

	// A range starting exactly at the next expected byte is kept.
	env.notify(segmentPDU(t, 6, localAddr, 1000, 500), 4)
	assert.Equal(t, []header.SACKBlock{blk(1000, 1500)}, env.avoider.Current().Blocks())
}

func TestAdjacentSegmentsMerge(t *testing.T) {
	env := newEnv(t, 500, nil)
	env.notify(segmentPDU(t, 5, localAddr, 1000, 500), 4)
	env.notify(segmentPDU(t, 6, localAddr, 2000, 500), 4)
	env.notify(segmentPDU(t, 7, localAddr, 1500, 500), 4)

	assert.Equal(t, []header.SACKBlock{blk(1000, 2500)}, env.avoider.Current().Blocks())
	ack, _ := env.sock.LastAck()
	assert.Equal(t, []header.SACKBlock{blk(1000, 2500)}, ack.Blocks)
	assert.Len(t, env.sock.SentAcks(), 3)
}

func TestBlocksAdvanceWithNextRx(t *testing.T) {
	env := newEnv(t, 500, nil)
	env.notify(segmentPDU(t, 5, localAddr, 1000, 100), 4)
	env.notify(segmentPDU(t, 6, localAddr, 2000, 100), 4)

	env.sock.SetNextRx(1100)
	env.notify(segmentPDU(t, 7, localAddr, 3000, 100), 4)
	assert.Equal(t, []header.SACKBlock{blk(3000, 3100), blk(2000, 2100)}, env.avoider.Current().Blocks())
}

func TestOptionSpaceLimitsBlocks(t *testing.T) {
	env := newEnv(t, 0, func(s *socket.Config, _ *core.AvoiderConfig) { s.Timestamps = true })
	for i := uint32(0); i < 5; i++ {
		env.notify(segmentPDU(t, codec.SN10(10+i), localAddr, 1000+i*1000, 100), 9)
	}
	assert.Len(t, env.avoider.Current().Blocks(), 4)

	ack, _ := env.sock.LastAck()
	assert.Equal(t, []header.SACKBlock{blk(5000, 5100), blk(4000, 4100), blk(3000, 3100)}, ack.Blocks)
	assert.Equal(t, uint64(1), env.avoider.Metrics().Evictions)
}

func TestMaxSackBlocksConfig(t *testing.T) {
	env := newEnv(t, 0, func(_ *socket.Config, c *core.AvoiderConfig) { c.MaxSackBlocks = 2 })
	for i := uint32(0); i < 3; i++ {
		env.notify(segmentPDU(t, codec.SN10(10+i), localAddr, 1000+i*1000, 100), 9)
	}
	ack, _ := env.sock.LastAck()
	assert.Equal(t, []header.SACKBlock{blk(3000, 3100), blk(2000, 2100)}, ack.Blocks)
}

func TestOutOfWindow(t *testing.T) {
	env := newEnv(t, 1000, nil)
	assert.Equal(t, core.OutcomeOutOfWindow, env.notify(segmentPDU(t, 900, localAddr, 1000, 500), 900))
	assert.Equal(t, core.OutcomeOutOfWindow, env.notify(segmentPDU(t, 899, localAddr, 1000, 500), 900))
	assert.Empty(t, env.sock.SentAcks())
	assert.Equal(t, 0, env.avoider.Correlator().Len())
}

func TestNoTransport(t *testing.T) {
	env := newEnv(t, 1000, nil)

	status, err := codec.BuildStatusPDU(5).Encode()
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeNoTransport, env.notify(core.NewPacket(status), 4))

	assert.Equal(t, core.OutcomeNoTransport, env.notify(core.NewPacket([]byte{0x80, 0x05, 0x80}), 4))
	assert.Equal(t, core.OutcomeNoTransport, env.notify(nil, 4))

	m := env.avoider.Metrics()
	assert.Equal(t, uint64(3), m.NoTransport)
	assert.Equal(t, uint64(1), m.DecodeErrors)
	assert.Empty(t, env.sock.SentAcks())
}

func TestDecodeDoesNotTouchPacket(t *testing.T) {
	env := newEnv(t, 1000, nil)
	pkt := segmentPDU(t, 901, localAddr, 1000, 500)
	before := append([]byte(nil), pkt.Data()...)
	env.notify(pkt, 900)
	assert.Equal(t, before, pkt.Data())
}

func TestUncorrelatedAndPortZero(t *testing.T) {
	env := newEnv(t, 1000, func(_ *socket.Config, c *core.AvoiderConfig) { c.MatchLocalAddress = false })

	require.Equal(t, core.OutcomeAckSent, env.notify(segmentPDU(t, 5, localAddr, 1000, 10), 4))
	require.NotNil(t, env.avoider.Current())

	other := netip.MustParseAddrPort("10.0.0.9:5000")
	assert.Equal(t, core.OutcomeUncorrelated, env.notify(segmentPDU(t, 6, other, 1000, 10), 4))
	assert.Nil(t, env.avoider.Current())

	require.Equal(t, core.OutcomeAckSent, env.notify(segmentPDU(t, 7, localAddr, 2000, 10), 4))
	noPort := netip.AddrPortFrom(localAddr.Addr(), 0)
	assert.Equal(t, core.OutcomeUncorrelated, env.notify(segmentPDU(t, 8, noPort, 3000, 10), 4))
	assert.Nil(t, env.avoider.Current())
	assert.Equal(t, uint64(2), env.avoider.Metrics().Uncorrelated)
}

func TestAddressMismatch(t *testing.T) {
	env := newEnv(t, 1000, nil)
	other := netip.MustParseAddrPort("10.0.0.9:5000")
	assert.Equal(t, core.OutcomeAddressMismatch, env.notify(segmentPDU(t, 5, other, 1000, 10), 4))

	// Without a local address the filter does not apply.
	out := env.avoider.HandleBuffering(core.BufferingNotification{
		Endpoint: "ue1",
		Packet:   segmentPDU(t, 5, localAddr, 1000, 10),
		VrR:      4,
	})
	assert.Equal(t, core.OutcomeAckSent, out)
}

func TestIncompleteSegmentSkipped(t *testing.T) {
	env := newEnv(t, 500, nil)
	env.notify(segmentPDU(t, 5, localAddr, 1000, 100), 4)

	out := env.notify(segmentPDU(t, 6, localAddr, 2000, 500, withLI(100)), 4)
	assert.Equal(t, core.OutcomeIncomplete, out)
	assert.Equal(t, []header.SACKBlock{blk(1000, 1100)}, env.avoider.Current().Blocks())

	ack, _ := env.sock.LastAck()
	assert.Equal(t, []header.SACKBlock{blk(1000, 1100)}, ack.Blocks)
	assert.Len(t, env.sock.SentAcks(), 2)
}

func TestIncompleteSegmentTrackedWhenAllowed(t *testing.T) {
	env := newEnv(t, 500, func(_ *socket.Config, c *core.AvoiderConfig) { c.SkipIncompleteSegments = false })
	out := env.notify(segmentPDU(t, 6, localAddr, 2000, 500, withLI(100)), 4)
	assert.Equal(t, core.OutcomeAckSent, out)
	assert.Equal(t, []header.SACKBlock{blk(2000, 2500)}, env.avoider.Current().Blocks())
}

func TestSendFailure(t *testing.T) {
	env := newEnv(t, 1000, nil)
	env.sock.FailSends(errors.New("link down"))
	assert.Equal(t, core.OutcomeSendFailed, env.notify(segmentPDU(t, 901, localAddr, 1000, 500), 900))
	assert.Equal(t, uint64(1), env.avoider.Metrics().SendErrors)

	// The range is kept for the next ACK.
	env.sock.FailSends(nil)
	env.notify(segmentPDU(t, 902, localAddr, 3000, 500), 900)
	ack, _ := env.sock.LastAck()
	assert.Equal(t, []header.SACKBlock{blk(3000, 3500), blk(1000, 1500)}, ack.Blocks)
}

func TestOverlapReplacesBlock(t *testing.T) {
	env := newEnv(t, 500, nil)
	env.notify(segmentPDU(t, 5, localAddr, 1000, 500), 4)
	env.notify(segmentPDU(t, 6, localAddr, 1200, 500), 4)
	assert.Equal(t, []header.SACKBlock{blk(1200, 1700)}, env.avoider.Current().Blocks())
	assert.Equal(t, uint64(1), env.avoider.Metrics().Overlaps)
}

func TestBuildSackOptionUnchangedWhenEmpty(t *testing.T) {
	env := newEnv(t, 1000, nil)
	st, created := env.avoider.Correlator().Correlate(localAddr)
	require.True(t, created)

	require.NoError(t, env.sock.SendCustomSack(env.avoider.BuildSackOption(st)))
	ack, _ := env.sock.LastAck()
	assert.Empty(t, ack.Header.Options)
	assert.Equal(t, uint8(5), ack.Header.DataOffset)
}
