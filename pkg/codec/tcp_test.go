package codec

import (
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/google/netstack/tcpip/header"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timestampOption() layers.TCPOption {
	return layers.TCPOption{
		OptionType:   layers.TCPOptionKindTimestamps,
		OptionLength: 10,
		OptionData:   []byte{0, 0, 0, 1, 0, 0, 0, 2},
	}
}

func nop() layers.TCPOption {
	return layers.TCPOption{OptionType: layers.TCPOptionKindNop, OptionLength: 1}
}

func TestAllowedSACKBlocks(t *testing.T) {
	h := &TCPHeader{TCP: layers.TCP{DataOffset: 5}}
	assert.Equal(t, 4, AllowedSACKBlocks(h))

	h.AppendOption(nop())
	h.AppendOption(nop())
	h.AppendOption(timestampOption())
	assert.Equal(t, 12, h.OptionLength())
	assert.Equal(t, 3, AllowedSACKBlocks(h))

	h.Options = append(h.Options, layers.TCPOption{OptionType: 30, OptionLength: 21, OptionData: make([]byte, 19)})
	assert.Equal(t, 0, AllowedSACKBlocks(h))
}

func TestAppendSACKOption(t *testing.T) {
	h := &TCPHeader{TCP: layers.TCP{SrcPort: 5000, DstPort: 40000, ACK: true, Window: 1024, DataOffset: 5}}
	h.AppendOption(nop())
	h.AppendOption(nop())
	h.AppendOption(timestampOption())

	blocks := []header.SACKBlock{{Start: 3000, End: 3500}, {Start: 2000, End: 2500}, {Start: 1000, End: 1500}}
	h.AppendOption(SACKOption(blocks))
	assert.Equal(t, 38, h.OptionLength())
	assert.Equal(t, uint8(15), h.DataOffset)
	assert.Len(t, h.Padding, 2)

	b, err := h.Marshal()
	require.NoError(t, err)
	assert.Len(t, b, 60)

	got, err := ParseTCPHeader(b)
	require.NoError(t, err)
	assert.Equal(t, blocks, SACKBlocks(got))

	again, err := got.Marshal()
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestAppendOptionDropsEndList(t *testing.T) {
	h := &TCPHeader{TCP: layers.TCP{DataOffset: 6}}
	h.Options = []layers.TCPOption{nop(), {OptionType: layers.TCPOptionKindEndList, OptionLength: 1}}
	h.AppendOption(SACKOption([]header.SACKBlock{{Start: 1, End: 2}}))
	require.Len(t, h.Options, 2)
	assert.Equal(t, layers.TCPOptionKind(layers.TCPOptionKindSACK), h.Options[1].OptionType)
	assert.Equal(t, 11, h.OptionLength())
	assert.Equal(t, uint8(8), h.DataOffset)
}

func TestSACKOptionLimits(t *testing.T) {
	var blocks []header.SACKBlock
	for i := 0; i < 6; i++ {
		blocks = append(blocks, header.SACKBlock{})
	}
	opt := SACKOption(blocks)
	assert.Equal(t, uint8(2+4*8), opt.OptionLength)

	_, err := ParseSACKOption(layers.TCPOption{OptionType: layers.TCPOptionKindSACK, OptionData: make([]byte, 7)})
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ParseSACKOption(nop())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestTCPReservedBitsPreserved(t *testing.T) {
	h := &TCPHeader{TCP: layers.TCP{SrcPort: 1, DstPort: 2, ACK: true, DataOffset: 5}, Reserved: 0x5}
	b, err := h.Marshal()
	require.NoError(t, err)
	got, err := ParseTCPHeader(b)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x5), got.Reserved)
	out, err := got.Marshal()
	require.NoError(t, err)
	assert.Equal(t, b, out)
}
