package socket

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableBind(t *testing.T) {
	tbl := NewTable("ue1")
	assert.Equal(t, "ue1", tbl.ID())

	a := testConfig()
	b := testConfig()
	b.Local = netip.MustParseAddrPort("10.0.0.2:4000")

	sa, err := tbl.Bind(a)
	require.NoError(t, err)
	_, err = tbl.Bind(b)
	require.NoError(t, err)

	_, err = tbl.Bind(a)
	assert.Error(t, err)

	socks := tbl.Sockets()
	require.Len(t, socks, 2)
	assert.Equal(t, b.Local, socks[0].LocalAddr())
	assert.Equal(t, a.Local, socks[1].LocalAddr())

	got, ok := tbl.Lookup(a.Local)
	assert.True(t, ok)
	assert.Same(t, sa, got)
}

func TestTableBindRejects(t *testing.T) {
	tbl := NewTable("ue1")
	_, err := tbl.Bind(Config{})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Local = netip.MustParseAddrPort("[fe80::1]:5000")
	_, err = tbl.Bind(cfg)
	assert.Error(t, err)
}

func TestTableUnbind(t *testing.T) {
	tbl := NewTable("ue1")
	s, err := tbl.Bind(testConfig())
	require.NoError(t, err)

	assert.True(t, tbl.Unbind(s.LocalAddr()))
	assert.False(t, tbl.Unbind(s.LocalAddr()))
	assert.Empty(t, tbl.Sockets())
	assert.ErrorIs(t, s.SendCustomSack(nil), ErrClosed)
}

func TestNetworkResolve(t *testing.T) {
	n := NewNetwork()
	_, ok := n.Resolve("ue1")
	assert.False(t, ok)

	tbl := n.Table("ue1")
	assert.Same(t, tbl, n.Table("ue1"))

	ep, ok := n.Resolve("ue1")
	require.True(t, ok)
	assert.Equal(t, "ue1", ep.ID())
}
