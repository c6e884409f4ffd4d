package socket

import (
	"net/netip"

	"github.com/google/netstack/tcpip/header"
	"github.com/google/netstack/tcpip/seqnum"
)

// Config describes a bound receiving socket
type Config struct {
	// Local is the address and port the socket is bound to
	Local netip.AddrPort

	// Remote is the peer the socket receives from
	Remote netip.AddrPort

	// NextRx is the initial next expected sequence number
	NextRx seqnum.Value

	// SndNxt is the sequence number placed in outgoing ACKs
	SndNxt seqnum.Value

	// Window is the advertised receive window
	Window uint16

	// Timestamps adds a timestamp option to every ACK, which leaves room
	// for three SACK blocks instead of four
	Timestamps bool

	// Sack is the socket's initial SACK list, front first
	Sack []header.SACKBlock
}

// DefaultConfig returns the default configuration for a socket
func DefaultConfig() Config {
	return Config{
		Window: 0xffff,
	}
}
