package core

import (
	"net/netip"

	"github.com/google/netstack/tcpip/header"
	"github.com/google/netstack/tcpip/seqnum"

	"github.com/irctrakz/l2sack/pkg/codec"
)

// AckBuilder edits an outgoing ACK header before the socket serializes it.
type AckBuilder func(h *codec.TCPHeader)

// Socket is a bound receiving TCP socket on an endpoint. The TCP stack that
// owns it stays authoritative for NextRx and SackList.
type Socket interface {
	// LocalAddr is the address and port the socket is bound to.
	LocalAddr() netip.AddrPort

	// NextRx is the next sequence number the receiver expects.
	NextRx() seqnum.Value

	// SackList is the socket's own SACK list, front first.
	SackList() []header.SACKBlock

	// SendCustomSack emits an ACK and runs build on its header before
	// serialization.
	SendCustomSack(build AckBuilder) error
}

// Endpoint is a node whose sockets can be enumerated.
type Endpoint interface {
	// ID identifies the endpoint in notifications.
	ID() string

	// Sockets returns the sockets currently bound on the endpoint.
	Sockets() []Socket
}
