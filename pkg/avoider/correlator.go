package avoider

import (
	"net/netip"
	"sync"

	"github.com/google/netstack/tcpip/header"
	"github.com/google/netstack/tcpip/seqnum"

	"github.com/irctrakz/l2sack/pkg/core"
	"github.com/irctrakz/l2sack/pkg/sack"
)

// ConnectionKey is the receiver-side address and port of a connection, i.e.
// the destination of the inspected segment.
type ConnectionKey = netip.AddrPort

// ConnectionState is what the avoider tracks for one correlated socket.
type ConnectionState struct {
	key    ConnectionKey
	socket core.Socket

	mu      sync.Mutex
	nextRx  seqnum.Value
	set     sack.Set
	pending sack.Queue
}

// Key returns the connection key.
func (c *ConnectionState) Key() ConnectionKey { return c.key }

// Socket returns the live socket handle.
func (c *ConnectionState) Socket() core.Socket { return c.socket }

// NextRx returns the mirrored next expected sequence number.
func (c *ConnectionState) NextRx() seqnum.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextRx
}

// Blocks returns the current SACK blocks, front first.
func (c *ConnectionState) Blocks() []header.SACKBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.Blocks()
}

// Pending returns the number of candidates waiting for a drain.
func (c *ConnectionState) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Len()
}

func (c *ConnectionState) refresh() {
	c.mu.Lock()
	c.nextRx = c.socket.NextRx()
	c.mu.Unlock()
}

// Correlator maps connection keys to the sockets of one endpoint.
type Correlator struct {
	endpoint core.Endpoint

	mu    sync.Mutex
	conns map[ConnectionKey]*ConnectionState
}

// NewCorrelator creates a correlator over the sockets of endpoint.
func NewCorrelator(endpoint core.Endpoint) *Correlator {
	return &Correlator{
		endpoint: endpoint,
		conns:    make(map[ConnectionKey]*ConnectionState),
	}
}

// Correlate returns the state for key. Known keys get their NextRx refreshed
// from the socket. Unknown keys are looked up among the endpoint's bound
// sockets; the new state is seeded with the socket's NextRx and SACK list.
// A nil state means no socket is bound to key, which is not an error.
func (c *Correlator) Correlate(key ConnectionKey) (st *ConnectionState, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.conns[key]; ok {
		st.refresh()
		return st, false
	}

	for _, sock := range c.endpoint.Sockets() {
		if sock.LocalAddr() != key {
			continue
		}
		st = &ConnectionState{
			key:    key,
			socket: sock,
			nextRx: sock.NextRx(),
		}
		st.set.Mirror(sock.SackList())
		c.conns[key] = st
		return st, true
	}
	return nil, false
}

// Lookup returns the state for key without touching the socket.
func (c *Correlator) Lookup(key ConnectionKey) (*ConnectionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.conns[key]
	return st, ok
}

// Len returns the number of correlated connections.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}
