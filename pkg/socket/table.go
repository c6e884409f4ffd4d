package socket

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/l2sack/pkg/core"
	"github.com/irctrakz/l2sack/pkg/logging"
)

// Table holds the sockets bound on one endpoint.
type Table struct {
	id string

	mu      sync.RWMutex
	sockets map[netip.AddrPort]*Socket
}

var _ core.Endpoint = (*Table)(nil)

// NewTable creates an empty table for endpoint id.
func NewTable(id string) *Table {
	return &Table{id: id, sockets: make(map[netip.AddrPort]*Socket)}
}

// ID implements core.Endpoint.
func (t *Table) ID() string { return t.id }

// Bind creates a socket from cfg. Binding a local address twice fails.
func (t *Table) Bind(cfg Config) (*Socket, error) {
	if !cfg.Local.IsValid() || !cfg.Remote.IsValid() {
		return nil, fmt.Errorf("bind on %s: local and remote addresses required", t.id)
	}
	if !cfg.Local.Addr().Is4() || !cfg.Remote.Addr().Is4() {
		return nil, fmt.Errorf("bind on %s: %s -> %s is not IPv4", t.id, cfg.Local, cfg.Remote)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sockets[cfg.Local]; ok {
		return nil, fmt.Errorf("bind on %s: %s already bound", t.id, cfg.Local)
	}
	s := NewSocket(cfg)
	t.sockets[cfg.Local] = s
	logging.DebugWithFields(logrus.Fields{"endpoint": t.id, "local": cfg.Local, "remote": cfg.Remote}, "Bound socket")
	return s, nil
}

// Unbind closes and removes the socket bound to local.
func (t *Table) Unbind(local netip.AddrPort) bool {
	t.mu.Lock()
	s, ok := t.sockets[local]
	delete(t.sockets, local)
	t.mu.Unlock()
	if ok {
		s.close()
	}
	return ok
}

// Lookup returns the socket bound to local.
func (t *Table) Lookup(local netip.AddrPort) (*Socket, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sockets[local]
	return s, ok
}

// Sockets implements core.Endpoint. Sockets are ordered by local address.
func (t *Table) Sockets() []core.Socket {
	t.mu.RLock()
	list := make([]*Socket, 0, len(t.sockets))
	for _, s := range t.sockets {
		list = append(list, s)
	}
	t.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].local.Compare(list[j].local) < 0 })

	out := make([]core.Socket, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}

// Network is a set of endpoint tables keyed by endpoint ID.
type Network struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{tables: make(map[string]*Table)}
}

// Table returns the table of endpoint id, creating it if needed.
func (n *Network) Table(id string) *Table {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.tables[id]
	if !ok {
		t = NewTable(id)
		n.tables[id] = t
	}
	return t
}

// Resolve returns the endpoint with the given ID, if it exists.
func (n *Network) Resolve(id string) (core.Endpoint, bool) {
	t, ok := n.Lookup(id)
	if !ok {
		return nil, false
	}
	return t, true
}

// Lookup returns the table of endpoint id without creating it.
func (n *Network) Lookup(id string) (*Table, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.tables[id]
	return t, ok
}
