package avoider

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/l2sack/pkg/core"
	"github.com/irctrakz/l2sack/pkg/logging"
)

// EndpointResolver finds the endpoint a notification refers to.
type EndpointResolver interface {
	Resolve(id string) (core.Endpoint, bool)
}

// EndpointResolverFunc adapts a function to EndpointResolver.
type EndpointResolverFunc func(id string) (core.Endpoint, bool)

// Resolve calls f(id).
func (f EndpointResolverFunc) Resolve(id string) (core.Endpoint, bool) { return f(id) }

// Hub dispatches notifications to one Avoider per endpoint, creating them
// on first use. Avoiders of different endpoints never share state and can
// handle notifications concurrently.
type Hub struct {
	resolver EndpointResolver
	cfg      core.AvoiderConfig

	mu       sync.RWMutex
	avoiders map[string]*Avoider
	unknown  uint64
}

var _ core.NotificationHandler = (*Hub)(nil)

// NewHub creates a hub that builds avoiders with cfg.
func NewHub(resolver EndpointResolver, cfg core.AvoiderConfig) *Hub {
	return &Hub{
		resolver: resolver,
		cfg:      cfg,
		avoiders: make(map[string]*Avoider),
	}
}

// HandleBuffering routes n to the avoider of n.Endpoint.
func (h *Hub) HandleBuffering(n core.BufferingNotification) core.Outcome {
	a, ok := h.avoider(n.Endpoint)
	if !ok {
		core.Add(&h.unknown, 1)
		logging.WarnWithFields(logrus.Fields{"endpoint": n.Endpoint}, "buffering notification for unknown endpoint")
		return core.OutcomeUnknownEndpoint
	}
	return a.HandleBuffering(n)
}

func (h *Hub) avoider(id string) (*Avoider, bool) {
	h.mu.RLock()
	a, ok := h.avoiders[id]
	h.mu.RUnlock()
	if ok {
		return a, true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if a, ok := h.avoiders[id]; ok {
		return a, true
	}
	ep, ok := h.resolver.Resolve(id)
	if !ok {
		return nil, false
	}
	a = New(ep, h.cfg)
	h.avoiders[id] = a
	return a, true
}

// Avoider returns the avoider of an endpoint that has seen notifications.
func (h *Hub) Avoider(id string) (*Avoider, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.avoiders[id]
	return a, ok
}

// Avoiders returns every avoider ordered by endpoint ID.
func (h *Hub) Avoiders() []*Avoider {
	h.mu.RLock()
	out := make([]*Avoider, 0, len(h.avoiders))
	for _, a := range h.avoiders {
		out = append(out, a)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EndpointID() < out[j].EndpointID() })
	return out
}

// UnknownEndpoints returns the number of notifications that named an
// endpoint the resolver did not know.
func (h *Hub) UnknownEndpoints() uint64 {
	return atomic.LoadUint64(&h.unknown)
}
