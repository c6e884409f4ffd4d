package avoider

import (
	"github.com/google/netstack/tcpip/header"

	"github.com/irctrakz/l2sack/pkg/codec"
	"github.com/irctrakz/l2sack/pkg/sack"
)

// aheadOfWindow reports whether a PDU with sequence number sn carries data
// beyond what RLC has delivered in order (VR(R)).
func aheadOfWindow(sn, vrR codec.SN10) bool {
	return sn.InWindow(vrR)
}

// observe queues b as a candidate when the PDU that carried it is ahead of
// the receive window. Empty ranges are never queued.
func (c *ConnectionState) observe(sn, vrR codec.SN10, b header.SACKBlock) bool {
	if !aheadOfWindow(sn, vrR) || !b.Start.LessThan(b.End) {
		return false
	}
	c.mu.Lock()
	c.pending.Push(b)
	c.mu.Unlock()
	return true
}

// drainResult summarizes one drain.
type drainResult struct {
	forwarded int
	stale     int
	trimmed   int
	merges    int
	overlaps  []header.SACKBlock
	covered   []header.SACKBlock
	evicted   []header.SACKBlock
}

// drainLocked trims blocks the receiver has since acknowledged cumulatively,
// then moves every queued candidate into the SACK set in arrival order. A
// candidate that starts before NextRx is stale and dropped, including one
// that straddles it. c.mu must be held.
func (c *ConnectionState) drainLocked() drainResult {
	var r drainResult
	r.trimmed = c.set.Trim(c.nextRx)
	c.pending.Drain(func(b header.SACKBlock) {
		if b.Start.LessThan(c.nextRx) {
			r.stale++
			return
		}
		res := c.set.Insert(b)
		r.record(res)
	})
	return r
}

func (r *drainResult) record(res sack.InsertResult) {
	r.forwarded++
	r.merges += res.Merges
	if res.Covered {
		r.covered = append(r.covered, res.Overlaps...)
	} else {
		r.overlaps = append(r.overlaps, res.Overlaps...)
	}
	r.evicted = append(r.evicted, res.Evicted...)
}

func (c *ConnectionState) drain() drainResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drainLocked()
}
