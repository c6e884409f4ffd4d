// Package avoider turns RLC buffering notifications into SACK blocks on the
// receiver's outgoing ACKs. A PDU held back by the link layer is inspected
// down to its TCP header, the segment is correlated with the local socket it
// is addressed to, and its byte range is reported to the sender before the
// sender's retransmission timer fires.
package avoider

import (
	"fmt"
	"sync"

	"github.com/google/netstack/tcpip/header"
	"github.com/sirupsen/logrus"

	"github.com/irctrakz/l2sack/pkg/codec"
	"github.com/irctrakz/l2sack/pkg/core"
	"github.com/irctrakz/l2sack/pkg/logging"
)

// Avoider handles buffering notifications for one endpoint.
type Avoider struct {
	cfg        core.AvoiderConfig
	endpoint   core.Endpoint
	correlator *Correlator
	metrics    core.AvoiderMetrics
	log        *logrus.Entry

	mu      sync.Mutex
	current *ConnectionState
}

var _ core.NotificationHandler = (*Avoider)(nil)

// New creates an avoider for the sockets of endpoint.
func New(endpoint core.Endpoint, cfg core.AvoiderConfig) *Avoider {
	if cfg.MaxSackBlocks <= 0 || cfg.MaxSackBlocks > codec.MaxSACKBlocks {
		cfg.MaxSackBlocks = codec.MaxSACKBlocks
	}
	return &Avoider{
		cfg:        cfg,
		endpoint:   endpoint,
		correlator: NewCorrelator(endpoint),
		log:        logging.Component("avoider").WithField("endpoint", endpoint.ID()),
	}
}

// EndpointID returns the ID of the endpoint this avoider serves.
func (a *Avoider) EndpointID() string { return a.endpoint.ID() }

// Correlator returns the connection registry.
func (a *Avoider) Correlator() *Correlator { return a.correlator }

// Metrics returns a snapshot of the counters.
func (a *Avoider) Metrics() core.AvoiderMetrics { return a.metrics.Snapshot() }

// Current returns the connection the last notification resolved to.
func (a *Avoider) Current() *ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// HandleBuffering inspects the buffered PDU and, when it belongs to a local
// connection, emits an ACK carrying the connection's SACK blocks. Nothing on
// this path is fatal: every failure degrades to an ACK-less outcome.
func (a *Avoider) HandleBuffering(n core.BufferingNotification) core.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	core.Add(&a.metrics.Notifications, 1)

	if n.Packet == nil {
		core.Add(&a.metrics.NoTransport, 1)
		return core.OutcomeNoTransport
	}
	data := n.Packet.Data()

	rlc, _, err := codec.ParseRLCHeader(data)
	if err != nil {
		return a.decodeFailed(n, err)
	}
	if !rlc.Data {
		core.Add(&a.metrics.NoTransport, 1)
		return core.OutcomeNoTransport
	}
	if !aheadOfWindow(rlc.SN, n.VrR) {
		core.Add(&a.metrics.OutOfWindow, 1)
		return core.OutcomeOutOfWindow
	}

	stack, err := codec.Decode(data)
	if err != nil {
		return a.decodeFailed(n, err)
	}
	seg, ok := stack.Segment()
	if !ok {
		a.log.WithFields(logrus.Fields{"sn": rlc.SN, "depth": stack.Depth()}).Debug("no transport header in buffered PDU")
		core.Add(&a.metrics.NoTransport, 1)
		return core.OutcomeNoTransport
	}
	if seg.Dst.Port() == 0 {
		a.current = nil
		core.Add(&a.metrics.Uncorrelated, 1)
		return core.OutcomeUncorrelated
	}
	if a.cfg.MatchLocalAddress && n.Local.IsValid() && n.Local != seg.Dst {
		a.log.WithFields(logrus.Fields{"local": n.Local, "dst": seg.Dst}).Debug("segment not addressed to bearer")
		core.Add(&a.metrics.AddressMismatch, 1)
		return core.OutcomeAddressMismatch
	}

	st, created := a.correlator.Correlate(seg.Dst)
	if st == nil {
		a.current = nil
		a.log.WithField("dst", seg.Dst).Debug("no socket bound to destination")
		core.Add(&a.metrics.Uncorrelated, 1)
		return core.OutcomeUncorrelated
	}
	a.current = st
	if created {
		core.Add(&a.metrics.Connections, 1)
		a.log.WithFields(logrus.Fields{"conn": st.Key(), "nextRx": st.NextRx()}).Info("correlated new connection")
	}

	outcome := core.OutcomeAckSent
	block := seg.Block()
	switch {
	case !seg.Complete && a.cfg.SkipIncompleteSegments:
		core.Add(&a.metrics.Incomplete, 1)
		outcome = core.OutcomeIncomplete
	case st.observe(rlc.SN, n.VrR, block):
		core.Add(&a.metrics.Queued, 1)
	}
	a.report(st, st.drain())

	if err := st.Socket().SendCustomSack(a.BuildSackOption(st)); err != nil {
		core.Add(&a.metrics.SendErrors, 1)
		a.log.WithFields(logrus.Fields{"conn": st.Key(), "error": err}).Warn("sending SACK failed")
		return core.OutcomeSendFailed
	}
	core.Add(&a.metrics.AcksSent, 1)
	return outcome
}

// BuildSackOption returns the ACK builder for st: it drains pending
// candidates, then appends as many blocks as the remaining option space and
// MaxSackBlocks allow. With nothing to report the header is left unchanged.
func (a *Avoider) BuildSackOption(st *ConnectionState) core.AckBuilder {
	return func(h *codec.TCPHeader) {
		st.mu.Lock()
		r := st.drainLocked()
		allowed := codec.AllowedSACKBlocks(h)
		if allowed > a.cfg.MaxSackBlocks {
			allowed = a.cfg.MaxSackBlocks
		}
		blocks := st.set.Render(allowed)
		st.mu.Unlock()

		a.report(st, r)
		if len(blocks) == 0 {
			a.log.WithFields(logrus.Fields{"conn": st.Key(), "allowed": allowed}).Debug("no SACK blocks to add")
			return
		}
		h.AppendOption(codec.SACKOption(blocks))
		core.Add(&a.metrics.BlocksInjected, uint64(len(blocks)))
		if logging.IsDebug() {
			a.log.WithFields(logrus.Fields{"conn": st.Key(), "blocks": formatBlocks(blocks)}).Debug("added SACK blocks")
		}
	}
}

func (a *Avoider) report(st *ConnectionState, r drainResult) {
	core.Add(&a.metrics.Forwarded, uint64(r.forwarded))
	core.Add(&a.metrics.Stale, uint64(r.stale))
	core.Add(&a.metrics.Evictions, uint64(len(r.evicted)))
	if len(r.overlaps) > 0 {
		core.Add(&a.metrics.Overlaps, uint64(len(r.overlaps)))
		a.log.WithFields(logrus.Fields{
			"conn":     st.Key(),
			"replaced": formatBlocks(r.overlaps),
		}).Warn("overlapping SACK block replaced")
	}
	if len(r.covered) > 0 {
		core.Add(&a.metrics.Overlaps, uint64(len(r.covered)))
		a.log.WithFields(logrus.Fields{
			"conn":    st.Key(),
			"covered": formatBlocks(r.covered),
		}).Warn("SACK candidate inside an existing block")
	}
}

func (a *Avoider) decodeFailed(n core.BufferingNotification, err error) core.Outcome {
	core.Add(&a.metrics.DecodeErrors, 1)
	core.Add(&a.metrics.NoTransport, 1)
	a.log.WithFields(logrus.Fields{"rnti": n.RNTI, "lcid": n.LCID, "error": err}).Debug("buffered PDU did not decode")
	return core.OutcomeNoTransport
}

func formatBlocks(blocks []header.SACKBlock) string {
	s := ""
	for i, b := range blocks {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("[%d,%d)", uint32(b.Start), uint32(b.End))
	}
	return s
}
