package replay

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/netstack/tcpip/seqnum"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/irctrakz/l2sack/pkg/avoider"
	"github.com/irctrakz/l2sack/pkg/capture"
	"github.com/irctrakz/l2sack/pkg/codec"
	"github.com/irctrakz/l2sack/pkg/core"
	"github.com/irctrakz/l2sack/pkg/logging"
	"github.com/irctrakz/l2sack/pkg/socket"
)

// Block is a byte range in a report.
type Block struct {
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
}

func (b Block) String() string { return fmt.Sprintf("[%d,%d)", b.Start, b.End) }

// Result reports what one event produced.
type Result struct {
	Index    int    `json:"index"`
	Kind     string `json:"kind"`
	Endpoint string `json:"endpoint"`
	// Outcome is empty for advance events.
	Outcome string `json:"outcome,omitempty"`
	// Socket is the socket that sent the ACK, if one was sent.
	Socket string `json:"socket,omitempty"`
	Peer   string `json:"peer,omitempty"`
	// Ack is the acknowledgment number of the ACK sent.
	Ack    uint32  `json:"ack,omitempty"`
	Blocks []Block `json:"blocks,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Runner replays a scenario against a Hub.
type Runner struct {
	scenario *Scenario
	network  *socket.Network
	hub      *avoider.Hub
	capture  *capture.Writer
	log      *logrus.Entry
}

// NewRunner binds the scenario's sockets and creates the Hub that will
// receive its events.
func NewRunner(s *Scenario, cfg core.AvoiderConfig) (*Runner, error) {
	net, err := s.Network()
	if err != nil {
		return nil, err
	}
	return &Runner{
		scenario: s,
		network:  net,
		hub:      avoider.NewHub(net, cfg),
		log:      logging.Component("replay"),
	}, nil
}

// Hub returns the hub events are delivered to.
func (r *Runner) Hub() *avoider.Hub { return r.hub }

// Network returns the sockets the scenario bound.
func (r *Runner) Network() *socket.Network { return r.network }

// SetCapture records every ACK sent during the replay to w.
func (r *Runner) SetCapture(w *capture.Writer) { r.capture = w }

// Run applies every event in order. Event errors are reported in the
// results and do not stop the replay.
func (r *Runner) Run() []Result {
	results := make([]Result, 0, len(r.scenario.Events))
	for i := range r.scenario.Events {
		results = append(results, r.Step(i))
	}
	r.log.WithFields(logrus.Fields{
		"events":    len(results),
		"endpoints": len(r.hub.Avoiders()),
	}).Info("Replay finished")
	return results
}

// RunParallel applies the events of different endpoints concurrently, at
// most workers endpoints at a time. Events of one endpoint keep their order.
// Results are indexed as in Run.
func (r *Runner) RunParallel(workers int) []Result {
	byEndpoint := make(map[string][]int)
	var order []string
	for i, e := range r.scenario.Events {
		if _, ok := byEndpoint[e.Endpoint]; !ok {
			order = append(order, e.Endpoint)
		}
		byEndpoint[e.Endpoint] = append(byEndpoint[e.Endpoint], i)
	}

	results := make([]Result, len(r.scenario.Events))
	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, id := range order {
		idx := byEndpoint[id]
		g.Go(func() error {
			for _, i := range idx {
				results[i] = r.Step(i)
			}
			return nil
		})
	}
	_ = g.Wait()
	r.log.WithFields(logrus.Fields{
		"events":    len(results),
		"endpoints": len(order),
		"workers":   workers,
	}).Info("Parallel replay finished")
	return results
}

// Step applies event i.
func (r *Runner) Step(i int) Result {
	e := &r.scenario.Events[i]
	res := Result{Index: i, Kind: e.Kind(), Endpoint: e.Endpoint}

	if e.Advance != nil {
		if err := r.advance(e); err != nil {
			res.Error = err.Error()
			r.log.WithField("event", i).Warnf("Advance failed: %v", err)
		}
		return res
	}

	data, err := e.Packet()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	n := core.BufferingNotification{
		Endpoint: e.Endpoint,
		Packet:   core.NewPacket(data),
		VrR:      codec.SN10(e.VrR),
		VrH:      codec.SN10(e.VrH),
	}
	if e.Local != "" {
		n.Local, _ = netip.ParseAddrPort(e.Local)
	}

	out := r.hub.HandleBuffering(n)
	res.Outcome = out.String()
	if out == core.OutcomeAckSent || out == core.OutcomeIncomplete {
		r.fillAck(&res)
	}
	return res
}

func (r *Runner) advance(e *Event) error {
	tbl, ok := r.network.Lookup(e.Endpoint)
	if !ok {
		return fmt.Errorf("unknown endpoint %q", e.Endpoint)
	}
	local, err := netip.ParseAddrPort(e.Advance.Socket)
	if err != nil {
		return err
	}
	s, ok := tbl.Lookup(local)
	if !ok {
		return fmt.Errorf("no socket bound to %s", local)
	}
	a := e.Advance
	if a.NextRx != nil {
		s.SetNextRx(seqnum.Value(*a.NextRx))
	}
	if a.Sack != nil {
		s.SetSackList(sackBlocks(a.Sack))
	}
	switch {
	case a.Fail != "":
		s.FailSends(errors.New(a.Fail))
	case a.Restore:
		s.FailSends(nil)
	}
	if a.Unbind {
		tbl.Unbind(local)
	}
	return nil
}

func (r *Runner) fillAck(res *Result) {
	a, ok := r.hub.Avoider(res.Endpoint)
	if !ok {
		return
	}
	st := a.Current()
	if st == nil {
		return
	}
	s, ok := st.Socket().(*socket.Socket)
	if !ok {
		return
	}
	ack, ok := s.LastAck()
	if !ok {
		return
	}
	if r.capture != nil {
		if err := r.capture.WriteIPv4(ack.Wire); err != nil {
			r.log.WithField("event", res.Index).Warnf("Capture failed: %v", err)
		}
	}
	res.Socket = s.LocalAddr().String()
	res.Peer = s.RemoteAddr().String()
	res.Ack = ack.Header.Ack
	for _, b := range ack.Blocks {
		res.Blocks = append(res.Blocks, Block{Start: uint32(b.Start), End: uint32(b.End)})
	}
}
