package avoider

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/irctrakz/l2sack/pkg/core"
)

const (
	metricsNamespace = "l2sack"
	metricsSubsystem = "avoider"
)

type counterDesc struct {
	desc  *prometheus.Desc
	value func(m core.AvoiderMetrics) uint64
}

// Collector exposes the counters of every avoider of a Hub, labelled by
// endpoint.
type Collector struct {
	hub *Hub

	counters        []counterDesc
	connectionsDesc *prometheus.Desc
	unknownDesc     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for hub.
func NewCollector(hub *Hub) *Collector {
	counter := func(name, help string, value func(m core.AvoiderMetrics) uint64) counterDesc {
		return counterDesc{
			desc: prometheus.NewDesc(
				prometheus.BuildFQName(metricsNamespace, metricsSubsystem, name),
				help, []string{"endpoint"}, nil,
			),
			value: value,
		}
	}
	return &Collector{
		hub: hub,
		counters: []counterDesc{
			counter("notifications_total", "Buffering notifications handled",
				func(m core.AvoiderMetrics) uint64 { return m.Notifications }),
			counter("decode_errors_total", "Buffered PDUs whose header chain did not decode",
				func(m core.AvoiderMetrics) uint64 { return m.DecodeErrors }),
			counter("no_transport_total", "Notifications without a TCP segment",
				func(m core.AvoiderMetrics) uint64 { return m.NoTransport }),
			counter("out_of_window_total", "Buffered PDUs not ahead of the RLC receive window",
				func(m core.AvoiderMetrics) uint64 { return m.OutOfWindow }),
			counter("incomplete_segments_total", "Segments skipped because they continue in a later PDU",
				func(m core.AvoiderMetrics) uint64 { return m.Incomplete }),
			counter("uncorrelated_total", "Segments with no matching local socket",
				func(m core.AvoiderMetrics) uint64 { return m.Uncorrelated }),
			counter("address_mismatch_total", "Segments not addressed to the bearer's local address",
				func(m core.AvoiderMetrics) uint64 { return m.AddressMismatch }),
			counter("connections_total", "Connections correlated for the first time",
				func(m core.AvoiderMetrics) uint64 { return m.Connections }),
			counter("candidates_queued_total", "Byte ranges queued for reconciliation",
				func(m core.AvoiderMetrics) uint64 { return m.Queued }),
			counter("candidates_forwarded_total", "Byte ranges inserted into a SACK set",
				func(m core.AvoiderMetrics) uint64 { return m.Forwarded }),
			counter("candidates_stale_total", "Byte ranges dropped because the receiver already had them",
				func(m core.AvoiderMetrics) uint64 { return m.Stale }),
			counter("overlaps_total", "SACK blocks that overlapped an inserted range",
				func(m core.AvoiderMetrics) uint64 { return m.Overlaps }),
			counter("evictions_total", "SACK blocks evicted from a full set",
				func(m core.AvoiderMetrics) uint64 { return m.Evictions }),
			counter("acks_sent_total", "ACKs emitted through the socket",
				func(m core.AvoiderMetrics) uint64 { return m.AcksSent }),
			counter("blocks_injected_total", "SACK blocks written into ACK headers",
				func(m core.AvoiderMetrics) uint64 { return m.BlocksInjected }),
			counter("send_errors_total", "ACKs the socket failed to send",
				func(m core.AvoiderMetrics) uint64 { return m.SendErrors }),
		},
		connectionsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, metricsSubsystem, "connections"),
			"Connections currently tracked",
			[]string{"endpoint"}, nil,
		),
		unknownDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "hub", "unknown_endpoint_total"),
			"Notifications naming an unknown endpoint",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	ch <- c.connectionsDesc
	ch <- c.unknownDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, a := range c.hub.Avoiders() {
		id := a.EndpointID()
		m := a.Metrics()
		for _, d := range c.counters {
			ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, float64(d.value(m)), id)
		}
		ch <- prometheus.MustNewConstMetric(c.connectionsDesc, prometheus.GaugeValue, float64(a.Correlator().Len()), id)
	}
	ch <- prometheus.MustNewConstMetric(c.unknownDesc, prometheus.CounterValue, float64(c.hub.UnknownEndpoints()))
}
