package main

import (
	"encoding/json"
	"runtime"
	"time"

	"github.com/irctrakz/l2sack/pkg/avoider"
	"github.com/irctrakz/l2sack/pkg/logging"
)

type metricsSnapshot struct {
	Timestamp string                       `json:"ts"`
	Endpoints map[string]map[string]uint64 `json:"endpoints"`
	Unknown   uint64                       `json:"unknown_endpoints"`
	RT        map[string]uint64            `json:"rt"`
}

func runMetricsReporter(hub *avoider.Hub, d time.Duration, asJSON bool, stop <-chan struct{}) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			dumpMetrics(hub, asJSON)
		}
	}
}

func takeSnapshot(hub *avoider.Hub) metricsSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := metricsSnapshot{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Endpoints: make(map[string]map[string]uint64),
		Unknown:   hub.UnknownEndpoints(),
		RT: map[string]uint64{
			"heap_alloc": ms.HeapAlloc,
			"heap_inuse": ms.HeapInuse,
			"num_gc":     uint64(ms.NumGC),
			"goroutines": uint64(runtime.NumGoroutine()),
		},
	}
	for _, a := range hub.Avoiders() {
		m := a.Metrics()
		snap.Endpoints[a.EndpointID()] = map[string]uint64{
			"notifications":    m.Notifications,
			"decode_errors":    m.DecodeErrors,
			"no_transport":     m.NoTransport,
			"out_of_window":    m.OutOfWindow,
			"incomplete":       m.Incomplete,
			"uncorrelated":     m.Uncorrelated,
			"address_mismatch": m.AddressMismatch,
			"connections":      m.Connections,
			"queued":           m.Queued,
			"forwarded":        m.Forwarded,
			"stale":            m.Stale,
			"overlaps":         m.Overlaps,
			"evictions":        m.Evictions,
			"acks_sent":        m.AcksSent,
			"blocks_injected":  m.BlocksInjected,
			"send_errors":      m.SendErrors,
		}
	}
	return snap
}

func dumpMetrics(hub *avoider.Hub, asJSON bool) {
	snap := takeSnapshot(hub)
	if asJSON {
		b, _ := json.Marshal(snap)
		logging.Infof("metrics: %s", string(b))
		return
	}
	for _, a := range hub.Avoiders() {
		m := snap.Endpoints[a.EndpointID()]
		logging.Infof("metrics: ts=%s endpoint=%s notif=%d acks=%d blocks=%d | drop: nt=%d oow=%d inc=%d unc=%d mis=%d | track: q=%d fwd=%d stale=%d ovl=%d evict=%d | err: dec=%d send=%d",
			snap.Timestamp, a.EndpointID(),
			m["notifications"], m["acks_sent"], m["blocks_injected"],
			m["no_transport"], m["out_of_window"], m["incomplete"], m["uncorrelated"], m["address_mismatch"],
			m["queued"], m["forwarded"], m["stale"], m["overlaps"], m["evictions"],
			m["decode_errors"], m["send_errors"],
		)
	}
	logging.Infof("metrics: ts=%s unknown=%d | rt: heap=%dMi inuse=%dMi gor=%d gc=%d",
		snap.Timestamp, snap.Unknown,
		snap.RT["heap_alloc"]/(1024*1024), snap.RT["heap_inuse"]/(1024*1024), snap.RT["goroutines"], snap.RT["num_gc"],
	)
}
