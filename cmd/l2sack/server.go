package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/irctrakz/l2sack/pkg/avoider"
	"github.com/irctrakz/l2sack/pkg/config"
	"github.com/irctrakz/l2sack/pkg/logging"
)

// metricsServer serves the avoider collector and a health endpoint.
type metricsServer struct {
	cfg    config.MetricsConfig
	srv    *http.Server
	ln     net.Listener
	events atomic.Int64
}

func newMetricsServer(cfg config.MetricsConfig, hub *avoider.Hub) *metricsServer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		avoider.NewCollector(hub),
		collectors.NewGoCollector(),
	)

	s := &metricsServer{cfg: cfg}
	s.events.Store(-1)
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", s.health)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// SetReady records that the replay finished after n events.
func (s *metricsServer) SetReady(n int) { s.events.Store(int64(n)) }

func (s *metricsServer) health(w http.ResponseWriter, _ *http.Request) {
	n := s.events.Load()
	w.Header().Set("Content-Type", "application/json")
	status := map[string]interface{}{"status": "ok", "replayed": n >= 0}
	if n >= 0 {
		status["events"] = n
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Start listens on the configured address and serves in the background.
func (s *metricsServer) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.ln = ln
	logging.Infof("Serving metrics on http://%s%s", ln.Addr(), s.cfg.Path)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithFields(logrus.Fields{"listen": s.cfg.Listen}, "metrics server: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address once started.
func (s *metricsServer) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down.
func (s *metricsServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}
