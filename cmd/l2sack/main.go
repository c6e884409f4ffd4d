package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/l2sack/pkg/capture"
	"github.com/irctrakz/l2sack/pkg/config"
	"github.com/irctrakz/l2sack/pkg/logging"
	"github.com/irctrakz/l2sack/pkg/replay"
)

func main() {
	configPath := flag.String("config", "", "configuration file (.json, .yaml, .yml)")
	scenarioPath := flag.String("scenario", "", "replay scenario file (.yaml)")
	jsonOut := flag.Bool("json", false, "print the replay report as JSON")
	serve := flag.Bool("serve", false, "keep serving metrics after the replay until interrupted")
	parallel := flag.Int("parallel", 0, "replay up to this many endpoints concurrently (0: sequential)")
	pcapPath := flag.String("pcap", "", "write every ACK sent during the replay to this pcap file")
	savePath := flag.String("save-config", "", "write the effective configuration to this file and exit")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		if err := config.LoadFromFile(*configPath, cfg); err != nil {
			logging.Fatalf("config: %v", err)
		}
	}
	config.LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		logging.Fatalf("config: %v", err)
	}
	if err := cfg.ApplyLogging(); err != nil {
		logging.Fatalf("config: %v", err)
	}
	if *savePath != "" {
		if err := cfg.SaveToFile(*savePath); err != nil {
			logging.Fatalf("config: %v", err)
		}
		return
	}

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "usage: l2sack -scenario s.yaml [-config cfg.yaml] [-json] [-serve]")
		os.Exit(2)
	}
	sc, err := replay.Load(*scenarioPath)
	if err != nil {
		logging.Fatalf("scenario: %v", err)
	}
	runner, err := replay.NewRunner(sc, cfg.Avoider)
	if err != nil {
		logging.Fatalf("scenario: %v", err)
	}
	logging.InfoWithFields(logrus.Fields{
		"scenario":  *scenarioPath,
		"endpoints": len(sc.Endpoints),
		"events":    len(sc.Events),
	}, "Loaded scenario")

	opts := runOptions{
		pcapPath: *pcapPath,
		parallel: *parallel,
		jsonOut:  *jsonOut,
		serve:    *serve,
	}
	if err := replayScenario(runner, cfg, opts, os.Stdout); err != nil {
		logging.Fatalf("%v", err)
	}
}

// runOptions carries the flags that shape a replay.
type runOptions struct {
	pcapPath string
	parallel int
	jsonOut  bool
	serve    bool
}

// replayScenario runs the replay and writes the report to out. Everything it
// opens is closed before it returns, so the caller may exit on its error.
func replayScenario(runner *replay.Runner, cfg *config.Config, opts runOptions, out io.Writer) error {
	if opts.pcapPath != "" {
		w, err := capture.Create(opts.pcapPath)
		if err != nil {
			return fmt.Errorf("pcap: %w", err)
		}
		defer func() {
			if err := w.Close(); err != nil {
				logging.Warnf("pcap: %v", err)
			}
		}()
		runner.SetCapture(w)
	}

	var srv *metricsServer
	if cfg.Metrics.Listen != "" {
		srv = newMetricsServer(cfg.Metrics, runner.Hub())
		if err := srv.Start(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer srv.Stop()
	}

	var results []replay.Result
	if opts.parallel > 0 {
		results = runner.RunParallel(opts.parallel)
	} else {
		results = runner.Run()
	}
	if srv != nil {
		srv.SetReady(len(results))
	}
	if err := writeReport(out, results, opts.jsonOut); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if cfg.Metrics.IntervalSec > 0 || opts.serve {
		dumpMetrics(runner.Hub(), opts.jsonOut)
	}

	if !opts.serve {
		return nil
	}
	if srv == nil {
		logging.Warnf("-serve without metrics.listen; nothing to serve")
		return nil
	}
	stop := make(chan struct{})
	if cfg.Metrics.IntervalSec > 0 {
		go runMetricsReporter(runner.Hub(), time.Duration(cfg.Metrics.IntervalSec)*time.Second, opts.jsonOut, stop)
	}

	// Wait for termination
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	close(stop)
	return nil
}

// writeReport prints one line per event, or the whole report as JSON.
func writeReport(w io.Writer, results []replay.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		line := fmt.Sprintf("#%d %s %s", r.Index, r.Endpoint, r.Kind)
		if r.Outcome != "" {
			line += " " + r.Outcome
		}
		if r.Socket != "" {
			line += fmt.Sprintf(" socket=%s ack=%d", r.Socket, r.Ack)
		}
		if len(r.Blocks) > 0 {
			blocks := make([]string, len(r.Blocks))
			for i, b := range r.Blocks {
				blocks[i] = b.String()
			}
			line += " sack=" + strings.Join(blocks, ",")
		}
		if r.Error != "" {
			line += " error=" + r.Error
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
