// Command netharness starts an SDN controller, emulates the configured
// topology, runs the connectivity probes and reports the results.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/bassosimone/netharness"
	"github.com/bassosimone/netharness/cmd/internal/config"
	"github.com/bassosimone/netharness/cmd/internal/topology"
)

var (
	// configFlag is the OPTIONAL configuration file.
	configFlag = flag.String("config", "", "OPTIONAL YAML configuration file")

	// verboseFlag enables debug logging.
	verboseFlag = flag.Bool("v", false, "enable debug logging")
)

func main() {
	flag.Parse()
	log.SetHandler(cli.Default)
	if *verboseFlag {
		log.SetLevel(log.DebugLevel)
	}
	os.Exit(run())
}

// run runs the pipeline and returns the process exit code.
func run() int {
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.WithError(err).Error("config.Load")
		return 1
	}
	topo, err := topology.Load(cfg.TopologyFile)
	if err != nil {
		log.WithError(err).Error("topology.Load")
		return 1
	}
	log.Infof("topology:\n%s", topology.Describe(topo))

	// interrupting cancels the context and the pipeline tears down
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := &netharness.Pipeline{
		Config:   cfg,
		Emulator: netharness.NewNamespaceEmulator(log.Log, &netharness.ExecRunner{Logger: log.Log}),
		Logger:   log.Log,
		Sinks: []netharness.ReportSink{
			&netharness.LogSink{Logger: log.Log},
			&netharness.PrometheusTextfileSink{Path: filepath.Join(cfg.ResultsDir, "netharness.prom")},
		},
		Topology: topo,
	}
	report, err := pipeline.Run(ctx)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"run_id":          report.RunID,
			"startup_failure": netharness.IsStartupFailure(err),
		}).Error("pipeline.Run")
		return 1
	}
	log.WithFields(log.Fields{
		"run_id":   report.RunID,
		"pings":    len(report.Pings),
		"http":     len(report.HTTPChecks),
		"duration": report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("run completed")
	return 0
}
