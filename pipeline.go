package netharness

//
// End-to-end run pipeline
//

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Pipeline runs the controller, the emulated network and the probes, then
// hands the extracted results to the sinks. Make sure you initialize all
// the fields marked as MANDATORY.
type Pipeline struct {
	// Config is the MANDATORY run configuration.
	Config *RunConfig

	// Emulator is the MANDATORY emulation backend.
	Emulator Emulator

	// Logger is the MANDATORY logger.
	Logger Logger

	// Sinks contains the OPTIONAL report sinks.
	Sinks []ReportSink

	// Topology is the MANDATORY topology to emulate.
	Topology *Topology
}

// Run executes the whole pipeline. The network is stopped and the
// controller is terminated on every return path, including when ctx is
// cancelled. Controller and network startup failures are returned,
// while probe and extraction failures are only logged.
func (p *Pipeline) Run(ctx context.Context) (report *RunReport, err error) {
	cfg := p.Config
	supervisor := NewControllerSupervisor(p.Logger, &ControllerConfig{
		BindAddress: cfg.Controller.BindAddress,
		Port:        cfg.Controller.Port,
		GracePeriod: cfg.Controller.GracePeriod,
	})
	report = NewRunReport(p.Topology, time.Now())
	p.Logger.Infof("netharness: run %s", report.RunID)

	var captures []string
	err = WithController(
		ctx, supervisor, cfg.Controller.Command,
		cfg.Controller.ReadyTimeout, cfg.Controller.PollInterval,
		func(ctx context.Context) error {
			harness := NewNetworkHarness(p.Logger, p.Emulator)
			return WithNetwork(ctx, harness, p.Topology, supervisor,
				func(ctx context.Context, net *EmulatedNetwork) error {
					return p.exercise(ctx, net, report, &captures)
				})
		})

	for _, path := range captures {
		report.Captures = append(report.Captures, ExtractICMPLatenciesFromPCAP(p.Logger, path)...)
	}
	report.FinishedAt = time.Now()
	if err != nil {
		return report, err
	}
	for _, sink := range p.Sinks {
		if serr := sink.Consume(ctx, report); serr != nil {
			p.Logger.Warnf("netharness: report sink: %s", serr.Error())
		}
	}
	return report, nil
}

// exercise probes the running network and fills the report. The
// capture files are complete only after the network stops.
func (p *Pipeline) exercise(
	ctx context.Context, net *EmulatedNetwork, report *RunReport, capturesOut *[]string) error {
	cfg := p.Config
	for _, node := range p.Topology.Nodes() {
		if addr, err := net.Address(node.ID); err == nil && addr != "" {
			report.Addresses[node.ID] = addr
			p.Logger.Infof("netharness: %s has address %s", node.ID, addr)
		}
	}

	probe := NewConnectivityProbe(p.Logger, net)
	plan := cfg.Probes.ProbePlan()

	if cfg.Probes.HTTPServer != "" {
		if err := net.Spawn(ctx, cfg.Probes.HTTPServer, cfg.Probes.HTTPServerCommand); err != nil {
			p.Logger.Warnf("netharness: cannot start HTTP server: %s", err.Error())
			plan.HTTPTarget = ""
		} else if err := sleepContext(ctx, cfg.Probes.ServerWarmup); err != nil {
			return err
		}
	}

	var captures []string
	if cfg.Probes.Capture {
		captures = p.startCaptures(ctx, probe, plan)
	}

	result := probe.RunPlan(ctx, plan)
	for _, ping := range result.Pings {
		if ping != nil {
			report.Pings = append(report.Pings, NewPingReport(ping))
		}
	}
	for _, check := range result.HTTP {
		if check != nil {
			report.HTTPChecks = append(report.HTTPChecks, &HTTPReport{Result: check, OK: HTTPSucceeded(check)})
		}
	}
	*capturesOut = captures

	if cfg.Hold {
		p.Logger.Info("netharness: holding the network until interrupted")
		<-ctx.Done()
	}
	return nil
}

// startCaptures starts one capture per distinct ping source.
func (p *Pipeline) startCaptures(ctx context.Context, probe *ConnectivityProbe, plan *ProbePlan) []string {
	dir, err := filepath.Abs(p.Config.ResultsDir)
	if err == nil {
		err = os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		p.Logger.Warnf("netharness: cannot create results directory: %s", err.Error())
		return nil
	}
	var paths []string
	seen := map[string]bool{}
	for _, pair := range plan.Pings {
		if seen[pair.Source] {
			continue
		}
		seen[pair.Source] = true
		path := filepath.Join(dir, fmt.Sprintf("%s.pcap", pair.Source))
		if err := probe.StartCapture(ctx, pair.Source, "", path); err != nil {
			p.Logger.Warnf("netharness: cannot capture on %s: %s", pair.Source, err.Error())
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

// sleepContext sleeps for the given duration unless ctx is done first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsStartupFailure returns whether err is a controller or network
// startup failure, which should make the process exit with failure.
func IsStartupFailure(err error) bool {
	return errors.Is(err, ErrControllerStartupTimeout) ||
		errors.Is(err, ErrControllerCrashed) ||
		errors.Is(err, ErrControllerNotReady) ||
		errors.Is(err, ErrNetworkStartFailure)
}
