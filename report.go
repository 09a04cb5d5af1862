package netharness

//
// Run reports and sinks
//

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// RunReport contains the already-extracted results of a run.
type RunReport struct {
	// RunID uniquely identifies the run.
	RunID string

	// StartedAt and FinishedAt delimit the run.
	StartedAt  time.Time
	FinishedAt time.Time

	// Topology is the emulated topology.
	Topology *Topology

	// Addresses maps endpoint nodes to their address.
	Addresses map[string]string

	// Pings contains a report for each successful ping probe in plan order.
	Pings []*PingReport

	// HTTPChecks contains a report for each HTTP check in plan order.
	HTTPChecks []*HTTPReport

	// Captures contains the samples extracted from packet captures.
	Captures []LatencySample
}

// NewRunReport creates a [RunReport] with a fresh run ID.
func NewRunReport(topology *Topology, startedAt time.Time) *RunReport {
	return &RunReport{
		RunID:     uuid.New().String(),
		StartedAt: startedAt,
		Topology:  topology,
		Addresses: map[string]string{},
	}
}

// PingReport is the outcome of a ping probe.
type PingReport struct {
	Result     *ProbeResult
	Samples    []LatencySample
	Summary    LatencySummary
	Statistics PingStatistics
}

// NewPingReport extracts samples and statistics from a ping [ProbeResult].
func NewPingReport(result *ProbeResult) *PingReport {
	samples := PingSamples(result)
	pstats, _ := ParsePingStatistics(result.RawOutput)
	return &PingReport{
		Result:     result,
		Samples:    samples,
		Summary:    Summarize(Seconds(samples)),
		Statistics: pstats,
	}
}

// HTTPReport is the outcome of an HTTP check.
type HTTPReport struct {
	Result *ProbeResult
	OK     bool
}

// Status returns "OK" or "Failure".
func (hr *HTTPReport) Status() string {
	if hr.OK {
		return "OK"
	}
	return "Failure"
}

// ReportSink consumes the results of a run.
type ReportSink interface {
	Consume(ctx context.Context, report *RunReport) error
}

// LogSink is a [ReportSink] writing a summary of the report to a [Logger].
type LogSink struct {
	Logger Logger
}

var _ ReportSink = &LogSink{}

// Consume implements ReportSink
func (ls *LogSink) Consume(ctx context.Context, report *RunReport) error {
	ls.Logger.Infof("netharness: run %s: %d ping probes, %d http checks, %d captured samples",
		report.RunID, len(report.Pings), len(report.HTTPChecks), len(report.Captures))
	for _, ping := range report.Pings {
		s := ping.Summary
		ls.Logger.Infof(
			"netharness: %s: count=%d min=%.6fs mean=%.6fs median=%.6fs p95=%.6fs max=%.6fs loss=%g%%",
			ping.Result.PairKey(), s.Count, s.Min, s.Mean, s.Median, s.P95, s.Max,
			ping.Statistics.LossPercent,
		)
	}
	for _, check := range report.HTTPChecks {
		ls.Logger.Infof("netharness: response from %s to %s: %s",
			check.Result.Source, check.Result.Target, check.Status())
	}
	groups := GroupByPair(report.Captures)
	for _, key := range SortedKeys(groups) {
		s := Summarize(Seconds(groups[key]))
		ls.Logger.Infof("netharness: capture %s: count=%d median=%.6fs", key, s.Count, s.Median)
	}
	return nil
}

// PrometheusTextfileSink is a [ReportSink] writing gauges in the
// Prometheus text exposition format, suitable for the node exporter
// textfile collector.
type PrometheusTextfileSink struct {
	// Path is the MANDATORY output file path.
	Path string
}

var _ ReportSink = &PrometheusTextfileSink{}

// Consume implements ReportSink
func (ps *PrometheusTextfileSink) Consume(ctx context.Context, report *RunReport) error {
	reg := prometheus.NewRegistry()
	latency := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "netharness_latency_seconds",
		Help:        "Round trip time between emulated nodes.",
		ConstLabels: prometheus.Labels{"run_id": report.RunID},
	}, []string{"pair", "quantile"})
	samples := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "netharness_latency_samples_total",
		Help:        "Number of round trip samples between emulated nodes.",
		ConstLabels: prometheus.Labels{"run_id": report.RunID},
	}, []string{"pair"})
	httpCheck := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "netharness_http_check_success",
		Help:        "Whether the HTTP check between emulated nodes succeeded.",
		ConstLabels: prometheus.Labels{"run_id": report.RunID},
	}, []string{"source", "target"})
	reg.MustRegister(latency, samples, httpCheck)

	for _, ping := range report.Pings {
		pair, s := ping.Result.PairKey(), ping.Summary
		samples.WithLabelValues(pair).Set(float64(s.Count))
		if s.Count <= 0 {
			continue
		}
		latency.WithLabelValues(pair, "0").Set(s.Min)
		latency.WithLabelValues(pair, "0.5").Set(s.Median)
		latency.WithLabelValues(pair, "0.95").Set(s.P95)
		latency.WithLabelValues(pair, "1").Set(s.Max)
	}
	for _, check := range report.HTTPChecks {
		value := 0.0
		if check.OK {
			value = 1
		}
		httpCheck.WithLabelValues(check.Result.Source, check.Result.Target).Set(value)
	}

	if err := os.MkdirAll(filepath.Dir(ps.Path), 0o755); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(ps.Path, reg); err != nil {
		return fmt.Errorf("netharness: prometheus textfile: %w", err)
	}
	return nil
}
