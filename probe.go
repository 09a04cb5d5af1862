package netharness

//
// Connectivity probes
//

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// ErrProbeExecutionFailed indicates that a probe command produced no output.
var ErrProbeExecutionFailed = errors.New("netharness: probe execution failed")

// NodeExecutor runs commands in the context of emulated nodes. The
// [*EmulatedNetwork] type implements this interface.
type NodeExecutor interface {
	Address(nodeID string) (string, error)
	Exec(ctx context.Context, nodeID string, command string) (string, error)
	Spawn(ctx context.Context, nodeID string, command string) error
}

var _ NodeExecutor = &EmulatedNetwork{}

// ConnectivityProbe issues probes from emulated nodes and captures their
// raw output without interpreting it. The zero value is invalid; use
// [NewConnectivityProbe] to construct.
type ConnectivityProbe struct {
	// PingCommand is the command used for ICMP round trips (default: "ping").
	PingCommand string

	// HTTPCommand is the command used for HTTP GETs (default: "curl -s").
	HTTPCommand string

	// CaptureCommand is the packet capture command (default: "tcpdump -n -U").
	CaptureCommand string

	// TimeNow is the OPTIONAL function returning the current time.
	TimeNow func() time.Time

	// executor runs the commands.
	executor NodeExecutor

	// logger is the logger to use.
	logger Logger
}

// NewConnectivityProbe creates a new [ConnectivityProbe].
func NewConnectivityProbe(logger Logger, executor NodeExecutor) *ConnectivityProbe {
	return &ConnectivityProbe{
		PingCommand:    "ping",
		HTTPCommand:    "curl -s",
		CaptureCommand: "tcpdump -n -U",
		TimeNow:        time.Now,
		executor:       executor,
		logger:         logger,
	}
}

// now returns the current time.
func (cp *ConnectivityProbe) now() time.Time {
	if cp.TimeNow != nil {
		return cp.TimeNow()
	}
	return time.Now()
}

// PingSequence sends count ICMP echo requests from source to target and
// captures the combined output verbatim. The returned error wraps
// [ErrProbeExecutionFailed] when the command produced no output, in which
// case the result is nil.
func (cp *ConnectivityProbe) PingSequence(
	ctx context.Context, source, target string, count int) (*ProbeResult, error) {
	addr, err := cp.executor.Address(target)
	if err != nil {
		return nil, err
	}
	if count < 1 {
		count = 1
	}
	command := fmt.Sprintf("%s -c %d %s", cp.PingCommand, count, addr)
	return cp.run(ctx, source, target, ProtocolICMP, command)
}

// HTTPCheck performs a single HTTP GET from source to target:port. The
// result only tells whether the transport worked: see [HTTPSucceeded].
// Unlike PingSequence, an empty output is a valid (failed) result.
func (cp *ConnectivityProbe) HTTPCheck(
	ctx context.Context, source, target string, port int) (*ProbeResult, error) {
	addr, err := cp.executor.Address(target)
	if err != nil {
		return nil, err
	}
	url := "http://" + net.JoinHostPort(addr, strconv.Itoa(port))
	command := fmt.Sprintf("%s %s", cp.HTTPCommand, url)
	result, err := cp.run(ctx, source, target, ProtocolHTTP, command)
	if errors.Is(err, ErrProbeExecutionFailed) {
		return &ProbeResult{
			Source:    source,
			Target:    target,
			Protocol:  ProtocolHTTP,
			RawOutput: "",
			IssuedAt:  cp.now(),
		}, nil
	}
	return result, err
}

// HTTPSucceeded returns whether an HTTP probe succeeded, i.e., whether
// it produced any output at all.
func HTTPSucceeded(result *ProbeResult) bool {
	return result != nil && len(result.RawOutput) > 0
}

// run runs the command and builds the [ProbeResult].
func (cp *ConnectivityProbe) run(
	ctx context.Context, source, target string, proto Protocol, command string) (*ProbeResult, error) {
	issuedAt := cp.now()
	output, err := cp.executor.Exec(ctx, source, command)

	// ping exits with nonzero status when it loses packets but
	// the output is still what we want to capture
	if errors.Is(err, ErrUnknownNode) || errors.Is(err, ErrNetworkNotRunning) {
		return nil, err
	}
	if output == "" {
		if err == nil {
			err = errors.New("empty output")
		}
		return nil, fmt.Errorf("%w: %s: %s: %w", ErrProbeExecutionFailed, source, command, err)
	}
	if err != nil {
		cp.logger.Debugf("netharness: %s: %s: %s", source, command, err.Error())
	}
	result := &ProbeResult{
		Source:    source,
		Target:    target,
		Protocol:  proto,
		RawOutput: output,
		IssuedAt:  issuedAt,
	}
	return result, nil
}

// StartCapture starts capturing ICMP packets on a node interface into
// the given pcap file. The capture runs until the network stops.
func (cp *ConnectivityProbe) StartCapture(ctx context.Context, nodeID, iface, path string) error {
	if iface == "" {
		iface = nodeID + "-eth0"
	}
	command := fmt.Sprintf("%s -i %s -w %s icmp", cp.CaptureCommand, iface, path)
	return cp.executor.Spawn(ctx, nodeID, command)
}

// PingPair is a (source, target) pair for ping probes.
type PingPair struct {
	Source string `mapstructure:"source" yaml:"source" validate:"required"`
	Target string `mapstructure:"target" yaml:"target" validate:"required"`
}

// ProbePlan describes the probes to run.
type ProbePlan struct {
	// Pings contains the ping pairs in the order of the report.
	Pings []PingPair

	// PingCount is the number of echo requests per pair.
	PingCount int

	// HTTPSources contains the nodes running the HTTP check.
	HTTPSources []string

	// HTTPTarget is the node running the HTTP server (empty to skip).
	HTTPTarget string

	// HTTPPort is the HTTP server port.
	HTTPPort int

	// Concurrency is the maximum number of probes in flight (default: 1).
	Concurrency int
}

// PlanResult contains the results of a [ProbePlan] in plan order. A
// nil entry means the corresponding probe failed; see Errors.
type PlanResult struct {
	Pings  []*ProbeResult
	HTTP   []*ProbeResult
	Errors []error
}

// RunPlan runs all the probes in the plan. Probes run concurrently up to
// the configured concurrency, but a node's commands never overlap
// (see [EmulatedNetwork.Exec]) and results keep the plan order. A failed
// probe is logged and does not prevent running the others.
func (cp *ConnectivityProbe) RunPlan(ctx context.Context, plan *ProbePlan) *PlanResult {
	out := &PlanResult{
		Pings: make([]*ProbeResult, len(plan.Pings)),
		HTTP:  make([]*ProbeResult, len(plan.HTTPSources)),
	}
	errs := make([]error, len(plan.Pings)+len(plan.HTTPSources))

	concurrency := plan.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	p := pool.New().WithMaxGoroutines(concurrency)

	for idx, pair := range plan.Pings {
		idx, pair := idx, pair
		p.Go(func() {
			cp.logger.Infof("netharness: ping %s -> %s", pair.Source, pair.Target)
			result, err := cp.PingSequence(ctx, pair.Source, pair.Target, plan.PingCount)
			if err != nil {
				cp.logger.Warnf("netharness: ping %s -> %s: %s", pair.Source, pair.Target, err.Error())
				errs[idx] = err
				return
			}
			out.Pings[idx] = result
		})
	}

	if plan.HTTPTarget != "" {
		for idx, source := range plan.HTTPSources {
			idx, source := idx, source
			p.Go(func() {
				result, err := cp.HTTPCheck(ctx, source, plan.HTTPTarget, plan.HTTPPort)
				if err != nil {
					cp.logger.Warnf("netharness: http %s -> %s: %s", source, plan.HTTPTarget, err.Error())
					errs[len(plan.Pings)+idx] = err
					return
				}
				status := "Failure"
				if HTTPSucceeded(result) {
					status = "OK"
				}
				cp.logger.Infof("netharness: response from %s to %s: %s", source, plan.HTTPTarget, status)
				out.HTTP[idx] = result
			})
		}
	}

	p.Wait()
	for _, err := range errs {
		if err != nil {
			out.Errors = append(out.Errors, err)
		}
	}
	return out
}
