package netharness

//
// SDN controller process supervision
//

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ControllerState is the state of a supervised controller process.
type ControllerState int

const (
	// ControllerIdle means we have not spawned the process yet.
	ControllerIdle = ControllerState(iota)

	// ControllerStarting means the process is running but the
	// controller port is not accepting connections yet.
	ControllerStarting

	// ControllerReady means the controller port accepts connections.
	ControllerReady

	// ControllerFailed means the process exited early or did not
	// become ready before the timeout.
	ControllerFailed

	// ControllerTerminated means we reaped the process.
	ControllerTerminated
)

// String implements fmt.Stringer
func (s ControllerState) String() string {
	switch s {
	case ControllerIdle:
		return "idle"
	case ControllerStarting:
		return "starting"
	case ControllerReady:
		return "ready"
	case ControllerFailed:
		return "failed"
	case ControllerTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrControllerStartupTimeout indicates the controller did not become ready in time.
var ErrControllerStartupTimeout = errors.New("netharness: controller startup timeout")

// ErrControllerCrashed indicates the controller exited before becoming ready.
var ErrControllerCrashed = errors.New("netharness: controller crashed")

// ErrControllerNotStarted indicates that we did not spawn the controller or
// that we already terminated it.
var ErrControllerNotStarted = errors.New("netharness: controller not started")

// ControllerTimeoutError is the [ErrControllerStartupTimeout] error
// with enough context to diagnose the failure.
type ControllerTimeoutError struct {
	// Command is the command line we executed.
	Command string

	// Address is the endpoint we were polling.
	Address string

	// Timeout is the timeout we used.
	Timeout time.Duration
}

var _ error = &ControllerTimeoutError{}

// Error implements error
func (e *ControllerTimeoutError) Error() string {
	return fmt.Sprintf("%s: %s not accepting connections after %s (command: %s)",
		ErrControllerStartupTimeout.Error(), e.Address, e.Timeout, e.Command)
}

// Unwrap allows using errors.Is with [ErrControllerStartupTimeout].
func (e *ControllerTimeoutError) Unwrap() error {
	return ErrControllerStartupTimeout
}

// ControllerCrashError is the [ErrControllerCrashed] error with the
// process exit code and the captured output streams.
type ControllerCrashError struct {
	// Command is the command line we executed.
	Command string

	// ExitCode is the process exit code (-1 if killed by a signal).
	ExitCode int

	// Stdout contains the captured standard output.
	Stdout string

	// Stderr contains the captured standard error.
	Stderr string
}

var _ error = &ControllerCrashError{}

// Error implements error
func (e *ControllerCrashError) Error() string {
	return fmt.Sprintf("%s: exit code %d (command: %s)\nstdout: %s\nstderr: %s",
		ErrControllerCrashed.Error(), e.ExitCode, e.Command, e.Stdout, e.Stderr)
}

// Unwrap allows using errors.Is with [ErrControllerCrashed].
func (e *ControllerCrashError) Unwrap() error {
	return ErrControllerCrashed
}

// ControllerConfig contains config for a [ControllerSupervisor]. Make
// sure you initialize all the fields marked as MANDATORY.
type ControllerConfig struct {
	// BindAddress is the MANDATORY controller IP address.
	BindAddress string

	// Port is the MANDATORY controller TCP port.
	Port int

	// GracePeriod is the OPTIONAL time we wait after the graceful
	// termination signal before killing (default: 5s). It also bounds
	// how long we wait for the output streams to close once the process
	// has exited, since detached children may keep them open.
	GracePeriod time.Duration

	// Dir is the OPTIONAL working directory of the process.
	Dir string

	// Env is the OPTIONAL extra environment of the process.
	Env []string
}

// ControllerProcess is a snapshot of the supervised process.
type ControllerProcess struct {
	// PID is the process ID (zero before Start).
	PID int

	// BindAddress is the controller IP address.
	BindAddress string

	// Port is the controller TCP port.
	Port int

	// State is the process state.
	State ControllerState
}

// ControllerEndpoint is what [NetworkHarness.Start] needs to know
// about a controller. [*ControllerSupervisor] implements it.
type ControllerEndpoint interface {
	// Address returns the controller endpoint (e.g., 127.0.0.1:6633).
	Address() string

	// State returns the current controller state.
	State() ControllerState
}

// DialFunc is the type of the function used to probe the controller port.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// maxCapturedOutput is the maximum number of bytes we keep for each stream.
const maxCapturedOutput = 64 << 10

// ControllerSupervisor owns the process of an external SDN controller. The
// zero value is invalid; use [NewControllerSupervisor] to construct.
//
// The supervisor is a state machine where Idle->Starting happens in Start,
// Starting->Ready and Starting->Failed happen in AwaitReady, and every state
// goes to Terminated in Terminate, which is idempotent.
type ControllerSupervisor struct {
	// Dial is the OPTIONAL function to probe the port (default: net.Dialer).
	Dial DialFunc

	// config is the supervisor config.
	config ControllerConfig

	// command is the human readable command line.
	command string

	// cmd is the process, if started.
	cmd *exec.Cmd

	// exited is closed after the process has been reaped.
	exited chan any

	// exitErr is the Wait result, readable after exited is closed.
	exitErr error

	// logger is the logger to use.
	logger Logger

	// mu provides mutual exclusion for state.
	mu sync.Mutex

	// state is the current state.
	state ControllerState

	// stdout and stderr capture the output streams.
	stdout, stderr *boundedBuffer
}

var _ ControllerEndpoint = &ControllerSupervisor{}

// NewControllerSupervisor creates a new [ControllerSupervisor] in the idle state.
func NewControllerSupervisor(logger Logger, config *ControllerConfig) *ControllerSupervisor {
	cfg := *config
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	return &ControllerSupervisor{
		Dial:    nil,
		config:  cfg,
		exited:  make(chan any),
		logger:  logger,
		mu:      sync.Mutex{},
		state:   ControllerIdle,
		stdout:  newBoundedBuffer(maxCapturedOutput),
		stderr:  newBoundedBuffer(maxCapturedOutput),
		command: "",
	}
}

// Start spawns the controller process. On success the state is Starting.
func (cs *ControllerSupervisor) Start(command string, args ...string) (*ControllerProcess, error) {
	defer cs.mu.Unlock()
	cs.mu.Lock()
	if cs.state != ControllerIdle {
		return nil, fmt.Errorf("netharness: cannot start controller in state %s", cs.state)
	}

	cs.command = strings.Join(append([]string{command}, args...), " ")
	cmd := exec.Command(command, args...)
	cmd.Dir = cs.config.Dir
	if len(cs.config.Env) > 0 {
		cmd.Env = append(cmd.Environ(), cs.config.Env...)
	}
	cmd.Stdout = cs.stdout
	cmd.Stderr = cs.stderr
	// orphans holding the output pipes must not delay noticing the exit
	cmd.WaitDelay = cs.config.GracePeriod
	configureProcessGroup(cmd)

	cs.logger.Infof("netharness: starting controller: %s", cs.command)
	if err := cmd.Start(); err != nil {
		cs.state = ControllerFailed
		return nil, fmt.Errorf("netharness: starting controller %q: %w", cs.command, err)
	}
	cs.cmd = cmd
	cs.state = ControllerStarting

	go func() {
		err := cmd.Wait()
		cs.exitErr = err
		close(cs.exited)
	}()

	return cs.processLocked(), nil
}

// Address implements ControllerEndpoint
func (cs *ControllerSupervisor) Address() string {
	return net.JoinHostPort(cs.config.BindAddress, strconv.Itoa(cs.config.Port))
}

// State implements ControllerEndpoint
func (cs *ControllerSupervisor) State() ControllerState {
	defer cs.mu.Unlock()
	cs.mu.Lock()
	return cs.state
}

// Process returns a snapshot of the supervised process.
func (cs *ControllerSupervisor) Process() *ControllerProcess {
	defer cs.mu.Unlock()
	cs.mu.Lock()
	return cs.processLocked()
}

func (cs *ControllerSupervisor) processLocked() *ControllerProcess {
	proc := &ControllerProcess{
		BindAddress: cs.config.BindAddress,
		Port:        cs.config.Port,
		State:       cs.state,
	}
	if cs.cmd != nil && cs.cmd.Process != nil {
		proc.PID = cs.cmd.Process.Pid
	}
	return proc
}

// AwaitReady polls the controller port every pollInterval until a TCP
// connection succeeds, the process exits, the timeout expires or the
// context is done, whichever happens first. All the conditions are
// checked by a single loop. On success the state is Ready; on failure
// the state is Failed and the error is either a [*ControllerCrashError]
// or a [*ControllerTimeoutError].
func (cs *ControllerSupervisor) AwaitReady(
	ctx context.Context, timeout, pollInterval time.Duration) (ControllerState, error) {
	cs.mu.Lock()
	state := cs.state
	cs.mu.Unlock()
	switch state {
	case ControllerReady:
		return ControllerReady, nil
	case ControllerStarting:
		// fallthrough
	default:
		return state, fmt.Errorf("%w: state is %s", ErrControllerNotStarted, state)
	}

	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	address := cs.Address()
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		// a connection accepted before the deadline wins
		if time.Now().Before(deadline) && cs.tryConnect(ctx, address, time.Until(deadline)) {
			cs.logger.Infof("netharness: controller %s ready", address)
			return cs.transition(ControllerStarting, ControllerReady), nil
		}

		// a dead process will never become ready
		select {
		case <-cs.exited:
			cs.transition(ControllerStarting, ControllerFailed)
			err := cs.crashError()
			cs.logger.Warnf("netharness: %s", err.Error())
			return ControllerFailed, err
		default:
		}

		if !time.Now().Before(deadline) {
			cs.transition(ControllerStarting, ControllerFailed)
			err := &ControllerTimeoutError{Command: cs.command, Address: address, Timeout: timeout}
			cs.logger.Warnf("netharness: %s", err.Error())
			return ControllerFailed, err
		}

		cs.logger.Debugf("netharness: controller %s not ready yet", address)
		select {
		case <-ctx.Done():
			cs.transition(ControllerStarting, ControllerFailed)
			return ControllerFailed, ctx.Err()
		case <-cs.exited:
		case <-ticker.C:
		case <-time.After(time.Until(deadline)):
		}
	}
}

// tryConnect performs a TCP connect-and-close against the address.
func (cs *ControllerSupervisor) tryConnect(ctx context.Context, address string, budget time.Duration) bool {
	const maxConnectTime = 5 * time.Second
	if budget > maxConnectTime {
		budget = maxConnectTime
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	dial := cs.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	conn, err := dial(ctx, "tcp", address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// transition moves from the given state to the next state, returning
// the state after the transition attempt.
func (cs *ControllerSupervisor) transition(from, to ControllerState) ControllerState {
	defer cs.mu.Unlock()
	cs.mu.Lock()
	if cs.state == from {
		cs.state = to
	}
	return cs.state
}

// crashError builds the error describing an early exit.
func (cs *ControllerSupervisor) crashError() *ControllerCrashError {
	exitCode := 0
	var exitErr *exec.ExitError
	switch {
	case errors.As(cs.exitErr, &exitErr):
		exitCode = exitErr.ExitCode()
	case cs.cmd != nil && cs.cmd.ProcessState != nil:
		// Wait may fail with exec.ErrWaitDelay after a clean exit
		exitCode = cs.cmd.ProcessState.ExitCode()
	case cs.exitErr != nil:
		exitCode = -1
	}
	return &ControllerCrashError{
		Command:  cs.command,
		ExitCode: exitCode,
		Stdout:   cs.stdout.String(),
		Stderr:   cs.stderr.String(),
	}
}

// Stdout returns the captured standard output.
func (cs *ControllerSupervisor) Stdout() string {
	return cs.stdout.String()
}

// Stderr returns the captured standard error.
func (cs *ControllerSupervisor) Stderr() string {
	return cs.stderr.String()
}

// Terminate sends the graceful termination signal, waits for the grace
// period and then kills the process if it is still alive. This method
// always leaves the supervisor in the Terminated state and is idempotent:
// calls after the first one do nothing and return nil. When Terminate
// returns, the process has been reaped.
func (cs *ControllerSupervisor) Terminate() error {
	cs.mu.Lock()
	if cs.state == ControllerTerminated {
		cs.mu.Unlock()
		return nil
	}
	cmd := cs.cmd
	cs.state = ControllerTerminated
	cs.mu.Unlock()

	if cmd == nil {
		return nil
	}

	select {
	case <-cs.exited:
		cs.logger.Debugf("netharness: controller already exited")
		return nil
	default:
	}

	cs.logger.Infof("netharness: terminating controller (pid %d)", cmd.Process.Pid)
	if err := signalTerminate(cmd); err != nil {
		cs.logger.Warnf("netharness: signalTerminate: %s", err.Error())
	}

	timer := time.NewTimer(cs.config.GracePeriod)
	defer timer.Stop()
	select {
	case <-cs.exited:
		cs.logger.Infof("netharness: controller terminated")
		return nil
	case <-timer.C:
	}

	cs.logger.Warnf("netharness: controller still alive after %s; killing", cs.config.GracePeriod)
	if err := signalKill(cmd); err != nil {
		cs.logger.Warnf("netharness: signalKill: %s", err.Error())
	}
	<-cs.exited
	cs.logger.Infof("netharness: controller killed")
	return nil
}

// WithController starts the controller, waits for it to be ready and
// runs fn. The controller is terminated on every return path of this
// function, including panics in fn and startup failures.
func WithController(
	ctx context.Context,
	cs *ControllerSupervisor,
	cmd []string,
	timeout, pollInterval time.Duration,
	fn func(ctx context.Context) error,
) (err error) {
	if len(cmd) < 1 {
		return fmt.Errorf("netharness: empty controller command")
	}
	defer func() {
		err = errors.Join(err, cs.Terminate())
	}()
	if _, err := cs.Start(cmd[0], cmd[1:]...); err != nil {
		return err
	}
	if _, err := cs.AwaitReady(ctx, timeout, pollInterval); err != nil {
		return err
	}
	return fn(ctx)
}

// boundedBuffer is a goroutine safe buffer keeping at most max bytes.
type boundedBuffer struct {
	buf bytes.Buffer
	max int
	mu  sync.Mutex
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

// Write implements io.Writer. Excess bytes are silently discarded.
func (bb *boundedBuffer) Write(data []byte) (int, error) {
	defer bb.mu.Unlock()
	bb.mu.Lock()
	if room := bb.max - bb.buf.Len(); room > 0 {
		if len(data) > room {
			bb.buf.Write(data[:room])
		} else {
			bb.buf.Write(data)
		}
	}
	return len(data), nil
}

// String returns the buffered data.
func (bb *boundedBuffer) String() string {
	defer bb.mu.Unlock()
	bb.mu.Lock()
	return bb.buf.String()
}
