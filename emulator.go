package netharness

//
// Emulator backends and command execution
//

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Emulator is the network emulation backend driven by a [NetworkHarness].
// The emulator owns the packet forwarding; we only tell it what to build
// and run commands in the context of its nodes.
type Emulator interface {
	// Setup builds the topology and binds its switches to the controller.
	Setup(ctx context.Context, topology *Topology, controllerAddress string) error

	// NodeAddress returns the IP address assigned to an endpoint node
	// or an empty string if the node has no address.
	NodeAddress(nodeID string) string

	// Exec runs a command in the context of a node and returns
	// its combined standard output and standard error.
	Exec(ctx context.Context, nodeID string, command string) (string, error)

	// Spawn starts a long-running command in the context of a node.
	Spawn(ctx context.Context, nodeID string, command string) (BackgroundProcess, error)

	// Teardown destroys everything Setup created. It must be safe to
	// call after a partially failed Setup.
	Teardown(ctx context.Context) error
}

// BackgroundProcess is a process started by [Emulator.Spawn] or
// [CommandRunner.Start].
type BackgroundProcess interface {
	// Stop terminates the process and waits for it.
	Stop() error
}

// CommandRunner runs host commands.
type CommandRunner interface {
	// Run runs a command to completion and returns its combined output.
	Run(ctx context.Context, name string, args ...string) (string, error)

	// Start starts a long-running command.
	Start(ctx context.Context, name string, args ...string) (BackgroundProcess, error)
}

// ExecRunner is a [CommandRunner] using [os/exec]. The zero value
// is ready to use.
type ExecRunner struct {
	// Logger is the OPTIONAL logger to use.
	Logger Logger
}

var _ CommandRunner = &ExecRunner{}

// CommandError is returned by [ExecRunner.Run] when the command fails.
type CommandError struct {
	// Argv is the command line.
	Argv []string

	// Output is the combined output.
	Output string

	// Err is the underlying error.
	Err error
}

var _ error = &CommandError{}

// Error implements error
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s: %s", strings.Join(e.Argv, " "), e.Err.Error(), strings.TrimSpace(e.Output))
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Run implements CommandRunner
func (er *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	er.logger().Debugf("netharness: %s %s", name, strings.Join(args, " "))
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return string(output), &CommandError{
			Argv:   append([]string{name}, args...),
			Output: string(output),
			Err:    err,
		}
	}
	return string(output), nil
}

// Start implements CommandRunner. The context only gates spawning: a
// process that started keeps running after ctx is done until Stop.
func (er *ExecRunner) Start(ctx context.Context, name string, args ...string) (BackgroundProcess, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	er.logger().Debugf("netharness: %s %s &", name, strings.Join(args, " "))
	cmd := exec.Command(name, args...)
	configureProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	child := &childProcess{
		cmd:       cmd,
		exited:    make(chan any),
		stopOnce:  sync.Once{},
		logger:    er.logger(),
		graceTime: 2 * time.Second,
	}
	go func() {
		_ = cmd.Wait()
		close(child.exited)
	}()
	return child, nil
}

func (er *ExecRunner) logger() Logger {
	if er.Logger != nil {
		return er.Logger
	}
	return &NullLogger{}
}

// childProcess is a [BackgroundProcess] started by [ExecRunner].
type childProcess struct {
	cmd       *exec.Cmd
	exited    chan any
	stopOnce  sync.Once
	logger    Logger
	graceTime time.Duration
}

// Stop implements BackgroundProcess
func (cp *childProcess) Stop() (err error) {
	cp.stopOnce.Do(func() {
		select {
		case <-cp.exited:
			return
		default:
		}
		if err = signalTerminate(cp.cmd); err != nil {
			cp.logger.Warnf("netharness: signalTerminate: %s", err.Error())
		}
		select {
		case <-cp.exited:
			return
		case <-time.After(cp.graceTime):
		}
		err = signalKill(cp.cmd)
		<-cp.exited
	})
	return
}

// MockableEmulator is a mockable [Emulator].
type MockableEmulator struct {
	MockSetup       func(ctx context.Context, topology *Topology, controllerAddress string) error
	MockNodeAddress func(nodeID string) string
	MockExec        func(ctx context.Context, nodeID string, command string) (string, error)
	MockSpawn       func(ctx context.Context, nodeID string, command string) (BackgroundProcess, error)
	MockTeardown    func(ctx context.Context) error
}

var _ Emulator = &MockableEmulator{}

// Setup implements Emulator
func (me *MockableEmulator) Setup(ctx context.Context, topology *Topology, controllerAddress string) error {
	return me.MockSetup(ctx, topology, controllerAddress)
}

// NodeAddress implements Emulator
func (me *MockableEmulator) NodeAddress(nodeID string) string {
	return me.MockNodeAddress(nodeID)
}

// Exec implements Emulator
func (me *MockableEmulator) Exec(ctx context.Context, nodeID string, command string) (string, error) {
	return me.MockExec(ctx, nodeID, command)
}

// Spawn implements Emulator
func (me *MockableEmulator) Spawn(ctx context.Context, nodeID string, command string) (BackgroundProcess, error) {
	return me.MockSpawn(ctx, nodeID, command)
}

// Teardown implements Emulator
func (me *MockableEmulator) Teardown(ctx context.Context) error {
	return me.MockTeardown(ctx)
}

// BackgroundProcessFunc adapts a function to [BackgroundProcess].
type BackgroundProcessFunc func() error

// Stop implements BackgroundProcess
func (fn BackgroundProcessFunc) Stop() error {
	return fn()
}
