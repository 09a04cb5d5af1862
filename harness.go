package netharness

//
// Network harness
//

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrControllerNotReady indicates that the controller has not reached the Ready state.
var ErrControllerNotReady = errors.New("netharness: controller not ready")

// ErrNetworkStartFailure indicates that we could not bind the topology to the controller.
var ErrNetworkStartFailure = errors.New("netharness: network start failure")

// ErrUnknownNode indicates that a node is not part of the running topology.
var ErrUnknownNode = errors.New("netharness: unknown node")

// ErrNetworkNotRunning indicates an operation on a stopped network.
var ErrNetworkNotRunning = errors.New("netharness: network not running")

// ErrNetworkAlreadyRunning indicates a second Start without Stop.
var ErrNetworkAlreadyRunning = errors.New("netharness: network already running")

// DefaultTeardownTimeout is the default time budget for tearing down a network.
const DefaultTeardownTimeout = 30 * time.Second

// NetworkHarness instantiates [EmulatedNetwork]s using an [Emulator].
// The zero value is invalid; use [NewNetworkHarness] to construct.
type NetworkHarness struct {
	// TeardownTimeout is the time budget for Stop (default: DefaultTeardownTimeout).
	TeardownTimeout time.Duration

	// current is the running network, if any.
	current *EmulatedNetwork

	// emulator is the emulation backend.
	emulator Emulator

	// logger is the logger to use.
	logger Logger

	// mu provides mutual exclusion.
	mu sync.Mutex
}

// NewNetworkHarness creates a new [NetworkHarness].
func NewNetworkHarness(logger Logger, emulator Emulator) *NetworkHarness {
	return &NetworkHarness{
		TeardownTimeout: DefaultTeardownTimeout,
		emulator:        emulator,
		logger:          logger,
		mu:              sync.Mutex{},
	}
}

// Start builds the topology and binds its switches to the controller. This
// function fails with [ErrControllerNotReady] if the controller is not Ready
// and with [ErrNetworkStartFailure] if the emulator fails. On failure, we
// tear down whatever the emulator managed to create.
func (h *NetworkHarness) Start(
	ctx context.Context, topology *Topology, controller ControllerEndpoint) (*EmulatedNetwork, error) {
	defer h.mu.Unlock()
	h.mu.Lock()
	if h.current != nil && h.current.Running() {
		return nil, ErrNetworkAlreadyRunning
	}
	if state := controller.State(); state != ControllerReady {
		return nil, fmt.Errorf("%w: %s is %s", ErrControllerNotReady, controller.Address(), state)
	}

	h.logger.Infof("netharness: starting network bound to controller %s", controller.Address())
	if err := h.emulator.Setup(ctx, topology, controller.Address()); err != nil {
		h.logger.Warnf("netharness: emulator setup: %s", err.Error())
		if terr := h.teardown(); terr != nil {
			h.logger.Warnf("netharness: teardown after failed setup: %s", terr.Error())
		}
		return nil, fmt.Errorf("%w: %w", ErrNetworkStartFailure, err)
	}

	locks := map[string]*sync.Mutex{}
	for _, node := range topology.Nodes() {
		locks[node.ID] = &sync.Mutex{}
	}
	net := &EmulatedNetwork{
		controller: controller,
		harness:    h,
		locks:      locks,
		running:    true,
		topology:   topology,
	}
	h.current = net
	return net, nil
}

// Stop stops the currently running network, if any. This method is idempotent.
func (h *NetworkHarness) Stop() error {
	h.mu.Lock()
	net := h.current
	h.mu.Unlock()
	if net == nil {
		return nil
	}
	return net.Stop()
}

// teardown tears down the emulator with a fresh context such that
// cancelling the run context never prevents cleaning up.
func (h *NetworkHarness) teardown() error {
	timeout := h.TeardownTimeout
	if timeout <= 0 {
		timeout = DefaultTeardownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.emulator.Teardown(ctx)
}

// EmulatedNetwork is a running emulated network. No operation is valid
// after Stop returns. Use [NetworkHarness.Start] to construct.
type EmulatedNetwork struct {
	controller ControllerEndpoint
	harness    *NetworkHarness

	// locks makes each node's command channel single writer.
	locks map[string]*sync.Mutex

	mu       sync.Mutex
	running  bool
	spawned  []BackgroundProcess
	stopErr  error
	topology *Topology
}

// Running returns whether the network is running.
func (n *EmulatedNetwork) Running() bool {
	defer n.mu.Unlock()
	n.mu.Lock()
	return n.running
}

// Topology returns the topology bound to this network.
func (n *EmulatedNetwork) Topology() *Topology {
	return n.topology
}

// Controller returns the controller this network is bound to.
func (n *EmulatedNetwork) Controller() ControllerEndpoint {
	return n.controller
}

// checkNode ensures the network is running and the node exists.
func (n *EmulatedNetwork) checkNode(nodeID string) error {
	if !n.Running() {
		return ErrNetworkNotRunning
	}
	if _, found := n.topology.Node(nodeID); !found {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	return nil
}

// Address returns the IP address of an endpoint node.
func (n *EmulatedNetwork) Address(nodeID string) (string, error) {
	if err := n.checkNode(nodeID); err != nil {
		return "", err
	}
	return n.harness.emulator.NodeAddress(nodeID), nil
}

// Exec runs a command in the context of the given node and returns its
// combined output. Commands targeting the same node are serialized.
func (n *EmulatedNetwork) Exec(ctx context.Context, nodeID string, command string) (string, error) {
	if err := n.checkNode(nodeID); err != nil {
		return "", err
	}
	lock := n.locks[nodeID]
	defer lock.Unlock()
	lock.Lock()
	return n.harness.emulator.Exec(ctx, nodeID, command)
}

// Spawn starts a long-running command in the context of the given
// node. Stop terminates every spawned command.
func (n *EmulatedNetwork) Spawn(ctx context.Context, nodeID string, command string) error {
	if err := n.checkNode(nodeID); err != nil {
		return err
	}
	proc, err := n.harness.emulator.Spawn(ctx, nodeID, command)
	if err != nil {
		return err
	}
	defer n.mu.Unlock()
	n.mu.Lock()
	if !n.running {
		// lost a race with Stop
		return errors.Join(ErrNetworkNotRunning, proc.Stop())
	}
	n.spawned = append(n.spawned, proc)
	return nil
}

// Stop terminates the spawned commands and tears down all the links,
// switches and nodes. This method is idempotent and subsequent calls
// return the result of the first call.
func (n *EmulatedNetwork) Stop() error {
	n.mu.Lock()
	if !n.running {
		err := n.stopErr
		n.mu.Unlock()
		return err
	}
	n.running = false
	spawned := n.spawned
	n.spawned = nil
	n.mu.Unlock()

	logger := n.harness.logger
	logger.Info("netharness: stopping network")
	var errs []error
	for idx := len(spawned) - 1; idx >= 0; idx-- {
		if err := spawned[idx].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := n.harness.teardown(); err != nil {
		logger.Warnf("netharness: teardown: %s", err.Error())
		errs = append(errs, err)
	}

	n.mu.Lock()
	n.stopErr = errors.Join(errs...)
	n.mu.Unlock()
	logger.Info("netharness: network stopped")
	return n.stopErr
}

// WithNetwork starts a network, runs fn and stops the network on every
// return path, including panics inside fn.
func WithNetwork(
	ctx context.Context,
	h *NetworkHarness,
	topology *Topology,
	controller ControllerEndpoint,
	fn func(ctx context.Context, net *EmulatedNetwork) error,
) (err error) {
	net, err := h.Start(ctx, topology, controller)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, net.Stop())
	}()
	return fn(ctx, net)
}
