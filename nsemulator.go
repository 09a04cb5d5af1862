package netharness

//
// Network namespaces + Open vSwitch emulator
//

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ErrInterfaceName indicates that a generated interface name is too
// long for the kernel (IFNAMSIZ is 16 including the terminator).
var ErrInterfaceName = errors.New("netharness: interface name too long")

// maxInterfaceName is the maximum length of a Linux interface name.
const maxInterfaceName = 15

// NamespaceEmulator is an [Emulator] creating one network namespace per
// endpoint node, one Open vSwitch bridge per switch node and one veth
// pair per link. This is the same machinery Mininet uses. The zero value
// is invalid; use [NewNamespaceEmulator] to construct.
//
// Endpoint nodes receive addresses from 10.0.0.1/8 onward in
// declaration order. Shaped links get a netem qdisc on both ends.
type NamespaceEmulator struct {
	// NamespacePrefix is the prefix for namespace names (default "nh-").
	NamespacePrefix string

	// OpenFlowVersion is the protocol we configure on bridges (default OpenFlow10).
	OpenFlowVersion string

	// addresses maps endpoint node IDs to their IPv4 address.
	addresses map[string]string

	// bridges contains the bridges we created.
	bridges []string

	// logger is the logger to use.
	logger Logger

	// mu provides mutual exclusion.
	mu sync.Mutex

	// namespaces contains the namespaces we created.
	namespaces []string

	// rootVeths contains the veths left in the root namespace by
	// switch-to-switch links, which we must delete explicitly.
	rootVeths []string

	// runner runs the commands.
	runner CommandRunner

	// topology is the topology passed to Setup.
	topology *Topology
}

var _ Emulator = &NamespaceEmulator{}

// NewNamespaceEmulator creates a new [NamespaceEmulator].
func NewNamespaceEmulator(logger Logger, runner CommandRunner) *NamespaceEmulator {
	return &NamespaceEmulator{
		NamespacePrefix: "nh-",
		OpenFlowVersion: "OpenFlow10",
		addresses:       map[string]string{},
		logger:          logger,
		mu:              sync.Mutex{},
		runner:          runner,
	}
}

// namespace returns the namespace name of an endpoint node.
func (ne *NamespaceEmulator) namespace(nodeID string) string {
	return ne.NamespacePrefix + nodeID
}

// run runs a command and logs it.
func (ne *NamespaceEmulator) run(ctx context.Context, name string, args ...string) error {
	_, err := ne.runner.Run(ctx, name, args...)
	return err
}

// Setup implements Emulator
func (ne *NamespaceEmulator) Setup(ctx context.Context, topology *Topology, controllerAddress string) error {
	defer ne.mu.Unlock()
	ne.mu.Lock()
	ne.topology = topology

	// create switches and bind them to the controller
	for _, node := range topology.NodesWithRole(RoleSwitch) {
		if err := ne.setupSwitch(ctx, node.ID, controllerAddress); err != nil {
			return err
		}
	}

	// create one namespace per endpoint node
	hostnum := 0
	for _, node := range topology.Nodes() {
		if !node.Role.IsEndpoint() {
			continue
		}
		ns := ne.namespace(node.ID)
		ne.logger.Infof("netharness: ip netns add %s", ns)
		if err := ne.run(ctx, "ip", "netns", "add", ns); err != nil {
			return err
		}
		ne.namespaces = append(ne.namespaces, ns)
		if err := ne.run(ctx, "ip", "-n", ns, "link", "set", "lo", "up"); err != nil {
			return err
		}
		hostnum++
		ne.addresses[node.ID] = fmt.Sprintf("10.0.%d.%d", hostnum/256, hostnum%256)
	}

	// create the links
	ifaces := map[string]int{}
	for _, link := range topology.Links() {
		ifA := fmt.Sprintf("%s-eth%d", link.A, ifaces[link.A])
		ifaces[link.A]++
		ifB := fmt.Sprintf("%s-eth%d", link.B, ifaces[link.B])
		ifaces[link.B]++
		if err := ne.setupLink(ctx, link, ifA, ifB); err != nil {
			return err
		}
	}
	return nil
}

// setupSwitch creates an Open vSwitch bridge managed by the controller.
func (ne *NamespaceEmulator) setupSwitch(ctx context.Context, bridge, controllerAddress string) error {
	ne.logger.Infof("netharness: ovs-vsctl add-br %s", bridge)
	if err := ne.run(ctx, "ovs-vsctl", "--may-exist", "add-br", bridge); err != nil {
		return err
	}
	ne.bridges = append(ne.bridges, bridge)
	steps := [][]string{
		{"ovs-vsctl", "set", "bridge", bridge, "protocols=" + ne.OpenFlowVersion},
		{"ovs-vsctl", "set-fail-mode", bridge, "secure"},
		{"ovs-vsctl", "set-controller", bridge, "tcp:" + controllerAddress},
		{"ip", "link", "set", bridge, "up"},
	}
	for _, argv := range steps {
		if err := ne.run(ctx, argv[0], argv[1:]...); err != nil {
			return err
		}
	}
	ne.logger.Infof("netharness: %s bound to controller %s", bridge, controllerAddress)
	return nil
}

// setupLink creates a veth pair and moves each end where it belongs.
func (ne *NamespaceEmulator) setupLink(ctx context.Context, link LinkSpec, ifA, ifB string) error {
	for _, name := range []string{ifA, ifB} {
		if len(name) > maxInterfaceName {
			return fmt.Errorf("%w: %s", ErrInterfaceName, name)
		}
	}
	ne.logger.Infof("netharness: ip link add %s type veth peer name %s", ifA, ifB)
	if err := ne.run(ctx, "ip", "link", "add", ifA, "type", "veth", "peer", "name", ifB); err != nil {
		return err
	}
	nodeA, _ := ne.topology.Node(link.A)
	nodeB, _ := ne.topology.Node(link.B)
	if !nodeA.Role.IsEndpoint() && !nodeB.Role.IsEndpoint() {
		ne.rootVeths = append(ne.rootVeths, ifA)
	}
	err := ne.attach(ctx, nodeA, ifA, &link.Config)
	if err == nil {
		err = ne.attach(ctx, nodeB, ifB, &link.Config)
	}
	if err != nil {
		// a half attached pair may still live in the root namespace
		_ = ne.run(ctx, "ip", "link", "del", ifA)
	}
	return err
}

// attach attaches one end of a veth pair to a node.
func (ne *NamespaceEmulator) attach(ctx context.Context, node NodeSpec, iface string, lc *LinkConfig) error {
	var steps [][]string
	switch node.Role {
	case RoleSwitch:
		steps = append(steps,
			[]string{"ovs-vsctl", "add-port", node.ID, iface},
			[]string{"ip", "link", "set", iface, "up"},
		)
		if lc.Shaped() {
			steps = append(steps, append([]string{"tc"}, netemQdiscArgs(iface, lc)...))
		}
	default:
		ns := ne.namespace(node.ID)
		steps = append(steps, []string{"ip", "link", "set", iface, "netns", ns})
		if iface == node.ID+"-eth0" {
			steps = append(steps, []string{"ip", "-n", ns, "addr", "add", ne.addresses[node.ID] + "/8", "dev", iface})
		}
		steps = append(steps, []string{"ip", "-n", ns, "link", "set", iface, "up"})
		if lc.Shaped() {
			steps = append(steps, append([]string{"tc", "-n", ns}, netemQdiscArgs(iface, lc)...))
		}
	}
	for _, argv := range steps {
		if err := ne.run(ctx, argv[0], argv[1:]...); err != nil {
			return err
		}
	}
	return nil
}

// netemQdiscArgs returns the tc arguments to shape an interface.
func netemQdiscArgs(iface string, lc *LinkConfig) []string {
	args := []string{"qdisc", "add", "dev", iface, "root", "netem"}
	if lc.Delay > 0 {
		args = append(args, "delay", strconv.FormatInt(lc.Delay.Microseconds(), 10)+"us")
	}
	if lc.PLR > 0 {
		args = append(args, "loss", strconv.FormatFloat(lc.PLR*100, 'f', -1, 64)+"%")
	}
	return args
}

// NodeAddress implements Emulator
func (ne *NamespaceEmulator) NodeAddress(nodeID string) string {
	defer ne.mu.Unlock()
	ne.mu.Lock()
	return ne.addresses[nodeID]
}

// commandArgv returns the argv to run a shell command in a node.
func (ne *NamespaceEmulator) commandArgv(nodeID, command string) []string {
	// switches live in the root namespace like in Mininet
	if node, found := ne.topology.Node(nodeID); found && node.Role == RoleSwitch {
		return []string{"sh", "-c", command}
	}
	return []string{"ip", "netns", "exec", ne.namespace(nodeID), "sh", "-c", command}
}

// Exec implements Emulator
func (ne *NamespaceEmulator) Exec(ctx context.Context, nodeID string, command string) (string, error) {
	argv := ne.commandArgv(nodeID, command)
	ne.logger.Debugf("netharness: %s: %s", nodeID, command)
	return ne.runner.Run(ctx, argv[0], argv[1:]...)
}

// Spawn implements Emulator
func (ne *NamespaceEmulator) Spawn(ctx context.Context, nodeID string, command string) (BackgroundProcess, error) {
	argv := ne.commandArgv(nodeID, command)
	ne.logger.Infof("netharness: %s: %s &", nodeID, command)
	return ne.runner.Start(ctx, argv[0], argv[1:]...)
}

// Teardown implements Emulator
func (ne *NamespaceEmulator) Teardown(ctx context.Context) error {
	defer ne.mu.Unlock()
	ne.mu.Lock()
	var errs []error

	// deleting a namespace also deletes its veths and their peers
	for _, ns := range ne.namespaces {
		ne.logger.Infof("netharness: ip netns del %s", ns)
		if err := ne.run(ctx, "ip", "netns", "del", ns); err != nil {
			errs = append(errs, err)
		}
	}
	for _, iface := range ne.rootVeths {
		if err := ne.run(ctx, "ip", "link", "del", iface); err != nil {
			errs = append(errs, err)
		}
	}
	for _, bridge := range ne.bridges {
		ne.logger.Infof("netharness: ovs-vsctl del-br %s", bridge)
		if err := ne.run(ctx, "ovs-vsctl", "--if-exists", "del-br", bridge); err != nil {
			errs = append(errs, err)
		}
	}

	ne.namespaces = nil
	ne.rootVeths = nil
	ne.bridges = nil
	ne.addresses = map[string]string{}
	return errors.Join(errs...)
}
