// Package netharness is a framework to write network emulation tests
// that run real programs on top of a kernel-emulated network managed by
// an external software-defined-network (SDN) controller.
//
// You declare the network using a [TopologyBuilder] (or [NewStarTopology],
// or a YAML file loaded with [LoadTopologyFile]). A [Topology] is an
// immutable list of nodes and links. Hosts and servers are endpoints
// with an IP address, while switches forward packets as instructed by
// the SDN controller.
//
// The [ControllerSupervisor] owns the controller process. It spawns the
// process, polls its OpenFlow port until it accepts TCP connections, and
// terminates the whole process group when you are done. Use
// [WithController] to make sure the controller is always terminated.
//
// The [NetworkHarness] asks an [Emulator] to build the topology and to
// bind its switches to a ready controller, returning an [EmulatedNetwork].
// The [NamespaceEmulator] uses network namespaces, veth pairs and Open
// vSwitch bridges, like Mininet does. Use [WithNetwork] to make sure the
// network is always torn down.
//
// The [ConnectivityProbe] runs ping and HTTP probes on the emulated nodes
// and captures their output verbatim. The extraction functions turn the
// raw output into [LatencySample] values:
//
// - [ExtractPingLatencies] and [PingSamples] scan ping output;
//
// - [CorrelateLatencies] pairs the events of a structured log loaded
// with [LoadLogTable];
//
// - [ExtractICMPLatenciesFromPCAP] matches echo requests and replies
// in a packet capture.
//
// Extraction never fails because of missing or malformed inputs: it
// logs a warning and returns empty results instead.
//
// A [Pipeline] glues everything together and hands a [RunReport] to
// the configured [ReportSink] implementations.
package netharness
