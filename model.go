package netharness

//
// Data model
//

import (
	"fmt"
	"time"
)

// Logger is the logger we're using. The [github.com/apex/log]
// package's log.Log satisfies this interface.
type Logger interface {
	// Debugf formats and emits a debug message.
	Debugf(format string, v ...any)

	// Debug emits a debug message.
	Debug(message string)

	// Infof formats and emits an informational message.
	Infof(format string, v ...any)

	// Info emits an informational message.
	Info(message string)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...any)

	// Warn emits a warning message.
	Warn(message string)
}

// NullLogger is a [Logger] that does not emit logs.
type NullLogger struct{}

var _ Logger = &NullLogger{}

// Debug implements Logger
func (nl *NullLogger) Debug(message string) {
	// nothing
}

// Debugf implements Logger
func (nl *NullLogger) Debugf(format string, v ...any) {
	// nothing
}

// Info implements Logger
func (nl *NullLogger) Info(message string) {
	// nothing
}

// Infof implements Logger
func (nl *NullLogger) Infof(format string, v ...any) {
	// nothing
}

// Warn implements Logger
func (nl *NullLogger) Warn(message string) {
	// nothing
}

// Warnf implements Logger
func (nl *NullLogger) Warnf(format string, v ...any) {
	// nothing
}

// NodeRole is the role of a node inside a [Topology].
type NodeRole string

const (
	// RoleHost is a client host.
	RoleHost = NodeRole("host")

	// RoleServer is a host running server applications.
	RoleServer = NodeRole("server")

	// RoleSwitch is an SDN switch managed by the controller.
	RoleSwitch = NodeRole("switch")
)

// Valid returns whether the role is one of the known roles.
func (r NodeRole) Valid() bool {
	switch r {
	case RoleHost, RoleServer, RoleSwitch:
		return true
	default:
		return false
	}
}

// IsEndpoint returns whether nodes with this role run commands (i.e.,
// they are hosts or servers rather than switches).
func (r NodeRole) IsEndpoint() bool {
	return r == RoleHost || r == RoleServer
}

// NodeSpec describes a node of the emulated network.
type NodeSpec struct {
	// ID is the node ID, unique within a [Topology].
	ID string

	// Role is the node role.
	Role NodeRole
}

// LinkConfig contains the OPTIONAL shaping applied to a link. The zero
// value means an unshaped link.
type LinkConfig struct {
	// Delay is the one-way delay added in each direction.
	Delay time.Duration

	// PLR is the packet-loss rate in each direction (0 <= PLR < 1).
	PLR float64
}

// Shaped returns whether this config requires traffic shaping.
func (lc *LinkConfig) Shaped() bool {
	return lc != nil && (lc.Delay > 0 || lc.PLR > 0)
}

// LinkSpec describes a link between two declared nodes.
type LinkSpec struct {
	// A is the ID of the first endpoint.
	A string

	// B is the ID of the second endpoint.
	B string

	// Config is the link shaping config.
	Config LinkConfig
}

// Protocol is the protocol used by a probe.
type Protocol string

const (
	// ProtocolICMP is an ICMP echo round trip (ping).
	ProtocolICMP = Protocol("icmp")

	// ProtocolHTTP is an HTTP GET.
	ProtocolHTTP = Protocol("http")
)

// ProbeResult is the raw result of a probe. We never interpret the raw
// output when capturing it; see the extraction functions for that.
type ProbeResult struct {
	// Source is the ID of the node that issued the probe.
	Source string

	// Target is the ID of the probed node.
	Target string

	// Protocol is the probe protocol.
	Protocol Protocol

	// RawOutput is the verbatim combined output of the probe command.
	RawOutput string

	// IssuedAt is when we issued the probe.
	IssuedAt time.Time
}

// PairKey returns the key identifying the (source, target) pair.
func (pr *ProbeResult) PairKey() string {
	return NewPairKey(pr.Source, pr.Target)
}

// NewPairKey returns the key identifying a (source, target) pair.
func NewPairKey(source, target string) string {
	return fmt.Sprintf("%s->%s", source, target)
}

// SampleOrigin tells where a [LatencySample] was extracted from.
type SampleOrigin string

const (
	// OriginProbe means we extracted the sample from a [ProbeResult].
	OriginProbe = SampleOrigin("probe")

	// OriginLogRow means we correlated two [LogRow].
	OriginLogRow = SampleOrigin("logrow")

	// OriginCapture means we matched packets inside a PCAP file.
	OriginCapture = SampleOrigin("capture")
)

// LatencySample is a single latency measurement in seconds. Samples
// are derived values and we never mutate them after creation.
type LatencySample struct {
	// PairKey identifies the (source, target) pair.
	PairKey string

	// Seconds is the latency in seconds.
	Seconds float64

	// Origin tells where we extracted this sample from.
	Origin SampleOrigin

	// Probe is the POSSIBLY NIL probe result we extracted the sample from.
	Probe *ProbeResult

	// Row is the POSSIBLY NIL sent-packet row we extracted the sample from.
	Row *LogRow
}

// LogEvent is the event column of a [LogRow].
type LogEvent string

const (
	// EventSentPacket is emitted when a node sends a packet.
	EventSentPacket = LogEvent("Sent Packet")

	// EventGatewayResponse is emitted when the gateway responds.
	EventGatewayResponse = LogEvent("Gateway Response")
)

// LogRow is a row of a structured event log.
type LogRow struct {
	// Timestamp is the event time in seconds.
	Timestamp float64

	// NodeID is the node that generated the event.
	NodeID int

	// Event is the event name.
	Event LogEvent

	// Details is free text containing an address and possibly a
	// temperature reading (e.g., "Temp: 23.4 °C").
	Details string
}
