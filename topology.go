package netharness

//
// Topology declaration
//

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownNodeReference indicates that a link references an undeclared node.
var ErrUnknownNodeReference = errors.New("netharness: unknown node reference")

// ErrDuplicateNode indicates that a node ID has already been declared.
var ErrDuplicateNode = errors.New("netharness: node has already been added")

// ErrEmptyNodeID indicates an attempt to declare a node without ID.
var ErrEmptyNodeID = errors.New("netharness: empty node ID")

// ErrInvalidRole indicates that a node role is not host, server or switch.
var ErrInvalidRole = errors.New("netharness: invalid node role")

// ErrTopologyFrozen indicates an attempt to mutate an already built topology.
var ErrTopologyFrozen = errors.New("netharness: topology has already been built")

// TopologyBuilder declares nodes and links. The zero value is invalid;
// use [NewTopologyBuilder] to construct.
type TopologyBuilder struct {
	// mu provides mutual exclusion.
	mu sync.Mutex

	// nodes contains the declared nodes in declaration order.
	nodes []NodeSpec

	// index maps a node ID to its position in nodes.
	index map[string]int

	// links contains the declared links in declaration order.
	links []LinkSpec

	// built is the topology returned by the first Build call.
	built *Topology
}

// NewTopologyBuilder creates a new, empty [TopologyBuilder].
func NewTopologyBuilder() *TopologyBuilder {
	return &TopologyBuilder{
		mu:    sync.Mutex{},
		nodes: []NodeSpec{},
		index: map[string]int{},
		links: []LinkSpec{},
		built: nil,
	}
}

// AddNode declares a node with the given ID and role.
func (tb *TopologyBuilder) AddNode(id string, role NodeRole) error {
	defer tb.mu.Unlock()
	tb.mu.Lock()
	if tb.built != nil {
		return ErrTopologyFrozen
	}
	if id == "" {
		return ErrEmptyNodeID
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if _, found := tb.index[id]; found {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	tb.index[id] = len(tb.nodes)
	tb.nodes = append(tb.nodes, NodeSpec{ID: id, Role: role})
	return nil
}

// AddLink declares an unshaped link between two already declared nodes.
func (tb *TopologyBuilder) AddLink(a, b string) error {
	return tb.AddLinkWithConfig(a, b, &LinkConfig{})
}

// AddLinkWithConfig is like [TopologyBuilder.AddLink] but also configures
// the link delay and packet loss rate.
func (tb *TopologyBuilder) AddLinkWithConfig(a, b string, lc *LinkConfig) error {
	defer tb.mu.Unlock()
	tb.mu.Lock()
	if tb.built != nil {
		return ErrTopologyFrozen
	}
	for _, endpoint := range []string{a, b} {
		if _, found := tb.index[endpoint]; !found {
			return fmt.Errorf("%w: %q in link %s<->%s", ErrUnknownNodeReference, endpoint, a, b)
		}
	}
	link := LinkSpec{A: a, B: b}
	if lc != nil {
		link.Config = *lc
	}
	tb.links = append(tb.links, link)
	return nil
}

// Build returns the immutable [Topology]. Calling Build more than once
// returns the same topology and any further AddNode or AddLink fails
// with [ErrTopologyFrozen].
func (tb *TopologyBuilder) Build() *Topology {
	defer tb.mu.Unlock()
	tb.mu.Lock()
	if tb.built == nil {
		index := make(map[string]int, len(tb.index))
		for id, pos := range tb.index {
			index[id] = pos
		}
		tb.built = &Topology{
			nodes: append([]NodeSpec{}, tb.nodes...),
			index: index,
			links: append([]LinkSpec{}, tb.links...),
		}
	}
	return tb.built
}

// Topology is an immutable declaration of nodes and links. The zero
// value is an empty topology; use a [TopologyBuilder] to build one.
type Topology struct {
	nodes []NodeSpec
	index map[string]int
	links []LinkSpec
}

// Nodes returns a copy of the nodes in declaration order.
func (t *Topology) Nodes() []NodeSpec {
	return append([]NodeSpec{}, t.nodes...)
}

// Links returns a copy of the links in declaration order.
func (t *Topology) Links() []LinkSpec {
	return append([]LinkSpec{}, t.links...)
}

// Node returns the node with the given ID, if any.
func (t *Topology) Node(id string) (NodeSpec, bool) {
	pos, found := t.index[id]
	if !found {
		return NodeSpec{}, false
	}
	return t.nodes[pos], true
}

// NodesWithRole returns the nodes with the given role in declaration order.
func (t *Topology) NodesWithRole(role NodeRole) (out []NodeSpec) {
	for _, node := range t.nodes {
		if node.Role == role {
			out = append(out, node)
		}
	}
	return
}

// LinksOf returns the links having the given node as an endpoint.
func (t *Topology) LinksOf(id string) (out []LinkSpec) {
	for _, link := range t.links {
		if link.A == id || link.B == id {
			out = append(out, link)
		}
	}
	return
}

// NewStarTopology builds a star topology where every host and
// every server is linked to a single switch.
//
// Arguments:
//
// - switchID is the ID of the switch in the middle;
//
// - hosts contains the IDs of the client hosts;
//
// - servers contains the IDs of the server hosts;
//
// - lc is the OPTIONAL config for every link.
func NewStarTopology(switchID string, hosts, servers []string, lc *LinkConfig) (*Topology, error) {
	tb := NewTopologyBuilder()
	if err := tb.AddNode(switchID, RoleSwitch); err != nil {
		return nil, err
	}
	var endpoints []string
	for _, id := range hosts {
		if err := tb.AddNode(id, RoleHost); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, id)
	}
	for _, id := range servers {
		if err := tb.AddNode(id, RoleServer); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, id)
	}
	for _, id := range endpoints {
		if err := tb.AddLinkWithConfig(id, switchID, lc); err != nil {
			return nil, err
		}
	}
	return tb.Build(), nil
}

// DefaultStarTopology returns the four clients plus one server topology
// connected to the s1 switch that we use when no topology file is given.
func DefaultStarTopology() *Topology {
	topology, err := NewStarTopology("s1", []string{"h1", "h2", "h3", "h4"}, []string{"server"}, nil)
	if err != nil {
		panic(err) // constant input
	}
	return topology
}
