package netharness

//
// Topology declaration files
//

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TopologyFile is the YAML representation of a [Topology]:
//
//	nodes:
//	  - {id: s1, role: switch}
//	  - {id: h1, role: host}
//	links:
//	  - {a: h1, b: s1, delay: 10ms, loss: 0.01}
type TopologyFile struct {
	Nodes []TopologyFileNode `yaml:"nodes"`
	Links []TopologyFileLink `yaml:"links"`
}

// TopologyFileNode is a node inside a [TopologyFile].
type TopologyFileNode struct {
	ID   string `yaml:"id"`
	Role string `yaml:"role"`
}

// TopologyFileLink is a link inside a [TopologyFile].
type TopologyFileLink struct {
	A     string        `yaml:"a"`
	B     string        `yaml:"b"`
	Delay time.Duration `yaml:"delay"`
	Loss  float64       `yaml:"loss"`
}

// ParseTopology parses a YAML topology declaration.
func ParseTopology(data []byte) (*Topology, error) {
	var tf TopologyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&tf); err != nil {
		return nil, fmt.Errorf("netharness: parsing topology: %w", err)
	}
	return tf.Build()
}

// LoadTopologyFile reads and parses a YAML topology declaration.
func LoadTopologyFile(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTopology(data)
}

// Build converts the file declaration into a [Topology].
func (tf *TopologyFile) Build() (*Topology, error) {
	tb := NewTopologyBuilder()
	for _, node := range tf.Nodes {
		if err := tb.AddNode(node.ID, NodeRole(node.Role)); err != nil {
			return nil, err
		}
	}
	for _, link := range tf.Links {
		if link.Loss < 0 || link.Loss >= 1 {
			return nil, fmt.Errorf("netharness: link %s<->%s: loss %f out of [0, 1)", link.A, link.B, link.Loss)
		}
		lc := &LinkConfig{Delay: link.Delay, PLR: link.Loss}
		if err := tb.AddLinkWithConfig(link.A, link.B, lc); err != nil {
			return nil, err
		}
	}
	return tb.Build(), nil
}
