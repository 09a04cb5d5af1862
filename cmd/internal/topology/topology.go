// Package topology contains helper code to choose the topology in commands.
package topology

import (
	"fmt"
	"strings"

	"github.com/bassosimone/netharness"
)

// Load returns the topology declared in the given YAML file or, when
// path is empty, the default star topology.
func Load(path string) (*netharness.Topology, error) {
	if path == "" {
		return netharness.DefaultStarTopology(), nil
	}
	return netharness.LoadTopologyFile(path)
}

// Describe returns a human readable description of the topology
// listing the links of each node, one node per line.
func Describe(topology *netharness.Topology) string {
	var sb strings.Builder
	for _, node := range topology.Nodes() {
		var peers []string
		for _, link := range topology.LinksOf(node.ID) {
			peer := link.B
			if peer == node.ID {
				peer = link.A
			}
			peers = append(peers, peer)
		}
		fmt.Fprintf(&sb, "%s (%s): %s\n", node.ID, node.Role, strings.Join(peers, " "))
	}
	return sb.String()
}
