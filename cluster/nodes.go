package cluster

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ruteri/tee-secret-store/interfaces"
)

// LoadNodes reads the cluster membership from a JSON file:
//
//	[{"id": "<128 hex chars>", "address": "host:port"}, ...]
func LoadNodes(path string) ([]interfaces.NodeAddress, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read nodes file: %w", err)
	}

	var nodes []interfaces.NodeAddress
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to parse nodes file: %w", err)
	}

	seen := make(map[interfaces.NodeID]struct{}, len(nodes))
	for _, node := range nodes {
		if node.Address == "" {
			return nil, fmt.Errorf("node %s has no address", node.ID.Short())
		}
		if _, dup := seen[node.ID]; dup {
			return nil, fmt.Errorf("node %s listed twice", node.ID.Short())
		}
		seen[node.ID] = struct{}{}
	}
	return nodes, nil
}

// NodeIDs returns the ids of nodes.
func NodeIDs(nodes []interfaces.NodeAddress) []interfaces.NodeID {
	ids := make([]interfaces.NodeID, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}
	return ids
}
