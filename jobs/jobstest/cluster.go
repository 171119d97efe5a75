package jobstest

import (
	"crypto/ecdsa"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/storage"
	"github.com/stretchr/testify/require"
)

// Node is a test cluster member with its own key and share storage.
type Node struct {
	ID      interfaces.NodeID
	Key     *ecdsa.PrivateKey
	Storage *storage.KeyStore
}

// NewNodes creates n nodes ordered by id.
func NewNodes(t testing.TB, n int) []*Node {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	nodes := make([]*Node, 0, n)
	for i := 0; i < n; i++ {
		key, err := cryptoutils.GenerateNodeKey()
		require.NoError(t, err)
		id := cryptoutils.NodeID(key)
		nodes = append(nodes, &Node{
			ID:      id,
			Key:     key,
			Storage: storage.NewKeyStore(storage.NewMemoryBackend(id.Short(), logger), cryptoutils.NoopSealer{}, logger),
		})
	}

	ids := make([]interfaces.NodeID, n)
	for i, node := range nodes {
		ids[i] = node.ID
	}
	sorted := interfaces.SortNodes(ids)
	byID := make(map[interfaces.NodeID]*Node, n)
	for _, node := range nodes {
		byID[node.ID] = node
	}
	for i, id := range sorted {
		nodes[i] = byID[id]
	}
	return nodes
}

// IDs returns the ids of nodes.
func IDs(nodes []*Node) []interfaces.NodeID {
	ids := make([]interfaces.NodeID, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}
	return ids
}
