// Package clustertest connects cluster engines in-process for tests.
package clustertest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/cluster"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/stretchr/testify/require"
)

// Network delivers messages by calling HandleMessage of the recipient.
type Network struct {
	mu       sync.RWMutex
	clusters map[interfaces.NodeID]*cluster.Cluster
	down     map[interfaces.NodeID]bool
}

func NewNetwork() *Network {
	return &Network{
		clusters: make(map[interfaces.NodeID]*cluster.Cluster),
		down:     make(map[interfaces.NodeID]bool),
	}
}

// Disconnect makes every delivery to or from node fail.
func (n *Network) Disconnect(node interfaces.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[node] = true
}

func (n *Network) Deliver(ctx context.Context, msg *api.ClusterMessage) error {
	n.mu.RLock()
	target, found := n.clusters[msg.To]
	down := n.down[msg.To] || n.down[msg.From]
	n.mu.RUnlock()

	if !found || down {
		return fmt.Errorf("node %s unreachable", msg.To.Short())
	}
	if err := target.HandleMessage(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", cluster.ErrRejected, err)
	}
	return nil
}

// Join creates the cluster engine of self and starts its dispatcher until the
// test ends.
func (n *Network) Join(t testing.TB, self interfaces.NodeID, nodes []interfaces.NodeID, timeout time.Duration) *cluster.Cluster {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dispatcher := cluster.NewDispatcher(n, cluster.DispatcherConfig{Workers: 2, QueueSize: 64, DeliveryTimeout: time.Second}, logger)
	c, err := cluster.New(cluster.Config{Self: self, Nodes: nodes, SessionTimeout: timeout}, dispatcher, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = dispatcher.Run(ctx, c.OnDeliveryFailure)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		c.Shutdown()
	})

	n.mu.Lock()
	n.clusters[self] = c
	n.mu.Unlock()
	return c
}
