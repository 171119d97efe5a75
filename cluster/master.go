package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
	"github.com/ruteri/tee-secret-store/metrics"
)

// RunMaster runs one round of job over nodes with this node as master and
// returns the combined result. It returns once the session finished or failed,
// timed out, or ctx is done.
func RunMaster[Req, Resp, Out any](ctx context.Context, c *Cluster, job api.JobKind, threshold int, nodes []interfaces.NodeID, executor jobs.Executor[Req, Resp, Out]) (Out, error) {
	var zero Out
	for _, node := range nodes {
		if !c.IsMember(node) {
			return zero, fmt.Errorf("%w: %s", ErrUnknownNode, node.Short())
		}
	}

	meta := jobs.SessionMeta{
		ID:        interfaces.NewSessionID(),
		Master:    c.self,
		Self:      c.self,
		Threshold: threshold,
	}
	s, err := jobs.NewMasterSession[Req, Resp, Out](meta, executor, newTransport[Req, Resp](c, meta, job))
	if err != nil {
		return zero, err
	}

	h := newMasterHandle(job, s)
	e, err := c.add(meta.ID, h)
	if err != nil {
		return zero, err
	}
	defer c.remove(meta.ID, e)

	log := c.log.With("session", meta.ID.String(), "job", job)
	log.Debug("starting master session", "nodes", len(nodes), "threshold", threshold)
	start := time.Now()

	if err := h.initialize(nodes); err != nil {
		metrics.ObserveMasterSession(string(job), h.state().String(), time.Since(start))
		return zero, fmt.Errorf("could not initialize %s session: %w", job, err)
	}

	select {
	case <-h.done:
	case <-ctx.Done():
		metrics.ObserveMasterSession(string(job), "cancelled", time.Since(start))
		return zero, ctx.Err()
	}

	out, err := h.result()
	metrics.ObserveMasterSession(string(job), h.state().String(), time.Since(start))
	if err != nil {
		log.Info("master session failed", "err", err, "rejects", len(s.Rejects()))
		return zero, fmt.Errorf("%s session %s: %w", job, meta.ID, err)
	}
	log.Debug("master session finished", "elapsed", time.Since(start))
	return out, nil
}
