package cluster

import (
	"context"
	"fmt"

	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/jobs"
)

type slaveFactory func(ctx context.Context, meta jobs.SessionMeta) (session, error)

// RegisterSlave sets how this node answers partial requests of job.
// newExecutor is called once per slave session.
func RegisterSlave[Req, Resp, Out any](c *Cluster, job api.JobKind, newExecutor func(ctx context.Context, meta jobs.SessionMeta) (jobs.Executor[Req, Resp, Out], error)) {
	factory := func(ctx context.Context, meta jobs.SessionMeta) (session, error) {
		executor, err := newExecutor(ctx, meta)
		if err != nil {
			return nil, err
		}
		s, err := jobs.NewSlaveSession[Req, Resp, Out](meta, executor, newTransport[Req, Resp](c, meta, job))
		if err != nil {
			return nil, err
		}
		return &slaveHandle[Req, Resp, Out]{kind: job, session: s}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.slaves[job] = factory
}

// slaveEntry returns the slave session msg belongs to, creating it if needed.
func (c *Cluster) slaveEntry(ctx context.Context, msg *api.ClusterMessage) (*entry, error) {
	c.mu.Lock()
	e, found := c.sessions[msg.Session]
	factory, registered := c.slaves[msg.Job]
	c.mu.Unlock()

	if found {
		if e.session.role() != roleSlave || e.session.job() != msg.Job {
			return nil, fmt.Errorf("%w: session %s is a %s %s session", jobs.ErrInvalidMessage, msg.Session, e.session.job(), e.session.role())
		}
		return e, nil
	}
	if !registered {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, msg.Job)
	}

	meta := jobs.SessionMeta{
		ID:        msg.Session,
		Master:    msg.From,
		Self:      c.self,
		Threshold: msg.Threshold,
	}
	// Executors outlive the request which created them.
	s, err := factory(context.WithoutCancel(ctx), meta)
	if err != nil {
		return nil, err
	}
	return c.add(msg.Session, s)
}
