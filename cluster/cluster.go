package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
	"github.com/ruteri/tee-secret-store/metrics"
)

// DefaultSessionTimeout bounds sessions when Config.SessionTimeout is unset.
const DefaultSessionTimeout = 30 * time.Second

// Sender hands messages over for delivery. Send must not block on the network.
type Sender interface {
	Send(msg *api.ClusterMessage) error
}

type Config struct {
	// Self is this node.
	Self interfaces.NodeID
	// Nodes is the full cluster membership, Self included.
	Nodes []interfaces.NodeID
	// SessionTimeout bounds how long a session may stay unfinished.
	SessionTimeout time.Duration
}

type entry struct {
	session session
	timer   *time.Timer
}

// Cluster holds the job sessions of a node.
type Cluster struct {
	self    interfaces.NodeID
	nodes   []interfaces.NodeID
	sender  Sender
	timeout time.Duration
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[interfaces.SessionID]*entry
	slaves   map[api.JobKind]slaveFactory
}

func New(cfg Config, sender Sender, log *slog.Logger) (*Cluster, error) {
	nodes := interfaces.SortNodes(cfg.Nodes)
	if !slices.Contains(nodes, cfg.Self) {
		return nil, fmt.Errorf("%w: self %s", ErrUnknownNode, cfg.Self.Short())
	}

	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}

	return &Cluster{
		self:     cfg.Self,
		nodes:    nodes,
		sender:   sender,
		timeout:  timeout,
		log:      log.With("node", cfg.Self.Short()),
		sessions: make(map[interfaces.SessionID]*entry),
		slaves:   make(map[api.JobKind]slaveFactory),
	}, nil
}

func (c *Cluster) Self() interfaces.NodeID {
	return c.self
}

// Nodes returns the sorted cluster membership.
func (c *Cluster) Nodes() []interfaces.NodeID {
	return slices.Clone(c.nodes)
}

func (c *Cluster) IsMember(node interfaces.NodeID) bool {
	_, found := slices.BinarySearchFunc(c.nodes, node, interfaces.NodeID.Compare)
	return found
}

// Sessions returns the number of live sessions.
func (c *Cluster) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// HandleMessage routes a message received from another node. Partial requests
// create the slave session on first use; partial responses must belong to a
// live master session.
func (c *Cluster) HandleMessage(ctx context.Context, msg *api.ClusterMessage) error {
	if msg.To != c.self {
		return fmt.Errorf("%w: addressed to %s", jobs.ErrInvalidMessage, msg.To.Short())
	}
	if !c.IsMember(msg.From) {
		return fmt.Errorf("%w: %s", ErrUnknownNode, msg.From.Short())
	}
	metrics.MessageReceived(string(msg.Kind))

	switch msg.Kind {
	case api.PartialRequest:
		if msg.From == c.self {
			return fmt.Errorf("%w: request from self", jobs.ErrInvalidMessage)
		}
		e, err := c.slaveEntry(ctx, msg)
		if err != nil {
			return err
		}
		err = e.session.handleMessage(msg)
		if e.session.state().Terminal() {
			c.remove(msg.Session, e)
		}
		if err != nil {
			c.log.Debug("partial request failed", "msg", msg.String(), "err", err)
		}
		return err

	case api.PartialResponse:
		c.mu.Lock()
		e, found := c.sessions[msg.Session]
		c.mu.Unlock()
		if !found {
			return fmt.Errorf("%w: %s", ErrUnknownSession, msg.Session)
		}
		return e.session.handleMessage(msg)

	default:
		return fmt.Errorf("%w: unknown message kind %q", jobs.ErrInvalidMessage, msg.Kind)
	}
}

// OnNodeError reports node as unreachable to every live session.
func (c *Cluster) OnNodeError(node interfaces.NodeID) {
	c.mu.Lock()
	ids := make([]interfaces.SessionID, 0, len(c.sessions))
	entries := make([]*entry, 0, len(c.sessions))
	for id, e := range c.sessions {
		ids = append(ids, id)
		entries = append(entries, e)
	}
	c.mu.Unlock()

	c.log.Warn("node unreachable", "peer", node.Short(), "sessions", len(entries))
	for i, e := range entries {
		if err := e.session.onNodeError(node); err != nil {
			c.log.Info("session failed on node error", "session", ids[i].String(), "job", e.session.job(), "err", err)
		}
		if e.session.role() == roleSlave && e.session.state().Terminal() {
			c.remove(ids[i], e)
		}
	}
}

// OnDeliveryFailure accounts for a message that could not be delivered. A
// rejection only concerns the session of msg; any other failure makes the
// recipient unreachable for every session.
func (c *Cluster) OnDeliveryFailure(msg *api.ClusterMessage, err error) {
	if !errors.Is(err, ErrRejected) {
		c.OnNodeError(msg.To)
		return
	}

	c.mu.Lock()
	e, found := c.sessions[msg.Session]
	c.mu.Unlock()
	if !found {
		return
	}

	if err := e.session.onNodeError(msg.To); err != nil {
		c.log.Info("session failed on rejected message", "session", msg.Session.String(), "job", e.session.job(), "err", err)
	}
	if e.session.role() == roleSlave && e.session.state().Terminal() {
		c.remove(msg.Session, e)
	}
}

// Shutdown times out every live session.
func (c *Cluster) Shutdown() {
	c.mu.Lock()
	ids := make([]interfaces.SessionID, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.mu.Lock()
		e, found := c.sessions[id]
		c.mu.Unlock()
		if found {
			c.expire(id, e)
		}
	}
}

func (c *Cluster) add(id interfaces.SessionID, s session) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, found := c.sessions[id]; found {
		return nil, fmt.Errorf("%w: session %s already exists", jobs.ErrInvalidMessage, id)
	}

	e := &entry{session: s}
	e.timer = time.AfterFunc(c.timeout, func() { c.expire(id, e) })
	c.sessions[id] = e
	metrics.SessionStarted(string(s.job()), s.role())
	return e, nil
}

func (c *Cluster) expire(id interfaces.SessionID, e *entry) {
	if err := e.session.onTimeout(); err != nil {
		c.log.Info("session timed out", "session", id.String(), "job", e.session.job(), "role", e.session.role())
	}
	c.remove(id, e)
}

func (c *Cluster) remove(id interfaces.SessionID, e *entry) {
	// Session locks are never taken under c.mu.
	state := e.session.state()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessions[id] != e {
		return
	}
	e.timer.Stop()
	delete(c.sessions, id)
	metrics.SessionCompleted(string(e.session.job()), e.session.role(), state.String())
}
