package cluster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
)

const (
	roleMaster = "master"
	roleSlave  = "slave"
)

// session is a job session of any type, guarded by its own mutex.
type session interface {
	job() api.JobKind
	role() string
	handleMessage(msg *api.ClusterMessage) error
	onNodeError(node interfaces.NodeID) error
	onTimeout() error
	state() jobs.State
}

type masterHandle[Req, Resp, Out any] struct {
	mu      sync.Mutex
	kind    api.JobKind
	session *jobs.MasterSession[Req, Resp, Out]

	// done is closed once the session first reaches a terminal state. The
	// outcome at that moment is kept in out and err.
	done   chan struct{}
	closed bool
	out    Out
	err    error
}

func newMasterHandle[Req, Resp, Out any](kind api.JobKind, s *jobs.MasterSession[Req, Resp, Out]) *masterHandle[Req, Resp, Out] {
	return &masterHandle[Req, Resp, Out]{
		kind:    kind,
		session: s,
		done:    make(chan struct{}),
	}
}

func (h *masterHandle[Req, Resp, Out]) job() api.JobKind { return h.kind }
func (h *masterHandle[Req, Resp, Out]) role() string     { return roleMaster }

func (h *masterHandle[Req, Resp, Out]) state() jobs.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.State()
}

func (h *masterHandle[Req, Resp, Out]) initialize(nodes []interfaces.NodeID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.session.Initialize(nodes)
	h.update(err)
	return err
}

func (h *masterHandle[Req, Resp, Out]) handleMessage(msg *api.ClusterMessage) error {
	if msg.Kind != api.PartialResponse || msg.Job != h.kind {
		return fmt.Errorf("%w: %s sent to %s master session", jobs.ErrInvalidMessage, msg.Kind, h.kind)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	resp, err := decodePayload[Resp](msg.Payload)
	if err != nil {
		// The sender cannot contribute anymore.
		h.update(h.session.OnNodeError(msg.From))
		return err
	}

	err = h.session.OnPartialResponse(msg.From, resp)
	h.update(err)
	return err
}

func (h *masterHandle[Req, Resp, Out]) onNodeError(node interfaces.NodeID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.session.OnNodeError(node)
	h.update(err)
	return err
}

func (h *masterHandle[Req, Resp, Out]) onTimeout() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.session.OnSessionTimeout()
	h.update(err)
	return err
}

// update settles the outcome the first time the session is terminal. A
// finished round is combined right away, since a later node error may revert
// it to active. Callers hold h.mu.
func (h *masterHandle[Req, Resp, Out]) update(err error) {
	if h.closed {
		return
	}
	switch h.session.State() {
	case jobs.StateFinished:
		h.out, h.err = h.session.Result()
	case jobs.StateFailed:
		h.err = err
		if h.err == nil {
			h.err = jobs.ErrConsensusUnreachable
		}
	default:
		return
	}
	h.closed = true
	close(h.done)
}

// result returns the outcome settled when done was closed.
func (h *masterHandle[Req, Resp, Out]) result() (Out, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.closed {
		var zero Out
		return zero, jobs.ErrInvalidStateForRequest
	}
	return h.out, h.err
}

type slaveHandle[Req, Resp, Out any] struct {
	mu      sync.Mutex
	kind    api.JobKind
	session *jobs.SlaveSession[Req, Resp, Out]
}

func (h *slaveHandle[Req, Resp, Out]) job() api.JobKind { return h.kind }
func (h *slaveHandle[Req, Resp, Out]) role() string     { return roleSlave }

func (h *slaveHandle[Req, Resp, Out]) state() jobs.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.State()
}

func (h *slaveHandle[Req, Resp, Out]) handleMessage(msg *api.ClusterMessage) error {
	if msg.Kind != api.PartialRequest || msg.Job != h.kind {
		return fmt.Errorf("%w: %s sent to %s slave session", jobs.ErrInvalidMessage, msg.Kind, h.kind)
	}

	req, err := decodePayload[Req](msg.Payload)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.OnPartialRequest(msg.From, req)
}

func (h *slaveHandle[Req, Resp, Out]) onNodeError(node interfaces.NodeID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.OnNodeError(node)
}

func (h *slaveHandle[Req, Resp, Out]) onTimeout() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.OnSessionTimeout()
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var payload T
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return payload, fmt.Errorf("%w: empty payload", jobs.ErrInvalidMessage)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", jobs.ErrInvalidMessage, err)
	}
	return payload, nil
}

// transport turns session sends into cluster messages.
type transport[Req, Resp any] struct {
	c         *Cluster
	id        interfaces.SessionID
	kind      api.JobKind
	threshold int
}

func newTransport[Req, Resp any](c *Cluster, meta jobs.SessionMeta, kind api.JobKind) *transport[Req, Resp] {
	return &transport[Req, Resp]{c: c, id: meta.ID, kind: kind, threshold: meta.Threshold}
}

func (t *transport[Req, Resp]) SendPartialRequest(node interfaces.NodeID, req Req) error {
	return t.send(node, api.PartialRequest, req)
}

func (t *transport[Req, Resp]) SendPartialResponse(node interfaces.NodeID, resp Resp) error {
	return t.send(node, api.PartialResponse, resp)
}

func (t *transport[Req, Resp]) send(node interfaces.NodeID, kind api.MessageKind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("could not encode %s: %w", kind, err)
	}

	msg := &api.ClusterMessage{
		Session:   t.id,
		Job:       t.kind,
		Kind:      kind,
		From:      t.c.self,
		To:        node,
		Threshold: t.threshold,
		Payload:   raw,
	}
	if err := t.c.sender.Send(msg); err != nil {
		return fmt.Errorf("could not send %s: %w", msg, err)
	}
	return nil
}
