package jobs

import (
	"errors"
	"fmt"
	"maps"

	"github.com/ruteri/tee-secret-store/interfaces"
)

// MasterSession drives one round on the node which fans out partial requests
// and accounts for the quorum.
//
// MasterSession is not safe for concurrent use; the owner serializes calls.
type MasterSession[Req, Resp, Out any] struct {
	meta      SessionMeta
	executor  Executor[Req, Resp, Out]
	transport Transport[Req, Resp]
	phase     phase[Resp]
}

// NewMasterSession creates an inactive master session. meta.Self must equal meta.Master.
func NewMasterSession[Req, Resp, Out any](meta SessionMeta, executor Executor[Req, Resp, Out], transport Transport[Req, Resp]) (*MasterSession[Req, Resp, Out], error) {
	if meta.Self != meta.Master {
		return nil, fmt.Errorf("%w: node %s is not the master of session %s", ErrInvalidMessage, meta.Self.Short(), meta.ID)
	}
	if meta.Threshold < 0 {
		return nil, fmt.Errorf("negative threshold %d", meta.Threshold)
	}
	return &MasterSession[Req, Resp, Out]{
		meta:      meta,
		executor:  executor,
		transport: transport,
		phase:     inactivePhase[Resp]{},
	}, nil
}

func (s *MasterSession[Req, Resp, Out]) Meta() SessionMeta {
	return s.meta
}

// Executor returns the executor the session was created with.
func (s *MasterSession[Req, Resp, Out]) Executor() Executor[Req, Resp, Out] {
	return s.executor
}

func (s *MasterSession[Req, Resp, Out]) State() State {
	return s.phase.state()
}

// Initialize starts the round over nodes. Duplicates in nodes are dropped.
// When self is one of the nodes, its own partial response is processed in place
// and may finish the round right away.
func (s *MasterSession[Req, Resp, Out]) Initialize(nodes []NodeID) error {
	nodes = interfaces.SortNodes(nodes)
	if len(nodes) < s.meta.quorumSize() {
		return fmt.Errorf("%w: %d nodes for threshold %d", ErrConsensusUnreachable, len(nodes), s.meta.Threshold)
	}
	if s.State() != StateInactive {
		return ErrInvalidStateForRequest
	}

	q := newQuorum[Resp](nodes)

	var selfResponse *Resp
	for _, node := range nodes {
		req, err := s.executor.PreparePartialRequest(node, nodes)
		if err != nil {
			s.phase = failedPhase[Resp]{q: q}
			return err
		}

		if node != s.meta.Self {
			if err := s.transport.SendPartialRequest(node, req); err != nil {
				s.phase = failedPhase[Resp]{q: q}
				return err
			}
			continue
		}

		action, err := s.executor.ProcessPartialRequest(req)
		if err != nil {
			s.phase = failedPhase[Resp]{q: q}
			return err
		}
		selfResponse = &action.Response
	}

	s.phase = activePhase[Resp]{q: q}
	if selfResponse == nil {
		return nil
	}
	return s.OnPartialResponse(s.meta.Self, *selfResponse)
}

// OnPartialResponse accounts for the response of node. Every node answers at
// most once: its request is spent even when the response is ignored or fails
// the executor check. Late responses are still accepted once the round has
// finished.
func (s *MasterSession[Req, Resp, Out]) OnPartialResponse(node NodeID, resp Resp) error {
	switch s.phase.(type) {
	case activePhase[Resp], finishedPhase[Resp]:
	default:
		return ErrInvalidStateForRequest
	}
	q := s.phase.aggregate()

	if _, pending := q.requests[node]; !pending {
		return fmt.Errorf("%w: %s", ErrInvalidNodeForRequest, node.Short())
	}
	delete(q.requests, node)

	action, err := s.executor.CheckPartialResponse(node, resp)
	if err != nil {
		if q.remaining() < s.meta.quorumSize() {
			s.phase = failedPhase[Resp]{q: q}
			return errors.Join(ErrConsensusUnreachable, err)
		}
		return err
	}

	switch action {
	case ResponseIgnore:
		return nil
	case ResponseReject:
		q.reject(node)
		if q.remaining() < s.meta.quorumSize() {
			s.phase = failedPhase[Resp]{q: q}
			return ErrConsensusUnreachable
		}
		return nil
	case ResponseAccept:
		q.responses[node] = resp
		if len(q.responses) >= s.meta.quorumSize() {
			s.phase = finishedPhase[Resp]{q: q}
		}
		return nil
	default:
		return fmt.Errorf("%w: unexpected response action %d", ErrInvalidMessage, action)
	}
}

// OnNodeError accounts for node becoming unreachable. A finished round whose
// accepted responses drop below the quorum becomes active again.
func (s *MasterSession[Req, Resp, Out]) OnNodeError(node NodeID) error {
	switch s.phase.(type) {
	case activePhase[Resp], finishedPhase[Resp]:
	default:
		return nil
	}
	q := s.phase.aggregate()

	if _, rejected := q.rejects[node]; rejected {
		return nil
	}
	_, pending := q.requests[node]
	_, responded := q.responses[node]
	if !pending && !responded {
		return nil
	}
	q.reject(node)

	if s.State() == StateFinished && len(q.responses) < s.meta.quorumSize() {
		s.phase = activePhase[Resp]{q: q}
	}
	if q.remaining() < s.meta.quorumSize() {
		s.phase = failedPhase[Resp]{q: q}
		return ErrConsensusUnreachable
	}
	return nil
}

// OnSessionTimeout fails a round that has not reached a terminal state.
func (s *MasterSession[Req, Resp, Out]) OnSessionTimeout() error {
	if s.State().Terminal() {
		return nil
	}
	s.phase = failedPhase[Resp]{q: s.phase.aggregate()}
	return ErrConsensusUnreachable
}

// Result combines the accepted responses. The round must be finished.
func (s *MasterSession[Req, Resp, Out]) Result() (Out, error) {
	p, ok := s.phase.(finishedPhase[Resp])
	if !ok {
		var zero Out
		return zero, ErrInvalidStateForRequest
	}
	return s.executor.ComputeResponse(maps.Clone(p.q.responses))
}

// Requests returns the nodes which have not answered yet, in order.
func (s *MasterSession[Req, Resp, Out]) Requests() []NodeID {
	if q := s.phase.aggregate(); q != nil {
		return sortedKeys(q.requests)
	}
	return nil
}

// Rejects returns the rejected or unreachable nodes, in order.
func (s *MasterSession[Req, Resp, Out]) Rejects() []NodeID {
	if q := s.phase.aggregate(); q != nil {
		return sortedKeys(q.rejects)
	}
	return nil
}

// Responses returns a copy of the accepted responses.
func (s *MasterSession[Req, Resp, Out]) Responses() map[NodeID]Resp {
	if q := s.phase.aggregate(); q != nil {
		return maps.Clone(q.responses)
	}
	return nil
}

// Responders returns the nodes whose responses were accepted, in order.
func (s *MasterSession[Req, Resp, Out]) Responders() []NodeID {
	if q := s.phase.aggregate(); q != nil {
		return sortedKeys(q.responses)
	}
	return nil
}
