package jobs

import (
	"fmt"
)

// SlaveSession answers the partial requests of the round master. The state
// only records the outcome of the last answered request.
//
// SlaveSession is not safe for concurrent use; the owner serializes calls.
type SlaveSession[Req, Resp, Out any] struct {
	meta      SessionMeta
	executor  Executor[Req, Resp, Out]
	transport Transport[Req, Resp]
	state     State
}

// NewSlaveSession creates an inactive slave session. meta.Self must differ from meta.Master.
func NewSlaveSession[Req, Resp, Out any](meta SessionMeta, executor Executor[Req, Resp, Out], transport Transport[Req, Resp]) (*SlaveSession[Req, Resp, Out], error) {
	if meta.Self == meta.Master {
		return nil, fmt.Errorf("%w: node %s is the master of session %s", ErrInvalidMessage, meta.Self.Short(), meta.ID)
	}
	return &SlaveSession[Req, Resp, Out]{
		meta:      meta,
		executor:  executor,
		transport: transport,
		state:     StateInactive,
	}, nil
}

func (s *SlaveSession[Req, Resp, Out]) Meta() SessionMeta {
	return s.meta
}

// Executor returns the executor the session was created with.
func (s *SlaveSession[Req, Resp, Out]) Executor() Executor[Req, Resp, Out] {
	return s.executor
}

func (s *SlaveSession[Req, Resp, Out]) State() State {
	return s.state
}

// OnPartialRequest processes a request of the master and sends the response
// back, rejected or not.
func (s *SlaveSession[Req, Resp, Out]) OnPartialRequest(from NodeID, req Req) error {
	if from != s.meta.Master {
		return fmt.Errorf("%w: request from %s, master is %s", ErrInvalidMessage, from.Short(), s.meta.Master.Short())
	}
	if s.state != StateInactive && s.state != StateFinished {
		return ErrInvalidStateForRequest
	}

	action, err := s.executor.ProcessPartialRequest(req)
	if err != nil {
		return err
	}
	if action.Rejected {
		s.state = StateFailed
	} else {
		s.state = StateFinished
	}
	return s.transport.SendPartialResponse(s.meta.Master, action.Response)
}

// OnNodeError fails the session when the master becomes unreachable.
func (s *SlaveSession[Req, Resp, Out]) OnNodeError(node NodeID) error {
	if node != s.meta.Master {
		return nil
	}
	s.state = StateFailed
	return ErrConsensusUnreachable
}

// OnSessionTimeout fails a session that has not reached a terminal state.
func (s *SlaveSession[Req, Resp, Out]) OnSessionTimeout() error {
	if s.state.Terminal() {
		return nil
	}
	s.state = StateFailed
	return ErrConsensusUnreachable
}
