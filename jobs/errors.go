package jobs

import "errors"

var (
	// ErrInvalidStateForRequest is returned when an operation is not allowed in the current session state.
	ErrInvalidStateForRequest = errors.New("invalid state for request")

	// ErrInvalidMessage is returned when a message does not fit the node's role in the session.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrInvalidNodeForRequest is returned when a response comes from a node with no pending request.
	ErrInvalidNodeForRequest = errors.New("invalid node for request")

	// ErrConsensusUnreachable is returned when too few nodes are left to reach the threshold.
	ErrConsensusUnreachable = errors.New("consensus unreachable")
)
