package cluster

import "errors"

var (
	// ErrUnknownSession is returned for responses addressed to a session this node does not hold.
	ErrUnknownSession = errors.New("unknown session")

	// ErrUnknownJob is returned when no slave executor is registered for the job of a request.
	ErrUnknownJob = errors.New("unknown job")

	// ErrUnknownNode is returned for messages from or to nodes outside the cluster.
	ErrUnknownNode = errors.New("node is not a cluster member")

	// ErrRejected is returned when the recipient was reached but refused a message.
	ErrRejected = errors.New("message rejected by recipient")

	// ErrQueueFull is returned when the outgoing message queue cannot take more messages.
	ErrQueueFull = errors.New("outgoing message queue is full")
)
