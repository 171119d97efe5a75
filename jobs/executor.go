package jobs

import (
	"github.com/ruteri/tee-secret-store/interfaces"
)

// NodeID is the identity of a round participant.
type NodeID = interfaces.NodeID

// SessionMeta describes one coordination round. It never changes during the round.
type SessionMeta struct {
	ID     interfaces.SessionID
	Master NodeID
	Self   NodeID
	// Threshold is the number of tolerated non-agreeing or unreachable nodes.
	// A round succeeds once Threshold+1 nodes agree.
	Threshold int
}

func (m SessionMeta) quorumSize() int {
	return m.Threshold + 1
}

// ResponseAction is the master's verdict on a partial response.
type ResponseAction int

const (
	// ResponseIgnore discards the response; the sender stays pending.
	ResponseIgnore ResponseAction = iota
	// ResponseReject marks the sender as rejected.
	ResponseReject
	// ResponseAccept counts the response toward the quorum.
	ResponseAccept
)

func (a ResponseAction) String() string {
	switch a {
	case ResponseIgnore:
		return "ignore"
	case ResponseReject:
		return "reject"
	case ResponseAccept:
		return "accept"
	default:
		return "unknown"
	}
}

// RequestAction is the outcome of processing a partial request.
// A rejected response is still delivered to the master, which decides the verdict.
type RequestAction[Resp any] struct {
	Response Resp
	Rejected bool
}

// Respond wraps a regular partial response.
func Respond[Resp any](resp Resp) RequestAction[Resp] {
	return RequestAction[Resp]{Response: resp}
}

// RejectRequest wraps a partial response flagged as a rejection.
func RejectRequest[Resp any](resp Resp) RequestAction[Resp] {
	return RequestAction[Resp]{Response: resp, Rejected: true}
}

// Executor is the protocol-specific decision logic plugged into a session.
// Implementations do no network I/O.
type Executor[Req, Resp, Out any] interface {
	// PreparePartialRequest builds the request for node, given the full node set of the round.
	PreparePartialRequest(node NodeID, nodes []NodeID) (Req, error)

	// ProcessPartialRequest computes this node's partial response.
	ProcessPartialRequest(req Req) (RequestAction[Resp], error)

	// CheckPartialResponse validates a response received by the master.
	CheckPartialResponse(sender NodeID, resp Resp) (ResponseAction, error)

	// ComputeResponse combines the accepted responses into the round result.
	ComputeResponse(responses map[NodeID]Resp) (Out, error)
}

// Transport delivers partial requests and responses to peers.
// Sends are fire-and-forget: a missing answer surfaces later as a node error or a timeout.
type Transport[Req, Resp any] interface {
	SendPartialRequest(node NodeID, req Req) error
	SendPartialResponse(node NodeID, resp Resp) error
}
