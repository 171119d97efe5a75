package jobs

import (
	"slices"

	"github.com/ruteri/tee-secret-store/interfaces"
)

// State is where a round currently stands.
type State int

const (
	StateInactive State = iota
	StateActive
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further progress is expected in this state.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// quorum is the master's accounting of a round. A node is in at most one of
// requests, rejects and responses.
type quorum[Resp any] struct {
	requests  map[NodeID]struct{}
	rejects   map[NodeID]struct{}
	responses map[NodeID]Resp
}

func newQuorum[Resp any](nodes []NodeID) *quorum[Resp] {
	q := &quorum[Resp]{
		requests:  make(map[NodeID]struct{}, len(nodes)),
		rejects:   make(map[NodeID]struct{}),
		responses: make(map[NodeID]Resp),
	}
	for _, node := range nodes {
		q.requests[node] = struct{}{}
	}
	return q
}

// remaining counts the nodes which may still contribute to the quorum.
func (q *quorum[Resp]) remaining() int {
	return len(q.requests) + len(q.responses)
}

func (q *quorum[Resp]) reject(node NodeID) {
	delete(q.requests, node)
	delete(q.responses, node)
	q.rejects[node] = struct{}{}
}

// phase is the master's state. Active and finished phases always carry the
// quorum; a failed phase carries it when the round got as far as Initialize.
type phase[Resp any] interface {
	state() State
	aggregate() *quorum[Resp]
}

type inactivePhase[Resp any] struct{}

func (inactivePhase[Resp]) state() State             { return StateInactive }
func (inactivePhase[Resp]) aggregate() *quorum[Resp] { return nil }

type activePhase[Resp any] struct{ q *quorum[Resp] }

func (activePhase[Resp]) state() State               { return StateActive }
func (p activePhase[Resp]) aggregate() *quorum[Resp] { return p.q }

type finishedPhase[Resp any] struct{ q *quorum[Resp] }

func (finishedPhase[Resp]) state() State               { return StateFinished }
func (p finishedPhase[Resp]) aggregate() *quorum[Resp] { return p.q }

type failedPhase[Resp any] struct{ q *quorum[Resp] }

func (failedPhase[Resp]) state() State               { return StateFailed }
func (p failedPhase[Resp]) aggregate() *quorum[Resp] { return p.q }

func sortedKeys[V any](m map[NodeID]V) []NodeID {
	nodes := make([]NodeID, 0, len(m))
	for node := range m {
		nodes = append(nodes, node)
	}
	slices.SortFunc(nodes, interfaces.NodeID.Compare)
	return nodes
}
