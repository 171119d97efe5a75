// Package jobstest provides an in-process network for exercising job sessions
// in tests.
package jobstest

import (
	"errors"
	"fmt"

	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
)

type envelope[Req, Resp any] struct {
	from, to   interfaces.NodeID
	isResponse bool
	req        Req
	resp       Resp
}

// Network queues messages sent by sessions and delivers them on Pump.
// Delivery is deferred so that sessions are never re-entered from a send.
type Network[Req, Resp, Out any] struct {
	master *jobs.MasterSession[Req, Resp, Out]
	slaves map[interfaces.NodeID]*jobs.SlaveSession[Req, Resp, Out]
	queue  []envelope[Req, Resp]
	down   map[interfaces.NodeID]bool
}

func NewNetwork[Req, Resp, Out any]() *Network[Req, Resp, Out] {
	return &Network[Req, Resp, Out]{
		slaves: make(map[interfaces.NodeID]*jobs.SlaveSession[Req, Resp, Out]),
		down:   make(map[interfaces.NodeID]bool),
	}
}

// Transport returns the transport used by the session running on node from.
func (n *Network[Req, Resp, Out]) Transport(from interfaces.NodeID) jobs.Transport[Req, Resp] {
	return &transport[Req, Resp, Out]{net: n, from: from}
}

func (n *Network[Req, Resp, Out]) SetMaster(s *jobs.MasterSession[Req, Resp, Out]) {
	n.master = s
}

func (n *Network[Req, Resp, Out]) AddSlave(node interfaces.NodeID, s *jobs.SlaveSession[Req, Resp, Out]) {
	n.slaves[node] = s
}

// Disconnect drops every message sent to or from node from now on.
func (n *Network[Req, Resp, Out]) Disconnect(node interfaces.NodeID) {
	n.down[node] = true
}

// Pending returns the number of undelivered messages.
func (n *Network[Req, Resp, Out]) Pending() int {
	return len(n.queue)
}

// Pump delivers queued messages, including those sent while delivering,
// until the queue is empty. Errors returned by sessions are joined.
func (n *Network[Req, Resp, Out]) Pump() error {
	var errs []error
	for len(n.queue) > 0 {
		msg := n.queue[0]
		n.queue = n.queue[1:]

		if n.down[msg.from] || n.down[msg.to] {
			continue
		}

		if msg.isResponse {
			if n.master == nil {
				errs = append(errs, errors.New("response sent without a master session"))
				continue
			}
			if err := n.master.OnPartialResponse(msg.from, msg.resp); err != nil {
				errs = append(errs, fmt.Errorf("response from %s: %w", msg.from.Short(), err))
			}
			continue
		}

		slave, found := n.slaves[msg.to]
		if !found {
			errs = append(errs, fmt.Errorf("no session on node %s", msg.to.Short()))
			continue
		}
		if err := slave.OnPartialRequest(msg.from, msg.req); err != nil {
			errs = append(errs, fmt.Errorf("request to %s: %w", msg.to.Short(), err))
		}
	}
	return errors.Join(errs...)
}

type transport[Req, Resp, Out any] struct {
	net  *Network[Req, Resp, Out]
	from interfaces.NodeID
}

func (t *transport[Req, Resp, Out]) SendPartialRequest(node interfaces.NodeID, req Req) error {
	t.net.queue = append(t.net.queue, envelope[Req, Resp]{from: t.from, to: node, req: req})
	return nil
}

func (t *transport[Req, Resp, Out]) SendPartialResponse(node interfaces.NodeID, resp Resp) error {
	t.net.queue = append(t.net.queue, envelope[Req, Resp]{from: t.from, to: node, isResponse: true, resp: resp})
	return nil
}
