package cluster

import (
	"testing"

	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countExecutor struct{}

func (countExecutor) PreparePartialRequest(interfaces.NodeID, []interfaces.NodeID) (int, error) {
	return 1, nil
}

func (countExecutor) ProcessPartialRequest(req int) (jobs.RequestAction[int], error) {
	return jobs.Respond(req), nil
}

func (countExecutor) CheckPartialResponse(interfaces.NodeID, int) (jobs.ResponseAction, error) {
	return jobs.ResponseAccept, nil
}

func (countExecutor) ComputeResponse(responses map[interfaces.NodeID]int) (int, error) {
	return len(responses), nil
}

type nopTransport struct{}

func (nopTransport) SendPartialRequest(interfaces.NodeID, int) error  { return nil }
func (nopTransport) SendPartialResponse(interfaces.NodeID, int) error { return nil }

func TestMasterHandleKeepsFinishedResult(t *testing.T) {
	self, other := interfaces.NodeID{1}, interfaces.NodeID{2}
	s, err := jobs.NewMasterSession[int, int, int](jobs.SessionMeta{Master: self, Self: self, Threshold: 1}, countExecutor{}, nopTransport{})
	require.NoError(t, err)

	h := newMasterHandle(api.JobKind("count"), s)
	_, err = h.result()
	assert.ErrorIs(t, err, jobs.ErrInvalidStateForRequest)

	require.NoError(t, h.initialize([]interfaces.NodeID{self, other, {3}}))
	require.NoError(t, h.handleMessage(&api.ClusterMessage{Kind: api.PartialResponse, Job: "count", From: other, Payload: []byte("1")}))
	require.Equal(t, jobs.StateFinished, h.state())

	// The responder drops out before the caller collects the result.
	require.NoError(t, h.onNodeError(other))
	require.Equal(t, jobs.StateActive, h.state())

	select {
	case <-h.done:
	default:
		t.Fatal("done not closed")
	}
	out, err := h.result()
	require.NoError(t, err)
	assert.Equal(t, 2, out)
}
