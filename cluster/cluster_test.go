package cluster_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/cluster"
	"github.com/ruteri/tee-secret-store/cluster/clustertest"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
	"github.com/ruteri/tee-secret-store/jobs/jobstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJob api.JobKind = "square"

type squareRequest struct {
	Value int `json:"value"`
}

type squareResponse struct {
	Value int `json:"value"`
}

// squareExecutor squares the requested value on slaves and sums the even results on the master.
type squareExecutor struct {
	reject bool
	ignore bool
	// hold delays slave answers until closed.
	hold chan struct{}
}

func (e *squareExecutor) PreparePartialRequest(interfaces.NodeID, []interfaces.NodeID) (*squareRequest, error) {
	return &squareRequest{Value: 2}, nil
}

func (e *squareExecutor) ProcessPartialRequest(req *squareRequest) (jobs.RequestAction[*squareResponse], error) {
	if e.hold != nil {
		<-e.hold
	}
	if e.reject {
		return jobs.RejectRequest(&squareResponse{Value: 1}), nil
	}
	return jobs.Respond(&squareResponse{Value: req.Value * req.Value}), nil
}

func (e *squareExecutor) CheckPartialResponse(_ interfaces.NodeID, resp *squareResponse) (jobs.ResponseAction, error) {
	if e.ignore && resp.Value != 4 {
		return jobs.ResponseIgnore, nil
	}
	if resp.Value%2 == 0 {
		return jobs.ResponseAccept, nil
	}
	return jobs.ResponseReject, nil
}

func (e *squareExecutor) ComputeResponse(responses map[interfaces.NodeID]*squareResponse) (int, error) {
	sum := 0
	for _, resp := range responses {
		sum += resp.Value
	}
	return sum, nil
}

func registerSquare(c *cluster.Cluster, executor *squareExecutor) {
	cluster.RegisterSlave(c, testJob, func(context.Context, jobs.SessionMeta) (jobs.Executor[*squareRequest, *squareResponse, int], error) {
		return executor, nil
	})
}

func startCluster(t *testing.T, n int, timeout time.Duration, slave *squareExecutor) (*clustertest.Network, []interfaces.NodeID, []*cluster.Cluster) {
	t.Helper()
	ids := jobstest.IDs(jobstest.NewNodes(t, n))
	net := clustertest.NewNetwork()

	clusters := make([]*cluster.Cluster, n)
	for i, id := range ids {
		clusters[i] = net.Join(t, id, ids, timeout)
		registerSquare(clusters[i], slave)
	}
	return net, ids, clusters
}

func runSquare(ctx context.Context, c *cluster.Cluster, threshold int, nodes []interfaces.NodeID, executor *squareExecutor) (int, error) {
	return cluster.RunMaster[*squareRequest, *squareResponse, int](ctx, c, testJob, threshold, nodes, executor)
}

func TestRunMaster(t *testing.T) {
	_, ids, clusters := startCluster(t, 3, 5*time.Second, &squareExecutor{})

	out, err := runSquare(context.Background(), clusters[0], 1, ids, &squareExecutor{})
	require.NoError(t, err)
	assert.Contains(t, []int{8, 12}, out)
	assert.Equal(t, 0, clusters[0].Sessions())

	for _, c := range clusters[1:] {
		require.Eventually(t, func() bool { return c.Sessions() == 0 }, time.Second, 10*time.Millisecond)
	}
}

func TestRunMasterSelfOnly(t *testing.T) {
	_, ids, clusters := startCluster(t, 2, time.Second, &squareExecutor{})

	out, err := runSquare(context.Background(), clusters[1], 0, ids[1:], &squareExecutor{})
	require.NoError(t, err)
	assert.Equal(t, 4, out)
}

func TestRunMasterRejected(t *testing.T) {
	_, ids, clusters := startCluster(t, 3, 5*time.Second, &squareExecutor{reject: true})

	_, err := runSquare(context.Background(), clusters[0], 1, ids, &squareExecutor{})
	assert.ErrorIs(t, err, jobs.ErrConsensusUnreachable)
	assert.Equal(t, 0, clusters[0].Sessions())
}

func TestRunMasterNotEnoughNodes(t *testing.T) {
	_, ids, clusters := startCluster(t, 2, time.Second, &squareExecutor{})

	_, err := runSquare(context.Background(), clusters[0], 2, ids, &squareExecutor{})
	assert.ErrorIs(t, err, jobs.ErrConsensusUnreachable)
	assert.Equal(t, 0, clusters[0].Sessions())
}

func TestRunMasterUnreachableNodes(t *testing.T) {
	net, ids, clusters := startCluster(t, 3, 5*time.Second, &squareExecutor{})
	net.Disconnect(ids[1])
	net.Disconnect(ids[2])

	_, err := runSquare(context.Background(), clusters[0], 1, ids, &squareExecutor{})
	assert.ErrorIs(t, err, jobs.ErrConsensusUnreachable)
}

func TestRunMasterOneUnreachableNode(t *testing.T) {
	net, ids, clusters := startCluster(t, 3, 5*time.Second, &squareExecutor{})
	net.Disconnect(ids[2])

	out, err := runSquare(context.Background(), clusters[0], 1, ids, &squareExecutor{})
	require.NoError(t, err)
	assert.Equal(t, 8, out)
}

func TestRunMasterTimeout(t *testing.T) {
	_, ids, clusters := startCluster(t, 2, 100*time.Millisecond, &squareExecutor{reject: true})

	_, err := runSquare(context.Background(), clusters[0], 1, ids, &squareExecutor{ignore: true})
	assert.ErrorIs(t, err, jobs.ErrConsensusUnreachable)
	assert.Equal(t, 0, clusters[0].Sessions())
}

func TestRunMasterContextDone(t *testing.T) {
	_, ids, clusters := startCluster(t, 2, time.Minute, &squareExecutor{reject: true})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := runSquare(ctx, clusters[0], 1, ids, &squareExecutor{ignore: true})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, clusters[0].Sessions())
}

func TestRunMasterUnknownNode(t *testing.T) {
	_, ids, clusters := startCluster(t, 2, time.Second, &squareExecutor{})
	outsider := jobstest.IDs(jobstest.NewNodes(t, 1))[0]

	_, err := runSquare(context.Background(), clusters[0], 1, append(ids, outsider), &squareExecutor{})
	assert.ErrorIs(t, err, cluster.ErrUnknownNode)
}

func TestDeliveryFailure(t *testing.T) {
	hold := make(chan struct{})
	_, ids, clusters := startCluster(t, 2, 5*time.Second, &squareExecutor{hold: hold})
	t.Cleanup(func() { close(hold) })

	result := make(chan error, 1)
	go func() {
		_, err := runSquare(context.Background(), clusters[0], 1, ids, &squareExecutor{})
		result <- err
	}()
	require.Eventually(t, func() bool { return clusters[0].Sessions() == 1 }, time.Second, 10*time.Millisecond)

	// A rejected message of another session leaves the round alone.
	other := &api.ClusterMessage{Session: interfaces.NewSessionID(), Job: testJob, Kind: api.PartialResponse, From: ids[0], To: ids[1]}
	clusters[0].OnDeliveryFailure(other, fmt.Errorf("%w: unknown session", cluster.ErrRejected))
	assert.Equal(t, 1, clusters[0].Sessions())

	clusters[0].OnDeliveryFailure(other, errors.New("connection refused"))
	select {
	case err := <-result:
		assert.ErrorIs(t, err, jobs.ErrConsensusUnreachable)
	case <-time.After(time.Second):
		t.Fatal("round did not fail on unreachable node")
	}
}

func TestHandleMessage(t *testing.T) {
	_, ids, clusters := startCluster(t, 2, time.Second, &squareExecutor{})
	outsider := jobstest.IDs(jobstest.NewNodes(t, 1))[0]
	payload, err := json.Marshal(&squareRequest{Value: 3})
	require.NoError(t, err)

	valid := func() *api.ClusterMessage {
		return &api.ClusterMessage{
			Session:   interfaces.NewSessionID(),
			Job:       testJob,
			Kind:      api.PartialRequest,
			From:      ids[0],
			To:        ids[1],
			Threshold: 1,
			Payload:   payload,
		}
	}

	tests := []struct {
		name   string
		modify func(msg *api.ClusterMessage)
		err    error
	}{
		{name: "wrong recipient", modify: func(msg *api.ClusterMessage) { msg.To = ids[0] }, err: jobs.ErrInvalidMessage},
		{name: "outsider", modify: func(msg *api.ClusterMessage) { msg.From = outsider }, err: cluster.ErrUnknownNode},
		{name: "from self", modify: func(msg *api.ClusterMessage) { msg.From = ids[1] }, err: jobs.ErrInvalidMessage},
		{name: "unknown job", modify: func(msg *api.ClusterMessage) { msg.Job = "sign" }, err: cluster.ErrUnknownJob},
		{name: "unknown kind", modify: func(msg *api.ClusterMessage) { msg.Kind = "gossip" }, err: jobs.ErrInvalidMessage},
		{name: "null payload", modify: func(msg *api.ClusterMessage) { msg.Payload = json.RawMessage("null") }, err: jobs.ErrInvalidMessage},
		{name: "malformed payload", modify: func(msg *api.ClusterMessage) { msg.Payload = json.RawMessage(`{"value":"x"}`) }, err: jobs.ErrInvalidMessage},
		{name: "response to unknown session", modify: func(msg *api.ClusterMessage) { msg.Kind = api.PartialResponse }, err: cluster.ErrUnknownSession},
		{name: "valid request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := valid()
			if tt.modify != nil {
				tt.modify(msg)
			}
			err := clusters[1].HandleMessage(context.Background(), msg)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNewClusterRequiresMembership(t *testing.T) {
	ids := jobstest.IDs(jobstest.NewNodes(t, 2))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := cluster.New(cluster.Config{Self: ids[0], Nodes: ids[1:]}, nil, logger)
	assert.ErrorIs(t, err, cluster.ErrUnknownNode)
}

func TestDispatcherQueueFull(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := cluster.NewDispatcher(clustertest.NewNetwork(), cluster.DispatcherConfig{Workers: 1, QueueSize: 1}, logger)

	require.NoError(t, dispatcher.Send(&api.ClusterMessage{}))
	assert.ErrorIs(t, dispatcher.Send(&api.ClusterMessage{}), cluster.ErrQueueFull)
}

func TestDispatcherReportsFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := cluster.NewDispatcher(clustertest.NewNetwork(), cluster.DispatcherConfig{Workers: 1, QueueSize: 4}, logger)
	target := jobstest.IDs(jobstest.NewNodes(t, 1))[0]

	failed := make(chan *api.ClusterMessage, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- dispatcher.Run(ctx, func(msg *api.ClusterMessage, err error) {
			assert.NotErrorIs(t, err, cluster.ErrRejected)
			failed <- msg
		})
	}()

	require.NoError(t, dispatcher.Send(&api.ClusterMessage{To: target}))
	select {
	case msg := <-failed:
		assert.Equal(t, target, msg.To)
	case <-time.After(time.Second):
		t.Fatal("delivery failure not reported")
	}

	cancel()
	assert.NoError(t, <-done)
}
