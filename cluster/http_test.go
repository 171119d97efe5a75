package cluster_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/cluster"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs/jobstest"
	"github.com/stretchr/testify/assert"
)

func TestHTTPNetworkDeliver(t *testing.T) {
	nodes := jobstest.NewNodes(t, 2)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		status   int
		attempts int32
		wantErr  bool
		rejected bool
	}{
		{name: "accepted", status: http.StatusNoContent, attempts: 1},
		{name: "rejected is not retried", status: http.StatusBadRequest, attempts: 1, wantErr: true, rejected: true},
		{name: "server error is retried", status: http.StatusInternalServerError, attempts: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				assert.Equal(t, api.ClusterMessagePath, r.URL.Path)

				body, err := io.ReadAll(r.Body)
				assert.NoError(t, err)
				sig, err := hexutil.Decode(r.Header.Get(api.NodeSignatureHeader))
				assert.NoError(t, err)

				var msg api.ClusterMessage
				assert.NoError(t, json.Unmarshal(body, &msg))
				assert.NoError(t, cryptoutils.VerifyMessage(msg.From, body, sig))
				assert.Equal(t, nodes[1].ID, msg.To)

				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			network := cluster.NewHTTPNetwork(nodes[0].Key, []interfaces.NodeAddress{{ID: nodes[1].ID, Address: server.URL}}, logger)
			network.Delay = time.Millisecond

			err := network.Deliver(context.Background(), &api.ClusterMessage{
				Session: interfaces.NewSessionID(),
				Job:     api.JobKeyAccess,
				Kind:    api.PartialRequest,
				From:    nodes[0].ID,
				To:      nodes[1].ID,
				Payload: json.RawMessage(`{}`),
			})
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, tt.rejected, errors.Is(err, cluster.ErrRejected))
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.attempts, attempts.Load())
		})
	}
}

func TestHTTPNetworkUnknownNode(t *testing.T) {
	nodes := jobstest.NewNodes(t, 2)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	network := cluster.NewHTTPNetwork(nodes[0].Key, nil, logger)

	err := network.Deliver(context.Background(), &api.ClusterMessage{From: nodes[0].ID, To: nodes[1].ID})
	assert.ErrorIs(t, err, cluster.ErrUnknownNode)
}
