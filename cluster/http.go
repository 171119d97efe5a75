package cluster

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/interfaces"
)

// HTTPNetwork delivers signed cluster messages over HTTP.
type HTTPNetwork struct {
	Client   *http.Client
	Attempts uint
	Delay    time.Duration

	key       *ecdsa.PrivateKey
	addresses map[interfaces.NodeID]string
	log       *slog.Logger
}

// NewHTTPNetwork creates the network of a node signing with key. Addresses
// without a scheme are reached over plain http.
func NewHTTPNetwork(key *ecdsa.PrivateKey, nodes []interfaces.NodeAddress, log *slog.Logger) *HTTPNetwork {
	addresses := make(map[interfaces.NodeID]string, len(nodes))
	for _, node := range nodes {
		address := strings.TrimSuffix(node.Address, "/")
		if !strings.Contains(address, "://") {
			address = "http://" + address
		}
		addresses[node.ID] = address
	}

	return &HTTPNetwork{
		Client:    &http.Client{Timeout: 10 * time.Second},
		Attempts:  3,
		Delay:     100 * time.Millisecond,
		key:       key,
		addresses: addresses,
		log:       log,
	}
}

// Deliver posts msg to its recipient. Server errors and transport failures are
// retried; rejections by the recipient are not.
func (n *HTTPNetwork) Deliver(ctx context.Context, msg *api.ClusterMessage) error {
	address, found := n.addresses[msg.To]
	if !found {
		return fmt.Errorf("%w: no address for %s", ErrUnknownNode, msg.To.Short())
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("could not encode message: %w", err)
	}
	signature, err := cryptoutils.SignMessage(n.key, body)
	if err != nil {
		return fmt.Errorf("could not sign message: %w", err)
	}
	url := address + api.ClusterMessagePath

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("could not initialize request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(api.NodeSignatureHeader, hexutil.Encode(signature))

			resp, err := n.Client.Do(req)
			if err != nil {
				return fmt.Errorf("could not reach node %s: %w", msg.To.Short(), err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}

			reason, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			reasonText := strings.TrimSpace(string(reason))
			if resp.StatusCode < http.StatusInternalServerError {
				return retry.Unrecoverable(fmt.Errorf("%w: node %s returned %d: %s", ErrRejected, msg.To.Short(), resp.StatusCode, reasonText))
			}
			return fmt.Errorf("node %s returned %d: %s", msg.To.Short(), resp.StatusCode, reasonText)
		},
		retry.Context(ctx),
		retry.Attempts(n.Attempts),
		retry.Delay(n.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			n.log.Debug("retrying cluster message", "attempt", attempt, "msg", msg.String(), "err", err)
		}),
	)
}
