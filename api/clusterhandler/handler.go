package clusterhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/cluster"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/jobs"
)

// maxBodySize is the maximum allowed message size (1MB).
const maxBodySize = 1024 * 1024

// MessageHandler consumes verified cluster messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *api.ClusterMessage) error
}

type Handler struct {
	cluster MessageHandler
	log     *slog.Logger
}

func NewHandler(cluster MessageHandler, log *slog.Logger) *Handler {
	return &Handler{
		cluster: cluster,
		log:     log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post(api.ClusterMessagePath, h.HandleMessage)
}

// HandleMessage verifies and routes a cluster message.
//
// URL format: POST /api/cluster/message
// Required headers:
//   - X-Node-Signature: hex signature of keccak256(body) by the sending node
//
// Responds 204 once the message was processed.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	signature, err := hexutil.Decode(r.Header.Get(api.NodeSignatureHeader))
	if err != nil {
		http.Error(w, fmt.Errorf("invalid node signature: %w", err).Error(), http.StatusUnauthorized)
		return
	}

	var msg api.ClusterMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		http.Error(w, fmt.Errorf("invalid message: %w", err).Error(), http.StatusBadRequest)
		return
	}

	if err := cryptoutils.VerifyMessage(msg.From, body, signature); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	if err := h.cluster.HandleMessage(r.Context(), &msg); err != nil {
		h.log.Debug("cluster message rejected", "msg", msg.String(), "err", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, cluster.ErrUnknownNode):
		return http.StatusForbidden
	case errors.Is(err, cluster.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrConsensusUnreachable):
		return http.StatusConflict
	case errors.Is(err, cluster.ErrUnknownJob),
		errors.Is(err, jobs.ErrInvalidMessage),
		errors.Is(err, jobs.ErrInvalidStateForRequest),
		errors.Is(err, jobs.ErrInvalidNodeForRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
