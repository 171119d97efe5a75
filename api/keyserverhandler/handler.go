package keyserverhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
	"github.com/ruteri/tee-secret-store/keyserver"
)

// maxBodySize is the maximum allowed request body size (64KB).
const maxBodySize = 64 * 1024

type Handler struct {
	keyServer interfaces.KeyServer
	log       *slog.Logger
}

func NewHandler(keyServer interfaces.KeyServer, log *slog.Logger) *Handler {
	return &Handler{
		keyServer: keyServer,
		log:       log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/server_key/{key_id}", h.HandleGenerateServerKey)
	r.Post("/api/server_key/{key_id}/public", h.HandleServerPublicKey)
	r.Post("/api/access/{key_id}", h.HandleCheckAccess)
	r.Post("/api/document_key/{key_id}", h.HandleGenerateDocumentKey)
	r.Post("/api/document_key/{key_id}/store", h.HandleStoreDocumentKey)
	r.Post("/api/document_key/{key_id}/restore", h.HandleRestoreDocumentKey)
	r.Post("/api/document_key/{key_id}/shadow", h.HandleRestoreDocumentKeyShadow)
}

// HandleGenerateServerKey generates a new server key shared by the cluster.
//
// Request body: {"signature": "0x...", "threshold": 1}
// Response: {"server_public": "0x04..."}
func (h *Handler) HandleGenerateServerKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}

	var req api.GenerateServerKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	serverPublic, err := h.keyServer.GenerateServerKey(r.Context(), id, interfaces.RequestSignature(req.Signature), req.Threshold)
	if err != nil {
		h.fail(w, "server key generation failed", id, err)
		return
	}
	h.respond(w, &api.GenerateServerKeyResponse{ServerPublic: serverPublic})
}

// HandleServerPublicKey returns the public key of an existing server key.
//
// Request body: {"signature": "0x..."}
// Response: {"server_public": "0x04..."}
func (h *Handler) HandleServerPublicKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}

	var req api.SignedKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	serverPublic, err := h.keyServer.ServerPublicKey(r.Context(), id, interfaces.RequestSignature(req.Signature))
	if err != nil {
		h.fail(w, "server key retrieval failed", id, err)
		return
	}
	h.respond(w, &api.GenerateServerKeyResponse{ServerPublic: serverPublic})
}

// HandleCheckAccess runs the access consensus for the requester.
//
// Request body: {"signature": "0x..."}
// Response: {"requester": "0x...", "nodes": ["<node id>", ...]}
func (h *Handler) HandleCheckAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}

	var req api.SignedKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	consensus, err := h.keyServer.CheckAccess(r.Context(), id, interfaces.RequestSignature(req.Signature))
	if err != nil {
		h.fail(w, "access check failed", id, err)
		return
	}
	h.respond(w, consensus)
}

// HandleGenerateDocumentKey generates a server key with a random document key attached.
//
// Request body: {"signature": "0x...", "threshold": 1}
// Response: {"encrypted_document_key": "0x..."}, the document key ECIES-encrypted
// to the public key recovered from the signature.
func (h *Handler) HandleGenerateDocumentKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}

	var req api.GenerateServerKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	encrypted, err := h.keyServer.GenerateDocumentKey(r.Context(), id, interfaces.RequestSignature(req.Signature), req.Threshold)
	if err != nil {
		h.fail(w, "document key generation failed", id, err)
		return
	}
	h.respond(w, &api.DocumentKeyResponse{EncryptedDocumentKey: encrypted})
}

// HandleStoreDocumentKey attaches a document key encrypted by the author to a server key.
//
// Request body: {"signature": "0x...", "common_point": "0x04...", "encrypted_point": "0x04..."}
// Response: {}
func (h *Handler) HandleStoreDocumentKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}

	var req api.StoreDocumentKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.keyServer.StoreDocumentKey(r.Context(), id, interfaces.RequestSignature(req.Signature), req.CommonPoint, req.EncryptedPoint)
	if err != nil {
		h.fail(w, "document key storage failed", id, err)
		return
	}
	h.respond(w, struct{}{})
}

// HandleRestoreDocumentKey restores the document key for the requester.
//
// Request body: {"signature": "0x..."}
// Response: {"encrypted_document_key": "0x..."}
func (h *Handler) HandleRestoreDocumentKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}

	var req api.SignedKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	encrypted, err := h.keyServer.RestoreDocumentKey(r.Context(), id, interfaces.RequestSignature(req.Signature))
	if err != nil {
		h.fail(w, "document key restoration failed", id, err)
		return
	}
	h.respond(w, &api.DocumentKeyResponse{EncryptedDocumentKey: encrypted})
}

// HandleRestoreDocumentKeyShadow returns the shadows the requester combines itself.
//
// Request body: {"signature": "0x..."}
// Response: {"common_point": "0x04...", "encrypted_point": "0x04...", "shadows": {"1": "0x...", ...}}
func (h *Handler) HandleRestoreDocumentKeyShadow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}

	var req api.SignedKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	shadow, err := h.keyServer.RestoreDocumentKeyShadow(r.Context(), id, interfaces.RequestSignature(req.Signature))
	if err != nil {
		h.fail(w, "document key shadow retrieval failed", id, err)
		return
	}
	h.respond(w, shadow)
}

func (h *Handler) keyID(w http.ResponseWriter, r *http.Request) (interfaces.ServerKeyID, bool) {
	id, err := interfaces.NewServerKeyIDFromHex(r.PathValue("key_id"))
	if err != nil {
		writeError(w, fmt.Errorf("invalid key id: %w", err), http.StatusBadRequest)
		return interfaces.ServerKeyID{}, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, errors.New("failed to read request body"), http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, fmt.Errorf("invalid request: %w", err), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, msg string, id interfaces.ServerKeyID, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(msg, "key", id.String(), "err", err)
	} else {
		h.log.Info(msg, "key", id.String(), "err", err)
	}
	writeError(w, err, status)
}

func writeError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&api.ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrBadSignature),
		errors.Is(err, keyserver.ErrInvalidThreshold),
		errors.Is(err, cryptoutils.ErrInvalidPoint):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrKeyNotFound),
		errors.Is(err, interfaces.ErrDocumentKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrKeyAlreadyExists),
		errors.Is(err, interfaces.ErrDocumentKeyExists):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrConsensusUnreachable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
