package keyserverhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/interfaces"
	"github.com/ruteri/tee-secret-store/jobs"
)

// Client talks to the requester API of a node. It implements interfaces.KeyServer.
type Client struct {
	BaseURL string
	Client  *http.Client
}

var _ interfaces.KeyServer = (*Client)(nil)

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  http.DefaultClient,
	}
}

func (c *Client) GenerateServerKey(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature, threshold int) ([]byte, error) {
	var resp api.GenerateServerKeyResponse
	err := c.post(ctx, fmt.Sprintf("/api/server_key/%s", id), &api.GenerateServerKeyRequest{Signature: []byte(signature), Threshold: threshold}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.ServerPublic, nil
}

func (c *Client) ServerPublicKey(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature) ([]byte, error) {
	var resp api.GenerateServerKeyResponse
	err := c.post(ctx, fmt.Sprintf("/api/server_key/%s/public", id), &api.SignedKeyRequest{Signature: []byte(signature)}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.ServerPublic, nil
}

func (c *Client) CheckAccess(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature) (*interfaces.AccessConsensus, error) {
	var resp interfaces.AccessConsensus
	err := c.post(ctx, fmt.Sprintf("/api/access/%s", id), &api.SignedKeyRequest{Signature: []byte(signature)}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) StoreDocumentKey(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature, commonPoint, encryptedPoint []byte) error {
	var resp struct{}
	return c.post(ctx, fmt.Sprintf("/api/document_key/%s/store", id), &api.StoreDocumentKeyRequest{
		Signature:      []byte(signature),
		CommonPoint:    commonPoint,
		EncryptedPoint: encryptedPoint,
	}, &resp)
}

func (c *Client) GenerateDocumentKey(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature, threshold int) ([]byte, error) {
	var resp api.DocumentKeyResponse
	err := c.post(ctx, fmt.Sprintf("/api/document_key/%s", id), &api.GenerateServerKeyRequest{Signature: []byte(signature), Threshold: threshold}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.EncryptedDocumentKey, nil
}

func (c *Client) RestoreDocumentKey(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature) ([]byte, error) {
	var resp api.DocumentKeyResponse
	err := c.post(ctx, fmt.Sprintf("/api/document_key/%s/restore", id), &api.SignedKeyRequest{Signature: []byte(signature)}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.EncryptedDocumentKey, nil
}

func (c *Client) RestoreDocumentKeyShadow(ctx context.Context, id interfaces.ServerKeyID, signature interfaces.RequestSignature) (*interfaces.DocumentKeyShadow, error) {
	var resp interfaces.DocumentKeyShadow
	err := c.post(ctx, fmt.Sprintf("/api/document_key/%s/shadow", id), &api.SignedKeyRequest{Signature: []byte(signature)}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("could not encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.Client == nil {
		c.Client = http.DefaultClient
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("could not request key server: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read key server response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return responseError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("could not parse key server response: %w", err)
	}
	return nil
}

// responseError restores the sentinel error behind an error status.
func responseError(status int, body []byte) error {
	var errResp api.ErrorResponse
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		msg = errResp.Error
	}

	var sentinel error
	switch status {
	case http.StatusForbidden:
		sentinel = interfaces.ErrAccessDenied
	case http.StatusNotFound:
		sentinel = interfaces.ErrKeyNotFound
		if strings.Contains(msg, interfaces.ErrDocumentKeyNotFound.Error()) {
			sentinel = interfaces.ErrDocumentKeyNotFound
		}
	case http.StatusConflict:
		sentinel = interfaces.ErrKeyAlreadyExists
		if strings.Contains(msg, interfaces.ErrDocumentKeyExists.Error()) {
			sentinel = interfaces.ErrDocumentKeyExists
		}
	case http.StatusServiceUnavailable:
		sentinel = jobs.ErrConsensusUnreachable
	case http.StatusGatewayTimeout:
		sentinel = context.DeadlineExceeded
	default:
		return fmt.Errorf("key server returned %d: %s", status, msg)
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

// ErrorIsRetryable reports whether a request failed for reasons that may go
// away: no consensus, or a round that ran out of time on the server.
func ErrorIsRetryable(err error) bool {
	return errors.Is(err, jobs.ErrConsensusUnreachable) || errors.Is(err, context.DeadlineExceeded)
}
