// Package relayer talks to a hosted co-processor relayer over HTTP.
package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"confidential-storage/internal/fault"
	"confidential-storage/internal/fhe"
)

const (
	keyURLPath      = "/v1/keyurl"
	inputProofPath  = "/v1/input-proof"
	userDecryptPath = "/v1/user-decrypt"
)

type relayerClient struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) fhe.Relayer {
	return &relayerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type errorBody struct {
	Message string `json:"message"`
}

func (c *relayerClient) NetworkConfig(ctx context.Context) (*fhe.NetworkConfig, error) {
	var cfg fhe.NetworkConfig
	if err := c.do(ctx, http.MethodGet, keyURLPath, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *relayerClient) InputProof(ctx context.Context, req *fhe.InputProofRequest) (*fhe.InputProofResponse, error) {
	var resp fhe.InputProofResponse
	if err := c.do(ctx, http.MethodPost, inputProofPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *relayerClient) UserDecrypt(ctx context.Context, req *fhe.UserDecryptRequest) (*fhe.UserDecryptResponse, error) {
	var resp fhe.UserDecryptResponse
	if err := c.do(ctx, http.MethodPost, userDecryptPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *relayerClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", fault.ErrEncryptionServiceUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb)
		return classify(resp.StatusCode, path, eb.Message)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %w", fault.ErrMalformedPayload, path, err)
	}
	return nil
}

func classify(status int, path, message string) error {
	detail := fmt.Sprintf("%s returned status %d", path, status)
	if message != "" {
		detail += ": " + message
	}
	switch {
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		if path == userDecryptPath {
			return fmt.Errorf("%w: %s", fault.ErrDecryptionDenied, detail)
		}
		return fmt.Errorf("%w: %s", fault.ErrInvalidProof, detail)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", fault.ErrInvalidRequest, detail)
	default:
		return fmt.Errorf("%w: %s", fault.ErrEncryptionServiceUnavailable, detail)
	}
}
