// internal/relay/jito.go
// Package relay submits signed transactions through block-engine
// bundles, with failover across engines and a race mode for emergency
// exits.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

const bundlePath = "/bundles"

// Block-engine tip accounts (mainnet). A tip transfer to one of these
// must ride inside every bundle.
var tipAccounts = []solana.PublicKey{
	solana.MustPublicKeyFromBase58("96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"),
	solana.MustPublicKeyFromBase58("HFqU5x63VTqvQss8hp11i4bVqkfRtQ7NmXwkiY8X9W5E"),
	solana.MustPublicKeyFromBase58("Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY"),
	solana.MustPublicKeyFromBase58("ADaUMid9yfUytqMBgopwjb2DTLSLuiv3Jhqzsg1dbE7B"),
	solana.MustPublicKeyFromBase58("DfXygSm4jCyNCzbzYYR18MFJkvDVwVS7s3d7rZmLhRDd"),
	solana.MustPublicKeyFromBase58("ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt"),
	solana.MustPublicKeyFromBase58("DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL"),
	solana.MustPublicKeyFromBase58("3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT"),
}

// EngineError is a block-engine rejection. Rate-limit and auth
// rejections are engine-specific and worth trying elsewhere.
type EngineError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("block engine rejected bundle (http %d, code %d): %s", e.HTTPStatus, e.Code, e.Message)
}

// Failover reports whether another engine may still accept the bundle.
func (e *EngineError) Failover() bool {
	switch e.HTTPStatus {
	case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	// 8 = rate limited in the engine's own error space.
	return e.Code == 8
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Result  string `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Engine is one block-engine endpoint.
type Engine struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

// NewEngine creates a client for one block-engine base URL.
func NewEngine(url string, timeout time.Duration, logger *zap.Logger) *Engine {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Engine{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logger.Named("engine"),
	}
}

// URL returns the engine base URL.
func (e *Engine) URL() string { return e.url }

// SendBundle submits base64-encoded signed transactions as one bundle
// and returns the bundle id.
func (e *Engine) SendBundle(ctx context.Context, transactions []string) (string, error) {
	if len(transactions) == 0 {
		return "", fmt.Errorf("empty bundle")
	}

	resp, status, err := e.call(ctx, rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendBundle",
		Params:  []any{transactions},
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &EngineError{HTTPStatus: status, Message: "non-200 response"}
	}
	if resp.Error != nil {
		return "", &EngineError{HTTPStatus: status, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return resp.Result, nil
}

// BundleLanded reports whether the bundle has confirmed.
func (e *Engine) BundleLanded(ctx context.Context, bundleID string) (bool, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getBundleStatuses",
		Params:  []any{[]string{bundleID}},
	})
	if err != nil {
		return false, err
	}

	raw, status, err := e.post(ctx, body)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, &EngineError{HTTPStatus: status, Message: "non-200 response"}
	}

	var statusResp struct {
		Result struct {
			Value []struct {
				BundleID           string `json:"bundle_id"`
				ConfirmationStatus string `json:"confirmation_status"`
				Err                any    `json:"err"`
			} `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &statusResp); err != nil {
		return false, fmt.Errorf("parse bundle status: %w", err)
	}
	if len(statusResp.Result.Value) == 0 {
		return false, nil
	}

	entry := statusResp.Result.Value[0]
	if entry.Err != nil {
		return false, fmt.Errorf("bundle failed: %v", entry.Err)
	}
	return entry.ConfirmationStatus == "confirmed" || entry.ConfirmationStatus == "finalized", nil
}

func (e *Engine) call(ctx context.Context, req rpcRequest) (*rpcResponse, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	raw, status, err := e.post(ctx, body)
	if err != nil {
		return nil, 0, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		// Keep the HTTP status so failover classification still works.
		return &rpcResponse{}, status, nil
	}
	return &resp, status, nil
}

func (e *Engine) post(ctx context.Context, body []byte) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+bundlePath, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := e.http.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("engine %s: %w", e.url, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return raw, httpResp.StatusCode, nil
}
