package enclaverpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Client is the host-side signed RPC client used to reach the enclave
// runtime: token exchange, token revoke, calendar/email fetch,
// attested-key fetch, assistant-query processing, morning-brief and
// urgent-email composition, automation execution, and attestation
// challenge.
type Client struct {
	httpClient *http.Client
	baseURL    string
	signer     *Signer
	now        func() time.Time
}

// NewClient constructs a Client against baseURL, signing every request
// with signer.
func NewClient(httpClient *http.Client, baseURL string, signer *Signer) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, signer: signer, now: time.Now}
}

// Do performs a signed POST to path with body marshaled as JSON,
// unmarshaling the response into out. It validates the response's
// contract version and, when expectedRequestID is non-empty, that the
// response echoes the same request_id the caller sent — a mismatch
// indicates a mis-routed or replayed reply and fails closed.
func (c *Client) Do(ctx context.Context, method, path string, requestBody any, out any, expectedRequestID string) error {
	var bodyBytes []byte
	var err error
	if requestBody != nil {
		bodyBytes, err = json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("enclaverpc: marshal request: %w", err)
		}
	}

	timestamp := c.now().Unix()
	nonce := expectedRequestID
	if nonce == "" {
		nonce = uuid.NewString()
	}
	signature := c.signer.Sign(method, path, timestamp, nonce, bodyBytes)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("enclaverpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderContractVersion, ContractVersion)
	req.Header.Set(HeaderAuthTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(HeaderAuthNonce, nonce)
	req.Header.Set(HeaderAuthSignature, signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Code: "transport_error", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Code: "transport_error", Message: err.Error(), Retryable: true}
	}

	if resp.StatusCode >= 500 {
		return &Error{Code: "enclave_internal_error", Message: string(respBody), Retryable: true}
	}
	if resp.StatusCode >= 400 {
		return &Error{Code: "enclave_rejected", Message: string(respBody), Retryable: false}
	}

	if resp.Header.Get(HeaderContractVersion) != ContractVersion {
		return newNonRetryableErr(CodeContractVersionMismatch, "rpc response contract version mismatch")
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		RequestID string          `json:"request_id"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("enclaverpc: unmarshal response envelope: %w", err)
	}
	if expectedRequestID != "" && envelope.RequestID != expectedRequestID {
		return newNonRetryableErr(CodeResponseRequestIDMismatch, "rpc response request_id mismatch: expected=%s actual=%s", expectedRequestID, envelope.RequestID)
	}

	if len(envelope.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Payload, out); err != nil {
		return fmt.Errorf("enclaverpc: unmarshal response payload: %w", err)
	}
	return nil
}
