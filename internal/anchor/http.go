package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPBackend posts roots to a remote attestation service. The wire contract
// is deliberately small: POST the request as JSON, expect 2xx, optionally
// read back a receipt identifier. Retries, backoff, and circuit handling
// live in the manager, not here.
type HTTPBackend struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPBackend creates a backend posting to url. name distinguishes
// multiple attestation services in results and health maps.
func NewHTTPBackend(name, url string) *HTTPBackend {
	return &HTTPBackend{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type attestResponse struct {
	ReceiptID string `json:"receipt_id"`
	Status    string `json:"status"`
}

// Name implements Backend.
func (b *HTTPBackend) Name() string { return b.name }

// Anchor implements Backend.
func (b *HTTPBackend) Anchor(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal anchor request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build attestation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("post to attestation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return Result{}, fmt.Errorf("attestation service returned %d", resp.StatusCode)
	}

	res := Result{Backend: b.name, Status: StatusSubmitted}
	var parsed attestResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err == nil {
		res.Receipt = parsed.ReceiptID
		if parsed.Status == string(StatusConfirmed) {
			res.Status = StatusConfirmed
		}
	}
	return res, nil
}

// HealthCheck implements Backend with a HEAD request against the service.
func (b *HTTPBackend) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.url, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("attestation service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
