// Package client provides the sealog Go SDK for submitting records to a
// sealogd instance and verifying inclusion proofs against it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sealog-io/sealog/pkg/canonical"
	"github.com/sealog-io/sealog/pkg/merkle"
)

// SubmitResult holds the content hash assigned to a submitted record.
type SubmitResult struct {
	ContentHash string `json:"content_hash"`
}

// BatchSummary describes one sealed batch.
type BatchSummary struct {
	ID         int64     `json:"id"`
	RootHash   string    `json:"root_hash"`
	EntryCount int       `json:"entry_count"`
	SealedAt   time.Time `json:"sealed_at"`
}

// EntryDetail holds a stored entry with its inclusion proof.
type EntryDetail struct {
	ContentHash    string             `json:"content_hash"`
	Payload        json.RawMessage    `json:"payload"`
	IngestTime     time.Time          `json:"ingest_time"`
	BatchID        *int64             `json:"batch_id"`
	InclusionProof []merkle.ProofStep `json:"inclusion_proof"`
}

// AnchorStats counts anchoring outcomes as observed by the ledger.
type AnchorStats struct {
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Pending    int64 `json:"pending"`
	Unanchored int64 `json:"unanchored"`
}

// LedgerStats is the aggregate ledger view returned by Stats.
type LedgerStats struct {
	State            string      `json:"state"`
	Entries          int         `json:"entries"`
	OpenBatchSize    int         `json:"open_batch_size"`
	BatchSize        int         `json:"batch_size"`
	BatchesCommitted int64       `json:"batches_committed"`
	CurrentRoot      string      `json:"current_root,omitempty"`
	QueueDepth       int         `json:"queue_depth"`
	Anchoring        AnchorStats `json:"anchoring"`
}

// ChainStatus holds the outcome of a chain verification.
type ChainStatus struct {
	Valid  bool   `json:"valid"`
	Length int    `json:"length"`
	Error  string `json:"error,omitempty"`
}

// APIError is returned when the server responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client is the sealog SDK entry point.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBearerToken attaches a bearer token to every request. Only the write
// endpoints require one when the server runs with an auth secret.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearerToken = token }
}

// New creates a Client for the sealogd at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts one JSON record to the ledger and returns the content hash
// assigned to it. The record is canonicalized server-side, so submitting the
// same logical document twice yields the same hash.
func (c *Client) Submit(ctx context.Context, record json.RawMessage) (*SubmitResult, error) {
	var out SubmitResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/records", record, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats fetches the ledger's current statistics.
func (c *Client) Stats(ctx context.Context) (*LedgerStats, error) {
	var out LedgerStats
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Batches lists all sealed batches.
func (c *Client) Batches(ctx context.Context) ([]BatchSummary, error) {
	var out []BatchSummary
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger/batches", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Entry fetches a stored entry by its content hash, including its inclusion
// proof once the entry's batch has been sealed.
func (c *Client) Entry(ctx context.Context, contentHash string) (*EntryDetail, error) {
	var out EntryDetail
	path := "/api/v1/ledger/entries/" + contentHash
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyEntry asks the server to verify a content hash against a root hash
// using the server's stored payload and the supplied proof.
func (c *Client) VerifyEntry(ctx context.Context, contentHash string, proof []merkle.ProofStep, rootHash string) (bool, error) {
	req := map[string]any{
		"content_hash": contentHash,
		"proof":        proof,
		"root_hash":    rootHash,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return false, err
	}
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/ledger/verify", body, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

// VerifyEntryOffline checks a record against a proof and root hash locally,
// without contacting the server. The record is canonicalized first.
func VerifyEntryOffline(record json.RawMessage, proof []merkle.ProofStep, rootHash string) (bool, error) {
	blob, err := canonical.JSON(record)
	if err != nil {
		return false, fmt.Errorf("canonicalize record: %w", err)
	}
	return merkle.Verify(blob, proof, rootHash), nil
}

// VerifyChain asks the server to re-verify its hash chain.
func (c *Client) VerifyChain(ctx context.Context) (*ChainStatus, error) {
	var out ChainStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/chain/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
