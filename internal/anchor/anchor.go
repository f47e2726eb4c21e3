// Package anchor dispatches sealed batch roots to attestation backends.
//
// The ledger hands roots to a Manager and never waits on backend latency:
// fire-and-forget requests are queued and their results delivered over the
// Results channel, while the synchronous variant is reserved for deployments
// that accept anchoring latency inside batch commits. Backend failures are
// absorbed here, surfaced only through stats and results; re-anchoring the
// same root is expected and must be idempotent backend-side.
package anchor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status of an anchoring attempt against one backend.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Request identifies one root to anchor. Metadata travels verbatim to the
// backends.
type Request struct {
	ID       uuid.UUID         `json:"id"`
	RootHash string            `json:"root_hash"`
	BatchID  int64             `json:"batch_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewRequest builds a Request with a fresh ID.
func NewRequest(rootHash string, batchID int64, metadata map[string]string) Request {
	return Request{
		ID:       uuid.New(),
		RootHash: rootHash,
		BatchID:  batchID,
		Metadata: metadata,
	}
}

// Result is the terminal outcome of one request against one backend.
type Result struct {
	RequestID uuid.UUID `json:"request_id"`
	Backend   string    `json:"backend"`
	RootHash  string    `json:"root_hash"`
	BatchID   int64     `json:"batch_id"`
	Status    Status    `json:"status"`
	Receipt   string    `json:"receipt,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Ok reports whether the attempt reached the backend.
func (r Result) Ok() bool {
	return r.Status == StatusSubmitted || r.Status == StatusConfirmed
}

// Backend is one attestation target. Anchor must be idempotent with respect
// to the root hash: anchoring the same root twice is not an error.
type Backend interface {
	Name() string
	Anchor(ctx context.Context, req Request) (Result, error)
	HealthCheck(ctx context.Context) error
}

// Stats aggregates manager-level counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Pending   int64 `json:"pending"`
	Dropped   int64 `json:"dropped"`
}

// Manager is the contract the ledger depends on. Every call may be slow or
// failing; the ledger treats all of them as best-effort.
type Manager interface {
	Start() error
	Stop() error

	// AnchorRoot enqueues a fire-and-forget request. It reports false when
	// the request was not accepted (manager stopped or queue full); the
	// terminal results arrive on Results.
	AnchorRoot(req Request) bool

	// AnchorRootSync dispatches inline and returns one Result per backend.
	AnchorRootSync(ctx context.Context, req Request) []Result

	// Results streams terminal results of fire-and-forget requests. The
	// channel closes after Stop once in-flight work has drained.
	Results() <-chan Result

	HealthCheck(ctx context.Context) map[string]error
	Stats() Stats
	RecentResults(n int) []Result
}
