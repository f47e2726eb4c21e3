package ledger

import (
	"encoding/json"
	"time"

	"github.com/sealog-io/sealog/pkg/merkle"
)

// Entry is one ingested decision record. Entries are append-only: the
// committing worker mutates an entry exactly once, attaching its batch ID
// and inclusion proof when the batch seals.
type Entry struct {
	ContentHash    string             `json:"content_hash"`
	Payload        json.RawMessage    `json:"payload"`
	IngestTime     time.Time          `json:"ingest_time"`
	BatchID        *int64             `json:"batch_id,omitempty"`
	InclusionProof []merkle.ProofStep `json:"inclusion_proof,omitempty"`
}

// Batch is a sealed group of entries. RootHash is the Merkle root over the
// entries' canonical serializations in arrival order; it never changes after
// sealing.
type Batch struct {
	ID         int64     `json:"id"`
	RootHash   string    `json:"root_hash"`
	EntryCount int       `json:"entry_count"`
	SealedAt   time.Time `json:"sealed_at"`
}

// AnchorStats counts anchoring outcomes as observed by the ledger.
type AnchorStats struct {
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Pending    int64 `json:"pending"`
	Unanchored int64 `json:"unanchored"`
}

// Stats is the aggregate view exposed to the API and CLI.
type Stats struct {
	State            string      `json:"state"`
	Entries          int         `json:"entries"`
	OpenBatchSize    int         `json:"open_batch_size"`
	BatchSize        int         `json:"batch_size"`
	BatchesCommitted int64       `json:"batches_committed"`
	CurrentRoot      string      `json:"current_root,omitempty"`
	QueueDepth       int         `json:"queue_depth"`
	Anchoring        AnchorStats `json:"anchoring"`
}
