// Package persistence stores sealed batches durably and restores ledger
// state at startup. Three backends are provided: Memory for tests and
// ephemeral deployments, SQLite for single-node durability, and Postgres
// for shared deployments.
package persistence

import (
	"context"
	"time"
)

// Batch is the durable form of a sealed batch.
type Batch struct {
	ID         int64     `json:"id"`
	RootHash   string    `json:"root_hash"`
	EntryCount int       `json:"entry_count"`
	SealedAt   time.Time `json:"sealed_at"`
}

// Entry is the durable form of one sealed ledger entry. Payload holds the
// canonical serialization the entry was hashed over; Proof holds the
// JSON-encoded inclusion proof.
type Entry struct {
	ContentHash string    `json:"content_hash"`
	Payload     []byte    `json:"payload"`
	IngestTime  time.Time `json:"ingest_time"`
	BatchID     int64     `json:"batch_id"`
	Proof       []byte    `json:"proof"`
}

// State is everything needed to restore a ledger instance: the next batch ID
// to assign, all sealed batches in ID order, and all entries in arrival order.
type State struct {
	BatchCounter int64
	Batches      []Batch
	Entries      []Entry
}

// Backend persists sealed batches. SaveBatch must be atomic at batch
// granularity: readers never observe a batch without all of its entries.
// Batches are append-only; nothing is ever updated or deleted.
type Backend interface {
	SaveBatch(ctx context.Context, batch Batch, entries []Entry) error
	Load(ctx context.Context) (*State, error)
	Close() error
}

func unixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
