package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/sealog-io/sealog/internal/persistence"
)

func TestMemory_saveAndLoad(t *testing.T) {
	ctx := context.Background()
	m := persistence.NewMemory()

	st, err := m.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.BatchCounter != 0 || len(st.Batches) != 0 || len(st.Entries) != 0 {
		t.Fatalf("fresh backend not empty: %+v", st)
	}

	sealed := time.Now().UTC()
	batch := persistence.Batch{ID: 0, RootHash: "root-0", EntryCount: 2, SealedAt: sealed}
	entries := []persistence.Entry{
		{ContentHash: "h1", Payload: []byte(`{"x":1}`), IngestTime: sealed, BatchID: 0},
		{ContentHash: "h2", Payload: []byte(`{"x":2}`), IngestTime: sealed, BatchID: 0},
	}
	if err := m.SaveBatch(ctx, batch, entries); err != nil {
		t.Fatal(err)
	}

	st, err = m.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.BatchCounter != 1 {
		t.Errorf("batch counter: got %d, want 1", st.BatchCounter)
	}
	if len(st.Batches) != 1 || st.Batches[0].RootHash != "root-0" {
		t.Errorf("unexpected batches: %+v", st.Batches)
	}
	if len(st.Entries) != 2 || st.Entries[0].ContentHash != "h1" {
		t.Errorf("unexpected entries: %+v", st.Entries)
	}
}

func TestMemory_loadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := persistence.NewMemory()
	if err := m.SaveBatch(ctx, persistence.Batch{ID: 0, RootHash: "r"}, []persistence.Entry{{ContentHash: "h"}}); err != nil {
		t.Fatal(err)
	}

	st, _ := m.Load(ctx)
	st.Batches[0].RootHash = "mutated"
	st.Entries[0].ContentHash = "mutated"

	again, _ := m.Load(ctx)
	if again.Batches[0].RootHash != "r" || again.Entries[0].ContentHash != "h" {
		t.Error("Load exposed internal state to mutation")
	}
}
