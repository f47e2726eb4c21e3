package hashchain_test

import (
	"path/filepath"
	"testing"

	"github.com/sealog-io/sealog/internal/hashchain"
	"go.uber.org/zap"
)

func newAnchor(t *testing.T, store hashchain.Store) *hashchain.Anchor {
	t.Helper()
	a, err := hashchain.New(store, false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestNew_genesis(t *testing.T) {
	a := newAnchor(t, hashchain.NewMemoryStore())

	if a.Len() != 1 {
		t.Fatalf("expected genesis-only chain, got %d blocks", a.Len())
	}
	genesis := a.Blocks()[0]
	if genesis.RootHash != hashchain.GenesisRoot {
		t.Errorf("genesis root: got %q, want %q", genesis.RootHash, hashchain.GenesisRoot)
	}
	if genesis.Index != 0 {
		t.Errorf("genesis index: got %d", genesis.Index)
	}
	if err := a.Verify(); err != nil {
		t.Errorf("fresh chain failed verification: %v", err)
	}
}

func TestAnchorRoot_chains(t *testing.T) {
	a := newAnchor(t, hashchain.NewMemoryStore())

	b1, err := a.AnchorRoot("root-aaa")
	if err != nil {
		t.Fatal(err)
	}
	b2, err := a.AnchorRoot("root-bbb")
	if err != nil {
		t.Fatal(err)
	}

	if b2.PreviousHash != b1.Hash {
		t.Errorf("b2.PreviousHash=%q, want b1.Hash=%q", b2.PreviousHash, b1.Hash)
	}
	if b2.Index != b1.Index+1 {
		t.Errorf("indexes not consecutive: %d then %d", b1.Index, b2.Index)
	}
	if err := a.Verify(); err != nil {
		t.Errorf("Verify after appends: %v", err)
	}
}

func TestVerifyRoot(t *testing.T) {
	a := newAnchor(t, hashchain.NewMemoryStore())
	if _, err := a.AnchorRoot("known-root"); err != nil {
		t.Fatal(err)
	}

	if !a.VerifyRoot("known-root") {
		t.Error("VerifyRoot(known) = false")
	}
	if a.VerifyRoot("unknown-root") {
		t.Error("VerifyRoot(unknown) = true")
	}
}

func TestTamper_detectedAtEveryBlock(t *testing.T) {
	store := hashchain.NewMemoryStore()
	a := newAnchor(t, store)
	for _, root := range []string{"r1", "r2", "r3", "r4"} {
		if _, err := a.AnchorRoot(root); err != nil {
			t.Fatal(err)
		}
	}
	// 5 blocks total including genesis.
	valid, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(valid) != 5 {
		t.Fatalf("expected 5 blocks, got %d", len(valid))
	}

	for i := range valid {
		tampered := make([]hashchain.Block, len(valid))
		copy(tampered, valid)
		tampered[i].RootHash = "forged"

		bad := hashchain.NewMemoryStore()
		if err := bad.Save(tampered); err != nil {
			t.Fatal(err)
		}
		reloaded, err := hashchain.New(bad, false, zap.NewNop())
		if err != nil {
			t.Fatalf("fail-open load should not error: %v", err)
		}
		if !reloaded.Tainted() {
			t.Errorf("tampering block %d went undetected", i)
		}
	}
}

func TestNew_strictRefusesTamperedChain(t *testing.T) {
	store := hashchain.NewMemoryStore()
	a := newAnchor(t, store)
	if _, err := a.AnchorRoot("r1"); err != nil {
		t.Fatal(err)
	}

	blocks, _ := store.Load()
	blocks[1].RootHash = "forged"
	bad := hashchain.NewMemoryStore()
	if err := bad.Save(blocks); err != nil {
		t.Fatal(err)
	}

	if _, err := hashchain.New(bad, true, zap.NewNop()); err == nil {
		t.Error("strict mode accepted a tampered chain")
	}
}

func TestFileStore_roundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.json")
	store, err := hashchain.NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	a := newAnchor(t, store)
	if _, err := a.AnchorRoot("persisted-root"); err != nil {
		t.Fatal(err)
	}

	// Reopen from disk: chain must load, verify, and still know the root.
	store2, err := hashchain.NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := hashchain.New(store2, true, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Len() != 2 {
		t.Errorf("reopened chain length: got %d, want 2", reopened.Len())
	}
	if !reopened.VerifyRoot("persisted-root") {
		t.Error("reopened chain lost the anchored root")
	}
}
