// Package hashchain implements the local trust anchor: an append-only chain
// of blocks, each committing to a Merkle root and to the previous block's
// hash. It gives sealed batches a tamper-evident home even when no external
// attestation backend is configured.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// GenesisRoot is the sentinel root hash carried by the genesis block.
const GenesisRoot = "genesis"

// zeroHash is the previous-hash value of the genesis block: 64 hex zeros.
var zeroHash = strings.Repeat("0", 64)

// Block is one link in the chain. Hash commits to every other field, and
// PreviousHash links it to its predecessor.
type Block struct {
	Index        int       `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	RootHash     string    `json:"root_hash"`
	PreviousHash string    `json:"previous_hash"`
	Hash         string    `json:"hash"`
}

// hashBlock computes a block's self hash over a pinned field ordering:
// index, timestamp, root hash, previous hash. Changing the order or the
// timestamp encoding changes every downstream hash.
func hashBlock(b *Block) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s",
		b.Index, b.Timestamp.UTC().Format(time.RFC3339Nano),
		b.RootHash, b.PreviousHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// Anchor is the chain plus its backing store. All mutation is serialised by
// an internal mutex; AnchorRoot persists the whole chain before returning.
type Anchor struct {
	mu      sync.RWMutex
	blocks  []Block
	store   Store
	logger  *zap.Logger
	tainted bool
}

// New loads the chain from store, verifying every block. A missing or empty
// store yields a fresh chain with a genesis block, persisted immediately.
//
// When the loaded chain fails verification: with strict=false the condition
// is logged at error level, Tainted() reports true, and the anchor keeps
// accepting roots; with strict=true New refuses to construct the anchor.
func New(store Store, strict bool, logger *zap.Logger) (*Anchor, error) {
	a := &Anchor{store: store, logger: logger}

	blocks, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load hash chain: %w", err)
	}

	if len(blocks) == 0 {
		genesis := Block{
			Index:        0,
			Timestamp:    time.Now().UTC(),
			RootHash:     GenesisRoot,
			PreviousHash: zeroHash,
		}
		genesis.Hash = hashBlock(&genesis)
		a.blocks = []Block{genesis}
		if err := store.Save(a.blocks); err != nil {
			return nil, fmt.Errorf("persist genesis block: %w", err)
		}
		logger.Info("hash chain initialised", zap.String("genesis_hash", genesis.Hash))
		return a, nil
	}

	a.blocks = blocks
	if err := verifyBlocks(blocks); err != nil {
		if strict {
			return nil, fmt.Errorf("hash chain integrity check failed: %w", err)
		}
		a.tainted = true
		logger.Error("hash chain integrity check FAILED, continuing in fail-open mode",
			zap.Error(err),
			zap.Int("blocks", len(blocks)),
		)
	} else {
		logger.Info("hash chain verified",
			zap.Int("blocks", len(blocks)),
			zap.String("tip", blocks[len(blocks)-1].Hash),
		)
	}
	return a, nil
}

// AnchorRoot appends a block committing to rootHash and persists the chain
// synchronously before returning the new block.
func (a *Anchor) AnchorRoot(rootHash string) (*Block, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.blocks[len(a.blocks)-1]
	block := Block{
		Index:        prev.Index + 1,
		Timestamp:    time.Now().UTC(),
		RootHash:     rootHash,
		PreviousHash: prev.Hash,
	}
	block.Hash = hashBlock(&block)

	a.blocks = append(a.blocks, block)
	if err := a.store.Save(a.blocks); err != nil {
		// Roll back the in-memory append so the store and memory stay aligned.
		a.blocks = a.blocks[:len(a.blocks)-1]
		return nil, fmt.Errorf("persist hash chain: %w", err)
	}
	return &block, nil
}

// VerifyRoot reports whether some block in the chain carries rootHash.
func (a *Anchor) VerifyRoot(rootHash string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := range a.blocks {
		if a.blocks[i].RootHash == rootHash {
			return true
		}
	}
	return false
}

// Verify re-checks the full chain: previous-hash linkage plus hash
// recomputation for every block.
func (a *Anchor) Verify() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return verifyBlocks(a.blocks)
}

// Blocks returns a copy of the chain.
func (a *Anchor) Blocks() []Block {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Block, len(a.blocks))
	copy(out, a.blocks)
	return out
}

// Len returns the number of blocks, including genesis.
func (a *Anchor) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.blocks)
}

// Tip returns the hash of the most recent block.
func (a *Anchor) Tip() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.blocks[len(a.blocks)-1].Hash
}

// Tainted reports whether the chain failed verification at load time.
func (a *Anchor) Tainted() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tainted
}

func verifyBlocks(blocks []Block) error {
	for i := range blocks {
		curr := &blocks[i]
		if curr.Index != i {
			return fmt.Errorf("block %d carries index %d", i, curr.Index)
		}
		if i == 0 {
			if curr.PreviousHash != zeroHash {
				return fmt.Errorf("genesis block has wrong previous hash %q", curr.PreviousHash)
			}
		} else if curr.PreviousHash != blocks[i-1].Hash {
			return fmt.Errorf("chain broken at index %d: previous hash mismatch", i)
		}
		if curr.Hash != hashBlock(curr) {
			return fmt.Errorf("block %d has invalid hash", i)
		}
	}
	return nil
}
