package anchor

import (
	"context"

	"github.com/sealog-io/sealog/internal/hashchain"
)

// ChainBackend anchors roots to the local hash chain. Appends are fast and
// local, so this backend confirms immediately; the receipt is the hash of
// the appended block.
type ChainBackend struct {
	chain *hashchain.Anchor
}

// NewChainBackend wraps an existing hash-chain anchor.
func NewChainBackend(chain *hashchain.Anchor) *ChainBackend {
	return &ChainBackend{chain: chain}
}

// Name implements Backend.
func (b *ChainBackend) Name() string { return "hashchain" }

// Anchor implements Backend. Re-anchoring a root already in the chain
// appends nothing and confirms against the existing block.
func (b *ChainBackend) Anchor(_ context.Context, req Request) (Result, error) {
	if b.chain.VerifyRoot(req.RootHash) {
		return Result{Backend: b.Name(), Status: StatusConfirmed, Receipt: b.chain.Tip()}, nil
	}
	block, err := b.chain.AnchorRoot(req.RootHash)
	if err != nil {
		return Result{}, err
	}
	return Result{Backend: b.Name(), Status: StatusConfirmed, Receipt: block.Hash}, nil
}

// HealthCheck implements Backend by re-verifying the full chain.
func (b *ChainBackend) HealthCheck(_ context.Context) error {
	return b.chain.Verify()
}
