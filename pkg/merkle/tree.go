// Package merkle implements the binary hash tree used to seal ledger batches.
//
// Leaves are SHA-256 digests of the raw entry payloads, hex-encoded. Parents
// are computed over the concatenation of the two hex-encoded child digests
// (not the decoded bytes). When a level holds an odd number of nodes the last
// node is paired with itself; this duplicate-last-leaf rule changes the root
// and must be matched by anything verifying proofs against it.
//
// A Tree holds no I/O and no shared state beyond its own slices. Instances
// are not safe for concurrent mutation; the ledger worker is the only writer.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrEmptyTree is returned when a proof is requested from a tree with no leaves.
var ErrEmptyTree = errors.New("merkle: tree has no leaves")

// ProofStep is one level of an inclusion proof. Sibling is the hex digest of
// the node paired with the proven node at this level; Left reports whether the
// proven node is the left child of the pair.
type ProofStep struct {
	Sibling string `json:"sibling"`
	Left    bool   `json:"left"`
}

// Tree is a Merkle tree over an ordered list of byte blobs.
type Tree struct {
	leaves []string
	levels [][]string
}

// Build constructs a tree over blobs in input order. An empty input yields an
// empty tree whose Root is "".
func Build(blobs [][]byte) *Tree {
	t := &Tree{}
	if len(blobs) == 0 {
		return t
	}
	t.leaves = make([]string, len(blobs))
	for i, b := range blobs {
		t.leaves[i] = LeafHash(b)
	}
	t.levels = buildLevels(t.leaves)
	return t
}

// AddLeaf appends one blob to the tree and recomputes the affected levels.
// The resulting root is identical to rebuilding from scratch over the same
// ordered blobs.
func (t *Tree) AddLeaf(blob []byte) {
	t.leaves = append(t.leaves, LeafHash(blob))
	t.levels = buildLevels(t.leaves)
}

// Root returns the root digest, or "" for an empty tree.
func (t *Tree) Root() string {
	if t == nil || len(t.levels) == 0 {
		return ""
	}
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.leaves)
}

// Leaves returns a copy of the ordered leaf digests.
func (t *Tree) Leaves() []string {
	out := make([]string, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// Proof returns the inclusion proof for the leaf at index. The proof walks
// from the leaf level to the level below the root; a single-leaf tree yields
// an empty proof.
func (t *Tree) Proof(index int) ([]ProofStep, error) {
	if t == nil || len(t.levels) == 0 {
		return nil, ErrEmptyTree
	}
	if index < 0 || index >= len(t.leaves) {
		return nil, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", index, len(t.leaves))
	}

	steps := make([]ProofStep, 0, len(t.levels)-1)
	for lvl := 0; lvl < len(t.levels)-1; lvl++ {
		nodes := t.levels[lvl]
		sib := index ^ 1
		if sib >= len(nodes) {
			// Odd tail: the node was paired with itself.
			sib = index
		}
		steps = append(steps, ProofStep{
			Sibling: nodes[sib],
			Left:    index%2 == 0,
		})
		index /= 2
	}
	return steps, nil
}

// Verify recomputes the root from blob and proof and compares it to rootHash.
func Verify(blob []byte, proof []ProofStep, rootHash string) bool {
	current := LeafHash(blob)
	for _, step := range proof {
		if step.Left {
			current = parentHash(current, step.Sibling)
		} else {
			current = parentHash(step.Sibling, current)
		}
	}
	return current == rootHash
}

// LeafHash returns the hex-encoded SHA-256 digest of blob.
func LeafHash(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

func parentHash(left, right string) string {
	sum := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}

func buildLevels(leaves []string) [][]string {
	levels := [][]string{leaves}
	current := leaves
	for len(current) > 1 {
		next := make([]string, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			left := current[i]
			right := left
			if i+1 < len(current) {
				right = current[i+1]
			}
			next = append(next, parentHash(left, right))
		}
		levels = append(levels, next)
		current = next
	}
	return levels
}
