package merkle_test

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/sealog-io/sealog/pkg/merkle"
)

func blobs(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf(`{"record":%d}`, i))
	}
	return out
}

func TestBuild_empty(t *testing.T) {
	tree := merkle.Build(nil)
	if tree.Root() != "" {
		t.Errorf("empty tree root: got %q, want \"\"", tree.Root())
	}
	if _, err := tree.Proof(0); err == nil {
		t.Error("Proof on empty tree should fail")
	}
}

func TestBuild_singleLeaf(t *testing.T) {
	blob := []byte(`{"x":1}`)
	tree := merkle.Build([][]byte{blob})

	sum := sha256.Sum256(blob)
	want := hex.EncodeToString(sum[:])
	if tree.Root() != want {
		t.Errorf("single-leaf root: got %q, want leaf hash %q", tree.Root(), want)
	}

	proof, err := tree.Proof(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(proof) != 0 {
		t.Errorf("single-leaf proof should be empty, got %d steps", len(proof))
	}
	if !merkle.Verify(blob, proof, tree.Root()) {
		t.Error("single-leaf verify failed")
	}
}

func TestBuild_duplicateLastLeaf(t *testing.T) {
	// Three leaves: the odd third leaf pairs with itself at level 0, and the
	// resulting two-node level pairs normally. Recompute by hand.
	bs := blobs(3)
	tree := merkle.Build(bs)

	h := func(b []byte) string {
		s := sha256.Sum256(b)
		return hex.EncodeToString(s[:])
	}
	p := func(l, r string) string {
		s := sha256.Sum256([]byte(l + r))
		return hex.EncodeToString(s[:])
	}
	l0, l1, l2 := h(bs[0]), h(bs[1]), h(bs[2])
	want := p(p(l0, l1), p(l2, l2))
	if tree.Root() != want {
		t.Errorf("3-leaf root: got %q, want %q", tree.Root(), want)
	}
}

func TestProofRoundTrip_allSizes(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 7, 16} {
		bs := blobs(n)
		tree := merkle.Build(bs)
		for i := 0; i < n; i++ {
			proof, err := tree.Proof(i)
			if err != nil {
				t.Fatalf("n=%d i=%d: %v", n, i, err)
			}
			if !merkle.Verify(bs[i], proof, tree.Root()) {
				t.Errorf("n=%d i=%d: round-trip verify failed", n, i)
			}
		}
	}
}

func TestVerify_tamperedLeaf(t *testing.T) {
	bs := blobs(7)
	tree := merkle.Build(bs)

	for i := 0; i < len(bs); i++ {
		proof, err := tree.Proof(i)
		if err != nil {
			t.Fatal(err)
		}
		for pos := 0; pos < len(bs[i]); pos++ {
			tampered := append([]byte(nil), bs[i]...)
			tampered[pos] ^= 0x01
			if merkle.Verify(tampered, proof, tree.Root()) {
				t.Errorf("leaf %d byte %d: tampered payload verified", i, pos)
			}
		}
	}
}

func TestVerify_tamperedProof(t *testing.T) {
	bs := blobs(4)
	tree := merkle.Build(bs)

	proof, err := tree.Proof(2)
	if err != nil {
		t.Fatal(err)
	}
	for step := range proof {
		bad := make([]merkle.ProofStep, len(proof))
		copy(bad, proof)
		other := sha256.Sum256([]byte("not-a-sibling"))
		bad[step].Sibling = hex.EncodeToString(other[:])
		if merkle.Verify(bs[2], bad, tree.Root()) {
			t.Errorf("substituted sibling at step %d still verified", step)
		}
	}
}

func TestBuild_deterministic(t *testing.T) {
	bs := blobs(7)
	t1 := merkle.Build(bs)
	t2 := merkle.Build(bs)
	if t1.Root() != t2.Root() {
		t.Errorf("roots differ: %q vs %q", t1.Root(), t2.Root())
	}
	for i := range bs {
		p1, _ := t1.Proof(i)
		p2, _ := t2.Proof(i)
		if len(p1) != len(p2) {
			t.Fatalf("proof %d length differs", i)
		}
		for j := range p1 {
			if p1[j] != p2[j] {
				t.Errorf("proof %d step %d differs: %+v vs %+v", i, j, p1[j], p2[j])
			}
		}
	}
}

func TestAddLeaf_matchesBuild(t *testing.T) {
	bs := blobs(9)
	incremental := merkle.Build(nil)
	for i, b := range bs {
		incremental.AddLeaf(b)
		full := merkle.Build(bs[:i+1])
		if incremental.Root() != full.Root() {
			t.Errorf("after %d leaves: incremental root %q != rebuilt root %q",
				i+1, incremental.Root(), full.Root())
		}
	}
}

func TestProof_indexOutOfRange(t *testing.T) {
	tree := merkle.Build(blobs(3))
	if _, err := tree.Proof(-1); err == nil {
		t.Error("Proof(-1) should fail")
	}
	if _, err := tree.Proof(3); err == nil {
		t.Error("Proof(len) should fail")
	}
}
