package canonical_test

import (
	"testing"

	"github.com/sealog-io/sealog/pkg/canonical"
)

func TestCanonicalJSON_sortsKeys(t *testing.T) {
	got, err := canonical.JSON(map[string]any{
		"zeta":  1,
		"alpha": map[string]any{"y": true, "x": nil},
		"mid":   []any{"a", 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"alpha":{"x":null,"y":true},"mid":["a",2],"zeta":1}`
	if string(got) != want {
		t.Errorf("canonical form:\n got %s\nwant %s", got, want)
	}
}

func TestCanonicalJSON_deterministicHash(t *testing.T) {
	// Two maps with the same logical content built in different orders.
	a := map[string]any{"x": 1, "y": 2, "z": 3}
	b := map[string]any{"z": 3, "y": 2, "x": 1}

	for i := 0; i < 20; i++ {
		ca, err := canonical.JSON(a)
		if err != nil {
			t.Fatal(err)
		}
		cb, err := canonical.JSON(b)
		if err != nil {
			t.Fatal(err)
		}
		if canonical.ContentHash(ca) != canonical.ContentHash(cb) {
			t.Fatalf("equal payloads hashed differently: %s vs %s", ca, cb)
		}
	}
}

func TestCanonicalJSON_preservesNumberText(t *testing.T) {
	type rec struct {
		Score float64 `json:"score"`
		Count int     `json:"count"`
	}
	got, err := canonical.JSON(rec{Score: 0.5, Count: 10})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"count":10,"score":0.5}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalJSON_structsAndMapsAgree(t *testing.T) {
	type rec struct {
		Policy  string `json:"policy"`
		Allowed bool   `json:"allowed"`
	}
	fromStruct, err := canonical.JSON(rec{Policy: "p-1", Allowed: true})
	if err != nil {
		t.Fatal(err)
	}
	fromMap, err := canonical.JSON(map[string]any{"allowed": true, "policy": "p-1"})
	if err != nil {
		t.Fatal(err)
	}
	if string(fromStruct) != string(fromMap) {
		t.Errorf("struct and map forms differ: %s vs %s", fromStruct, fromMap)
	}
}
