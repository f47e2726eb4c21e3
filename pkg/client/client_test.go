package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sealog-io/sealog/pkg/canonical"
	"github.com/sealog-io/sealog/pkg/merkle"
)

func singleLeafRoot(t *testing.T, r json.RawMessage) string {
	t.Helper()
	blob, err := canonical.JSON(r)
	if err != nil {
		t.Fatal(err)
	}
	return merkle.LeafHash(blob)
}

func TestSubmit(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/records" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"content_hash": "abc123"}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, WithBearerToken("tok"))
	res, err := c.Submit(context.Background(), json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.ContentHash != "abc123" {
		t.Errorf("unexpected hash: %q", res.ContentHash)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("bearer token not sent: %q", gotAuth)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "entry not found"}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Entry(context.Background(), "deadbeef")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "entry not found" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestVerifyEntryOffline(t *testing.T) {
	// A single-leaf tree: the root is the leaf hash and the proof is empty.
	record := json.RawMessage(`{"b":2,"a":1}`)

	// Equivalent record with different key order and whitespace.
	same := json.RawMessage(`{ "a": 1, "b": 2 }`)

	root := singleLeafRoot(t, record)
	ok, err := VerifyEntryOffline(same, nil, root)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("canonically equal record should verify against the same root")
	}

	ok, err = VerifyEntryOffline(json.RawMessage(`{"a":2}`), nil, root)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("different record must not verify")
	}
}

func TestVerifyChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chain/verify" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"valid": true, "length": 4}) //nolint:errcheck
	}))
	defer srv.Close()

	status, err := New(srv.URL).VerifyChain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !status.Valid || status.Length != 4 {
		t.Errorf("unexpected status: %+v", status)
	}
}
