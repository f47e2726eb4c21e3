package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sealog-io/sealog/internal/api"
	"github.com/sealog-io/sealog/internal/hashchain"
	"github.com/sealog-io/sealog/internal/ledger"
	"github.com/sealog-io/sealog/internal/persistence"
	"go.uber.org/zap"
)

func setupRouter(t *testing.T, cfg ledger.Config) (*gin.Engine, *ledger.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	chain, err := hashchain.New(hashchain.NewMemoryStore(), false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	l := ledger.New(cfg, persistence.NewMemory(), chain, nil, zap.NewNop())
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Stop() }) //nolint:errcheck

	r := gin.New()
	h := api.New(l, chain, nil, zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1, api.BearerAuth(""))
	return r, l
}

func do(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSubmitRecord_202(t *testing.T) {
	r, _ := setupRouter(t, ledger.Config{BatchSize: 10, FlushInterval: 20 * time.Millisecond})

	w := do(t, r, http.MethodPost, "/api/v1/records", `{"decision":"allow","policy":"p-1"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
	if len(resp["content_hash"]) != 64 {
		t.Errorf("content_hash not a sha256 hex digest: %q", resp["content_hash"])
	}
}

func TestSubmitRecord_rejectsBadBody(t *testing.T) {
	r, _ := setupRouter(t, ledger.Config{BatchSize: 10, FlushInterval: 20 * time.Millisecond})

	if w := do(t, r, http.MethodPost, "/api/v1/records", "not json"); w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: expected 400, got %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/v1/records", "null"); w.Code != http.StatusBadRequest {
		t.Errorf("null body: expected 400, got %d", w.Code)
	}
}

func TestStats_reflectsCommits(t *testing.T) {
	r, l := setupRouter(t, ledger.Config{BatchSize: 2, FlushInterval: 20 * time.Millisecond})

	do(t, r, http.MethodPost, "/api/v1/records", `{"x":1}`)
	do(t, r, http.MethodPost, "/api/v1/records", `{"x":2}`)
	waitFor(t, 2*time.Second, func() bool { return l.Stats().BatchesCommitted == 1 })

	w := do(t, r, http.MethodGet, "/api/v1/ledger/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats ledger.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.BatchesCommitted != 1 || stats.Entries != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.CurrentRoot == "" {
		t.Error("current root missing after commit")
	}
}

func TestVerifyProof_roundTrip(t *testing.T) {
	r, l := setupRouter(t, ledger.Config{BatchSize: 3, FlushInterval: 20 * time.Millisecond})

	var hashes []string
	for _, body := range []string{`{"x":1}`, `{"x":2}`, `{"x":3}`} {
		w := do(t, r, http.MethodPost, "/api/v1/records", body)
		var resp map[string]string
		json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
		hashes = append(hashes, resp["content_hash"])
	}
	waitFor(t, 2*time.Second, func() bool { return l.Stats().BatchesCommitted == 1 })
	root, _ := l.BatchRoot(0)

	for _, h := range hashes {
		entry, ok := l.GetEntry(h)
		if !ok {
			t.Fatalf("entry %s missing", h)
		}
		reqBody, _ := json.Marshal(map[string]any{
			"content_hash": h,
			"proof":        entry.InclusionProof,
			"root_hash":    root,
		})
		w := do(t, r, http.MethodPost, "/api/v1/ledger/verify", string(reqBody))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var resp map[string]any
		json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
		if resp["valid"] != true {
			t.Errorf("entry %s: expected valid=true", h)
		}
	}

	// Unknown hash: valid=false, not an error.
	reqBody, _ := json.Marshal(map[string]any{
		"content_hash": strings.Repeat("ab", 32),
		"root_hash":    root,
	})
	w := do(t, r, http.MethodPost, "/api/v1/ledger/verify", string(reqBody))
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
	if resp["valid"] != false {
		t.Errorf("unknown hash: expected valid=false, got %v", resp["valid"])
	}
}

func TestGetBatch_andNotFound(t *testing.T) {
	r, l := setupRouter(t, ledger.Config{BatchSize: 2, FlushInterval: 20 * time.Millisecond})

	do(t, r, http.MethodPost, "/api/v1/records", `{"x":1}`)
	do(t, r, http.MethodPost, "/api/v1/records", `{"x":2}`)
	waitFor(t, 2*time.Second, func() bool { return l.Stats().BatchesCommitted == 1 })

	w := do(t, r, http.MethodGet, "/api/v1/ledger/batches/0", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		RootHash string         `json:"root_hash"`
		Entries  []ledger.Entry `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Entries) != 2 || resp.RootHash == "" {
		t.Errorf("unexpected batch payload: %s", w.Body.String())
	}

	if w := do(t, r, http.MethodGet, "/api/v1/ledger/batches/99", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing batch: expected 404, got %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/v1/ledger/batches/-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("negative id: expected 400, got %d", w.Code)
	}
}

func TestChainVerify_valid(t *testing.T) {
	r, _ := setupRouter(t, ledger.Config{BatchSize: 10, FlushInterval: 20 * time.Millisecond})

	w := do(t, r, http.MethodGet, "/api/v1/chain/verify", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %v", resp["valid"])
	}
}

func TestBearerAuth_blocksWithoutToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := ledger.New(ledger.Config{BatchSize: 10}, persistence.NewMemory(), nil, nil, zap.NewNop())
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Stop() }) //nolint:errcheck

	r := gin.New()
	h := api.New(l, nil, nil, zap.NewNop())
	h.Register(r.Group("/api/v1"), api.BearerAuth("test-secret"))

	w := do(t, r, http.MethodPost, "/api/v1/records", `{"x":1}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	// Reads stay open.
	if w := do(t, r, http.MethodGet, "/api/v1/ledger/stats", ""); w.Code != http.StatusOK {
		t.Errorf("stats should not require auth, got %d", w.Code)
	}
}
