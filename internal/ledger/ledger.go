// Package ledger owns the ingestion queue, the open batch, and the single
// background worker that seals batches, persists them, and dispatches their
// roots for anchoring. Submit never waits on tree construction, persistence,
// or anchoring; those all happen on the worker, behind the queue.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sealog-io/sealog/internal/anchor"
	"github.com/sealog-io/sealog/internal/hashchain"
	"github.com/sealog-io/sealog/internal/persistence"
	"github.com/sealog-io/sealog/pkg/merkle"
	"go.uber.org/zap"
)

// Ledger lifecycle states.
const (
	StateStopped  = "stopped"
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
)

// AnchorMode selects how batch commits interact with the anchor manager.
type AnchorMode string

const (
	// AnchorAsync dispatches fire-and-forget; results arrive on the manager's
	// results stream. The default: anchoring latency never backs up commits.
	AnchorAsync AnchorMode = "async"
	// AnchorSync waits for every backend inline during commit.
	AnchorSync AnchorMode = "sync"
)

// ErrNotRunning is returned by Submit outside the Running state.
var ErrNotRunning = errors.New("ledger: not running")

// Config tunes one ledger instance. Zero values fall back to defaults.
type Config struct {
	BatchSize     int           // entries per sealed batch; default 64
	FlushInterval time.Duration // idle-flush window; default 1s
	QueueCapacity int           // submit queue depth; default 1024
	AnchorMode    AnchorMode    // default AnchorAsync
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.AnchorMode == "" {
		c.AnchorMode = AnchorAsync
	}
}

type queuedRecord struct {
	hash    string
	payload []byte
	at      time.Time
}

// Ledger is the orchestrator. Producers call Submit concurrently; exactly
// one worker goroutine consumes the queue and is the only writer of batch
// state. The mutex guards entries, the open batch, sealed batches, and the
// counters read by Stats and the query methods.
type Ledger struct {
	cfg     Config
	backend persistence.Backend
	chain   *hashchain.Anchor
	manager anchor.Manager
	logger  *zap.Logger

	queue       chan queuedRecord
	stopCh      chan struct{}
	workerDone  chan struct{}
	resultsDone chan struct{}

	// producers tracks Submit calls that passed the state check but have
	// not finished their queue push yet. Stop waits for them before the
	// drain begins, so an accepted record is never left in a dead queue.
	producers sync.WaitGroup

	mu           sync.Mutex
	state        string
	startedOnce  bool
	entries      map[string]*Entry
	log          []*Entry
	open         []*Entry
	batches      []Batch
	roots        map[string]int64
	batchCounter int64

	anchorSucceeded atomic.Int64
	anchorFailed    atomic.Int64
	unanchored      atomic.Int64

	onCommit       func(Batch)
	onAnchorResult func(anchor.Result)
}

// New creates a ledger. backend, chain, and manager may each be nil: a nil
// backend keeps state in memory only, a nil manager falls back to the chain,
// and with both nil the ledger still commits, counting batches as unanchored.
func New(cfg Config, backend persistence.Backend, chain *hashchain.Anchor, manager anchor.Manager, logger *zap.Logger) *Ledger {
	cfg.applyDefaults()
	return &Ledger{
		cfg:         cfg,
		backend:     backend,
		chain:       chain,
		manager:     manager,
		logger:      logger,
		queue:       make(chan queuedRecord, cfg.QueueCapacity),
		stopCh:      make(chan struct{}),
		workerDone:  make(chan struct{}),
		resultsDone: make(chan struct{}),
		state:       StateStopped,
		entries:     make(map[string]*Entry),
		roots:       make(map[string]int64),
	}
}

// SetCommitHook registers a callback invoked after each batch commit.
// Must be called before Start.
func (l *Ledger) SetCommitHook(fn func(Batch)) { l.onCommit = fn }

// SetAnchorResultHook registers a callback invoked for each anchoring
// result. Must be called before Start.
func (l *Ledger) SetAnchorResultHook(fn func(anchor.Result)) { l.onAnchorResult = fn }

// Start restores persisted state (best effort), starts the anchor manager if
// one is configured, and launches the commit worker.
func (l *Ledger) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.startedOnce {
		l.mu.Unlock()
		return errors.New("ledger: already started")
	}
	l.startedOnce = true
	l.state = StateStarting
	l.mu.Unlock()

	if l.backend != nil {
		st, err := l.backend.Load(ctx)
		if err != nil {
			// A persistence outage must not prevent startup.
			l.logger.Warn("persistence restore failed, starting with empty state", zap.Error(err))
		} else {
			l.restore(st)
		}
	}

	if l.manager != nil {
		if err := l.manager.Start(); err != nil {
			l.logger.Error("anchor manager failed to start, falling back to hash chain", zap.Error(err))
			l.manager = nil
		}
	}
	if l.manager != nil {
		go l.consumeResults()
	} else {
		close(l.resultsDone)
	}

	go l.run()

	l.mu.Lock()
	l.state = StateRunning
	batches := l.batchCounter
	entries := len(l.entries)
	l.mu.Unlock()

	l.logger.Info("ledger started",
		zap.Int("batch_size", l.cfg.BatchSize),
		zap.Duration("flush_interval", l.cfg.FlushInterval),
		zap.String("anchor_mode", string(l.cfg.AnchorMode)),
		zap.Int64("restored_batches", batches),
		zap.Int("restored_entries", entries),
	)
	return nil
}

// Stop drains the queue into the open batch, commits it, and shuts the
// worker and anchor manager down. Idempotent; no submitted record is lost.
func (l *Ledger) Stop() error {
	l.mu.Lock()
	if l.state != StateRunning {
		l.mu.Unlock()
		return nil
	}
	l.state = StateStopping
	l.mu.Unlock()

	// Let in-flight Submit calls finish their queue pushes while the
	// worker is still consuming, then start the drain.
	l.producers.Wait()
	close(l.stopCh)
	<-l.workerDone

	if l.manager != nil {
		if err := l.manager.Stop(); err != nil {
			l.logger.Warn("anchor manager stop", zap.Error(err))
		}
	}
	<-l.resultsDone

	l.mu.Lock()
	l.state = StateStopped
	l.mu.Unlock()
	l.logger.Info("ledger stopped")
	return nil
}

// Submit canonicalizes and hashes the record, enqueues it, and returns the
// content hash. It blocks only on the queue handoff, never on tree building,
// persistence, or anchoring.
func (l *Ledger) Submit(payload any) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	hash := ContentHash(canonical)

	// The state check and the producer registration happen atomically:
	// once registered, Stop waits for this push before it drains, and the
	// worker keeps consuming until then, so the send always completes.
	l.mu.Lock()
	if l.state != StateRunning {
		l.mu.Unlock()
		return "", ErrNotRunning
	}
	l.producers.Add(1)
	l.mu.Unlock()
	defer l.producers.Done()

	l.queue <- queuedRecord{hash: hash, payload: canonical, at: time.Now().UTC()}
	return hash, nil
}

// VerifyEntry checks an inclusion proof for a previously ingested entry
// against a claimed root. Unknown content hashes verify as false.
func (l *Ledger) VerifyEntry(contentHash string, proof []merkle.ProofStep, rootHash string) bool {
	l.mu.Lock()
	e, ok := l.entries[contentHash]
	var payload []byte
	if ok {
		payload = e.Payload
	}
	l.mu.Unlock()
	if !ok {
		return false
	}
	return merkle.Verify(payload, proof, rootHash)
}

// GetEntry returns a copy of the entry with the given content hash.
func (l *Ledger) GetEntry(contentHash string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[contentHash]
	if !ok {
		return Entry{}, false
	}
	return copyEntry(e), true
}

// EntriesByBatch returns copies of all entries sealed into batch id, in
// arrival order.
func (l *Ledger) EntriesByBatch(id int64) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.log {
		if e.BatchID != nil && *e.BatchID == id {
			out = append(out, copyEntry(e))
		}
	}
	return out
}

// Batches returns a copy of all sealed batches in ID order.
func (l *Ledger) Batches() []Batch {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Batch, len(l.batches))
	copy(out, l.batches)
	return out
}

// BatchRoot returns the root hash of batch id.
func (l *Ledger) BatchRoot(id int64) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.batches {
		if l.batches[i].ID == id {
			return l.batches[i].RootHash, true
		}
	}
	return "", false
}

// HasRoot reports whether rootHash is the root of any sealed batch,
// including batches restored from persistence.
func (l *Ledger) HasRoot(rootHash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.roots[rootHash]
	return ok
}

// Stats returns the aggregate ledger view.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	st := Stats{
		State:            l.state,
		Entries:          len(l.log),
		OpenBatchSize:    len(l.open),
		BatchSize:        l.cfg.BatchSize,
		BatchesCommitted: int64(len(l.batches)),
		QueueDepth:       len(l.queue),
	}
	if n := len(l.batches); n > 0 {
		st.CurrentRoot = l.batches[n-1].RootHash
	}
	l.mu.Unlock()

	st.Anchoring = AnchorStats{
		Succeeded:  l.anchorSucceeded.Load(),
		Failed:     l.anchorFailed.Load(),
		Unanchored: l.unanchored.Load(),
	}
	if l.manager != nil {
		st.Anchoring.Pending = l.manager.Stats().Pending
	}
	return st
}

// run is the commit worker: the single consumer of the queue and the only
// writer of batch state.
func (l *Ledger) run() {
	defer close(l.workerDone)
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-l.queue:
			l.ingest(rec)
		case <-ticker.C:
			// Idle flush: seal a partial batch rather than letting it go
			// stale waiting for the size threshold.
			if len(l.queue) == 0 {
				l.commit()
			}
		case <-l.stopCh:
			for {
				select {
				case rec := <-l.queue:
					l.ingest(rec)
				default:
					l.commit()
					return
				}
			}
		}
	}
}

func (l *Ledger) ingest(rec queuedRecord) {
	l.mu.Lock()
	e := &Entry{ContentHash: rec.hash, Payload: rec.payload, IngestTime: rec.at}
	l.entries[rec.hash] = e
	l.log = append(l.log, e)
	l.open = append(l.open, e)
	var sealed *sealedBatch
	if len(l.open) >= l.cfg.BatchSize {
		sealed = l.sealLocked()
	}
	l.mu.Unlock()

	if sealed != nil {
		l.finishCommit(sealed)
	}
}

// commit seals the open batch if it is non-empty, then runs the slow half
// (persistence, anchoring) with the mutex released.
func (l *Ledger) commit() {
	l.mu.Lock()
	sealed := l.sealLocked()
	l.mu.Unlock()

	if sealed != nil {
		l.finishCommit(sealed)
	}
}

// sealedBatch carries a sealed batch out of the critical section to its
// persistence and anchoring work.
type sealedBatch struct {
	batch    Batch
	pentries []persistence.Entry
}

// sealLocked seals the open batch: builds the Merkle tree in arrival order,
// assigns the next batch ID, attaches inclusion proofs, and records the
// batch. No I/O happens here; callers must hold l.mu and only the worker
// calls this. Returns nil when the open batch is empty.
func (l *Ledger) sealLocked() *sealedBatch {
	if len(l.open) == 0 {
		return nil
	}

	blobs := make([][]byte, len(l.open))
	for i, e := range l.open {
		blobs[i] = e.Payload
	}
	tree := merkle.Build(blobs)

	id := l.batchCounter
	l.batchCounter++

	pentries := make([]persistence.Entry, len(l.open))
	for i, e := range l.open {
		bid := id
		e.BatchID = &bid
		proof, err := tree.Proof(i)
		if err == nil {
			e.InclusionProof = proof
		}
		proofJSON, _ := json.Marshal(proof)
		pentries[i] = persistence.Entry{
			ContentHash: e.ContentHash,
			Payload:     e.Payload,
			IngestTime:  e.IngestTime,
			BatchID:     id,
			Proof:       proofJSON,
		}
	}

	batch := Batch{
		ID:         id,
		RootHash:   tree.Root(),
		EntryCount: len(l.open),
		SealedAt:   time.Now().UTC(),
	}
	l.open = nil
	l.batches = append(l.batches, batch)
	l.roots[batch.RootHash] = id

	return &sealedBatch{batch: batch, pentries: pentries}
}

// finishCommit persists and anchors a sealed batch. It runs on the worker
// without holding l.mu, so a slow backend or anchor never stalls producers
// or the read surface.
func (l *Ledger) finishCommit(s *sealedBatch) {
	batch := s.batch

	if l.backend != nil {
		pbatch := persistence.Batch{
			ID:         batch.ID,
			RootHash:   batch.RootHash,
			EntryCount: batch.EntryCount,
			SealedAt:   batch.SealedAt,
		}
		if err := l.backend.SaveBatch(context.Background(), pbatch, s.pentries); err != nil {
			// In-memory state stays authoritative until the next successful
			// write; ingestion continues.
			l.logger.Error("persist batch failed",
				zap.Int64("batch", batch.ID),
				zap.Error(err),
			)
		}
	}

	l.dispatchAnchor(batch)

	l.logger.Info("batch committed",
		zap.Int64("batch", batch.ID),
		zap.Int("entries", batch.EntryCount),
		zap.String("root", batch.RootHash),
	)
	if l.onCommit != nil {
		l.onCommit(batch)
	}
}

func (l *Ledger) dispatchAnchor(batch Batch) {
	if l.manager != nil {
		req := anchor.NewRequest(batch.RootHash, batch.ID, map[string]string{
			"entry_count": strconv.Itoa(batch.EntryCount),
			"sealed_at":   batch.SealedAt.Format(time.RFC3339Nano),
		})

		if l.cfg.AnchorMode == AnchorSync {
			for _, res := range l.manager.AnchorRootSync(context.Background(), req) {
				l.recordAnchorResult(res)
			}
			return
		}
		if l.manager.AnchorRoot(req) {
			return
		}
		l.logger.Warn("anchor manager rejected request, falling back to hash chain",
			zap.Int64("batch", batch.ID))
	}

	if l.chain != nil {
		if _, err := l.chain.AnchorRoot(batch.RootHash); err != nil {
			l.anchorFailed.Add(1)
			l.logger.Error("hash chain anchoring failed",
				zap.Int64("batch", batch.ID),
				zap.Error(err),
			)
		} else {
			l.anchorSucceeded.Add(1)
		}
		return
	}

	// Anchoring loss is never fatal: the batch is committed either way.
	l.unanchored.Add(1)
	l.logger.Warn("batch committed without anchoring", zap.Int64("batch", batch.ID))
}

// consumeResults tallies fire-and-forget outcomes off the commit path.
func (l *Ledger) consumeResults() {
	defer close(l.resultsDone)
	for res := range l.manager.Results() {
		l.recordAnchorResult(res)
	}
}

func (l *Ledger) recordAnchorResult(res anchor.Result) {
	if res.Ok() {
		l.anchorSucceeded.Add(1)
	} else {
		l.anchorFailed.Add(1)
		l.logger.Warn("anchoring failed",
			zap.String("backend", res.Backend),
			zap.Int64("batch", res.BatchID),
			zap.String("error", res.Error),
		)
	}
	if l.onAnchorResult != nil {
		l.onAnchorResult(res)
	}
}

func (l *Ledger) restore(st *persistence.State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.batchCounter = st.BatchCounter
	for _, b := range st.Batches {
		l.batches = append(l.batches, Batch{
			ID:         b.ID,
			RootHash:   b.RootHash,
			EntryCount: b.EntryCount,
			SealedAt:   b.SealedAt,
		})
		l.roots[b.RootHash] = b.ID
	}
	for _, pe := range st.Entries {
		bid := pe.BatchID
		e := &Entry{
			ContentHash: pe.ContentHash,
			Payload:     pe.Payload,
			IngestTime:  pe.IngestTime,
			BatchID:     &bid,
		}
		if len(pe.Proof) > 0 {
			if err := json.Unmarshal(pe.Proof, &e.InclusionProof); err != nil {
				l.logger.Warn("discarding unreadable inclusion proof",
					zap.String("content_hash", pe.ContentHash),
					zap.Error(err),
				)
			}
		}
		l.entries[pe.ContentHash] = e
		l.log = append(l.log, e)
	}
}

func copyEntry(e *Entry) Entry {
	out := *e
	if e.BatchID != nil {
		bid := *e.BatchID
		out.BatchID = &bid
	}
	if e.InclusionProof != nil {
		out.InclusionProof = make([]merkle.ProofStep, len(e.InclusionProof))
		copy(out.InclusionProof, e.InclusionProof)
	}
	return out
}
