package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Postgres is a Backend over a PostgreSQL connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a Postgres backend and ensures its schema exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (*Postgres, error) {
	p := &Postgres{pool: pool, logger: logger}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ledger_batches (
	id          BIGINT PRIMARY KEY,
	root_hash   TEXT NOT NULL,
	entry_count INTEGER NOT NULL,
	sealed_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_entries (
	seq          BIGSERIAL PRIMARY KEY,
	content_hash TEXT NOT NULL,
	payload      BYTEA NOT NULL,
	ingest_time  TIMESTAMPTZ NOT NULL,
	batch_id     BIGINT NOT NULL REFERENCES ledger_batches(id),
	proof        BYTEA
);
CREATE INDEX IF NOT EXISTS ledger_entries_content_hash ON ledger_entries(content_hash);
CREATE INDEX IF NOT EXISTS ledger_entries_batch_id ON ledger_entries(batch_id);`
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// SaveBatch implements Backend. The batch row and all entry rows are written
// in a single transaction so readers never see a partial batch.
func (p *Postgres) SaveBatch(ctx context.Context, batch Batch, entries []Entry) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_batches (id, root_hash, entry_count, sealed_at)
		 VALUES ($1, $2, $3, $4)`,
		batch.ID, batch.RootHash, batch.EntryCount, batch.SealedAt,
	); err != nil {
		return fmt.Errorf("insert batch %d: %w", batch.ID, err)
	}

	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.ContentHash, e.Payload, e.IngestTime, e.BatchID, e.Proof}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"ledger_entries"},
		[]string{"content_hash", "payload", "ingest_time", "batch_id", "proof"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("copy entries for batch %d: %w", batch.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch %d: %w", batch.ID, err)
	}
	return nil
}

// Load implements Backend.
func (p *Postgres) Load(ctx context.Context) (*State, error) {
	st := &State{}

	rows, err := p.pool.Query(ctx,
		`SELECT id, root_hash, entry_count, sealed_at FROM ledger_batches ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.RootHash, &b.EntryCount, &b.SealedAt); err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		st.Batches = append(st.Batches, b)
		if b.ID >= st.BatchCounter {
			st.BatchCounter = b.ID + 1
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	erows, err := p.pool.Query(ctx,
		`SELECT content_hash, payload, ingest_time, batch_id, proof
		 FROM ledger_entries ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer erows.Close()
	for erows.Next() {
		var e Entry
		if err := erows.Scan(&e.ContentHash, &e.Payload, &e.IngestTime, &e.BatchID, &e.Proof); err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		st.Entries = append(st.Entries, e)
	}
	if err := erows.Err(); err != nil {
		return nil, err
	}

	return st, nil
}

// Close implements Backend.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
