package persistence

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type batchRow struct {
	ID         int64 `gorm:"primaryKey;autoIncrement:false"`
	RootHash   string
	EntryCount int
	SealedAt   int64 // unix nanos; sqlite has no native timestamp type
}

func (batchRow) TableName() string { return "batches" }

type entryRow struct {
	Seq         int64  `gorm:"primaryKey;autoIncrement"`
	ContentHash string `gorm:"index"`
	Payload     []byte
	IngestTime  int64
	BatchID     int64 `gorm:"index"`
	Proof       []byte
}

func (entryRow) TableName() string { return "entries" }

// SQLite is a Backend over an embedded SQLite database via gorm. It is the
// default durable backend when no Postgres URL is configured.
type SQLite struct {
	db *gorm.DB
}

// NewSQLite opens (or creates) the database at path and migrates the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.AutoMigrate(&batchRow{}, &entryRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// SaveBatch implements Backend. The batch row and all entry rows are written
// in a single transaction.
func (s *SQLite) SaveBatch(ctx context.Context, batch Batch, entries []Entry) error {
	rows := make([]entryRow, len(entries))
	for i, e := range entries {
		rows[i] = entryRow{
			ContentHash: e.ContentHash,
			Payload:     e.Payload,
			IngestTime:  e.IngestTime.UnixNano(),
			BatchID:     e.BatchID,
			Proof:       e.Proof,
		}
	}
	br := batchRow{
		ID:         batch.ID,
		RootHash:   batch.RootHash,
		EntryCount: batch.EntryCount,
		SealedAt:   batch.SealedAt.UnixNano(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&br).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save batch %d: %w", batch.ID, err)
	}
	return nil
}

// Load implements Backend.
func (s *SQLite) Load(ctx context.Context) (*State, error) {
	var batchRows []batchRow
	if err := s.db.WithContext(ctx).Order("id asc").Find(&batchRows).Error; err != nil {
		return nil, fmt.Errorf("load batches: %w", err)
	}
	var entryRows []entryRow
	if err := s.db.WithContext(ctx).Order("seq asc").Find(&entryRows).Error; err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	st := &State{}
	for _, r := range batchRows {
		st.Batches = append(st.Batches, Batch{
			ID:         r.ID,
			RootHash:   r.RootHash,
			EntryCount: r.EntryCount,
			SealedAt:   unixNano(r.SealedAt),
		})
		if r.ID >= st.BatchCounter {
			st.BatchCounter = r.ID + 1
		}
	}
	for _, r := range entryRows {
		st.Entries = append(st.Entries, Entry{
			ContentHash: r.ContentHash,
			Payload:     r.Payload,
			IngestTime:  unixNano(r.IngestTime),
			BatchID:     r.BatchID,
			Proof:       r.Proof,
		})
	}
	return st, nil
}

// Close implements Backend.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
