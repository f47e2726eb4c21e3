package hashchain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the full ordered block list. Save replaces the stored chain
// wholesale; Load returns an empty slice when nothing has been stored yet.
type Store interface {
	Load() ([]Block, error)
	Save(blocks []Block) error
}

// FileStore keeps the chain as a single JSON file, rewritten atomically
// (write to a temp file, then rename) on every append.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path, creating parent directories as
// needed.
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create chain directory: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// Load implements Store.
func (s *FileStore) Load() ([]Block, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chain file: %w", err)
	}
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, fmt.Errorf("decode chain file: %w", err)
	}
	return blocks, nil
}

// Save implements Store.
func (s *FileStore) Save(blocks []Block) error {
	data, err := json.MarshalIndent(blocks, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chain: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write chain file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace chain file: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store for tests and ephemeral deployments.
type MemoryStore struct {
	mu     sync.Mutex
	blocks []Block
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (s *MemoryStore) Load() ([]Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Block, len(s.blocks))
	copy(out, s.blocks)
	return out, nil
}

// Save implements Store.
func (s *MemoryStore) Save(blocks []Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = make([]Block, len(blocks))
	copy(s.blocks, blocks)
	return nil
}
