// Package resources implements L5: the concrete storage and tool-server
// backends the upper tiers read and write through — a key-value store, a
// vector store, a file store, and an MCP tool-server manager.
package resources

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aios-systems/aios/core"
)

type kvEntry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// KVStore is an in-memory map mirrored to a JSON file on disk
// (<data_path>/kv_store.json per spec §6's persisted state layout), so a
// restart picks up where the process left off.
type KVStore struct {
	mu     sync.RWMutex
	path   string
	store  map[string]kvEntry
	logger core.Logger
}

// NewKVStore builds a KVStore backed by path, loading any existing
// contents. A missing file is treated as an empty store, not an error.
func NewKVStore(path string, logger core.Logger) (*KVStore, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	s := &KVStore{
		path:   path,
		store:  make(map[string]kvEntry),
		logger: logger,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *KVStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return core.NewCoreError(core.LayerResources, core.KindResource, "kv_load_failed",
			"failed to read kv store file", true, err)
	}
	var entries map[string]kvEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return core.NewCoreError(core.LayerResources, core.KindResource, "kv_decode_failed",
			"failed to decode kv store file", false, err)
	}
	s.store = entries
	return nil
}

// persist writes the in-memory mirror to disk atomically (write to a
// temp file, then rename) so a crash mid-write never corrupts the file.
func (s *KVStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Get satisfies core.Memory. A missing or expired key returns "" and a
// nil error: a cache miss is not an error.
func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	entry, ok := s.store[key]
	s.mu.RUnlock()
	if !ok {
		return "", nil
	}
	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		s.mu.Lock()
		delete(s.store, key)
		s.mu.Unlock()
		return "", nil
	}
	return entry.Value, nil
}

// Set satisfies core.Memory. ttlSeconds <= 0 means no expiry.
func (s *KVStore) Set(ctx context.Context, key string, value string, ttlSeconds int) error {
	entry := kvEntry{Value: value}
	if ttlSeconds > 0 {
		entry.ExpiresAt = time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	}

	s.mu.Lock()
	s.store[key] = entry
	err := s.persist()
	s.mu.Unlock()

	if err != nil {
		return core.NewCoreError(core.LayerResources, core.KindResource, "kv_persist_failed",
			"failed to persist kv store", true, err)
	}
	return nil
}

// Delete satisfies core.Memory.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.store, key)
	err := s.persist()
	s.mu.Unlock()
	if err != nil {
		return core.NewCoreError(core.LayerResources, core.KindResource, "kv_persist_failed",
			"failed to persist kv store", true, err)
	}
	return nil
}

// Exists satisfies core.Memory.
func (s *KVStore) Exists(ctx context.Context, key string) (bool, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return v != "", nil
}

// ListKeys returns every live (non-expired) key with the given prefix,
// per spec §4.5's list_keys(prefix).
func (s *KVStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.store))
	for k, entry := range s.store {
		if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
			continue
		}
		if prefix == "" || len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// RetrieveOr is spec §4.5's retrieve(key, default): returns value, or
// defaultValue when the key is absent or expired.
func (s *KVStore) RetrieveOr(ctx context.Context, key, defaultValue string) (string, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if v == "" {
		return defaultValue, nil
	}
	return v, nil
}

var _ core.Memory = (*KVStore)(nil)
