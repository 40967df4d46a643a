// Package statestore implements spec §4.6's crosscutting state store: a
// single, file-backed, mutex-protected JSON document plus a directory of
// named checkpoints of it, letting L3 snapshot coarse process state
// before a risky operation and roll back to it afterward. Disjoint from
// the per-workflow DAG checkpoints in pipeline/orchestration: this store
// holds one flat document describing process-wide state, not a DAG's
// per-node execution history.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aios-systems/aios/core"
)

// Checkpoint is one saved snapshot of the store's document: the document
// contents at the moment Checkpoint was called, with enough metadata to
// list and pick among checkpoints without reading each one.
type Checkpoint struct {
	ID       string                 `json:"id"`
	TakenAt  time.Time              `json:"taken_at"`
	Document map[string]interface{} `json:"document"`
}

// Store is a single mutex-guarded JSON document persisted to disk
// (loaded on construct, written via atomic rename), with named
// checkpoints of it saved alongside in a side directory.
type Store struct {
	mu          sync.Mutex
	path        string
	checkpointDir string
	document    map[string]interface{}
	logger      core.Logger
}

// New opens (or creates) a state store whose document lives at path and
// whose checkpoints are written under <dir of path>/checkpoints, per
// spec §6's `<state_path>/checkpoint_<id>.json` layout.
func New(path string, logger core.Logger) (*Store, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	s := &Store{
		path:          path,
		checkpointDir: filepath.Join(filepath.Dir(path), "checkpoints"),
		document:      map[string]interface{}{},
		logger:        logger,
	}
	if err := os.MkdirAll(s.checkpointDir, 0o755); err != nil {
		return nil, core.NewCoreError(core.LayerOrchestration, core.KindResource, "statestore_dir_failed",
			"failed to create state store checkpoint directory", false, err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return core.NewCoreError(core.LayerOrchestration, core.KindResource, "statestore_load_failed",
			"failed to read state store document", true, err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return core.NewCoreError(core.LayerOrchestration, core.KindResource, "statestore_decode_failed",
			"failed to decode state store document", false, err)
	}
	s.document = doc
	return nil
}

// persist atomically writes the in-memory document to path: write to a
// temp file in the same directory, then rename over the target, so a
// crash mid-write never leaves a half-written document on disk.
func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.document, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Get reads one field of the document.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.document[key]
	return v, ok
}

// Set writes one field of the document and persists it to disk.
func (s *Store) Set(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.document[key] = value
	return s.persist()
}

// Document returns a shallow copy of the whole document, safe for a
// caller to read without racing a concurrent Set.
func (s *Store) Document() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]interface{}, len(s.document))
	for k, v := range s.document {
		cp[k] = v
	}
	return cp
}

// Checkpoint snapshots the current document under id, overwriting any
// existing checkpoint of the same id. Per spec §4.6, this is the
// primitive L3 calls before a risky operation so Rollback has something
// to restore to.
func (s *Store) Checkpoint(id string) (Checkpoint, error) {
	s.mu.Lock()
	doc := make(map[string]interface{}, len(s.document))
	for k, v := range s.document {
		doc[k] = v
	}
	s.mu.Unlock()

	cp := Checkpoint{ID: id, TakenAt: time.Now(), Document: doc}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return Checkpoint{}, err
	}
	checkpointPath := s.checkpointPath(id)
	tmp := checkpointPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Checkpoint{}, core.NewCoreError(core.LayerOrchestration, core.KindResource, "statestore_checkpoint_write_failed",
			"failed to write state store checkpoint", true, err)
	}
	if err := os.Rename(tmp, checkpointPath); err != nil {
		return Checkpoint{}, core.NewCoreError(core.LayerOrchestration, core.KindResource, "statestore_checkpoint_rename_failed",
			"failed to finalize state store checkpoint", true, err)
	}
	return cp, nil
}

// Rollback restores the document to the contents of checkpoint id,
// persisting the restored document as the store's current state.
func (s *Store) Rollback(id string) error {
	data, err := os.ReadFile(s.checkpointPath(id))
	if os.IsNotExist(err) {
		return core.NewCoreError(core.LayerOrchestration, core.KindResource, "statestore_checkpoint_not_found",
			fmt.Sprintf("checkpoint %q not found", id), false, core.ErrCheckpointNotFound).WithDetail("checkpoint_id", id)
	}
	if err != nil {
		return core.NewCoreError(core.LayerOrchestration, core.KindResource, "statestore_checkpoint_read_failed",
			"failed to read state store checkpoint", true, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return core.NewCoreError(core.LayerOrchestration, core.KindResource, "statestore_checkpoint_decode_failed",
			"failed to decode state store checkpoint", false, err)
	}

	s.mu.Lock()
	s.document = cp.Document
	if s.document == nil {
		s.document = map[string]interface{}{}
	}
	err = s.persist()
	s.mu.Unlock()
	return err
}

// ListCheckpoints returns every checkpoint id saved for this store,
// newest first by each checkpoint's own recorded TakenAt, not file
// modification time (which some filesystems only track at one-second
// resolution, too coarse to order checkpoints taken in quick succession).
func (s *Store) ListCheckpoints() ([]string, error) {
	entries, err := os.ReadDir(s.checkpointDir)
	if err != nil {
		return nil, core.NewCoreError(core.LayerOrchestration, core.KindResource, "statestore_list_failed",
			"failed to list state store checkpoints", true, err)
	}

	type idWithTime struct {
		id      string
		takenAt time.Time
	}
	var ids []idWithTime
	const prefix, suffix = "checkpoint_", ".json"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) <= len(prefix)+len(suffix) || name[:len(prefix)] != prefix || name[len(name)-len(suffix):] != suffix {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.checkpointDir, name))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		ids = append(ids, idWithTime{id: name[len(prefix) : len(name)-len(suffix)], takenAt: cp.TakenAt})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].takenAt.After(ids[j].takenAt) })

	out := make([]string, 0, len(ids))
	for _, v := range ids {
		out = append(out, v.id)
	}
	return out, nil
}

func (s *Store) checkpointPath(id string) string {
	return filepath.Join(s.checkpointDir, "checkpoint_"+id+".json")
}
