package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/aios-systems/aios/core"
)

// Checkpoint is a JSON-serializable snapshot of one workflow execution,
// per §4.3.3's "checkpoints are JSON-serializable and round-trip through
// restore" rule.
type Checkpoint struct {
	ID         string              `json:"id"`
	WorkflowID string              `json:"workflow_id"`
	Sequence   int                 `json:"sequence"`
	TakenAt    time.Time           `json:"taken_at"`
	Snapshot   Snapshot            `json:"snapshot"`
	Results    map[string]StepResult `json:"results"`
}

var bboltBucket = []byte("latest_checkpoints")

// CheckpointStore persists checkpoints as one JSON file per checkpoint
// under dir, named `cp_<workflow_id>_<sequence>_<HHMMSS>.json`, plus a
// bbolt-backed index mapping workflow_id to its most recent checkpoint
// path for O(1) lookup. The index is a cache, never authoritative — every
// checkpoint is fully readable straight off disk without it.
type CheckpointStore struct {
	mu  sync.Mutex
	dir string
	db  *bbolt.DB

	sequences map[string]int
}

// NewCheckpointStore opens (creating if absent) a checkpoint store rooted
// at dir, with its bbolt index at <dir>/index.db.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.NewCoreError(core.LayerOrchestration, core.KindResource, "checkpoint_dir_failed",
			"failed to create checkpoint directory", false, err)
	}
	db, err := bbolt.Open(filepath.Join(dir, "index.db"), 0o644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, core.NewCoreError(core.LayerOrchestration, core.KindResource, "checkpoint_index_failed",
			"failed to open checkpoint index", false, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bboltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, core.NewCoreError(core.LayerOrchestration, core.KindResource, "checkpoint_index_failed",
			"failed to initialize checkpoint index bucket", false, err)
	}
	return &CheckpointStore{dir: dir, db: db, sequences: map[string]int{}}, nil
}

// Save writes a new checkpoint for workflowID and records it as the
// latest in the bbolt index.
func (s *CheckpointStore) Save(ctx context.Context, workflowID string, snap Snapshot, results map[string]StepResult) (*Checkpoint, error) {
	s.mu.Lock()
	s.sequences[workflowID]++
	seq := s.sequences[workflowID]
	s.mu.Unlock()

	now := time.Now()
	id := fmt.Sprintf("cp_%s_%d_%s", workflowID, seq, now.Format("150405"))
	cp := &Checkpoint{
		ID:         id,
		WorkflowID: workflowID,
		Sequence:   seq,
		TakenAt:    now,
		Snapshot:   snap,
		Results:    results,
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, core.NewCoreError(core.LayerOrchestration, core.KindResource, "checkpoint_encode_failed",
			"failed to encode checkpoint", false, err)
	}

	path := filepath.Join(s.dir, id+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, core.NewCoreError(core.LayerOrchestration, core.KindResource, "checkpoint_write_failed",
			"failed to write checkpoint file", true, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, core.NewCoreError(core.LayerOrchestration, core.KindResource, "checkpoint_write_failed",
			"failed to finalize checkpoint file", true, err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bboltBucket).Put([]byte(workflowID), []byte(path))
	})
	if err != nil {
		return nil, core.NewCoreError(core.LayerOrchestration, core.KindResource, "checkpoint_index_write_failed",
			"failed to update checkpoint index", true, err)
	}

	return cp, nil
}

// Latest returns the most recently saved checkpoint for workflowID, read
// from the bbolt index and then loaded straight from its JSON file.
func (s *CheckpointStore) Latest(ctx context.Context, workflowID string) (*Checkpoint, error) {
	var path string
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bboltBucket).Get([]byte(workflowID))
		if v == nil {
			return core.NewCoreError(core.LayerOrchestration, core.KindResource, "checkpoint_not_found",
				"no checkpoint recorded for workflow", false, core.ErrCheckpointNotFound)
		}
		path = string(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(path)
}

// Get loads a checkpoint by its id, independent of the index.
func (s *CheckpointStore) Get(ctx context.Context, id string) (*Checkpoint, error) {
	return s.load(filepath.Join(s.dir, id+".json"))
}

func (s *CheckpointStore) load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, core.NewCoreError(core.LayerOrchestration, core.KindResource, "checkpoint_not_found",
			"checkpoint file does not exist", false, core.ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, core.NewCoreError(core.LayerOrchestration, core.KindResource, "checkpoint_read_failed",
			"failed to read checkpoint file", true, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, core.NewCoreError(core.LayerOrchestration, core.KindResource, "checkpoint_decode_failed",
			"failed to decode checkpoint file", false, err)
	}
	return &cp, nil
}

// Close releases the bbolt index file handle.
func (s *CheckpointStore) Close() error {
	return s.db.Close()
}
