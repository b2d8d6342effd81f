package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketUniverses = []byte("universes")
	bucketTasks     = []byte("tasks")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "fleet.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketUniverses, bucketTasks} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(b *bolt.Bucket, id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

func getUniverse(tx *bolt.Tx, id string) (*types.Universe, error) {
	data := tx.Bucket(bucketUniverses).Get([]byte(id))
	if data == nil {
		return nil, apierr.NotFoundf("universe not found: %s", id)
	}
	var universe types.Universe
	if err := json.Unmarshal(data, &universe); err != nil {
		return nil, err
	}
	return &universe, nil
}

func getTask(tx *bolt.Tx, id string) (*types.TaskInfo, error) {
	data := tx.Bucket(bucketTasks).Get([]byte(id))
	if data == nil {
		return nil, apierr.NotFoundf("task not found: %s", id)
	}
	var task types.TaskInfo
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Universe operations
func (s *BoltStore) CreateUniverse(universe *types.Universe) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketUniverses), universe.UUID, universe)
	})
}

// ImportUniverse checks and writes in one transaction, so two imports of
// the same UUID never overwrite each other
func (s *BoltStore) ImportUniverse(universe *types.Universe) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUniverses)
		if b.Get([]byte(universe.UUID)) != nil {
			return apierr.Conflictf("universe %s already exists", universe.UUID)
		}
		return put(b, universe.UUID, universe)
	})
}

func (s *BoltStore) GetUniverse(id string) (*types.Universe, error) {
	var universe *types.Universe
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		universe, err = getUniverse(tx, id)
		return err
	})
	return universe, err
}

func (s *BoltStore) ListUniverses() ([]*types.Universe, error) {
	var universes []*types.Universe
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUniverses)
		return b.ForEach(func(k, v []byte) error {
			var universe types.Universe
			if err := json.Unmarshal(v, &universe); err != nil {
				return err
			}
			universes = append(universes, &universe)
			return nil
		})
	})
	return universes, err
}

func (s *BoltStore) UpdateUniverse(universe *types.Universe) error {
	return s.CreateUniverse(universe) // Same as create (upsert)
}

func (s *BoltStore) DeleteUniverse(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUniverses).Delete([]byte(id))
	})
}

// AcquireUniverseLock marks the universe as updated by taskID.
// A lock already held by the same task is re-acquired, which is what a resumed task does.
func (s *BoltStore) AcquireUniverseLock(universeID, taskID string, override bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		universe, err := getUniverse(tx, universeID)
		if err != nil {
			return err
		}

		if universe.UpdateInProgress && universe.UpdatingTaskUUID != taskID {
			if !override {
				return apierr.Conflictf("universe %s is already being updated by task %s",
					universeID, universe.UpdatingTaskUUID)
			}
			// A lock held by a task that is still running is never overridden
			owner, err := getTask(tx, universe.UpdatingTaskUUID)
			if err == nil && owner.State == types.TaskStateRunning {
				return apierr.Conflictf("universe %s has a mutation in progress by task %s",
					universeID, owner.UUID)
			}
		}

		universe.UpdateInProgress = true
		universe.UpdatingTaskUUID = taskID
		universe.UpdateSucceeded = false
		universe.Version++
		universe.UpdatedAt = time.Now()
		return put(tx.Bucket(bucketUniverses), universe.UUID, universe)
	})
}

// ReleaseUniverseLock clears the lock and records whether the update succeeded
func (s *BoltStore) ReleaseUniverseLock(universeID, taskID string, succeeded bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		universe, err := getUniverse(tx, universeID)
		if err != nil {
			return err
		}
		if !universe.UpdateInProgress || universe.UpdatingTaskUUID != taskID {
			return apierr.IllegalStatef("task %s does not hold the lock of universe %s (holder %q)",
				taskID, universeID, universe.UpdatingTaskUUID)
		}

		universe.UpdateInProgress = false
		universe.UpdatingTaskUUID = ""
		universe.UpdateSucceeded = succeeded
		universe.Version++
		universe.UpdatedAt = time.Now()
		return put(tx.Bucket(bucketUniverses), universe.UUID, universe)
	})
}

// UpdateUniverseLocked writes the universe if taskID still holds its lock.
// The lock fields themselves are always taken from the stored record.
func (s *BoltStore) UpdateUniverseLocked(universe *types.Universe, taskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		stored, err := getUniverse(tx, universe.UUID)
		if err != nil {
			return err
		}
		if !stored.UpdateInProgress || stored.UpdatingTaskUUID != taskID {
			return apierr.IllegalStatef("task %s does not hold the lock of universe %s",
				taskID, universe.UUID)
		}

		updated := *universe
		updated.UpdateInProgress = stored.UpdateInProgress
		updated.UpdatingTaskUUID = stored.UpdatingTaskUUID
		updated.UpdateSucceeded = stored.UpdateSucceeded
		updated.Version = stored.Version + 1
		updated.UpdatedAt = time.Now()
		return put(tx.Bucket(bucketUniverses), updated.UUID, &updated)
	})
}

// Task operations
func (s *BoltStore) CreateTask(task *types.TaskInfo) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketTasks), task.UUID, task)
	})
}

func (s *BoltStore) GetTask(id string) (*types.TaskInfo, error) {
	var task *types.TaskInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		task, err = getTask(tx, id)
		return err
	})
	return task, err
}

func (s *BoltStore) ListTasks() ([]*types.TaskInfo, error) {
	var tasks []*types.TaskInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
			var task types.TaskInfo
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) ListTasksByUniverse(universeID string) ([]*types.TaskInfo, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}

	var filtered []*types.TaskInfo
	for _, task := range tasks {
		if task.UniverseUUID == universeID {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateTask(task *types.TaskInfo) error {
	return s.CreateTask(task)
}

// SaveTaskProgress records the index of the last completed subtask group
func (s *BoltStore) SaveTaskProgress(taskID string, lastCompletedGroup int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		task, err := getTask(tx, taskID)
		if err != nil {
			return err
		}
		task.LastCompletedGroup = lastCompletedGroup
		task.UpdatedAt = time.Now()
		return put(tx.Bucket(bucketTasks), task.UUID, task)
	})
}

func (s *BoltStore) DeleteTask(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	})
}
