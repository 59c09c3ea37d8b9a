// Package history persists a record of each scan run under the project's
// target directory.
package history

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// FileName is the history database file under the target dir.
const FileName = "balscan-history.db"

// Bucket names in bbolt
var (
	bucketRuns = []byte("runs")
	bucketMeta = []byte("meta")

	keyLastSuccess = []byte("last_success")
)

// ErrNotFound is returned when no matching run exists.
var ErrNotFound = errors.New("run not found")

// Run status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Run is one recorded scan invocation.
type Run struct {
	ID        uint64         `msgpack:"id"`
	Project   string         `msgpack:"project"`
	StartedAt time.Time      `msgpack:"started_at"`
	Duration  time.Duration  `msgpack:"duration"`
	Status    string         `msgpack:"status"`
	Stage     string         `msgpack:"stage,omitempty"`
	Error     string         `msgpack:"error,omitempty"`
	Rules     int            `msgpack:"rules"`
	Issues    int            `msgpack:"issues"`
	ByKind    map[string]int `msgpack:"by_kind,omitempty"`

	// Fingerprints identify each issue for comparison with later runs.
	Fingerprints []string `msgpack:"fingerprints,omitempty"`
}

// Store is a bbolt-backed run log.
type Store struct {
	mu sync.Mutex
	db *bbolt.DB
}

// Open opens or creates the history database in dir, creating dir too.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := bbolt.Open(filepath.Join(dir, FileName), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends run and returns it with its assigned ID.
func (s *Store) Record(ctx context.Context, run Run) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRuns)
		id, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		run.ID = id

		value, err := msgpack.Marshal(&run)
		if err != nil {
			return fmt.Errorf("encode run: %w", err)
		}
		if err := bucket.Put(runKey(id), value); err != nil {
			return err
		}

		if run.Status == StatusSuccess {
			return tx.Bucket(bucketMeta).Put(lastSuccessKey(run.Project), runKey(id))
		}
		return nil
	})
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

// Get returns a run by ID.
func (s *Store) Get(id uint64) (Run, error) {
	var run Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getRun(tx, runKey(id), &run)
	})
	return run, err
}

// LastSuccess returns the latest successful run of project.
func (s *Store) LastSuccess(project string) (Run, error) {
	var run Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(bucketMeta).Get(lastSuccessKey(project))
		if key == nil {
			return ErrNotFound
		}
		return getRun(tx, key, &run)
	})
	return run, err
}

// List returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (s *Store) List(limit int) ([]Run, error) {
	var runs []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) == limit {
				break
			}
			var run Run
			if err := msgpack.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("decode run %d: %w", binary.BigEndian.Uint64(k), err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func getRun(tx *bbolt.Tx, key []byte, run *Run) error {
	v := tx.Bucket(bucketRuns).Get(key)
	if v == nil {
		return ErrNotFound
	}
	if err := msgpack.Unmarshal(v, run); err != nil {
		return fmt.Errorf("decode run: %w", err)
	}
	return nil
}

func runKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func lastSuccessKey(project string) []byte {
	return append(append([]byte{}, keyLastSuccess...), ":"+project...)
}
