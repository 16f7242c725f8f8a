// Package history keeps a summary of past runs in a bbolt file.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wesleyorama2/invload/internal/config"
	"github.com/wesleyorama2/invload/internal/loadtest/engine"
	"github.com/wesleyorama2/invload/internal/loadtest/threshold"
)

const (
	bucketRuns = "runs"
	bucketIDs  = "run_ids"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Record is the stored summary of one run.
type Record struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	StartTime   time.Time     `json:"startTime"`
	Duration    time.Duration `json:"duration"`
	BaseURL     string        `json:"baseUrl"`
	StoreID     string        `json:"storeId"`
	Scenarios   []string      `json:"scenarios"`
	Requests    int64         `json:"requests"`
	Failed      int64         `json:"failed"`
	Iterations  int64         `json:"iterations"`
	Dropped     int64         `json:"dropped"`
	RPS         float64       `json:"rps"`
	ErrorRate   float64       `json:"errorRate"`
	CheckRate   float64       `json:"checkRate"`
	P95         time.Duration `json:"p95"`
	P99         time.Duration `json:"p99"`
	Passed      bool          `json:"passed"`
	Interrupted bool          `json:"interrupted,omitempty"`

	Thresholds []threshold.Result `json:"thresholds,omitempty"`
}

// FromResult summarizes a run.
func FromResult(res *engine.Result, cfg *config.TestConfig) Record {
	rec := Record{
		RunID:       res.RunID,
		Name:        res.Name,
		StartTime:   res.StartTime,
		Duration:    res.Duration,
		Passed:      res.Passed,
		Interrupted: res.Interrupted,
		Thresholds:  res.Thresholds,
	}
	if cfg != nil {
		rec.BaseURL = cfg.Settings.BaseURL
		rec.StoreID = cfg.Settings.StoreID
		rec.Scenarios = cfg.ScenarioNames()
	}
	if m := res.Metrics; m != nil {
		rec.Requests = m.TotalRequests
		rec.Failed = m.FailedRequests
		rec.Iterations = m.Iterations
		rec.Dropped = m.DroppedIterations
		rec.RPS = m.RPS
		rec.ErrorRate = m.ErrorRate
		rec.CheckRate = m.CheckRate
		if m.Latency != nil {
			rec.P95 = m.Latency.P95
			rec.P99 = m.Latency.P99
		}
	}
	return rec
}

// Store is a bbolt-backed run history.
type Store struct {
	db   *bbolt.DB
	path string
}

// DefaultPath returns ~/.invload/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".invload", "history.db"), nil
}

// Open opens or creates the history file at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketRuns)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bucketIDs))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// runKey orders runs by start time.
func runKey(rec Record) []byte {
	return []byte(fmt.Sprintf("%020d-%s", rec.StartTime.UnixNano(), rec.RunID))
}

// Save stores rec, replacing any record with the same run ID.
func (s *Store) Save(rec Record) error {
	if rec.RunID == "" {
		return errors.New("record has no run ID")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(bucketRuns))
		ids := tx.Bucket([]byte(bucketIDs))

		if old := ids.Get([]byte(rec.RunID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return err
			}
		}

		key := runKey(rec)
		if err := runs.Put(key, data); err != nil {
			return err
		}
		return ids.Put([]byte(rec.RunID), key)
	})
}

// List returns up to limit records, newest first. A limit <= 0 returns all.
func (s *Store) List(limit int) ([]Record, error) {
	var out []Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %s: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Get returns the record for runID.
func (s *Store) Get(runID string) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(bucketIDs)).Get([]byte(runID))
		if key == nil {
			return ErrNotFound
		}
		v := tx.Bucket([]byte(bucketRuns)).Get(key)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
