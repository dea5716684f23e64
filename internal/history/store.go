// Package history persists terminal run reports in a local bbolt file.
package history

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/rohankatakam/shopgraph/internal/migration"
)

var (
	runsBucket  = []byte("runs")
	indexBucket = []byte("run_ids")
)

// ErrNotFound is returned by Get for an unknown run id
var ErrNotFound = errors.New("run not found")

// Store keeps reports ordered by start time
type Store struct {
	db     *bolt.DB
	retain int
	logger logrus.FieldLogger
}

// Options tune a Store
type Options struct {
	// Retain caps stored reports; oldest are pruned first. Zero keeps all.
	Retain int
	Logger logrus.FieldLogger
}

// Open opens or creates the history file, creating its directory
func Open(path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(runsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(indexBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history buckets: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{db: db, retain: opts.Retain, logger: logger.WithField("component", "history")}, nil
}

// Close closes the underlying file
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a report, replacing an earlier one with the same run id
func (s *Store) Record(ctx context.Context, report *migration.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report %s: %w", report.RunID, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(runsBucket)
		index := tx.Bucket(indexBucket)

		if old := index.Get([]byte(report.RunID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return err
			}
		}

		key := runKey(report.StartedAt, report.RunID)
		if err := runs.Put(key, data); err != nil {
			return err
		}
		if err := index.Put([]byte(report.RunID), key); err != nil {
			return err
		}
		return s.prune(runs, index)
	})
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", report.RunID, err)
	}

	s.logger.WithFields(logrus.Fields{"run_id": report.RunID, "status": report.Status}).Debug("run recorded")
	return nil
}

// prune drops the oldest reports beyond the retention cap
func (s *Store) prune(runs, index *bolt.Bucket) error {
	if s.retain <= 0 {
		return nil
	}
	c := runs.Cursor()
	total := 0
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		total++
	}
	excess := total - s.retain
	if excess <= 0 {
		return nil
	}

	var stale [][]byte
	for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
		stale = append(stale, bytes.Clone(k))
	}
	for _, k := range stale {
		if err := runs.Delete(k); err != nil {
			return err
		}
		if err := index.Delete(k[8:]); err != nil {
			return err
		}
	}
	return nil
}

// List returns up to limit reports, newest first. A limit of zero returns all.
func (s *Store) List(ctx context.Context, limit int) ([]*migration.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reports := []*migration.Report{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(runsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(reports) >= limit {
				break
			}
			var r migration.Report
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("corrupt history entry %x: %w", k, err)
			}
			reports = append(reports, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// Get returns the report of one run
func (s *Store) Get(ctx context.Context, runID string) (*migration.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var report *migration.Report
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(indexBucket).Get([]byte(runID))
		if key == nil {
			return ErrNotFound
		}
		data := tx.Bucket(runsBucket).Get(key)
		if data == nil {
			return ErrNotFound
		}
		report = &migration.Report{}
		return json.Unmarshal(data, report)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// runKey sorts by start time, then run id
func runKey(startedAt time.Time, runID string) []byte {
	key := make([]byte, 8, 8+len(runID))
	binary.BigEndian.PutUint64(key, uint64(startedAt.UnixNano()))
	return append(key, runID...)
}
