package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"cabinetbench/internal/stats"
)

const (
	BucketRuns = "runs"

	// MaxHistory is how many runs are kept; older ones are pruned on Save.
	MaxHistory = 100
)

var ErrNotFound = errors.New("run not found")

type HistoryItem struct {
	ID              string       `json:"id"`
	Timestamp       time.Time    `json:"timestamp"`
	Targets         []string     `json:"targets"`
	Concurrency     int          `json:"concurrency"`
	KillLeaderAfter float64      `json:"kill_leader_after_sec,omitempty"`
	Report          stats.Report `json:"report"`
}

type Store struct {
	db       *bbolt.DB
	filePath string
}

// DefaultPath is ~/.cabinetbench/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cabinetbench", "history.db"), nil
}

func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	// Initialize Buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:       db,
		filePath: path,
	}, nil
}

func (s *Store) Path() string { return s.filePath }

func (s *Store) Close() error {
	return s.db.Close()
}

// key sorts by time so cursors walk runs chronologically.
func key(item HistoryItem) []byte {
	return []byte(fmt.Sprintf("%020d_%s", item.Timestamp.UnixNano(), item.ID))
}

func (s *Store) Save(item HistoryItem) error {
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))

		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if err := b.Put(key(item), data); err != nil {
			return err
		}

		// Keep max MaxHistory items
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		var stale [][]byte
		if len(keys) > MaxHistory {
			stale = keys[:len(keys)-MaxHistory]
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]HistoryItem, error) {
	var items []HistoryItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		c := b.Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(items) >= limit {
				break
			}
			var item HistoryItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			items = append(items, item)
		}
		return nil
	})
	return items, err
}

// Get finds a run by id or by a unique id prefix.
func (s *Store) Get(id string) (*HistoryItem, error) {
	var found []HistoryItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).ForEach(func(k, v []byte) error {
			_, runID, _ := strings.Cut(string(k), "_")
			if !strings.HasPrefix(runID, id) {
				return nil
			}
			var item HistoryItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if runID == id {
				found = []HistoryItem{item}
				return errExact
			}
			found = append(found, item)
			return nil
		})
	})
	if err != nil && !errors.Is(err, errExact) {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return &found[0], nil
	}
	return nil, fmt.Errorf("ambiguous run id %q matches %d runs", id, len(found))
}

var errExact = errors.New("exact match")
