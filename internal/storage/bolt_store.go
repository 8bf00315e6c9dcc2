package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.etcd.io/bbolt"
)

const (
	BucketSuites = "suites"
)

// ErrNotFound is returned by Get for an unknown suite id.
var ErrNotFound = errors.New("history item not found")

type Store struct {
	db *bbolt.DB
}

// DefaultPath is ~/.xferbench/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".xferbench", "history.db"), nil
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create history dir")
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open history %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketSuites))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// key orders entries by start time so a cursor walks them chronologically.
func key(item HistoryItem) []byte {
	return []byte(item.Timestamp.UTC().Format("20060102T150405.000000000Z") + "/" + item.ID)
}

func (s *Store) Save(item HistoryItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketSuites)).Put(key(item), data)
	})
}

// List returns up to limit items, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]HistoryItem, error) {
	var items []HistoryItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketSuites)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(items) == limit {
				break
			}
			var item HistoryItem
			if err := json.Unmarshal(v, &item); err != nil {
				return errors.Wrapf(err, "decode %s", k)
			}
			items = append(items, item)
		}
		return nil
	})
	return items, err
}

// Get finds a suite by id.
func (s *Store) Get(id string) (*HistoryItem, error) {
	var item *HistoryItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketSuites)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var it HistoryItem
			if err := json.Unmarshal(v, &it); err != nil {
				return errors.Wrapf(err, "decode %s", k)
			}
			if it.ID == id {
				item = &it
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errors.Wrapf(ErrNotFound, "%s", id)
	}
	return item, nil
}
