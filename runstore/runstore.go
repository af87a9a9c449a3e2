// Package runstore indexes finished run reports in badger, by run id and by
// dataset id.
package runstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const (
	runKeyPrefix     = "run:"
	datasetKeyPrefix = "run_dataset:"
)

var ErrNotFound = errors.New("run not found")

// Record is one finished run. Report holds the JSON report as persisted
// next to the model artifact.
type Record struct {
	RunID     string          `json:"run_id"`
	DatasetID string          `json:"dataset_id,omitempty"`
	Task      string          `json:"task_type"`
	ModelName string          `json:"model_name"`
	ModelKey  string          `json:"model_key,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Report    json.RawMessage `json:"report"`
}

type Store struct {
	db *badger.DB
}

// Open opens the store in dir. An empty dir keeps everything in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open run store")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores a record, replacing any earlier record with the same run id.
func (s *Store) Put(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		return errors.New("record has no run id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal record")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		var prev Record
		switch err := get(txn, rec.RunID, &prev); {
		case err == nil:
			if prev.DatasetID != "" {
				if err := txn.Delete(datasetKey(prev)); err != nil {
					return errors.Wrap(err, "delete dataset mapping")
				}
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}

		if err := txn.Set([]byte(runKeyPrefix+rec.RunID), data); err != nil {
			return errors.Wrap(err, "set run")
		}
		if rec.DatasetID == "" {
			return nil
		}
		return errors.Wrap(txn.Set(datasetKey(rec), []byte(rec.RunID)), "set dataset mapping")
	})
}

// datasetPrefix hex-encodes the id so no id is a key prefix of another.
func datasetPrefix(datasetID string) string {
	return datasetKeyPrefix + hex.EncodeToString([]byte(datasetID)) + ":"
}

// datasetKey orders a dataset's runs by creation time. The zero-padded
// nanosecond stamp sorts lexically in time order.
func datasetKey(rec Record) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", datasetPrefix(rec.DatasetID), rec.CreatedAt.UnixNano(), rec.RunID))
}

func (s *Store) Get(ctx context.Context, runID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		return get(txn, runID, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func get(txn *badger.Txn, runID string, rec *Record) error {
	item, err := txn.Get([]byte(runKeyPrefix + runID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errors.Wrapf(ErrNotFound, "%q", runID)
	}
	if err != nil {
		return errors.Wrap(err, "get run")
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	})
}

// ByDataset returns every run of a dataset, oldest first.
func (s *Store) ByDataset(ctx context.Context, datasetID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		prefix := []byte(datasetPrefix(datasetID))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		for _, id := range ids {
			var rec Record
			if err := get(txn, id, &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list dataset runs")
	}
	return out, nil
}
