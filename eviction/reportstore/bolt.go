package reportstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/kestrelstore/pageguard/eviction"
)

var reportsBucket = []byte("eviction_reports")

// BoltReportStore is a Store backed by an embedded bbolt database, giving
// the report ring durability across process restarts — unlike the
// rate-limiter state, which is deliberately not persisted.
type BoltReportStore struct {
	db  *bolt.DB
	max int
}

// NewBoltReportStore opens (or creates) the bbolt database at path and
// ensures its bucket exists. max <= 0 defaults to 100.
func NewBoltReportStore(path string, max int) (*BoltReportStore, error) {
	if max <= 0 {
		max = defaultMaxReports
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("reportstore: open bbolt db %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(reportsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("reportstore: create bucket: %w", err)
	}
	return &BoltReportStore{db: db, max: max}, nil
}

// Append implements Store.
func (s *BoltReportStore) Append(_ context.Context, r eviction.Report) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("reportstore: marshal report: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(reportsBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := bucket.Put(key, b); err != nil {
			return err
		}
		return pruneOldest(bucket, s.max)
	})
}

// pruneOldest deletes the lowest-keyed (oldest) entries until the bucket
// holds at most max. Keys are monotonically increasing sequence numbers,
// so the cursor's first entry is always the oldest.
func pruneOldest(bucket *bolt.Bucket, max int) error {
	n := bucket.Stats().KeyN
	c := bucket.Cursor()
	for n > max {
		k, _ := c.First()
		if k == nil {
			break
		}
		if err := bucket.Delete(k); err != nil {
			return err
		}
		n--
	}
	return nil
}

// Recent implements Store.
func (s *BoltReportStore) Recent(_ context.Context, n int) ([]eviction.Report, error) {
	var reports []eviction.Report
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(reportsBucket)
		c := bucket.Cursor()
		count := 0
		for k, v := c.Last(); k != nil && (n <= 0 || count < n); k, v = c.Prev() {
			var r eviction.Report
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("reportstore: unmarshal report: %w", err)
			}
			reports = append(reports, r)
			count++
		}
		return nil
	})
	return reports, err
}

// Close implements Store.
func (s *BoltReportStore) Close() error {
	return s.db.Close()
}
