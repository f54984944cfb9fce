package maintenance

import (
	"encoding/json"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/corralhq/corral/pkg/queue"
	"github.com/corralhq/corral/pkg/types"
)

// CacheFileName is the bbolt dashboard cache inside the coordination
// directory. The cache is derived data: deleting it loses history but
// never coordination state.
const CacheFileName = "cache.db"

var (
	bucketHealthHistory = []byte("health_history")
	bucketStatusReports = []byte("status_reports")
)

// HealthSample is one recorded health score
type HealthSample struct {
	Score      int       `json:"score"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Cache stores health-score history and daily status reports in bbolt
type Cache struct {
	db *bolt.DB
}

// OpenCache opens or creates the dashboard cache
func OpenCache(dir string) (*Cache, error) {
	path := filepath.Join(dir, CacheFileName)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, types.WrapError(types.ErrIO, err, "opening %s", CacheFileName)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketHealthHistory, bucketStatusReports} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, types.WrapError(types.ErrIO, err, "initializing %s", CacheFileName)
	}
	return &Cache{db: db}, nil
}

// Close closes the cache database
func (c *Cache) Close() error {
	return c.db.Close()
}

// RecordHealth appends one health sample. Keys are RFC3339Nano
// timestamps so the bucket iterates in time order.
func (c *Cache) RecordHealth(sample HealthSample) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHealthHistory)
		data, err := json.Marshal(&sample)
		if err != nil {
			return err
		}
		return b.Put([]byte(sample.RecordedAt.Format(time.RFC3339Nano)), data)
	})
}

// HealthHistory returns the most recent samples, newest first
func (c *Cache) HealthHistory(limit int) ([]HealthSample, error) {
	var samples []HealthSample
	err := c.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketHealthHistory).Cursor()
		for k, v := cur.Last(); k != nil; k, v = cur.Prev() {
			var s HealthSample
			if err := json.Unmarshal(v, &s); err != nil {
				continue
			}
			samples = append(samples, s)
			if limit > 0 && len(samples) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, types.WrapError(types.ErrIO, err, "reading health history")
	}
	return samples, nil
}

// RecordReport stores the daily status report keyed by date; rerunning
// the report job on the same day overwrites, keeping it idempotent.
func (c *Cache) RecordReport(d *queue.Dashboard) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatusReports)
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return b.Put([]byte(d.GeneratedAt.Format("2006-01-02")), data)
	})
}

// LastReport returns the most recent stored status report, nil when
// none exists yet
func (c *Cache) LastReport() (*queue.Dashboard, error) {
	var report *queue.Dashboard
	err := c.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketStatusReports).Cursor()
		k, v := cur.Last()
		if k == nil {
			return nil
		}
		var d queue.Dashboard
		if err := json.Unmarshal(v, &d); err != nil {
			return err
		}
		report = &d
		return nil
	})
	if err != nil {
		return nil, types.WrapError(types.ErrIO, err, "reading status report")
	}
	return report, nil
}
