// Package cooldown persists, per campaign, when the last opening message
// was sent so the initial-message throttle survives restarts.
package cooldown

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketLastInitial = []byte("last_initial")

// BoltStore implements the cooldown store on BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the cooldown database
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketLastInitial); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketLastInitial, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// LastInitial returns when the campaign last sent an opening message.
// The zero time means never, which leaves the throttle open.
func (s *BoltStore) LastInitial(ctx context.Context, campaignID string) (time.Time, error) {
	var ts time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLastInitial).Get([]byte(campaignID))
		if len(v) != 8 {
			return nil
		}
		ts = time.Unix(0, int64(binary.BigEndian.Uint64(v))).UTC()
		return nil
	})
	return ts, err
}

// SetLastInitial records an opening message sent at t
func (s *BoltStore) SetLastInitial(ctx context.Context, campaignID string, t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
		if err := tx.Bucket(bucketLastInitial).Put([]byte(campaignID), buf); err != nil {
			return fmt.Errorf("failed to store cooldown: %w", err)
		}
		return nil
	})
}

// Forget drops the cooldown of a deleted campaign
func (s *BoltStore) Forget(ctx context.Context, campaignID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLastInitial).Delete([]byte(campaignID))
	})
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// DB returns the underlying database so other components can keep their
// own buckets in the same file
func (s *BoltStore) DB() *bolt.DB {
	return s.db
}
