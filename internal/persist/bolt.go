package persist

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const billsBucket = "bills"

// BoltStore keeps records in a single bbolt bucket.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(billsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Get implements KV.
func (b *BoltStore) Get(_ context.Context, key string) (string, error) {
	var value string
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(billsBucket)).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		value = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set implements KV.
func (b *BoltStore) Set(_ context.Context, key, value string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(billsBucket)).Put([]byte(key), []byte(value))
	})
}

// Remove implements KV.
func (b *BoltStore) Remove(_ context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(billsBucket)).Delete([]byte(key))
	})
}

// Close closes the database file.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
