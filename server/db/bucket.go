//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package db

import (
	"fmt"

	"go.etcd.io/bbolt"
)

// bucket returns the named bucket, which Open creates
func bucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("bucket %s not found", name)
	}
	return b, nil
}

// SetData stores value under key in its CBOR form
func (d *DB) SetData(bucketName string, key string, value any) error {
	data, err := d.serialize(value)
	if err != nil {
		return fmt.Errorf("failed to serialize %s/%s: %w", bucketName, key, err)
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketName)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// GetData decodes the value under key into result. A nil result only
// checks for presence. A missing key returns ErrNotFound.
func (d *DB) GetData(bucketName string, key string, result any) error {
	return d.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketName)
		if err != nil {
			return err
		}
		data := b.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		if result == nil {
			return nil
		}
		if err = d.deserialize(data, result); err != nil {
			return fmt.Errorf("failed to deserialize %s/%s: %w", bucketName, key, err)
		}
		return nil
	})
}

// DeleteData removes key; a missing key is not an error
func (d *DB) DeleteData(bucketName string, key string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketName)
		if err != nil {
			return err
		}
		return b.Delete([]byte(key))
	})
}

// ForEach calls fn for every pair in key order. The value slice is only
// valid until fn returns.
func (d *DB) ForEach(bucketName string, fn func(key, value []byte) error) error {
	return d.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketName)
		if err != nil {
			return err
		}
		return b.ForEach(fn)
	})
}
