/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package db stores broker jobs, job results, and agent metadata in bbolt.
// Records are deterministic CBOR; result blobs are additionally zstd
// compressed because directory listings compress very well.
package db

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"go.etcd.io/bbolt"

	"github.com/UnifyEM/diragent/common/interfaces"
)

// Event ids
const (
	EventOpen        = 5101
	EventBadRecord   = 5102
	EventPrunedJob   = 5110
	EventPrunedAgent = 5111
	EventPruneFailed = 5112
)

const (
	BucketJobs    = "Jobs"
	BucketResults = "Results"
	BucketAgents  = "Agents"
)

var bucketList = []string{BucketJobs, BucketResults, BucketAgents}

var (
	ErrNotFound = errors.New("key not found")
	ErrExists   = errors.New("key already exists")
)

type DB struct {
	db     *bbolt.DB
	logger interfaces.Logger
	enc    cbor.EncMode
	dec    cbor.DecMode
	zenc   *zstd.Encoder
	zdec   *zstd.Decoder
}

// Open opens (or creates) a Bolt DB at the specified path and creates the
// buckets if they do not already exist
func Open(filePath string, logger interfaces.Logger) (*DB, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	d := &DB{logger: logger}
	if err := d.initCodecs(); err != nil {
		return nil, err
	}

	logger.Infof(EventOpen, "Opening database: %s", filePath)

	// The Timeout option allows Bolt to wait if the file is locked by another process
	db, err := bbolt.Open(filePath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		d.closeCodecs()
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucketName := range bucketList {
			if _, createErr := tx.CreateBucketIfNotExists([]byte(bucketName)); createErr != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucketName, createErr)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		d.closeCodecs()
		return nil, err
	}

	d.db = db
	return d, nil
}

func (d *DB) initCodecs() error {
	var err error

	// Core deterministic encoding keeps identical records byte-identical.
	// Times keep sub-second precision.
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	if d.enc, err = encOpts.EncMode(); err != nil {
		return fmt.Errorf("cbor encoder: %w", err)
	}

	// Result rows are map[string]any; nested maps decode the same way
	decOpts := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}
	if d.dec, err = decOpts.DecMode(); err != nil {
		return fmt.Errorf("cbor decoder: %w", err)
	}

	if d.zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		return fmt.Errorf("zstd encoder: %w", err)
	}
	if d.zdec, err = zstd.NewReader(nil); err != nil {
		_ = d.zenc.Close()
		return fmt.Errorf("zstd decoder: %w", err)
	}
	return nil
}

func (d *DB) closeCodecs() {
	if d.zenc != nil {
		_ = d.zenc.Close()
	}
	if d.zdec != nil {
		d.zdec.Close()
	}
}

// Close the database, ignore any errors
func (d *DB) Close() {
	if d == nil || d.db == nil {
		return
	}
	_ = d.db.Close()
	d.closeCodecs()
}
