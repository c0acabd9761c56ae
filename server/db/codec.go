//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package db

import "fmt"

// serialize converts a struct into a byte slice
func (d *DB) serialize(v any) ([]byte, error) {
	return d.enc.Marshal(v)
}

// deserialize converts the stored data into a struct
func (d *DB) deserialize(data []byte, v any) error {
	return d.dec.Unmarshal(data, v)
}

// pack serializes and compresses v
func (d *DB) pack(v any) ([]byte, error) {
	raw, err := d.serialize(v)
	if err != nil {
		return nil, err
	}
	return d.zenc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// unpack reverses pack
func (d *DB) unpack(data []byte, v any) error {
	raw, err := d.zdec.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	return d.deserialize(raw, v)
}
