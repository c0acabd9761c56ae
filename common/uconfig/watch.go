/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package uconfig

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors produce on save
const reloadDebounce = 250 * time.Millisecond

// Watch calls changed after file is written, created or replaced, and
// failed for watcher errors. Bursts of events produce one call. Watch
// blocks until ctx is canceled.
func Watch(ctx context.Context, file string, changed func(), failed func(error)) error {
	if file == "" {
		return errors.New("configuration was not loaded from a file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so that atomic replace (write + rename) is seen
	file = filepath.Clean(file)
	if err = watcher.Add(filepath.Dir(file)); err != nil {
		return err
	}

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != file {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if failed != nil {
				failed(err)
			}

		case <-fire:
			fire = nil
			changed()
		}
	}
}
