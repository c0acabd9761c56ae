/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package ulogger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

const dateLayout = "20060102"

// rotateLogs moves yesterday's file aside on the first write of a new day
func (u *Logger) rotateLogs(now time.Time) error {
	if u.logfile == "" {
		return nil
	}

	today := now.Format(dateLayout)
	if u.currentLogDate == today {
		return nil
	}
	previous := u.currentLogDate
	u.currentLogDate = today

	if u.fileHandle != nil {
		_ = u.fileHandle.Sync()
		_ = u.fileHandle.Close()
		u.fileHandle = nil
	}

	rotated := u.logfile + "-" + previous
	if err := os.Rename(u.logfile, rotated); err != nil && !os.IsNotExist(err) {
		_ = u.reopen()
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	if err := u.reopen(); err != nil {
		return err
	}

	if u.compress {
		if err := compressFile(rotated); err != nil {
			return err
		}
	}
	return u.deleteOldLogs(now)
}

// reopen opens the active log file, falling back to stdout
func (u *Logger) reopen() error {
	fh, err := os.OpenFile(u.logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		u.logStdout = true
		return fmt.Errorf("failed to open log file: %w", err)
	}
	u.fileHandle = fh
	_ = os.Chmod(u.logfile, 0644)
	return nil
}

// compressFile replaces name with name.gz
func compressFile(name string) error {
	in, err := os.Open(name)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(name+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(out)
	_, err = io.Copy(zw, in)
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(name + ".gz")
		return fmt.Errorf("failed to compress %s: %w", name, err)
	}
	_ = in.Close()
	return os.Remove(name)
}

// deleteOldLogs removes rotated files dated more than retainDays ago.
// A retention of 0 or 1 keeps everything.
func (u *Logger) deleteOldLogs(now time.Time) error {
	if u.retainDays <= 1 {
		return nil
	}
	cutoff := now.AddDate(0, 0, -u.retainDays).Format(dateLayout)

	dir := filepath.Dir(u.logfile)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	prefix := filepath.Base(u.logfile) + "-"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".gz")
		if _, err = time.Parse(dateLayout, date); err != nil {
			continue
		}
		if date < cutoff {
			if err = os.Remove(filepath.Join(dir, name)); err != nil {
				return fmt.Errorf("failed to delete old log file: %w", err)
			}
		}
	}
	return nil
}
