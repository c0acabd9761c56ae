/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package ulogger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/UnifyEM/diragent/common/clock"
	"github.com/UnifyEM/diragent/common/interfaces"
)

// Logger writes leveled entries with an event id to a daily rotated file
// and optionally to stdout. Safe for concurrent use.
type Logger struct {
	mu               sync.Mutex
	fileHandle       *os.File
	stdout           io.Writer
	logfile          string
	logStdout        bool
	logWindowsEvents bool // Ignored on non-Windows systems
	debug            bool
	json             bool
	prefix           string
	retainDays       int
	currentLogDate   string
	compress         bool
	clock            clock.Clock
	osSink           osSink
}

// osSink receives every formatted message in addition to file and stdout
type osSink interface {
	emit(level string, message string)
	close()
}

func (u *Logger) openFile() error {
	if u.logfile == "" {
		// If no log file is specified, force stdout logging
		u.logStdout = true
		return nil
	}

	u.logfile = filepath.Clean(u.logfile)

	dir := filepath.Dir(u.logfile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if fileInfo, err := os.Stat(u.logfile); err == nil {
		u.currentLogDate = fileInfo.ModTime().Format(dateLayout)
	} else {
		u.currentLogDate = u.clock.Now().Format(dateLayout)
	}

	// An unwritable file degrades to stdout rather than failing startup
	_ = u.reopen()
	return nil
}

// Close flushes and closes the log file
func (u *Logger) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.osSink != nil {
		u.osSink.close()
	}
	if u.fileHandle != nil {
		_ = u.fileHandle.Sync()
		_ = u.fileHandle.Close()
		u.fileHandle = nil
	}
}

type jsonEntry struct {
	Time    string         `json:"time"`
	Process string         `json:"process,omitempty"`
	Level   string         `json:"level"`
	EventID uint32         `json:"event_id"`
	Message string         `json:"msg"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (u *Logger) format(now time.Time, eid uint32, level string, message string, fields interfaces.Fields) string {
	if u.json {
		e := jsonEntry{
			Time:    now.UTC().Format(time.RFC3339Nano),
			Process: u.prefix,
			Level:   level,
			EventID: eid,
			Message: message,
		}
		if fields != nil {
			e.Fields = make(map[string]any)
			for _, p := range fields.ToPairs() {
				e.Fields[p.Name()] = p.Value()
			}
		}
		if b, err := json.Marshal(e); err == nil {
			return string(b)
		}
	}

	msg := fmt.Sprintf("%s %s [%s] %04d %s",
		now.Format("2006-01-02 15:04:05"),
		u.prefix, level, eid, message)

	if fields != nil {
		if text := fields.ToText(); text != "" {
			msg += ": " + text
		}
	}
	return msg
}

// writeLog writes a log message and handles rotation if necessary.
func (u *Logger) writeLog(eid uint32, level string, message string, fields interfaces.Fields) {
	if level == "DEBUG" && !u.debug {
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.clock.Now()
	if err := u.rotateLogs(now); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "log rotation error: %s\n", err.Error())
	}

	tmp := u.format(now, eid, level, message, fields)

	if u.osSink != nil {
		u.osSink.emit(level, tmp)
	}

	tmp += lineEnding
	if u.fileHandle != nil {
		_, _ = u.fileHandle.WriteString(tmp)
		_ = u.fileHandle.Sync()
	}

	if u.logStdout && u.stdout != nil {
		_, _ = io.WriteString(u.stdout, tmp)
	}
}

// Debug logs a debug message.
func (u *Logger) Debug(eid uint32, message string, fields interfaces.Fields) {
	u.writeLog(eid, "DEBUG", message, fields)
}

// Info logs an informational message.
func (u *Logger) Info(eid uint32, message string, fields interfaces.Fields) {
	u.writeLog(eid, "INFO", message, fields)
}

// Warning logs a warning message.
func (u *Logger) Warning(eid uint32, message string, fields interfaces.Fields) {
	u.writeLog(eid, "WARNING", message, fields)
}

// Error logs an error message.
func (u *Logger) Error(eid uint32, message string, fields interfaces.Fields) {
	u.writeLog(eid, "ERROR", message, fields)
}

// Fatal logs a fatal error message.
func (u *Logger) Fatal(eid uint32, message string, fields interfaces.Fields) {
	u.writeLog(eid, "FATAL", message, fields)
}

func (u *Logger) Debugf(eid uint32, format string, v ...any) {
	if u.debug {
		u.writeLog(eid, "DEBUG", fmt.Sprintf(format, v...), nil)
	}
}

func (u *Logger) Infof(eid uint32, format string, v ...any) {
	u.writeLog(eid, "INFO", fmt.Sprintf(format, v...), nil)
}

func (u *Logger) Warningf(eid uint32, format string, v ...any) {
	u.writeLog(eid, "WARNING", fmt.Sprintf(format, v...), nil)
}

func (u *Logger) Errorf(eid uint32, format string, v ...any) {
	u.writeLog(eid, "ERROR", fmt.Sprintf(format, v...), nil)
}

func (u *Logger) Fatalf(eid uint32, format string, v ...any) {
	u.writeLog(eid, "FATAL", fmt.Sprintf(format, v...), nil)
}
