/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package audit records exactly one entry per handled request or job.
// Sinks never return errors to the caller; a failing audit destination
// must not change the outcome of the request being audited.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/interfaces"
)

// EventAudit is the logger event id used by LoggerSink
const EventAudit uint32 = 3001

// Transports
const (
	TransportHTTPS  = "https"
	TransportBroker = "broker"
)

// Entry describes one handled request or job
type Entry struct {
	Time          time.Time `json:"time"`
	Transport     string    `json:"transport"`
	RequestID     string    `json:"request_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Action        string    `json:"action,omitempty"`
	Thumbprint    string    `json:"thumbprint,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	RemoteAddr    string    `json:"remote_addr,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	HTTPStatus    int       `json:"http_status,omitempty"`
	Status        string    `json:"status"`
	ErrorCode     string    `json:"error_code,omitempty"`
}

// Sink receives audit entries
type Sink interface {
	Record(Entry)
}

// LoggerSink writes entries through an interfaces.Logger
type LoggerSink struct {
	logger interfaces.Logger
}

func NewLoggerSink(logger interfaces.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (l *LoggerSink) Record(e Entry) {
	f := fields.NewFields(
		fields.NewField("transport", e.Transport),
		fields.NewField("request_id", e.RequestID),
		fields.NewField("action", e.Action),
		fields.NewField("status", e.Status),
		fields.NewField("duration_ms", e.DurationMs))

	if e.CorrelationID != "" {
		f.AppendKV("correlation_id", e.CorrelationID)
	}
	if e.Thumbprint != "" {
		f.AppendKV("thumbprint", e.Thumbprint)
	}
	if e.Subject != "" {
		f.AppendKV("subject", e.Subject)
	}
	if e.RemoteAddr != "" {
		f.AppendKV("remote_addr", e.RemoteAddr)
	}
	if e.HTTPStatus != 0 {
		f.AppendKV("http_status", e.HTTPStatus)
	}
	if e.ErrorCode != "" {
		f.AppendKV("error_code", e.ErrorCode)
		l.logger.Warning(EventAudit, "audit", f)
		return
	}
	l.logger.Info(EventAudit, "audit", f)
}

// FileSink appends one JSON object per line to a file
type FileSink struct {
	mu       sync.Mutex
	file     *os.File
	failures atomic.Int64
}

// NewFileSink opens (or creates) the audit file for appending
func NewFileSink(path string) (*FileSink, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &FileSink{file: fh}, nil
}

func (f *FileSink) Record(e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		f.failures.Add(1)
		return
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		f.failures.Add(1)
		return
	}
	if _, err = f.file.Write(data); err != nil {
		f.failures.Add(1)
	}
}

// Failures returns the number of entries that could not be written
func (f *FileSink) Failures() int64 {
	return f.failures.Load()
}

func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// Multi fans an entry out to several sinks
type Multi []Sink

func (m Multi) Record(e Entry) {
	for _, s := range m {
		if s != nil {
			s.Record(e)
		}
	}
}

// Discard drops every entry
type Discard struct{}

func (Discard) Record(Entry) {}

// Memory keeps entries in memory, used by tests
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *Memory) Record(e Entry) {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
}

func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
