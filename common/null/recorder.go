//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package null

import (
	"fmt"
	"sync"

	"github.com/UnifyEM/diragent/common/interfaces"
)

// Entry is a single captured log call
type Entry struct {
	Level  string
	ID     uint32
	Msg    string
	Fields map[string]any
}

// Recorder implements interfaces.Logger and keeps every entry in memory.
// Tests use it to assert on what was logged.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Entries returns a copy of the captured entries
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// ByID returns the entries logged with the given event id
func (r *Recorder) ByID(id uint32) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.ID == id {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) record(level string, id uint32, msg string, f interfaces.Fields) {
	m := make(map[string]any)
	if f != nil {
		for _, p := range f.ToPairs() {
			m[p.Name()] = p.Value()
		}
	}
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Level: level, ID: id, Msg: msg, Fields: m})
	r.mu.Unlock()
}

func (r *Recorder) Debug(id uint32, msg string, f interfaces.Fields) {
	r.record("DEBUG", id, msg, f)
}

func (r *Recorder) Info(id uint32, msg string, f interfaces.Fields) {
	r.record("INFO", id, msg, f)
}

func (r *Recorder) Warning(id uint32, msg string, f interfaces.Fields) {
	r.record("WARNING", id, msg, f)
}

func (r *Recorder) Error(id uint32, msg string, f interfaces.Fields) {
	r.record("ERROR", id, msg, f)
}

func (r *Recorder) Fatal(id uint32, msg string, f interfaces.Fields) {
	r.record("FATAL", id, msg, f)
}

func (r *Recorder) Debugf(id uint32, format string, args ...any) {
	r.record("DEBUG", id, fmt.Sprintf(format, args...), nil)
}

func (r *Recorder) Infof(id uint32, format string, args ...any) {
	r.record("INFO", id, fmt.Sprintf(format, args...), nil)
}

func (r *Recorder) Warningf(id uint32, format string, args ...any) {
	r.record("WARNING", id, fmt.Sprintf(format, args...), nil)
}

func (r *Recorder) Errorf(id uint32, format string, args ...any) {
	r.record("ERROR", id, fmt.Sprintf(format, args...), nil)
}

func (r *Recorder) Fatalf(id uint32, format string, args ...any) {
	r.record("FATAL", id, fmt.Sprintf(format, args...), nil)
}
