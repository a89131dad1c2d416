// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layoutbench

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// TraceEvent is one complete ("X") event in the Chrome trace event format. Times are in microseconds.
type TraceEvent struct {
	Name      string         `json:"name"`
	Category  string         `json:"cat"`
	Phase     string         `json:"ph"`
	Timestamp float64        `json:"ts"`
	Duration  float64        `json:"dur"`
	PID       int            `json:"pid"`
	TID       int            `json:"tid"`
	Args      map[string]any `json:"args,omitempty"`
}

// Trace collects events to be viewed in chrome://tracing or Perfetto. It's safe for concurrent use.
type Trace struct {
	start  time.Time
	mu     sync.Mutex
	events []TraceEvent
}

// NewTrace returns an empty trace, with timestamps relative to now.
func NewTrace() *Trace {
	return &Trace{start: time.Now()}
}

// Span runs fn and records it as an event with the given name and arguments.
func (t *Trace) Span(name string, args map[string]any, fn func()) {
	begin := time.Now()
	fn()
	end := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, TraceEvent{
		Name:      name,
		Category:  "conv",
		Phase:     "X",
		Timestamp: microseconds(begin.Sub(t.start)),
		Duration:  microseconds(end.Sub(begin)),
		PID:       os.Getpid(),
		TID:       1,
		Args:      args,
	})
}

// Events returns a copy of the events recorded so far.
func (t *Trace) Events() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceEvent(nil), t.events...)
}

func microseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

type traceFile struct {
	TraceEvents     []TraceEvent `json:"traceEvents"`
	DisplayTimeUnit string       `json:"displayTimeUnit"`
}

// WriteFile writes the trace as JSON to filePath, overwriting it if it exists.
func (t *Trace) WriteFile(filePath string) error {
	contents, err := json.MarshalIndent(traceFile{TraceEvents: t.Events(), DisplayTimeUnit: "ms"}, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode trace")
	}
	if err = os.WriteFile(filePath, contents, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write trace to %q", filePath)
	}
	return nil
}
