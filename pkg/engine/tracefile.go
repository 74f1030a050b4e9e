package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// EventType enumerates trace stream event types.
type EventType string

const (
	EventRunStart      EventType = "run_start"
	EventStepComplete  EventType = "step_complete"
	EventBranchTaken   EventType = "branch_taken"
	EventWaitStart     EventType = "wait_start"
	EventWaitSatisfied EventType = "wait_satisfied"
	EventWaitTimeout   EventType = "wait_timeout"
	EventRunComplete   EventType = "run_complete"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// TraceWriter writes run events to an append-only JSONL stream. It is safe
// for use from a single run goroutine plus the closer.
type TraceWriter struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	enc    *json.Encoder
}

// NewTraceWriter creates a trace writer over an arbitrary writer.
func NewTraceWriter(w io.Writer) *TraceWriter {
	return &TraceWriter{w: w, enc: json.NewEncoder(w)}
}

// NewFileTraceWriter creates a trace writer that appends to a JSONL file.
func NewFileTraceWriter(path string) (*TraceWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewTraceWriter(f)
	tw.closer = f
	return tw, nil
}

// Emit writes a single trace event. Emit on a nil writer is a no-op so the
// engine never has to guard call sites.
func (tw *TraceWriter) Emit(runID string, typ EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.enc.Encode(Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Data:      data,
	})
}

// Close closes the underlying file, if any.
func (tw *TraceWriter) Close() error {
	if tw == nil || tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}
