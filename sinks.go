package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"
)

// Sink consumes finished events. Publish is called from the sink goroutine
// only; implementations doing blocking I/O are expected, the record queue in
// front of them is what bounds the damage.
type Sink interface {
	Name() string
	Publish(ev *Event) error
	Close() error
}

// JSONSink writes one JSON object per line per event.
type JSONSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONSink writes JSON lines to w (normally stdout).
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{w: w}
}

func (s *JSONSink) Name() string { return "json" }

func (s *JSONSink) Publish(ev *Event) error {
	b, err := ev.Record.MarshalJSON()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = fmt.Fprintf(s.w, "%s\n", b)
	return err
}

func (s *JSONSink) Close() error { return nil }

// CSVSink appends events to a file using each decoder's field list as the
// column schema; a header is written per protocol on first sight.
type CSVSink struct {
	f      *os.File
	w      *csv.Writer
	headed map[int]bool
}

// NewCSVSink opens (or creates) the CSV output file.
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv output: %w", err)
	}
	return &CSVSink{f: f, w: csv.NewWriter(f), headed: make(map[int]bool)}, nil
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Publish(ev *Event) error {
	fields := ev.Protocol.Fields
	if !s.headed[ev.Protocol.Num] {
		header := append([]string{"time"}, fields...)
		if err := s.w.Write(header); err != nil {
			return err
		}
		s.headed[ev.Protocol.Num] = true
	}
	row := make([]string, 0, len(fields)+1)
	row = append(row, ev.Time.Format("2006-01-02 15:04:05"))
	for _, key := range fields {
		cell := ""
		for _, f := range ev.Record.Fields() {
			if f.Key == key {
				cell = f.Formatted()
				break
			}
		}
		row = append(row, cell)
	}
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.w.Flush()
	return s.f.Close()
}
