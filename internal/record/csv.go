package record

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// CSVSink appends one row per record to a CSV file. The first columns are
// fixed (id, call_id, schema, completed_at, caller, flags), followed by one
// column per slot key in the order given to [NewCSVSink]. A header is written
// when the file is empty.
type CSVSink struct {
	path    string
	columns []string

	mu sync.Mutex
}

var (
	_ Sink   = (*CSVSink)(nil)
	_ Pinger = (*CSVSink)(nil)
)

var csvFixed = []string{"id", "call_id", "schema", "completed_at", "caller", "flags"}

// NewCSVSink creates a sink writing to path with one field column per key.
func NewCSVSink(path string, keys []string) *CSVSink {
	return &CSVSink{path: path, columns: append([]string(nil), keys...)}
}

// Name implements [Sink].
func (s *CSVSink) Name() string { return "csv" }

// Save implements [Sink].
func (s *CSVSink) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("record: open csv: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("record: stat csv: %w", err)
	}

	w := csv.NewWriter(f)
	if fi.Size() == 0 {
		if err := w.Write(append(append([]string(nil), csvFixed...), s.columns...)); err != nil {
			return fmt.Errorf("record: write csv header: %w", err)
		}
	}
	row := []string{
		rec.ID.String(),
		rec.CallID,
		rec.Schema,
		rec.CompletedAt.Format(time.RFC3339),
		rec.Caller,
		strings.Join(rec.Flags, ";"),
	}
	for _, k := range s.columns {
		row = append(row, rec.Fields[k])
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("record: write csv row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("record: flush csv: %w", err)
	}
	return nil
}

// Ping checks that the file can be opened for appending.
func (s *CSVSink) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("record: csv not writable: %w", err)
	}
	return f.Close()
}
