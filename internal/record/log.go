package record

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/MrWong99/voiceintake/internal/observe"
)

// LogSink writes each record as one structured log line. It is meant for
// development and as a last-resort fallback.
type LogSink struct{}

var _ Sink = LogSink{}

// Name implements [Sink].
func (LogSink) Name() string { return "log" }

// Save implements [Sink].
func (LogSink) Save(ctx context.Context, rec Record) error {
	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, rec.Fields[k]))
	}
	observe.Logger(ctx).Info("intake record",
		"record_id", rec.ID.String(),
		"call_id", rec.CallID,
		"schema", rec.Schema,
		"caller", rec.Caller,
		"flags", strings.Join(rec.Flags, ","),
		slog.Group("fields", attrs...),
	)
	return nil
}
