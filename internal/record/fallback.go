package record

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/voiceintake/internal/resilience"
)

// FallbackSink saves to the first healthy sink of an ordered list, each
// behind its own circuit breaker. A duplicate reported by one sink is final
// and not retried on the next.
type FallbackSink struct {
	group *resilience.FallbackGroup[Sink]
	names []string
}

var (
	_ Sink   = (*FallbackSink)(nil)
	_ Pinger = (*FallbackSink)(nil)
)

// NewFallbackSink creates a FallbackSink with primary preferred.
func NewFallbackSink(cfg resilience.FallbackConfig, primary Sink, fallbacks ...Sink) *FallbackSink {
	fs := &FallbackSink{
		group: resilience.NewFallbackGroup(primary, primary.Name(), cfg),
		names: []string{primary.Name()},
	}
	for _, s := range fallbacks {
		fs.group.AddFallback(s.Name(), s)
		fs.names = append(fs.names, s.Name())
	}
	return fs
}

// Name implements [Sink].
func (f *FallbackSink) Name() string { return strings.Join(f.names, "+") }

// Save implements [Sink].
func (f *FallbackSink) Save(ctx context.Context, rec Record) error {
	var dup error
	err := f.group.Execute(ctx, func(ctx context.Context, s Sink) error {
		err := s.Save(ctx, rec)
		if errors.Is(err, ErrDuplicate) {
			dup = err
			return nil
		}
		return err
	})
	if dup != nil {
		return dup
	}
	return err
}

// States reports the breaker state of each sink.
func (f *FallbackSink) States() map[string]resilience.State { return f.group.States() }

// Ping succeeds while at least one sink's breaker is not open.
func (f *FallbackSink) Ping(context.Context) error {
	for _, st := range f.group.States() {
		if st != resilience.StateOpen {
			return nil
		}
	}
	return errors.New("record: every sink circuit is open")
}
