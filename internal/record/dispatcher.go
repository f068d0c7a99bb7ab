package record

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voiceintake/internal/observe"
)

const (
	// DefaultSaveTimeout bounds a single sink call.
	DefaultSaveTimeout = 10 * time.Second

	// DefaultConcurrency is the number of sink calls allowed in flight.
	DefaultConcurrency = 8
)

// ErrClosed is returned by [Dispatcher.Dispatch] after [Dispatcher.Close].
var ErrClosed = errors.New("record: dispatcher closed")

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithSaveTimeout bounds each sink call.
func WithSaveTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithConcurrency limits how many sink calls run at once.
func WithConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = int64(n)
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithOnSaved registers a callback run after every save attempt, with the
// sink's error (nil on success).
func WithOnSaved(fn func(rec Record, err error)) DispatcherOption {
	return func(d *Dispatcher) { d.onSaved = fn }
}

// Dispatcher hands records to a [Sink] in the background. Dispatch returns
// immediately; the save runs detached from the request context, bounded by a
// timeout and a concurrency limit. Each record is attempted exactly once.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	limit   int64
	metrics *observe.Metrics
	onSaved func(Record, error)

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a Dispatcher for sink.
func NewDispatcher(sink Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		timeout: DefaultSaveTimeout,
		limit:   DefaultConcurrency,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	d.sem = semaphore.NewWeighted(d.limit)
	return d
}

// Sink returns the wrapped sink.
func (d *Dispatcher) Sink() Sink { return d.sink }

// Dispatch schedules rec for saving. Values carried by ctx (trace, call ID)
// are kept but its cancellation is not.
func (d *Dispatcher) Dispatch(ctx context.Context, rec Record) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		observe.Logger(ctx).Error("record dropped, dispatcher closed",
			"record_id", rec.ID.String(), "call_id", rec.CallID)
		d.metrics.RecordSink(ctx, d.sink.Name(), "dropped")
		return ErrClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go d.save(context.WithoutCancel(ctx), rec)
	return nil
}

func (d *Dispatcher) save(ctx context.Context, rec Record) {
	defer d.wg.Done()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer d.sem.Release(1)

	ctx, span := observe.StartSpan(ctx, "record.save")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	log := observe.Logger(ctx).With("sink", d.sink.Name(), "record_id", rec.ID.String(), "call_id", rec.CallID)
	start := time.Now()
	err := d.sink.Save(ctx, rec)
	d.metrics.SinkDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("sink", d.sink.Name())))

	switch {
	case err == nil:
		d.metrics.RecordSink(ctx, d.sink.Name(), "ok")
		log.Info("record saved", "fields", len(rec.Fields), "flags", len(rec.Flags))
	case errors.Is(err, ErrDuplicate):
		d.metrics.RecordSink(ctx, d.sink.Name(), "duplicate")
		log.Warn("record already saved", "err", err)
	default:
		span.RecordError(err)
		d.metrics.RecordSink(ctx, d.sink.Name(), "error")
		log.Error("record save failed", "err", err)
	}
	if d.onSaved != nil {
		d.onSaved(rec, err)
	}
}

// Close stops accepting records and waits for in-flight saves until ctx is
// done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
