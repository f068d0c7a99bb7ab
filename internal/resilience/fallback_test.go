package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup() *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failing map[string]bool
		want    string
		wantErr error
	}{
		{name: "primary succeeds", want: "primary"},
		{name: "primary fails", failing: map[string]bool{"primary": true}, want: "secondary"},
		{name: "all fail", failing: map[string]bool{"primary": true, "secondary": true}, wantErr: ErrAllFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := newGroup()
			var called string
			err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
				if tt.failing[v] {
					return errTest
				}
				called = v
				return nil
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want %v wrapping errTest", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if called != tt.want {
				t.Errorf("called = %q, want %q", called, tt.want)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := newGroup()
	ctx := context.Background()

	for range 2 {
		_ = fg.Execute(ctx, func(_ context.Context, v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if got := fg.States()["primary"]; got != StateOpen {
		t.Fatalf("primary state = %v, want open", got)
	}

	var calls []string
	err := fg.Execute(ctx, func(_ context.Context, v string) error {
		calls = append(calls, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 || calls[0] != "secondary" {
		t.Errorf("calls = %v, want [secondary]", calls)
	}
}

func TestFallbackGroup_CancelledStopsWalk(t *testing.T) {
	t.Parallel()
	fg := newGroup()
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	err := fg.Execute(ctx, func(ctx context.Context, _ string) error {
		calls++
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("cancellation should not be reported as ErrAllFailed")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if fg.States()["primary"] != StateClosed {
		t.Error("cancellation should not count against the primary")
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(10, "ten", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	fg.AddFallback("twenty", 20)
	if fg.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", fg.Len())
	}

	result, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return "from-twenty", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "from-twenty" {
		t.Errorf("result = %q, want from-twenty", result)
	}
}
