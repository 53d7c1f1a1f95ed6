package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayFor(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		attempt int
		want    time.Duration
	}{
		{
			name:    "constant growth",
			policy:  Policy{Delay: 100 * time.Millisecond},
			attempt: 3,
			want:    100 * time.Millisecond,
		},
		{
			name:    "linear growth first attempt",
			policy:  Policy{Delay: 100 * time.Millisecond, Growth: GrowthLinear},
			attempt: 1,
			want:    100 * time.Millisecond,
		},
		{
			name:    "linear growth third attempt",
			policy:  Policy{Delay: 100 * time.Millisecond, Growth: GrowthLinear},
			attempt: 3,
			want:    300 * time.Millisecond,
		},
		{
			name:    "exponential growth",
			policy:  Policy{Delay: 100 * time.Millisecond, Growth: GrowthExponential},
			attempt: 3,
			want:    400 * time.Millisecond,
		},
		{
			name:    "exponential with custom multiplier",
			policy:  Policy{Delay: 100 * time.Millisecond, Growth: GrowthExponential, Multiplier: 3},
			attempt: 2,
			want:    300 * time.Millisecond,
		},
		{
			name:    "max delay caps growth",
			policy:  Policy{Delay: 100 * time.Millisecond, Growth: GrowthLinear, MaxDelay: 250 * time.Millisecond},
			attempt: 5,
			want:    250 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.DelayFor(tt.attempt)
			if got != tt.want {
				t.Errorf("DelayFor(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestDelayForJitterStaysInRange(t *testing.T) {
	p := Policy{Delay: 100 * time.Millisecond, Jitter: 0.5}

	for i := 0; i < 100; i++ {
		d := p.DelayFor(1)
		if d < 75*time.Millisecond || d > 125*time.Millisecond {
			t.Fatalf("jittered delay %v outside [75ms, 125ms]", d)
		}
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	retries := 0
	p := Policy{
		MaxAttempts: 5,
		Delay:       time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			retries++
		},
	}

	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if retries != 2 {
		t.Errorf("OnRetry invocations = %d, want 2", retries)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("always fails")
	calls := 0

	err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return sentinel
	})
	if err == nil {
		t.Fatal("Do() error = nil, want exhaustion error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("errors.Is(err, sentinel) = false, want true (err = %v)", err)
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sentinel := errors.New("transient")
	calls := 0

	err := Do(ctx, Policy{MaxAttempts: 10, Delay: time.Hour}, func(ctx context.Context) error {
		calls++
		cancel()
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want last attempt error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (cancel should stop the schedule)", calls)
	}
}

func TestDoValue(t *testing.T) {
	calls := 0
	got, err := DoValue(context.Background(), Policy{MaxAttempts: 3, Delay: time.Millisecond}, func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("not yet")
		}
		return "ready", nil
	})
	if err != nil {
		t.Fatalf("DoValue() error = %v, want nil", err)
	}
	if got != "ready" {
		t.Errorf("DoValue() = %q, want %q", got, "ready")
	}
}

func TestSleepRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Sleep(ctx, time.Hour)
	if err == nil {
		t.Fatal("Sleep() error = nil, want context error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Sleep returned after %v, want prompt cancellation", elapsed)
	}
}
