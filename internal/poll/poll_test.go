package poll_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raysh454/zapctl/internal/poll"
)

func sequence(values ...int) poll.StatusFunc {
	i := 0
	return func(context.Context) (int, error) {
		if i >= len(values) {
			return values[len(values)-1], nil
		}
		v := values[i]
		i++
		return v, nil
	}
}

func TestUntil_StopsAtComplete(t *testing.T) {
	t.Parallel()
	var ticks []int

	got, err := poll.Until(context.Background(), poll.Options{Interval: time.Millisecond},
		sequence(0, 35, 80, 100, 0), func(p int) { ticks = append(ticks, p) })
	if err != nil {
		t.Fatalf("Until: %v", err)
	}
	if got != 100 {
		t.Errorf("expected final 100, got %d", got)
	}
	want := []int{0, 35, 80}
	if len(ticks) != len(want) {
		t.Fatalf("expected ticks %v, got %v", want, ticks)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Errorf("tick %d: want %d, got %d", i, want[i], ticks[i])
		}
	}
}

func TestUntil_AlreadyCompleteNoTicks(t *testing.T) {
	t.Parallel()
	ticked := false
	got, err := poll.Until(context.Background(), poll.Options{Interval: time.Hour},
		sequence(100), func(int) { ticked = true })
	if err != nil {
		t.Fatalf("Until: %v", err)
	}
	if got != 100 || ticked {
		t.Errorf("expected immediate completion without ticks, got %d ticked=%v", got, ticked)
	}
}

func TestUntil_AboveHundredIsComplete(t *testing.T) {
	t.Parallel()
	got, err := poll.Until(context.Background(), poll.Options{}, sequence(50, 101), nil)
	if err != nil {
		t.Fatalf("Until: %v", err)
	}
	if got != 101 {
		t.Errorf("expected 101, got %d", got)
	}
}

func TestUntil_PacesByInterval(t *testing.T) {
	t.Parallel()
	interval := 20 * time.Millisecond
	start := time.Now()

	if _, err := poll.Until(context.Background(), poll.Options{Interval: interval}, sequence(10, 20, 100), nil); err != nil {
		t.Fatalf("Until: %v", err)
	}

	// three queries means two waits
	if elapsed := time.Since(start); elapsed < 2*interval-5*time.Millisecond {
		t.Errorf("expected at least ~%s elapsed, got %s", 2*interval, elapsed)
	}
}

func TestUntil_StatusErrorPropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("connection refused")
	calls := 0
	status := func(context.Context) (int, error) {
		calls++
		if calls == 2 {
			return 0, boom
		}
		return 40, nil
	}

	last, err := poll.Until(context.Background(), poll.Options{}, status, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped status error, got %v", err)
	}
	if last != 40 {
		t.Errorf("expected last observed 40, got %d", last)
	}
}

func TestUntil_ContextCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	status := func(context.Context) (int, error) {
		cancel()
		return 10, nil
	}

	_, err := poll.Until(ctx, poll.Options{Interval: time.Hour}, status, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestUntil_MaxWait(t *testing.T) {
	t.Parallel()
	_, err := poll.Until(context.Background(),
		poll.Options{Interval: 10 * time.Millisecond, MaxWait: 50 * time.Millisecond},
		sequence(5), nil)
	if !errors.Is(err, poll.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestUntil_NilStatus(t *testing.T) {
	t.Parallel()
	if _, err := poll.Until(context.Background(), poll.Options{}, nil, nil); err == nil {
		t.Fatal("expected error for nil status func")
	}
}
