package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("boom", func(ctx context.Context) error { panic("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil {
		t.Fatal("Wait should surface the recovered panic")
	}
	if c := s.Counters(); c.Panics != 1 || c.Active != 0 || c.Started != 1 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}

func TestGoRestartRestartsUntilCleanExit(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		n := runs.Add(1)
		switch n {
		case 1:
			return errors.New("transient")
		case 2:
			panic("again")
		default:
			return nil
		}
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond), WithPublishFirstError(true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.Wait(ctx)

	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
	if c := s.Counters(); c.Restarts != 2 || c.Panics != 1 {
		t.Fatalf("unexpected counters: %+v", c)
	}
	if s.Err() == nil {
		t.Fatal("first error should be published")
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("expected final error after giving up")
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3 (initial + 2 restarts)", runs.Load())
	}
}

func TestStopCancelsContext(t *testing.T) {
	s := New(context.Background())
	s.Go0("loop", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop = %v, want nil", err)
	}
}
