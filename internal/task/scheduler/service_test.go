package scheduler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"prisched/internal/eventbus"
	"prisched/internal/task"
	"prisched/internal/task/delay"
)

type runLog struct {
	mu  sync.Mutex
	ids []string
}

func (l *runLog) body(id string) func(context.Context) error {
	return func(context.Context) error {
		l.mu.Lock()
		l.ids = append(l.ids, id)
		l.mu.Unlock()
		return nil
	}
}

func (l *runLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestEligibleTasksRunInPriorityOrder(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1})
	defer s.Stop()

	gate := make(chan struct{})
	if err := s.Schedule(task.Task{ID: "gate", Priority: 0, Run: func(context.Context) error {
		<-gate
		return nil
	}}, 0); err != nil {
		t.Fatalf("Schedule(gate) error: %v", err)
	}
	waitFor(t, "gate to start", time.Second, func() bool { return s.Snapshot().Engine.InFlight == 1 })

	var rl runLog
	if err := s.Schedule(task.Task{ID: "ABC", Priority: 2, Run: rl.body("ABC")}, 20*time.Millisecond); err != nil {
		t.Fatalf("Schedule(ABC) error: %v", err)
	}
	if err := s.Schedule(task.Task{ID: "DEF", Priority: 1, Run: rl.body("DEF")}, 20*time.Millisecond); err != nil {
		t.Fatalf("Schedule(DEF) error: %v", err)
	}
	waitFor(t, "both delays to elapse", time.Second, func() bool { return s.Snapshot().Queued == 2 })
	close(gate)

	waitFor(t, "both tasks to run", time.Second, func() bool { return len(rl.snapshot()) == 2 })
	if got, want := rl.snapshot(), []string{"DEF", "ABC"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("run order = %v, want %v", got, want)
	}
}

func TestStopReturnsTasksStillDelayed(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 2})
	var rl runLog
	submit := []struct {
		id    string
		prio  int
		delay time.Duration
	}{
		{"ABC", 2, 20 * time.Millisecond},
		{"DEF", 1, 20 * time.Millisecond},
		{"GHI", 1, 500 * time.Millisecond},
		{"JKL", 1, 500 * time.Millisecond},
	}
	for _, sub := range submit {
		if err := s.Schedule(task.Task{ID: sub.id, Priority: sub.prio, Run: rl.body(sub.id)}, sub.delay); err != nil {
			t.Fatalf("Schedule(%s) error: %v", sub.id, err)
		}
	}
	waitFor(t, "short tasks to run", time.Second, func() bool { return len(rl.snapshot()) == 2 })

	got := s.Stop()
	if want := []string{"GHI", "JKL"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Stop() = %v, want %v", got, want)
	}

	// Cancelled submissions never run.
	time.Sleep(600 * time.Millisecond)
	if ran := rl.snapshot(); len(ran) != 2 {
		t.Fatalf("executed = %v, want only ABC and DEF", ran)
	}
}

func TestStopDrainsQueuedTasksInPriorityOrder(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1})
	gate := make(chan struct{})
	defer close(gate)
	_ = s.Schedule(task.Task{ID: "gate", Run: func(context.Context) error {
		<-gate
		return nil
	}}, 0)
	waitFor(t, "gate to start", time.Second, func() bool { return s.Snapshot().Engine.InFlight == 1 })

	for _, tk := range []task.Task{
		{ID: "c", Priority: 3},
		{ID: "a", Priority: 1},
		{ID: "b", Priority: 2},
	} {
		if err := s.Schedule(tk, 0); err != nil {
			t.Fatalf("Schedule(%s) error: %v", tk.ID, err)
		}
	}
	waitFor(t, "tasks to queue", time.Second, func() bool { return s.Snapshot().Queued == 3 })
	_ = s.Schedule(task.Task{ID: "late", Priority: 2}, time.Hour)

	got := s.Stop()
	if want := []string{"a", "b", "late", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Stop() = %v, want %v", got, want)
	}
	if n := s.Pending(); n != 0 {
		t.Fatalf("Pending() = %d after Stop, want 0", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1})
	_ = s.Schedule(task.Task{ID: "x"}, time.Hour)
	if got := s.Stop(); len(got) != 1 {
		t.Fatalf("first Stop() = %v, want [x]", got)
	}
	got := s.Stop()
	if got == nil || len(got) != 0 {
		t.Fatalf("second Stop() = %#v, want empty slice", got)
	}
	if s.State() != StateStopped {
		t.Fatalf("State() = %v, want stopped", s.State())
	}
}

func TestScheduleAfterStop(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1})
	s.Stop()
	err := s.Schedule(task.Task{ID: "x"}, 0)
	if !errors.Is(err, task.ErrStopped) {
		t.Fatalf("Schedule after Stop error = %v, want ErrStopped", err)
	}
}

func TestScheduleRejectsInvalidTask(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1})
	defer s.Stop()
	if err := s.Schedule(task.Task{ID: "  "}, 0); !errors.Is(err, task.ErrInvalidTask) {
		t.Fatalf("Schedule(blank id) error = %v, want ErrInvalidTask", err)
	}
	if n := s.Pending(); n != 0 {
		t.Fatalf("Pending() = %d, want 0", n)
	}
}

func TestFailingTaskDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1})
	defer s.Stop()
	var rl runLog
	_ = s.Schedule(task.Task{ID: "boom", Priority: 0, Run: func(context.Context) error { panic("boom") }}, 0)
	_ = s.Schedule(task.Task{ID: "err", Priority: 0, Run: func(context.Context) error { return errors.New("nope") }}, 0)
	_ = s.Schedule(task.Task{ID: "ok", Priority: 5, Run: rl.body("ok")}, 10*time.Millisecond)

	waitFor(t, "ok to run", time.Second, func() bool { return len(rl.snapshot()) == 1 })
	if snap := s.Snapshot(); snap.Engine.Failed != 2 {
		t.Fatalf("Failed = %d, want 2", snap.Engine.Failed)
	}
}

func TestStopDoesNotWaitForRunningTasks(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1})
	release := make(chan struct{})
	var done atomic.Bool
	_ = s.Schedule(task.Task{ID: "slow", Run: func(ctx context.Context) error {
		<-release
		done.Store(ctx.Err() == nil)
		return nil
	}}, 0)
	waitFor(t, "slow to start", time.Second, func() bool { return s.Snapshot().Engine.InFlight == 1 })

	if got := s.Stop(); len(got) != 0 {
		t.Fatalf("Stop() = %v, want empty", got)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if !done.Load() {
		t.Fatalf("running task was cancelled by Stop")
	}
}

func TestEventsPublished(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16, EventScheduled, EventQueued, EventStopped)
	defer unsub()

	s := New(Config{Workers: 1}, WithBus(bus))
	_ = s.Schedule(task.Task{ID: "now"}, 0)
	_ = s.Schedule(task.Task{ID: "later", Priority: 4}, time.Hour)
	waitFor(t, "now to run", time.Second, func() bool { return s.Snapshot().Engine.Executed == 1 })
	s.Stop()

	seen := map[string]int{}
	var stopped StoppedEvent
	timeout := time.After(time.Second)
	for seen[EventStopped] == 0 || seen[EventQueued] == 0 {
		select {
		case ev := <-ch:
			seen[ev.Type]++
			if se, ok := ev.Data.(StoppedEvent); ok {
				stopped = se
			}
		case <-timeout:
			t.Fatalf("missing events, seen %v", seen)
		}
	}
	if seen[EventScheduled] != 2 || seen[EventQueued] != 1 {
		t.Fatalf("events = %v, want 2 scheduled and 1 queued", seen)
	}
	if !reflect.DeepEqual(stopped.Unexecuted, []string{"later"}) {
		t.Fatalf("stopped.Unexecuted = %v, want [later]", stopped.Unexecuted)
	}
}

func TestMergeUnexecutedOrder(t *testing.T) {
	t.Parallel()

	now := time.Now()
	mk := func(seq uint64, id string, prio int, in time.Duration) *submission {
		return &submission{seq: seq, task: task.Task{ID: id, Priority: prio}, timer: deadlineTimer(now.Add(in))}
	}
	queued := []task.Task{{ID: "q1", Priority: 1}, {ID: "q3", Priority: 3}}
	waiting := []*submission{
		mk(1, "w3", 3, time.Second),
		mk(2, "w1-late", 1, 2*time.Second),
		mk(3, "w1-early", 1, time.Second),
		mk(4, "w0", 0, time.Hour),
	}
	got := mergeUnexecuted(queued, waiting)
	want := []string{"w0", "q1", "w1-early", "w1-late", "q3", "w3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mergeUnexecuted = %v, want %v", got, want)
	}
}

func TestRecurringSchedulesTasks(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1})
	defer s.Stop()

	var runs atomic.Int32
	name, err := s.AddRecurring("tick", "every:1s", 3, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("AddRecurring error: %v", err)
	}
	if name != "tick" {
		t.Fatalf("AddRecurring name = %q, want tick", name)
	}
	snap := s.Snapshot()
	if len(snap.Recurring) != 1 || snap.Recurring[0].Spec != "@every 1s" {
		t.Fatalf("Recurring = %+v, want one @every 1s entry", snap.Recurring)
	}

	waitFor(t, "recurring trigger", 3*time.Second, func() bool { return runs.Load() >= 1 })
	if hist := s.Snapshot().Engine.History; len(hist) == 0 || hist[0].Priority != 3 {
		t.Fatalf("History = %+v, want recurring run with priority 3", hist)
	}

	if !s.RemoveRecurring("tick") {
		t.Fatalf("RemoveRecurring(tick) = false, want true")
	}
	if s.RemoveRecurring("tick") {
		t.Fatalf("second RemoveRecurring(tick) = true, want false")
	}
}

func TestAddRecurringValidation(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1})
	if _, err := s.AddRecurring("", "1m", 0, nil); !errors.Is(err, task.ErrInvalidTask) {
		t.Fatalf("blank name error = %v, want ErrInvalidTask", err)
	}
	if _, err := s.AddRecurring("bad", "not-a-schedule", 0, nil); err == nil {
		t.Fatalf("expected error for bad schedule")
	}
	if _, err := s.AddRecurring("bad-cron", "cron:61 * * * *", 0, nil); err == nil {
		t.Fatalf("expected error for out of range cron")
	}
	s.Stop()
	if _, err := s.AddRecurring("late", "1m", 0, nil); !errors.Is(err, task.ErrStopped) {
		t.Fatalf("AddRecurring after Stop error = %v, want ErrStopped", err)
	}
}

// deadlineTimer builds a stopped timer that only carries a deadline.
func deadlineTimer(at time.Time) *delay.Timer {
	tm := delay.After(time.Until(at), func() {})
	tm.Stop()
	return tm
}
