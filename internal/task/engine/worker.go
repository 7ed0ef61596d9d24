package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"prisched/internal/task"
	logx "prisched/pkg/logx"
)

func (s *Service) worker(ctx context.Context, idx int) {
	woken := false
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		t, ok := s.src.PopMin()
		if !ok {
			if woken {
				s.idleWakeups.Add(1)
			}
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-s.src.Ready():
				woken = true
			}
			continue
		}
		woken = false

		// Pass the wake-up on so another idle worker picks up the remainder.
		if !s.src.IsEmpty() {
			s.src.Signal()
		}
		s.execOne(ctx, t, idx)
	}
}

func (s *Service) execOne(ctx context.Context, t task.Task, idx int) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	start := time.Now()
	runID := uuid.NewString()
	ev := TaskEvent{RunID: runID, ID: t.ID, Priority: t.Priority, Worker: idx, Started: start}

	s.log.Info("task.executing", logx.String("id", t.ID), logx.Int("priority", t.Priority), logx.Int("worker", idx))
	s.publish(EventStarted, start, ev)

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}

	// Guard against task panics: convert to an error so one bad task can't
	// kill the worker or the pool.
	var execErr *task.ExecutionError
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = &task.ExecutionError{ID: t.ID, Panic: r, Err: fmt.Errorf("panic: %v", r), Stack: string(debug.Stack())}
			}
		}()
		if err := runFunc(t)(runCtx); err != nil {
			execErr = &task.ExecutionError{ID: t.ID, Err: err}
		}
	}()
	if cancel != nil {
		cancel()
	}

	dur := time.Since(start)
	ev.Duration = dur
	item := HistoryItem{RunID: runID, ID: t.ID, Priority: t.Priority, Worker: idx, Started: start, Duration: dur}

	if execErr != nil {
		s.failed.Add(1)
		item.Error = execErr.Error()
		ev.Error = item.Error
		ev.Panicked = execErr.IsPanic()

		fields := []logx.Field{logx.String("id", t.ID), logx.Err(execErr.Err), logx.Duration("dur", dur), logx.Int("worker", idx)}
		if execErr.IsPanic() {
			s.stackLog.Do(func() { fields = append(fields, logx.Stack(execErr.Stack)) })
			s.log.Error("task.panic", fields...)
		} else {
			s.log.Warn("task.failed", fields...)
		}
		s.publish(EventFailed, time.Now(), ev)
	} else {
		s.log.Debug("task.completed", logx.String("id", t.ID), logx.Duration("dur", dur), logx.Int("worker", idx))
		s.publish(EventFinished, time.Now(), ev)
	}
	s.record(item)
	s.executed.Add(1)
}
