// Package report writes an execution record for every task run the engine
// finishes. It is an observer: nothing it stores is read back by the scheduler.
package report

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"prisched/internal/eventbus"
	rtsup "prisched/internal/runtime/supervisor"
	"prisched/internal/storage"
	"prisched/internal/task/engine"
	logx "prisched/pkg/logx"
)

const (
	defaultBuffer = 256
	writeTimeout  = 2 * time.Second
)

var ErrNoStore = errors.New("report store not configured")

type Stats struct {
	Written uint64
	Failed  uint64
	// Dropped counts bus events lost because this subscriber was slow.
	Dropped uint64
}

// Service subscribes to task lifecycle events and appends them to a store.
type Service struct {
	mu      sync.Mutex
	store   storage.Store
	bus     eventbus.Bus
	log     logx.Logger
	buffer  int
	sup     *rtsup.Supervisor
	unsub   func()
	stopped bool

	written atomic.Uint64
	failed  atomic.Uint64

	// Write errors are logged at most once per window.
	errLog rate.Sometimes
}

func New(store storage.Store, bus eventbus.Bus, log logx.Logger, buffer int) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Service{
		store:  store,
		bus:    bus,
		log:    log,
		buffer: buffer,
		errLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// Start subscribes to the bus. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	if s.store == nil || s.bus == nil {
		return ErrNoStore
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || s.stopped {
		return nil
	}

	events, unsub := s.bus.Subscribe(s.buffer, engine.EventFinished, engine.EventFailed)
	s.unsub = unsub
	// The loop must outlive ctx so buffered events are still written on Stop.
	s.sup = rtsup.New(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log.With(logx.String("comp", "report"))),
		rtsup.WithCancelOnError(false),
	)
	s.sup.Go0("report.write", func(context.Context) {
		for ev := range events {
			s.handle(ev)
		}
	})
	s.log.Info("execution report started", logx.Int("buffer", s.buffer))
	return nil
}

// Stop unsubscribes, writes whatever is already buffered and returns once the
// writer exits or ctx is done. The store is not closed.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	sup, unsub := s.sup, s.unsub
	s.mu.Unlock()

	if sup == nil {
		return nil
	}
	unsub()
	err := sup.Wait(ctx)
	st := s.Stats()
	s.log.Info("execution report stopped",
		logx.Uint64("written", st.Written),
		logx.Uint64("failed", st.Failed),
	)
	return err
}

func (s *Service) Stats() Stats {
	st := Stats{Written: s.written.Load(), Failed: s.failed.Load()}
	if s.bus != nil {
		st.Dropped = s.bus.Dropped()
	}
	return st
}

func (s *Service) handle(ev eventbus.Event) {
	te, ok := ev.Data.(engine.TaskEvent)
	if !ok {
		return
	}
	rec := Record(te)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	err := s.store.AppendExecution(ctx, rec)
	cancel()
	if err != nil {
		s.failed.Add(1)
		s.errLog.Do(func() {
			s.log.Warn("execution record write failed", logx.String("id", rec.TaskID), logx.Err(err))
		})
		return
	}
	s.written.Add(1)
}

// Record converts an engine event into a storage record.
func Record(te engine.TaskEvent) storage.ExecutionRecord {
	outcome := storage.OutcomeOK
	switch {
	case te.Panicked:
		outcome = storage.OutcomePanic
	case te.Error != "":
		outcome = storage.OutcomeError
	}
	return storage.ExecutionRecord{
		RunID:    te.RunID,
		TaskID:   te.ID,
		Priority: te.Priority,
		Worker:   te.Worker,
		Started:  te.Started,
		Duration: te.Duration,
		Outcome:  outcome,
		Error:    te.Error,
	}
}
