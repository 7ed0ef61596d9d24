package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"prisched/internal/eventbus"
	rtsup "prisched/internal/runtime/supervisor"
	logx "prisched/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service is a fixed-size worker pool draining a Source in priority order.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	src Source

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool

	inFlight    atomic.Int32
	peak        atomic.Int32
	executed    atomic.Uint64
	failed      atomic.Uint64
	idleWakeups atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem

	// Stack traces of panicking tasks are logged at most once per window.
	stackLog rate.Sometimes
}

func New(cfg Config, src Source, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		src:      src,
		stopCh:   make(chan struct{}),
		stackLog: rate.Sometimes{First: 1, Interval: warnThrottleEvery},
	}
}

func (s *Service) Workers() int { return s.cfg.Workers }

// Start launches the workers. Bodies receive contexts derived from ctx.
// Start is idempotent and does nothing after Shutdown.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.src == nil {
		return ErrNoSource
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	select {
	case <-s.stopCh:
		s.mu.Unlock()
		return nil
	default:
	}
	s.started = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "engine"))),
		// A broken worker should not take the pool down; it is restarted instead.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		idx := i
		name := fmt.Sprintf("worker.%d", idx)
		sup.GoRestart(name, func(c context.Context) error {
			s.worker(c, idx)
			select {
			case <-s.stopCh:
				return nil
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("task engine started", logx.Int("workers", workers), logx.Duration("default_timeout", s.cfg.DefaultTimeout))
	return nil
}

// Shutdown stops handing out new work and returns immediately.
// Workers finish the task they are running, then exit. In-flight bodies are
// not cancelled. Idempotent.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.mu.Lock()
		sup := s.sup
		s.mu.Unlock()
		if sup == nil {
			return
		}
		go func() {
			// Release the supervisor context once every worker is gone.
			_ = sup.Wait(context.Background())
			sup.Cancel()
		}()
		s.log.Info("task engine shutdown requested", logx.Int("in_flight", int(s.inFlight.Load())))
	})
}

// Wait blocks until all workers have exited after Shutdown, or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return ErrNotStarted
	}
	select {
	case <-s.stopCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := sup.Wait(ctx); err != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	return nil
}

func (s *Service) Running() bool {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	select {
	case <-s.stopCh:
		return false
	default:
		return started
	}
}

func (s *Service) Snapshot() Snapshot {
	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()

	return Snapshot{
		Workers:        s.cfg.Workers,
		Running:        s.Running(),
		InFlight:       int(s.inFlight.Load()),
		PeakInFlight:   int(s.peak.Load()),
		Executed:       s.executed.Load(),
		Failed:         s.failed.Load(),
		IdleWakeups:    s.idleWakeups.Load(),
		DefaultTimeout: s.cfg.DefaultTimeout,
		Supervisor:     sup.Counters(),
		History:        h,
	}
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, at time.Time, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}
