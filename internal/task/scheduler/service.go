package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"prisched/internal/eventbus"
	"prisched/internal/task"
	"prisched/internal/task/delay"
	"prisched/internal/task/engine"
	"prisched/internal/task/queue"
	logx "prisched/pkg/logx"
)

type Service struct {
	// mu guards state and pending. Timer callbacks take it before inserting
	// into the store, so nothing can reach the store once Stop has run.
	mu      sync.Mutex
	state   State
	pending map[uint64]*submission
	seq     uint64

	cfg Config
	log logx.Logger
	bus eventbus.Bus

	store  *queue.Store
	engine *engine.Service

	// Recurring triggers.
	cmu       sync.Mutex
	loc       *time.Location
	parser    cron.Parser
	c         *cron.Cron
	recurring map[string]recurringDef

	// Trigger error throttling: key is recurring name.
	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

// New builds a scheduler and starts its workers. The returned Service is running.
func New(cfg Config, opts ...Option) *Service {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.ctx == nil {
		o.ctx = context.Background()
	}

	st := queue.New()
	s := &Service{
		pending:   map[uint64]*submission{},
		cfg:       cfg,
		log:       o.log,
		bus:       o.bus,
		store:     st,
		engine:    engine.New(cfg.engineConfig(), st, o.log.With(logx.String("comp", "engine")), o.bus),
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		recurring: map[string]recurringDef{},
		lastWarn:  map[string]time.Time{},
	}
	// Start only fails without a source; the store is always set here.
	_ = s.engine.Start(o.ctx)
	return s
}

// Schedule submits t to become eligible after d. It never blocks.
// A zero or negative d makes the task eligible immediately.
func (s *Service) Schedule(t task.Task, d time.Duration) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return fmt.Errorf("schedule %q: %w", t.ID, task.ErrStopped)
	}
	s.seq++
	sub := &submission{seq: s.seq, task: t}
	s.pending[sub.seq] = sub
	seq := sub.seq
	// The callback needs s.mu, so it cannot observe sub before timer is set.
	sub.timer = delay.After(d, func() { s.fire(seq) })
	deadline := sub.timer.Deadline()
	s.mu.Unlock()

	s.log.Debug("task scheduled", logx.String("id", t.ID), logx.Int("priority", t.Priority), logx.Duration("delay", d))
	s.publish(EventScheduled, SubmissionEvent{ID: t.ID, Priority: t.Priority, Delay: d, Deadline: deadline})
	return nil
}

// fire moves a submission whose delay elapsed into the store.
func (s *Service) fire(seq uint64) {
	s.mu.Lock()
	sub, ok := s.pending[seq]
	if !ok || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	delete(s.pending, seq)
	s.store.Insert(sub.task)
	s.mu.Unlock()

	s.publish(EventQueued, SubmissionEvent{ID: sub.task.ID, Priority: sub.task.Priority, Deadline: sub.timer.Deadline()})
}

// Stop halts the scheduler and returns the ids of every task that never ran.
//
// Order: ascending priority. Among equal priorities, tasks that had already
// become eligible come first in store order, then submissions still waiting on
// their delay, by deadline and then submission order.
//
// Stop does not wait for running tasks; use Wait for that. A second call
// returns an empty slice.
func (s *Service) Stop() []string {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return []string{}
	}
	s.state = StateStopped
	waiting := make([]*submission, 0, len(s.pending))
	for _, sub := range s.pending {
		// A callback that already started will find its entry gone.
		sub.timer.Stop()
		waiting = append(waiting, sub)
	}
	s.pending = map[uint64]*submission{}
	s.mu.Unlock()

	s.stopRecurring()
	s.engine.Shutdown()
	s.store.Close()
	queued := s.store.DrainAll()
	if !s.store.IsEmpty() {
		s.log.Error("pending store not empty after drain", logx.Int("left", s.store.Len()))
		panic("scheduler: pending store not empty after drain")
	}

	ids := mergeUnexecuted(queued, waiting)
	s.log.Info("scheduler stopped",
		logx.Int("queued", len(queued)),
		logx.Int("delayed", len(waiting)),
		logx.Strs("unexecuted", ids),
	)
	s.publish(EventStopped, StoppedEvent{Unexecuted: ids})
	return ids
}

// mergeUnexecuted merges the drained store (already in pop order) with the
// cancelled submissions.
func mergeUnexecuted(queued []task.Task, waiting []*submission) []string {
	sort.Slice(waiting, func(i, j int) bool {
		a, b := waiting[i], waiting[j]
		if a.task.Priority != b.task.Priority {
			return a.task.Priority < b.task.Priority
		}
		da, db := a.timer.Deadline(), b.timer.Deadline()
		if !da.Equal(db) {
			return da.Before(db)
		}
		return a.seq < b.seq
	})

	out := make([]string, 0, len(queued)+len(waiting))
	i, j := 0, 0
	for i < len(queued) && j < len(waiting) {
		if queued[i].Priority <= waiting[j].task.Priority {
			out = append(out, queued[i].ID)
			i++
		} else {
			out = append(out, waiting[j].task.ID)
			j++
		}
	}
	for ; i < len(queued); i++ {
		out = append(out, queued[i].ID)
	}
	for ; j < len(waiting); j++ {
		out = append(out, waiting[j].task.ID)
	}
	return out
}

// Wait blocks until tasks that were running when Stop was called have finished.
func (s *Service) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.engine.Wait(ctx)
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending counts tasks not yet handed to a worker: delayed plus queued.
func (s *Service) Pending() int {
	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	return n + s.store.Len()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	state := s.state
	delayed := len(s.pending)
	s.mu.Unlock()

	return Snapshot{
		State:     state,
		Timezone:  s.location().String(),
		Delayed:   delayed,
		Queued:    s.store.Len(),
		Engine:    s.engine.Snapshot(),
		Recurring: s.recurringInfo(),
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
