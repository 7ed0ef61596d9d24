package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"prisched/internal/task"
	logx "prisched/pkg/logx"
)

const triggerWarnThrottle = 5 * time.Second

type recurringDef struct {
	name     string
	spec     string
	priority int
	entryID  cron.EntryID
}

// AddRecurring submits a fresh task every time schedule triggers.
//
// Supported schedule formats (see ParseSchedule):
//   - Cron: "*/5 * * * *", "*/10 * * * * *" (with seconds), "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// Each trigger schedules a task with id "<name>#<8 hex chars>" and no delay.
// Registering an existing name replaces it.
func (s *Service) AddRecurring(name, schedule string, priority int, run func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: recurring name required", task.ErrInvalidTask)
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	if s.State() == StateStopped {
		return "", fmt.Errorf("add recurring %q: %w", name, task.ErrStopped)
	}

	var sched cron.Schedule
	spec := ps.Cron
	switch ps.Kind {
	case SpecCron:
		sched, err = s.parser.Parse(ps.Cron)
		if err != nil {
			return "", fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
	case SpecInterval:
		sched = cron.Every(ps.Every)
		spec = "@every " + ps.Every.String()
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}

	job := cron.FuncJob(func() {
		id := name + "#" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		err := s.Schedule(task.Task{ID: id, Priority: priority, Run: run}, 0)
		if err != nil {
			s.reportTriggerError(name, err)
		}
	})

	s.cmu.Lock()
	defer s.cmu.Unlock()
	if s.c == nil {
		s.loc = s.loadLocation()
		s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
		s.c.Start()
	}
	if old, ok := s.recurring[name]; ok {
		s.c.Remove(old.entryID)
	}
	eid := s.c.Schedule(sched, job)
	s.recurring[name] = recurringDef{name: name, spec: spec, priority: priority, entryID: eid}

	s.log.Debug("recurring registered",
		logx.String("name", name),
		logx.String("spec", spec),
		logx.Int("priority", priority),
		logx.Time("next", sched.Next(time.Now().In(s.loc))),
	)
	return name, nil
}

// RemoveRecurring unregisters a recurring submission. It reports whether one existed.
func (s *Service) RemoveRecurring(name string) bool {
	name = strings.TrimSpace(name)
	s.cmu.Lock()
	defer s.cmu.Unlock()
	def, ok := s.recurring[name]
	if !ok {
		return false
	}
	if s.c != nil {
		s.c.Remove(def.entryID)
	}
	delete(s.recurring, name)
	s.log.Debug("recurring removed", logx.String("name", name))
	return true
}

func (s *Service) stopRecurring() {
	s.cmu.Lock()
	c := s.c
	s.c = nil
	s.recurring = map[string]recurringDef{}
	s.cmu.Unlock()
	if c == nil {
		return
	}
	// Jobs only call Schedule, which fails fast once stopped; don't hang on them.
	select {
	case <-c.Stop().Done():
	case <-time.After(time.Second):
	}
}

func (s *Service) recurringInfo() []RecurringInfo {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	out := make([]RecurringInfo, 0, len(s.recurring))
	for _, d := range s.recurring {
		info := RecurringInfo{Name: d.name, Spec: d.spec, Priority: d.priority}
		if s.c != nil {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) location() *time.Location {
	s.cmu.Lock()
	loc := s.loc
	s.cmu.Unlock()
	if loc != nil {
		return loc
	}
	return s.loadLocation()
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) reportTriggerError(name string, err error) {
	// Triggers racing with Stop are expected.
	if errors.Is(err, task.ErrStopped) {
		s.log.Debug("recurring trigger after stop", logx.String("name", name))
		return
	}

	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[name]
	if !last.IsZero() && now.Sub(last) < triggerWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[name] = now
	s.warnMu.Unlock()

	s.log.Warn("recurring trigger failed to schedule task", logx.String("name", name), logx.Err(err))
}
