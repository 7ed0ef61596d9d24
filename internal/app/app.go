// Package app wires configuration, logging, the execution report and the
// scheduler into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"prisched/internal/config"
	"prisched/internal/eventbus"
	"prisched/internal/report"
	rtsup "prisched/internal/runtime/supervisor"
	"prisched/internal/storage"
	"prisched/internal/task/scheduler"
	logx "prisched/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	report *report.Service
	sched  *scheduler.Service

	runFor time.Duration

	stopOnce sync.Once
	stopped  []string
}

// New loads cfgPath and builds every component. The scheduler is running when
// New returns but nothing has been submitted yet.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	runFor, err := config.ParseDurationField("run_for", cfg.RunFor)
	if err != nil {
		return nil, err
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.LogxConfig())
	appLog := log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	var (
		store storage.Store
		rep   *report.Service
	)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		rep = report.New(st, bus, log.With(logx.String("comp", "report")), cfg.Report.Buffer)
		appLog.Info("execution report enabled", logx.String("driver", sc.Driver))
	}

	// Bodies get a context that outlives shutdown: Stop never cancels them.
	sched := scheduler.New(schedCfg,
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithBus(bus),
	)

	return &App{
		cfgm:   cfgm,
		cfg:    cfg,
		log:    appLog,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		report: rep,
		sched:  sched,
		runFor: runFor,
	}, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

// RunFor is how long the process should run before stopping. 0 means until signalled.
func (a *App) RunFor() time.Duration { return a.runFor }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start submits the configured work and begins watching the config file.
func (a *App) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if a.report != nil {
		if err := a.report.Start(ctx); err != nil {
			return err
		}
	}

	tasks, err := mapTasks(a.cfg)
	if err != nil {
		return err
	}
	for _, pt := range tasks {
		if err := a.sched.Schedule(pt.task, pt.delay); err != nil {
			return fmt.Errorf("submit %q: %w", pt.task.ID, err)
		}
	}
	for i, rc := range a.cfg.Recurring {
		run, err := body(fmt.Sprintf("recurring[%d]", i), rc.Work, rc.Fail)
		if err != nil {
			return err
		}
		if _, err := a.sched.AddRecurring(rc.Name, rc.Schedule, rc.Priority, run); err != nil {
			return fmt.Errorf("recurring %q: %w", rc.Name, err)
		}
	}

	a.sup.Go0("config.watch", func(c context.Context) {
		if err := a.cfgm.Watch(c); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	})
	a.sup.Go0("config.reload", a.reloadLoop)

	a.log.Info("started",
		logx.Int("workers", a.sched.Snapshot().Engine.Workers),
		logx.Int("tasks", len(tasks)),
		logx.Int("recurring", len(a.cfg.Recurring)),
		logx.Duration("run_for", a.runFor),
	)
	return nil
}

// reloadLoop applies logging changes from hot reload. Everything else is
// fixed for the life of the process and only reported.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Keep only the latest queued config.
		coalesce:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break coalesce
				}
			}

			ch := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(ch.Sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
			a.log.Debug("config change summary", fields...)
			if len(ch.RestartRequired) > 0 {
				a.log.Warn("config changed; restart required for changes to take effect",
					logx.Strs("settings", ch.RestartRequired))
			}
			if ch.Has("logging") {
				a.logs.Apply(newCfg.Logging.LogxConfig())
				a.log.Info("logging config applied", logx.String("level", newCfg.Logging.Level))
			}
		}
	}
}

// Stop halts the scheduler and returns the ids of tasks that never ran.
// It then gives running tasks until ctx is done to finish, flushes the
// report and closes the sinks. Later calls return the same ids.
func (a *App) Stop(ctx context.Context, reason StopReason) []string {
	a.stopOnce.Do(func() { a.stopped = a.stop(ctx, reason) })
	return a.stopped
}

func (a *App) stop(ctx context.Context, reason StopReason) []string {
	if ctx == nil {
		ctx = context.Background()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	ids := a.sched.Stop()

	step := a.stepper(ctx)
	step("drain", 5*time.Second, func(c context.Context) error { return a.sched.Wait(c) })
	step("report", time.Second, func(c context.Context) error {
		if a.report != nil {
			return a.report.Stop(c)
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if a.sup != nil {
			return a.sup.Wait(c)
		}
		return nil
	})

	a.log.Info("stopped", logx.Int("unexecuted", len(ids)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return ids
}

// stepper runs shutdown steps with an upper bound so one component can't
// stall the whole stop. The caller's deadline is never extended.
func (a *App) stepper(ctx context.Context) func(name string, limit time.Duration, fn func(context.Context) error) {
	return func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}
}
