package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"prisched/internal/config"
	"prisched/internal/storage"
	logx "prisched/pkg/logx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestAppReturnsDelayedTasksOnStop(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
logging:
  level: error
  console: true
scheduler:
  workers: 2
report:
  driver: file
  path: `+filepath.Join(dir, "report")+`
tasks:
  - {id: ABC, priority: 2, delay: 20ms}
  - {id: DEF, priority: 1, delay: 20ms}
  - {id: GHI, priority: 1, delay: 1h}
  - {id: JKL, priority: 1, delay: 1h}
run_for: 3s
`)

	a, err := New(path)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if a.RunFor() != 3*time.Second {
		t.Fatalf("RunFor() = %v, want 3s", a.RunFor())
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for a.Scheduler().Snapshot().Engine.Executed < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("ABC and DEF did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	got := a.Stop(stopCtx, StopRunFor)
	if want := []string{"GHI", "JKL"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Stop() = %v, want %v", got, want)
	}
	if again := a.Stop(stopCtx, StopRunFor); !reflect.DeepEqual(again, got) {
		t.Fatalf("second Stop() = %v, want %v", again, got)
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "report")}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen report: %v", err)
	}
	defer st.Close()
	recs, err := st.RecentExecutions(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentExecutions() error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("report has %d records, want 2: %+v", len(recs), recs)
	}
}

func TestAppRejectsBadConfig(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  workers: -1\n")
	if _, err := New(path); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestBodyWorksThenFails(t *testing.T) {
	run, err := body("tasks[0]", "10ms", "exploded")
	if err != nil {
		t.Fatalf("body() error: %v", err)
	}
	start := time.Now()
	if err := run(context.Background()); err == nil || err.Error() != "exploded" {
		t.Fatalf("run() error = %v, want exploded", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("run() returned before its work duration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow, _ := body("tasks[1]", "1h", "")
	if err := slow(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled run() error = %v, want context.Canceled", err)
	}

	if _, err := body("tasks[2]", "soon", ""); err == nil {
		t.Fatalf("expected error for bad work duration")
	}
}

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		report  *config.ReportConfig
		enabled bool
		driver  string
		wantErr bool
	}{
		{name: "nil", report: nil},
		{name: "none", report: &config.ReportConfig{Driver: "none"}},
		{name: "file", report: &config.ReportConfig{Driver: "file", Path: "x"}, enabled: true, driver: "file"},
		{name: "sqlite", report: &config.ReportConfig{Driver: "SQLite", Path: "x.db"}, enabled: true, driver: "sqlite"},
		{name: "sqlite without path", report: &config.ReportConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", report: &config.ReportConfig{Driver: "mongo"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&config.Config{Report: tt.report})
			if (err != nil) != tt.wantErr {
				t.Fatalf("mapStorageConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if enabled != tt.enabled || sc.Driver != tt.driver {
				t.Fatalf("mapStorageConfig() = %+v, %v; want driver %q enabled %v", sc, enabled, tt.driver, tt.enabled)
			}
		})
	}
}
