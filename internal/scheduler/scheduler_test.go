package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// waitFor polls check at short intervals until it returns true or the deadline
// elapses. This avoids fixed time.Sleep calls that cause flaky tests.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

type recordingRunner struct {
	mu    sync.Mutex
	runs  []ScheduledTask
	err   error
	block chan struct{}
}

func (r *recordingRunner) RunScheduled(_ context.Context, task ScheduledTask, _ string) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.runs = append(r.runs, task)
	r.mu.Unlock()
	return r.err
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func writeTasksFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "tasks.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write tasks file: %v", err)
	}
	return path
}

func newTestScheduler(t *testing.T, dir string, runner Runner) *Scheduler {
	t.Helper()
	state, err := OpenState(filepath.Join(dir, "scheduler_state.json"))
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	return NewScheduler(Config{
		TasksPath: filepath.Join(dir, "tasks.yaml"),
		Runner:    runner,
		State:     state,
		RunLog:    NewRunLog(filepath.Join(dir, "runs")),
		Interval:  50 * time.Millisecond,
	})
}

func TestLoadTasksValidation(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "valid",
			yaml: "tasks:\n  - id: nightly\n    name: Nightly report\n    cron: \"0 2 * * *\"\n    prompt: build the report\n    company: acme\n",
		},
		{
			name:    "missing id",
			yaml:    "tasks:\n  - cron: \"0 2 * * *\"\n    prompt: p\n",
			wantErr: "id is required",
		},
		{
			name:    "duplicate id",
			yaml:    "tasks:\n  - {id: a, cron: \"* * * * *\", prompt: p}\n  - {id: a, cron: \"* * * * *\", prompt: p}\n",
			wantErr: "duplicate id",
		},
		{
			name:    "bad cron",
			yaml:    "tasks:\n  - {id: a, cron: \"not a cron\", prompt: p}\n",
			wantErr: "invalid cron",
		},
		{
			name:    "bad company",
			yaml:    "tasks:\n  - {id: a, cron: \"* * * * *\", prompt: p, company: \"../evil\"}\n",
			wantErr: "invalid tenant id",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTasksFile(t, dir, tc.yaml)
			_, err := LoadTasks(path)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("LoadTasks: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadTasksMissingFileIsEmpty(t *testing.T) {
	tasks, err := LoadTasks(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || len(tasks) != 0 {
		t.Fatalf("got %v, %v; want empty, nil", tasks, err)
	}
}

func TestTickFiresDueTask(t *testing.T) {
	dir := t.TempDir()
	writeTasksFile(t, dir, "tasks:\n  - {id: t1, name: T1, cron: \"*/5 * * * *\", prompt: do it, company: acme}\n")

	runner := &recordingRunner{}
	sched := newTestScheduler(t, dir, runner)
	if err := sched.reloadTasks(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	// Before the next cron slot nothing is due.
	sched.tick(context.Background(), time.Now())
	if runner.count() != 0 {
		t.Fatal("task fired before its slot")
	}

	// A tick past the next slot fires it exactly once.
	sched.tick(context.Background(), time.Now().Add(10*time.Minute))
	waitFor(t, 2*time.Second, func() bool { return runner.count() == 1 })

	if got := runner.runs[0]; got.ID != "t1" || got.Company != "acme" {
		t.Fatalf("ran task = %+v", got)
	}
}

func TestRunRecordWritten(t *testing.T) {
	dir := t.TempDir()
	writeTasksFile(t, dir, "tasks:\n  - {id: t1, name: T1, cron: \"* * * * *\", prompt: p}\n")

	runner := &recordingRunner{err: errors.New("pool saturated")}
	sched := newTestScheduler(t, dir, runner)
	if err := sched.reloadTasks(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	sched.tick(context.Background(), time.Now().Add(2*time.Minute))
	waitFor(t, 2*time.Second, func() bool { return runner.count() == 1 })
	sched.wg.Wait()

	runsDir := filepath.Join(dir, "runs")
	names, err := os.ReadDir(runsDir)
	if err != nil || len(names) != 1 {
		t.Fatalf("run dir = %v, %v; want one record", names, err)
	}
	runID := strings.TrimSuffix(names[0].Name(), ".json")
	rec, err := NewRunLog(runsDir).Read(runID)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if rec.Status != RunStatusFailed || !strings.Contains(rec.Error, "pool saturated") {
		t.Fatalf("record = %+v", rec)
	}
	if rec.TaskID != "t1" || rec.EndTime.Before(rec.StartTime) {
		t.Fatalf("record = %+v", rec)
	}
}

func TestOverlappingSlotSkipped(t *testing.T) {
	dir := t.TempDir()
	writeTasksFile(t, dir, "tasks:\n  - {id: t1, cron: \"* * * * *\", prompt: p}\n")

	runner := &recordingRunner{block: make(chan struct{})}
	sched := newTestScheduler(t, dir, runner)
	if err := sched.reloadTasks(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	base := time.Now()
	sched.tick(context.Background(), base.Add(1*time.Minute))
	waitFor(t, 2*time.Second, func() bool {
		sched.mu.Lock()
		defer sched.mu.Unlock()
		return sched.inflight["t1"]
	})

	// The next slot comes due while the first run is still going.
	sched.tick(context.Background(), base.Add(2*time.Minute))

	close(runner.block)
	sched.wg.Wait()
	if got := runner.count(); got != 1 {
		t.Fatalf("runs = %d, want 1 (overlap skipped)", got)
	}
}

func TestOrphanSurfacedOnStart(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "scheduler_state.json")
	orphaned := `{"pending":[{"task_id":"t9","run_id":"r9","tenant":"acme","started_at":"2026-08-27T00:00:00Z"}]}`
	if err := os.WriteFile(statePath, []byte(orphaned), 0o644); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	state, err := OpenState(statePath)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	orphans := state.Orphans()
	if len(orphans) != 1 || orphans[0].RunID != "r9" {
		t.Fatalf("orphans = %+v", orphans)
	}

	// The orphan is surfaced, not resumed: after reset the journal is empty.
	if err := state.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	reopened, err := OpenState(statePath)
	if err != nil {
		t.Fatalf("reopen state: %v", err)
	}
	if len(reopened.Orphans()) != 0 {
		t.Fatal("journal not cleared after reset")
	}
}

func TestStateJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "scheduler_state.json")
	state, err := OpenState(statePath)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}

	run := PendingRun{TaskID: "t1", RunID: "r1", Tenant: "acme", StartedAt: time.Now().UTC()}
	if err := state.MarkPending(run); err != nil {
		t.Fatalf("mark pending: %v", err)
	}

	// A fresh open (simulated crash) sees the pending run as an orphan.
	crashed, err := OpenState(statePath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := crashed.Orphans(); len(got) != 1 || got[0].TaskID != "t1" {
		t.Fatalf("orphans = %+v", got)
	}

	if err := state.Clear("r1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	cleared, err := OpenState(statePath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(cleared.Orphans()) != 0 {
		t.Fatal("cleared run still journaled")
	}
}

func TestRunNow(t *testing.T) {
	dir := t.TempDir()
	writeTasksFile(t, dir, "tasks:\n  - {id: t1, name: T1, cron: \"0 2 * * *\", prompt: p, company: acme}\n")

	runner := &recordingRunner{}
	sched := newTestScheduler(t, dir, runner)

	if err := sched.RunNow(context.Background(), "t1"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if runner.count() != 1 {
		t.Fatalf("runs = %d, want 1", runner.count())
	}

	if err := sched.RunNow(context.Background(), "nope"); err == nil {
		t.Fatal("RunNow with unknown id must fail")
	}
}

func TestSchedulerLoopRunsDueTasks(t *testing.T) {
	dir := t.TempDir()
	// Every-minute task already due relative to any wall clock minute is not
	// guaranteed within the test window, so pre-age the entry by hand.
	writeTasksFile(t, dir, "tasks:\n  - {id: t1, cron: \"* * * * *\", prompt: p}\n")

	runner := &recordingRunner{}
	sched := newTestScheduler(t, dir, runner)
	sched.Start(context.Background())
	defer sched.Stop()

	sched.mu.Lock()
	for _, e := range sched.entries {
		e.next = time.Now().Add(-time.Second)
	}
	sched.mu.Unlock()

	waitFor(t, 3*time.Second, func() bool { return runner.count() >= 1 })
}
