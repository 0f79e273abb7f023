package history_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stancsz/agentcore/internal/history"
)

func openTestIndex(t *testing.T) *history.Index {
	t.Helper()
	idx, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func testRun(runID, taskID, tenant, status string, start time.Time) history.Run {
	return history.Run{
		RunID:     runID,
		TaskID:    taskID,
		TaskName:  "task " + taskID,
		Tenant:    tenant,
		StartTime: start,
		EndTime:   start.Add(30 * time.Second),
		Status:    status,
	}
}

func TestRecordAndRecentRuns(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	for i, run := range []history.Run{
		testRun("r1", "nightly", "acme", "completed", base),
		testRun("r2", "nightly", "acme", "failed", base.Add(1*time.Hour)),
		testRun("r3", "weekly", "globex", "completed", base.Add(2*time.Hour)),
	} {
		if err := idx.RecordRun(ctx, run); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	runs, err := idx.RecentRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if runs[0].RunID != "r3" || runs[2].RunID != "r1" {
		t.Fatalf("wrong order: %s..%s", runs[0].RunID, runs[2].RunID)
	}

	acme, err := idx.RecentRuns(ctx, "acme", 10)
	if err != nil {
		t.Fatalf("tenant filter: %v", err)
	}
	if len(acme) != 2 {
		t.Fatalf("got %d acme runs, want 2", len(acme))
	}
	for _, r := range acme {
		if r.Tenant != "acme" {
			t.Fatalf("leaked run from tenant %q", r.Tenant)
		}
	}
}

func TestRecordRunIsIdempotent(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	run := testRun("r1", "nightly", "acme", "failed", time.Now().UTC())
	if err := idx.RecordRun(ctx, run); err != nil {
		t.Fatalf("first record: %v", err)
	}
	run.Status = "completed"
	run.Error = ""
	if err := idx.RecordRun(ctx, run); err != nil {
		t.Fatalf("second record: %v", err)
	}

	runs, err := idx.RecentRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != "completed" {
		t.Fatalf("runs = %+v, want single completed row", runs)
	}
}

func TestStats(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	seed := []history.Run{
		testRun("r1", "nightly", "acme", "completed", base),
		testRun("r2", "nightly", "acme", "failed", base.Add(1*time.Hour)),
		testRun("r3", "nightly", "acme", "failed", base.Add(2*time.Hour)),
		testRun("r4", "weekly", "acme", "completed", base.Add(3*time.Hour)),
	}
	for _, run := range seed {
		if err := idx.RecordRun(ctx, run); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	stats, err := idx.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d task rows, want 2", len(stats))
	}
	// weekly ran most recently, so it sorts first.
	if stats[0].TaskID != "weekly" || stats[0].Total != 1 || stats[0].Failed != 0 {
		t.Fatalf("stats[0] = %+v", stats[0])
	}
	if stats[1].TaskID != "nightly" || stats[1].Total != 3 || stats[1].Failed != 2 {
		t.Fatalf("stats[1] = %+v", stats[1])
	}
	if stats[1].LastRunAt.IsZero() {
		t.Fatal("LastRunAt not populated")
	}
}
