package lockstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stancsz/agentcore/internal/tenant"
)

func TestWithLockSerializesWrites(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithLock(ctx, "acme", func(dir string) error {
				path := filepath.Join(dir, "counter")
				cur := 0
				if data, err := os.ReadFile(path); err == nil {
					cur, _ = strconv.Atoi(string(data))
				}
				return os.WriteFile(path, []byte(strconv.Itoa(cur+1)), 0o644)
			})
			if err != nil {
				t.Errorf("WithLock: %v", err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(filepath.Join(store.BaseDir(), "acme", "counter"))
	if err != nil {
		t.Fatalf("read counter: %v", err)
	}
	got, _ := strconv.Atoi(string(data))
	if got != n {
		t.Errorf("counter = %d, want %d (lost update)", got, n)
	}
}

func TestWithLockRejectsInvalidTenant(t *testing.T) {
	store := New(t.TempDir())
	err := store.WithLock(context.Background(), "../evil", func(string) error {
		t.Fatal("fn must not run for invalid tenant")
		return nil
	})
	var invalid *tenant.ErrInvalidID
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want *tenant.ErrInvalidID", err)
	}
	// Nothing may have been created outside the base dir.
	if _, statErr := os.Stat(filepath.Join(store.BaseDir(), "..", "evil")); statErr == nil {
		t.Fatal("invalid tenant produced a filesystem path")
	}
}

func TestWithLockReclaimsStaleLock(t *testing.T) {
	store := New(t.TempDir(),
		WithRetryBudget(3, time.Millisecond, 5*time.Millisecond),
		WithStaleThreshold(50*time.Millisecond),
	)

	dir, err := store.TenantDir("acme")
	if err != nil {
		t.Fatal(err)
	}
	lockPath := filepath.Join(dir, ".lock")
	if err := os.WriteFile(lockPath, []byte("9999"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatal(err)
	}

	ran := false
	err = store.WithLock(context.Background(), "acme", func(string) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock should reclaim stale lock: %v", err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}
}

func TestWithLockExhaustsRetries(t *testing.T) {
	store := New(t.TempDir(),
		WithRetryBudget(3, time.Millisecond, 2*time.Millisecond),
		WithStaleThreshold(time.Hour),
	)

	dir, err := store.TenantDir("acme")
	if err != nil {
		t.Fatal(err)
	}
	// Fresh lock held by "another process" that never releases.
	if err := os.WriteFile(filepath.Join(dir, ".lock"), []byte("1234"), 0o644); err != nil {
		t.Fatal(err)
	}

	err = store.WithLock(context.Background(), "acme", func(string) error { return nil })
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
}

func TestTenantsLockIndependently(t *testing.T) {
	store := New(t.TempDir(), WithRetryBudget(2, time.Millisecond, 2*time.Millisecond))
	ctx := context.Background()

	// While holding A's lock, B must remain acquirable: per-tenant
	// granularity, not a global lock.
	err := store.WithLock(ctx, "tenant-a", func(string) error {
		done := make(chan error, 1)
		go func() {
			done <- store.WithLock(ctx, "tenant-b", func(string) error { return nil })
		}()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			return fmt.Errorf("tenant-b blocked behind tenant-a's lock")
		}
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestWithLockRespectsContextCancel(t *testing.T) {
	store := New(t.TempDir(),
		WithRetryBudget(10, 50*time.Millisecond, 100*time.Millisecond),
		WithStaleThreshold(time.Hour),
	)
	dir, err := store.TenantDir("acme")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".lock"), []byte("1234"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err = store.WithLock(ctx, "acme", func(string) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}
