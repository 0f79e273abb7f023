// Package lockstore is the file-backed, mutex-guarded persistence primitive
// underlying the context and episodic stores. Locking granularity is exactly
// one tenant's directory: never the whole store, never a single field.
package lockstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stancsz/agentcore/internal/otel"
	"github.com/stancsz/agentcore/internal/tenant"
)

// ErrLockTimeout reports that the per-tenant lock could not be acquired
// within the retry budget. Callers must treat this as fatal for the current
// operation; it is never silently skipped.
var ErrLockTimeout = errors.New("tenant lock acquisition timed out")

const (
	lockFileName = ".lock"

	defaultMaxAttempts = 10
	defaultBaseDelay   = 100 * time.Millisecond
	defaultMaxDelay    = 1 * time.Second
	defaultStaleAfter  = 10 * time.Second
)

// Store coordinates exclusive access to per-tenant backing directories. It
// combines an in-process mutex arena (two goroutines in this process never
// race for the same lock file) with an advisory on-disk lock file that
// excludes other processes.
type Store struct {
	baseDir string
	logger  *slog.Logger
	metrics *otel.Metrics

	arena sync.Map // tenant id -> *sync.Mutex

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	staleAfter  time.Duration
}

// Option tunes lock behavior. Production code uses the defaults; tests
// shorten the budgets.
type Option func(*Store)

// WithRetryBudget overrides attempt count and backoff bounds.
func WithRetryBudget(attempts int, base, max time.Duration) Option {
	return func(s *Store) {
		s.maxAttempts = attempts
		s.baseDelay = base
		s.maxDelay = max
	}
}

// WithStaleThreshold overrides the age at which a held lock is declared
// abandoned and reclaimable.
func WithStaleThreshold(d time.Duration) Option {
	return func(s *Store) { s.staleAfter = d }
}

// WithMetrics wires lock instrumentation.
func WithMetrics(m *otel.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func New(baseDir string, opts ...Option) *Store {
	s := &Store{
		baseDir:     baseDir,
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		staleAfter:  defaultStaleAfter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseDir returns the store root.
func (s *Store) BaseDir() string { return s.baseDir }

// TenantDir validates the tenant id and returns its backing directory,
// creating it if absent. Validation happens before any path is constructed.
func (s *Store) TenantDir(id string) (string, error) {
	if err := tenant.ValidateID(id); err != nil {
		return "", err
	}
	dir := filepath.Join(s.baseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create tenant dir: %w", err)
	}
	return dir, nil
}

// WithLock runs fn with exclusive access to the tenant's backing directory.
// The directory is guaranteed to exist before fn runs. All reads and writes
// of the tenant's records must happen inside fn.
func (s *Store) WithLock(ctx context.Context, id string, fn func(dir string) error) error {
	dir, err := s.TenantDir(id)
	if err != nil {
		return err
	}

	mu := s.tenantMutex(id)
	mu.Lock()
	defer mu.Unlock()

	lockPath := filepath.Join(dir, lockFileName)
	if err := s.acquireFileLock(ctx, id, lockPath); err != nil {
		return err
	}
	defer s.releaseFileLock(lockPath)

	return fn(dir)
}

func (s *Store) tenantMutex(id string) *sync.Mutex {
	v, _ := s.arena.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// acquireFileLock takes the advisory cross-process lock with bounded backoff.
// A lock file older than the stale threshold belongs to a crashed holder and
// is reclaimed so one dead process cannot wedge the tenant forever.
func (s *Store) acquireFileLock(ctx context.Context, id, lockPath string) error {
	delay := s.baseDelay
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 && s.metrics != nil {
			s.metrics.LockRetries.Add(ctx, 1)
		}

		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339Nano))
			f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("open lock file for tenant %q: %w", id, err)
		}

		if s.reclaimIfStale(ctx, id, lockPath) {
			continue
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("lock wait for tenant %q: %w", id, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.maxDelay {
			delay = s.maxDelay
		}
	}
	return fmt.Errorf("tenant %q after %d attempts: %w", id, s.maxAttempts, ErrLockTimeout)
}

func (s *Store) reclaimIfStale(ctx context.Context, id, lockPath string) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		// Holder released between our open and stat; retry immediately.
		return os.IsNotExist(err)
	}
	if time.Since(info.ModTime()) < s.staleAfter {
		return false
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to reclaim stale lock", "tenant", id, "error", err)
		return false
	}
	s.logger.Warn("reclaimed stale tenant lock", "tenant", id, "age_threshold", s.staleAfter)
	if s.metrics != nil {
		s.metrics.LockStaleTakes.Add(ctx, 1)
	}
	return true
}

func (s *Store) releaseFileLock(lockPath string) {
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to release tenant lock", "path", lockPath, "error", err)
	}
}
