package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/stancsz/agentcore/internal/lockstore"
)

// Mirror is the remote memory service boundary. Implementations are treated
// as unreliable: every call site here has a local fallback path.
type Mirror interface {
	Recall(ctx context.Context, key string) (map[string]any, bool, error)
	Store(ctx context.Context, key string, value map[string]any, metadata map[string]string) error
}

// Manager is the per-tenant context document store. All document access runs
// under the locked store's per-tenant mutual exclusion, so updates within one
// tenant are totally ordered and never lost to interleaving.
type Manager struct {
	locks  *lockstore.Store
	mirror Mirror // optional
	logger *slog.Logger
}

type ManagerOption func(*Manager)

// WithMirror configures the optional remote memory mirror.
func WithMirror(m Mirror) ManagerOption {
	return func(mgr *Manager) { mgr.mirror = m }
}

// WithManagerLogger overrides the default logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(mgr *Manager) { mgr.logger = l }
}

func NewManager(locks *lockstore.Store, opts ...ManagerOption) *Manager {
	m := &Manager{locks: locks, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Read returns the tenant's stored document. Absent or malformed records
// degrade to the schema-valid empty default; a malformed record logs a
// warning but never fails the caller.
func (m *Manager) Read(ctx context.Context, tenantID string) (Document, error) {
	var doc Document
	err := m.locks.WithLock(ctx, tenantID, func(dir string) error {
		doc = m.loadLocal(dir, tenantID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Update deep-merges partial into the tenant's current document, applies the
// domain rules from the field policy table, stamps last_updated, validates,
// and persists. A validation failure rejects the whole update; nothing is
// partially written. When a mirror is configured, the remote state is read
// and merged inside the same lock scope so local and remote cannot diverge
// mid-transaction.
func (m *Manager) Update(ctx context.Context, tenantID string, partial map[string]any) (Document, error) {
	var merged Document
	err := m.locks.WithLock(ctx, tenantID, func(dir string) error {
		base := map[string]any(m.loadLocal(dir, tenantID))

		if m.mirror != nil {
			remote, found, err := m.mirror.Recall(ctx, mirrorKey(tenantID))
			switch {
			case err != nil:
				m.logger.Warn("remote memory unreachable, using local context only",
					"tenant", tenantID, "error", err)
			case found:
				base = Merge(base, remote)
			}
		}

		result := Document(Merge(base, partial))
		result[KeyLastUpdated] = time.Now().UTC().Format(time.RFC3339)

		if err := ValidateDocument(result); err != nil {
			return fmt.Errorf("update rejected: %w", err)
		}

		if err := writeDocument(filepath.Join(dir, contextFileName), result); err != nil {
			return err
		}

		if m.mirror != nil {
			meta := map[string]string{"tenant": tenantID, "kind": "context"}
			if err := m.mirror.Store(ctx, mirrorKey(tenantID), result, meta); err != nil {
				// Local file is the durability backstop; remote write
				// failures degrade silently.
				m.logger.Warn("remote memory store failed, local copy persisted",
					"tenant", tenantID, "error", err)
			}
		}

		merged = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Clear resets the tenant's document to the empty default. The backing record
// stays in place.
func (m *Manager) Clear(ctx context.Context, tenantID string) error {
	return m.locks.WithLock(ctx, tenantID, func(dir string) error {
		return writeDocument(filepath.Join(dir, contextFileName), DefaultDocument())
	})
}

func (m *Manager) loadLocal(dir, tenantID string) Document {
	path := filepath.Join(dir, contextFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("context file unreadable, using default", "tenant", tenantID, "error", err)
		}
		return DefaultDocument()
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		m.logger.Warn("context file malformed, using default", "tenant", tenantID, "error", err)
		return DefaultDocument()
	}
	if err := ValidateDocument(doc); err != nil {
		m.logger.Warn("context file failed schema validation, using default", "tenant", tenantID, "error", err)
		return DefaultDocument()
	}
	return doc
}

// writeDocument persists atomically: temp file then rename, so a crash
// mid-write never leaves a truncated context.json behind.
func writeDocument(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode context document: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write context document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace context document: %w", err)
	}
	return nil
}

func mirrorKey(tenantID string) string {
	return "context:" + tenantID
}
