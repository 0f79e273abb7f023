// Package contextstore maintains one merge-updated context document per
// tenant on top of the locked store, with an optional remote memory mirror.
package contextstore

import "time"

// Top-level document fields with domain merge rules.
const (
	KeyGoals         = "goals"
	KeyConstraints   = "constraints"
	KeyRecentChanges = "recent_changes"
	KeyActiveTasks   = "active_tasks"
	KeyWorkingMemory = "working_memory"
	KeyLastUpdated   = "last_updated"
)

// RecentChangesCap bounds the recent_changes field to the newest entries.
const RecentChangesCap = 10

const contextFileName = "context.json"

// Document is one tenant's context document as decoded JSON. The schema in
// schema.go constrains its shape; helpers below give typed access to the
// well-known fields.
type Document map[string]any

// DefaultDocument returns the empty default a tenant starts from (and resets
// to on Clear).
func DefaultDocument() Document {
	return Document{
		KeyGoals:         []any{},
		KeyConstraints:   []any{},
		KeyRecentChanges: []any{},
		KeyActiveTasks:   map[string]any{},
		KeyWorkingMemory: map[string]any{},
		KeyLastUpdated:   time.Now().UTC().Format(time.RFC3339),
	}
}

// Goals returns the goals field as strings.
func (d Document) Goals() []string { return toStringSlice(d[KeyGoals]) }

// Constraints returns the constraints field as strings.
func (d Document) Constraints() []string { return toStringSlice(d[KeyConstraints]) }

// RecentChanges returns the recent_changes field as strings.
func (d Document) RecentChanges() []string { return toStringSlice(d[KeyRecentChanges]) }

// LastUpdated parses the last_updated stamp; zero time when absent or bad.
func (d Document) LastUpdated() time.Time {
	s, _ := d[KeyLastUpdated].(string)
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}
