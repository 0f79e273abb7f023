// Package episodic is the embedding-indexed append log of task experiences,
// one log per tenant. Episodes are immutable: corrections are stored as new
// episodes, never edits.
package episodic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stancsz/agentcore/internal/embedding"
	"github.com/stancsz/agentcore/internal/lockstore"
	"github.com/stancsz/agentcore/internal/otel"
	"github.com/stancsz/agentcore/internal/tenant"
)

const logFileName = "episodes.jsonl"

// Episode is one recorded unit of agent task experience.
type Episode struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	TenantID   string    `json:"tenant_id"`
	Request    string    `json:"request"`
	Solution   string    `json:"solution"`
	Artifacts  []string  `json:"artifacts,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Tags       []string  `json:"tags,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	TokenCount int       `json:"token_count,omitempty"`
}

// Store appends and recalls episodes per tenant, sharing the locked store's
// per-tenant locking discipline: stores to one tenant serialize, stores to
// different tenants proceed independently.
type Store struct {
	locks    *lockstore.Store
	embedder embedding.Embedder
	logger   *slog.Logger
	metrics  *otel.Metrics
}

type Option func(*Store)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics wires episodic instrumentation.
func WithMetrics(m *otel.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func NewStore(locks *lockstore.Store, embedder embedding.Embedder, opts ...Option) *Store {
	s := &Store{
		locks:    locks,
		embedder: embedder,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store validates the episode's tenant, embeds the request text, and appends
// the episode to the tenant's log under the tenant lock. An embedding failure
// is not fatal: the episode is stored without a vector and recall falls back
// to keyword matching for it.
func (s *Store) Store(ctx context.Context, ep Episode) (Episode, error) {
	if err := tenant.ValidateID(ep.TenantID); err != nil {
		return Episode{}, err
	}
	if ep.TaskID == "" {
		return Episode{}, fmt.Errorf("episode task_id must be non-empty")
	}
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.Timestamp.IsZero() {
		ep.Timestamp = time.Now().UTC()
	}

	if len(ep.Embedding) == 0 && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, ep.Request)
		if err != nil {
			s.logger.Warn("embedding failed, storing episode without vector",
				"tenant", ep.TenantID, "task_id", ep.TaskID, "error", err)
		} else {
			ep.Embedding = vec
		}
	}

	err := s.locks.WithLock(ctx, ep.TenantID, func(dir string) error {
		f, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open episode log: %w", err)
		}
		defer f.Close()

		line, err := json.Marshal(ep)
		if err != nil {
			return fmt.Errorf("encode episode: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append episode: %w", err)
		}
		return f.Sync()
	})
	if err != nil {
		return Episode{}, err
	}
	if s.metrics != nil {
		s.metrics.EpisodesStored.Add(ctx, 1)
	}
	return ep, nil
}

// scored pairs an episode with its similarity to the query.
type scored struct {
	ep    Episode
	score float64
}

// Recall returns up to limit episodes for the tenant, most similar to the
// query first. The tenant boundary is absolute: the log file itself is
// per-tenant, so another tenant's episodes are never even read. When the
// query cannot be embedded, ranking degrades to keyword overlap.
func (s *Store) Recall(ctx context.Context, query string, limit int, tenantID string) ([]Episode, error) {
	start := time.Now()
	if err := tenant.ValidateID(tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	var queryVec []float32
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.logger.Warn("query embedding failed, falling back to keyword recall",
				"tenant", tenantID, "error", err)
		} else {
			queryVec = vec
		}
	}

	episodes, err := s.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	ranked := make([]scored, 0, len(episodes))
	for _, ep := range episodes {
		ranked = append(ranked, scored{ep: ep, score: similarity(queryVec, query, ep)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]Episode, len(ranked))
	for i, r := range ranked {
		out[i] = r.ep
	}

	if s.metrics != nil {
		s.metrics.RecallDuration.Record(ctx, time.Since(start).Seconds())
	}
	return out, nil
}

// List returns every episode in the tenant's log in append order. Corrupt
// lines are skipped with a warning rather than failing the whole read.
func (s *Store) List(ctx context.Context, tenantID string) ([]Episode, error) {
	var episodes []Episode
	err := s.locks.WithLock(ctx, tenantID, func(dir string) error {
		f, err := os.Open(filepath.Join(dir, logFileName))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("open episode log: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			var ep Episode
			if err := json.Unmarshal(scanner.Bytes(), &ep); err != nil {
				s.logger.Warn("skipping corrupt episode line", "tenant", tenantID, "error", err)
				continue
			}
			episodes = append(episodes, ep)
		}
		return scanner.Err()
	})
	if err != nil {
		return nil, err
	}
	return episodes, nil
}

// Archive moves episodes older than the cutoff into episodes.archive.jsonl,
// shrinking the active log. This is the only sanctioned way episodes leave
// the store.
func (s *Store) Archive(ctx context.Context, tenantID string, before time.Time) (int, error) {
	moved := 0
	err := s.locks.WithLock(ctx, tenantID, func(dir string) error {
		logPath := filepath.Join(dir, logFileName)
		episodes, keep, err := splitByAge(logPath, before)
		if err != nil || len(episodes) == 0 {
			return err
		}

		archive, err := os.OpenFile(filepath.Join(dir, "episodes.archive.jsonl"),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer archive.Close()
		for _, ep := range episodes {
			line, err := json.Marshal(ep)
			if err != nil {
				return err
			}
			if _, err := archive.Write(append(line, '\n')); err != nil {
				return err
			}
		}

		tmp := logPath + ".tmp"
		f, err := os.Create(tmp)
		if err != nil {
			return err
		}
		w := bufio.NewWriter(f)
		for _, ep := range keep {
			line, err := json.Marshal(ep)
			if err != nil {
				f.Close()
				return err
			}
			w.Write(append(line, '\n'))
		}
		if err := w.Flush(); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		if err := os.Rename(tmp, logPath); err != nil {
			return err
		}
		moved = len(episodes)
		return nil
	})
	return moved, err
}

func splitByAge(logPath string, before time.Time) (old, recent []Episode, err error) {
	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ep Episode
		if jsonErr := json.Unmarshal(scanner.Bytes(), &ep); jsonErr != nil {
			continue
		}
		if ep.Timestamp.Before(before) {
			old = append(old, ep)
		} else {
			recent = append(recent, ep)
		}
	}
	return old, recent, scanner.Err()
}

// similarity scores an episode against the query: cosine similarity when both
// vectors exist, keyword overlap otherwise.
func similarity(queryVec []float32, query string, ep Episode) float64 {
	if len(queryVec) > 0 && len(ep.Embedding) > 0 {
		return embedding.Cosine(queryVec, ep.Embedding)
	}
	return keywordOverlap(query, ep.Request)
}

// keywordOverlap is the degraded ranking path: the fraction of query tokens
// present in the episode's request text.
func keywordOverlap(query, request string) float64 {
	queryToks := embedding.Tokenize(query)
	if len(queryToks) == 0 {
		return 0
	}
	reqSet := make(map[string]struct{})
	for _, tok := range embedding.Tokenize(request) {
		reqSet[tok] = struct{}{}
	}
	hits := 0
	for _, tok := range queryToks {
		if _, ok := reqSet[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryToks))
}
