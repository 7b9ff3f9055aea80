package predefined

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/funnel-agent/backend/pkg/logger"
)

var ErrQueryNotFound = errors.New("predefined query not found")

// Query is one curated catalog entry.
type Query struct {
	Title string `json:"title"`
	SQL   string `json:"sql"`
}

// Loader fetches the full catalog from its backing source.
type Loader interface {
	Load(ctx context.Context) ([]Query, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) ([]Query, error)

func (f LoaderFunc) Load(ctx context.Context) ([]Query, error) {
	return f(ctx)
}

// Catalog caches the loaded queries for a fixed TTL. A failed reload keeps
// serving the previous copy when there is one.
type Catalog struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	queries  []Query
	loadedAt time.Time
}

func NewCatalog(loader Loader, ttl time.Duration) *Catalog {
	return &Catalog{
		loader: loader,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (c *Catalog) List(ctx context.Context) ([]Query, error) {
	queries, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Query, len(queries))
	copy(out, queries)
	return out, nil
}

// Get looks a query up by title, ignoring case and surrounding space.
func (c *Catalog) Get(ctx context.Context, title string) (Query, error) {
	queries, err := c.load(ctx)
	if err != nil {
		return Query{}, err
	}
	want := strings.TrimSpace(title)
	for _, q := range queries {
		if strings.EqualFold(q.Title, want) {
			return q, nil
		}
	}
	return Query{}, fmt.Errorf("%w: %q", ErrQueryNotFound, title)
}

// Search returns queries whose title contains every word of keyword, title
// matches sorted alphabetically.
func (c *Catalog) Search(ctx context.Context, keyword string) ([]Query, error) {
	queries, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	words := strings.Fields(strings.ToLower(keyword))
	out := []Query{}
	for _, q := range queries {
		title := strings.ToLower(q.Title)
		matched := true
		for _, w := range words {
			if !strings.Contains(title, w) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// Invalidate drops the cached copy; the next read reloads.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedAt = time.Time{}
}

// Refresh reloads unconditionally.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.Invalidate()
	_, err := c.load(ctx)
	return err
}

func (c *Catalog) fresh() ([]Query, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loadedAt.IsZero() || c.now().Sub(c.loadedAt) >= c.ttl {
		return c.queries, false
	}
	return c.queries, true
}

func (c *Catalog) load(ctx context.Context) ([]Query, error) {
	if queries, ok := c.fresh(); ok {
		return queries, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loadedAt.IsZero() && c.now().Sub(c.loadedAt) < c.ttl {
		return c.queries, nil
	}

	queries, err := c.loader.Load(ctx)
	if err != nil {
		if c.queries != nil {
			logger.Warn("Failed to reload query catalog, serving stale copy", zap.Error(err))
			return c.queries, nil
		}
		return nil, fmt.Errorf("failed to load query catalog: %w", err)
	}

	c.queries = queries
	c.loadedAt = c.now()
	logger.Info("Query catalog loaded", zap.Int("queries", len(queries)))
	return queries, nil
}
