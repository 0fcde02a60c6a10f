// Package schema caches per-category attribute schemas for the process
// lifetime.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/catalogbridge/internal/metrics"
	"github.com/raphaelgruber/catalogbridge/internal/models"
	"golang.org/x/sync/singleflight"
)

// ErrSchemaUnavailable is returned when the remote schema fetch fails.
// The store does not retry; the fetcher owns its retry policy.
var ErrSchemaUnavailable = errors.New("schema unavailable")

// Fetcher retrieves a category's attribute schema from the marketplace.
type Fetcher interface {
	FetchSchema(ctx context.Context, categoryID string) (*models.AttributeSchema, error)
}

// Store is a read-mostly schema cache. Concurrent misses for the same
// category share a single remote fetch. Failed fetches are not cached.
type Store struct {
	fetcher Fetcher
	metrics *metrics.Collector
	logger  *slog.Logger

	mu      sync.RWMutex
	schemas map[string]*models.AttributeSchema
	group   singleflight.Group
}

// NewStore creates an empty store backed by fetcher.
func NewStore(fetcher Fetcher, mc *metrics.Collector, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		fetcher: fetcher,
		metrics: mc,
		logger:  logger,
		schemas: make(map[string]*models.AttributeSchema),
	}
}

// Get returns the schema for categoryID, fetching it on first use.
// The returned schema is shared and must not be modified.
func (s *Store) Get(ctx context.Context, categoryID string) (*models.AttributeSchema, error) {
	s.mu.RLock()
	cached, ok := s.schemas[categoryID]
	s.mu.RUnlock()
	if ok {
		s.metrics.RecordSchemaCacheHit()
		return cached, nil
	}
	return s.load(ctx, categoryID)
}

// Refresh refetches a schema and replaces the cached entry whole.
func (s *Store) Refresh(ctx context.Context, categoryID string) (*models.AttributeSchema, error) {
	s.group.Forget(categoryID)
	return s.load(ctx, categoryID)
}

// Len returns the number of cached schemas.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.schemas)
}

func (s *Store) load(ctx context.Context, categoryID string) (*models.AttributeSchema, error) {
	// The shared fetch outlives any single caller so one cancelled product
	// cannot fail the others waiting on it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(categoryID, func() (any, error) {
		start := time.Now()
		fetched, err := s.fetcher.FetchSchema(fetchCtx, categoryID)
		if err != nil {
			s.metrics.RecordError(metrics.OpSchemaFetch)
			s.logger.Warn("schema fetch failed", "category_id", categoryID, "error", err)
			return nil, fmt.Errorf("%w: category %s: %w", ErrSchemaUnavailable, categoryID, err)
		}
		s.metrics.RecordTiming(metrics.OpSchemaFetch, time.Since(start))
		if fetched == nil {
			return nil, fmt.Errorf("%w: category %s: empty response", ErrSchemaUnavailable, categoryID)
		}

		sc := *fetched
		sc.CategoryID = categoryID
		if sc.Attributes == nil {
			sc.Attributes = map[string]models.AttributeSpec{}
		}

		s.mu.Lock()
		s.schemas[categoryID] = &sc
		s.mu.Unlock()

		s.logger.Debug("schema cached", "category_id", categoryID, "attributes", len(sc.Attributes))
		return &sc, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.AttributeSchema), nil
	}
}
