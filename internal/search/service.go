package search

import (
	"context"
	"sync"
	"time"

	"distill/api/internal/logger"
)

// Loader supplies every page for a full reindex.
type Loader interface {
	LoadAllRecords(ctx context.Context) ([]PageRecord, error)
}

// Service is the facade that tries the primary index first and falls back
// to Postgres full-text search.
type Service struct {
	primary  Index
	fallback Searcher
	log      *logger.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. primary may be nil when Meilisearch
// is not configured.
func NewService(primary Index, fallback Searcher, log *logger.Logger) *Service {
	return &Service{primary: primary, fallback: fallback, log: logger.OrNop(log).With("component", "search")}
}

// Search tries the primary index if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("primary search failed, falling back", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("fallback search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPage indexes a page in the background.
func (s *Service) IndexPage(page PageRecord) {
	s.async("index page", func(ctx context.Context) error {
		return s.primary.IndexPages(ctx, []PageRecord{page})
	})
}

// DeletePages removes pages from the index in the background.
func (s *Service) DeletePages(ids []string) {
	if len(ids) == 0 {
		return
	}
	s.async("delete pages", func(ctx context.Context) error {
		return s.primary.DeletePages(ctx, ids)
	})
}

// ReindexAll pushes every page from loader into the primary index.
func (s *Service) ReindexAll(ctx context.Context, loader Loader) {
	if s.primary == nil || !s.primary.Healthy() || loader == nil {
		return
	}
	records, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error("reindex load failed", "error", err)
		return
	}
	if err := s.primary.IndexPages(ctx, records); err != nil {
		s.log.Error("reindex pages failed", "error", err)
		return
	}
	s.log.Info("reindexed pages", "count", len(records))
}

// Wait blocks until background index updates finish.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) async(op string, fn func(ctx context.Context) error) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Warn("search index update failed", "op", op, "error", err)
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
