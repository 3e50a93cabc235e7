package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	mu      sync.Mutex
	healthy bool
	results []Result
	err     error
	indexed []PageRecord
	deleted []string
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) Search(_ context.Context, q Query) ([]Result, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeIndex) IndexPages(_ context.Context, pages []PageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, pages...)
	return nil
}

func (f *fakeIndex) DeletePages(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return nil
}

type loaderFunc func(ctx context.Context) ([]PageRecord, error)

func (f loaderFunc) LoadAllRecords(ctx context.Context) ([]PageRecord, error) { return f(ctx) }

func TestSearchPrefersHealthyPrimary(t *testing.T) {
	primary := &fakeIndex{healthy: true, results: []Result{{PageID: "pg_meili"}}}
	fallback := &fakeIndex{healthy: true, results: []Result{{PageID: "pg_pg"}}}
	svc := NewService(primary, fallback, nil)

	resp := svc.Search(context.Background(), Query{Text: "plan", UserID: "u1"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "pg_meili", resp.Results[0].PageID)
	assert.Equal(t, "plan", resp.Query)
}

func TestSearchFallsBackOnPrimaryErrorOrOutage(t *testing.T) {
	fallback := &fakeIndex{healthy: true, results: []Result{{PageID: "pg_pg"}}}

	failing := NewService(&fakeIndex{healthy: true, err: errors.New("boom")}, fallback, nil)
	assert.Equal(t, "pg_pg", failing.Search(context.Background(), Query{Text: "x"}).Results[0].PageID)

	down := NewService(&fakeIndex{healthy: false}, fallback, nil)
	assert.Equal(t, "pg_pg", down.Search(context.Background(), Query{Text: "x"}).Results[0].PageID)

	none := NewService(nil, &fakeIndex{err: errors.New("db down")}, nil)
	resp := none.Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestIndexUpdatesRunInBackground(t *testing.T) {
	primary := &fakeIndex{healthy: true}
	svc := NewService(primary, nil, nil)

	svc.IndexPage(PageRecord{ID: "pg_1", Title: "Plan"})
	svc.DeletePages([]string{"pg_2"})
	svc.DeletePages(nil)
	svc.Wait()

	assert.Equal(t, []PageRecord{{ID: "pg_1", Title: "Plan"}}, primary.indexed)
	assert.Equal(t, []string{"pg_2"}, primary.deleted)
}

func TestIndexSkippedWithoutHealthyPrimary(t *testing.T) {
	svc := NewService(nil, nil, nil)
	svc.IndexPage(PageRecord{ID: "pg_1"})
	svc.Wait()

	unhealthy := &fakeIndex{}
	svc = NewService(unhealthy, nil, nil)
	svc.IndexPage(PageRecord{ID: "pg_1"})
	svc.ReindexAll(context.Background(), loaderFunc(func(context.Context) ([]PageRecord, error) {
		t.Fatal("loader must not run while primary is down")
		return nil, nil
	}))
	svc.Wait()
	assert.Empty(t, unhealthy.indexed)
}

func TestReindexAllLoadsEveryPage(t *testing.T) {
	primary := &fakeIndex{healthy: true}
	svc := NewService(primary, nil, nil)
	svc.ReindexAll(context.Background(), loaderFunc(func(context.Context) ([]PageRecord, error) {
		return []PageRecord{{ID: "a"}, {ID: "b"}}, nil
	}))
	assert.Len(t, primary.indexed, 2)
}
