package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	PageID  string `json:"pageId"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Query describes a search request scoped to one user's pages.
type Query struct {
	Text   string
	UserID string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push pages into a search index.
type Indexer interface {
	IndexPages(ctx context.Context, pages []PageRecord) error
	DeletePages(ctx context.Context, ids []string) error
}

// Index is a searcher that also maintains its own index.
type Index interface {
	Searcher
	Indexer
}

// PageRecord is the data we index for a page: its title and the plain
// text of its blocks.
type PageRecord struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Title  string `json:"title"`
	Text   string `json:"text"`
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
