package store

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrAlreadySynced = errors.New("block is already a synced block reference")
	ErrNotSyncedRef  = errors.New("block is not a synced block reference")
)

type Page struct {
	ID         string
	UserID     string
	ParentID   *string
	Title      string
	Icon       string
	IsFolder   bool
	Position   int
	Status     string
	SourceType string
	Collapsed  bool
	TrashedAt  *time.Time
	TrashRoot  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type PagePatch struct {
	Title *string
	Icon  *string
}

type SyncedBlock struct {
	ID        string
	UserID    string
	Title     string
	Content   json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SyncedReference struct {
	BlockID   string
	PageID    string
	PageTitle string
}

// SearchRecord is the indexable view of a page.
type SearchRecord struct {
	ID     string
	UserID string
	Title  string
	Text   string
}
