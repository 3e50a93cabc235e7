package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"distill/api/internal/blocks"
	"distill/api/internal/config"
	"distill/api/internal/export"
	"distill/api/internal/history"
	"distill/api/internal/logger"
	"distill/api/internal/order"
	"distill/api/internal/realtime"
	"distill/api/internal/search"
	"distill/api/internal/store"
	"distill/api/internal/trash"
	"distill/api/internal/tree"
	"distill/api/internal/util"
)

type CreatePageInput struct {
	ParentID *string `json:"parentId"`
	Title    string  `json:"title"`
}

type UpdatePageInput struct {
	Title *string `json:"title"`
	Icon  *string `json:"icon"`
}

type ReorderInput struct {
	PageIDs  []string `json:"pageIds"`
	ParentID *string  `json:"parentId"`
}

type SaveBlocksResult struct {
	Saved  int             `json:"saved"`
	Commit *history.Commit `json:"commit,omitempty"`
}

type dataStore interface {
	ListPages(ctx context.Context, userID string) ([]store.Page, error)
	GetPage(ctx context.Context, userID, pageID string) (store.Page, error)
	InsertPage(ctx context.Context, page store.Page) (store.Page, error)
	UpdatePage(ctx context.Context, userID, pageID string, patch store.PagePatch) (store.Page, error)
	ToggleCollapse(ctx context.Context, userID, pageID string) error
	ReorderPages(ctx context.Context, userID string, parentID *string, pageIDs []string) error
	TrashPage(ctx context.Context, userID, pageID string, at time.Time) error
	RestorePage(ctx context.Context, userID, pageID string) (store.Page, error)
	ListTrash(ctx context.Context, userID string) ([]store.Page, error)
	DeletePermanent(ctx context.Context, userID, pageID string) ([]string, error)
	EmptyTrash(ctx context.Context, userID string) ([]string, error)

	ListBlocks(ctx context.Context, userID, pageID string) ([]blocks.Row, error)
	ReplaceBlocks(ctx context.Context, userID, pageID string, rows []blocks.Row, searchText string) error

	ListSyncedBlocks(ctx context.Context, userID string) ([]store.SyncedBlock, error)
	GetSyncedBlock(ctx context.Context, userID, id string) (store.SyncedBlock, error)
	InsertSyncedBlock(ctx context.Context, b store.SyncedBlock) (store.SyncedBlock, error)
	UpdateSyncedBlock(ctx context.Context, userID, id string, title *string, content json.RawMessage) (store.SyncedBlock, error)
	DeleteSyncedBlock(ctx context.Context, userID, id string) error
	SyncedReferences(ctx context.Context, userID, id string) ([]store.SyncedReference, error)
	ConvertBlock(ctx context.Context, userID, blockID, syncedID string) (store.SyncedBlock, error)
	LinkBlock(ctx context.Context, userID, syncedID, blockID string) (blocks.Row, error)
	UnlinkBlock(ctx context.Context, userID, blockID string) (blocks.Row, error)

	Ping(ctx context.Context) error
}

type historyService interface {
	Record(content history.Content, author, message string) (history.Commit, bool, error)
	History(pageID string, limit int) ([]history.Commit, error)
	ContentAt(pageID, hash string) (history.Content, history.Commit, error)
	Remove(pageID string) error
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexPage(page search.PageRecord)
	DeletePages(ids []string)
}

type publisher interface {
	Publish(ctx context.Context, evt realtime.ChangeEvent) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	history  historyService
	search   searchService
	bus      publisher
	exporter *export.Service
	log      *logger.Logger
	now      func() time.Time
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	historySvc *history.Service,
	searchSvc *search.Service,
	bus realtime.Bus,
	log *logger.Logger,
) *Service {
	return newService(cfg, dataStore, historySvc, searchSvc, bus, log)
}

func newService(cfg config.Config, ds dataStore, hs historyService, ss searchService, bus publisher, log *logger.Logger) *Service {
	s := &Service{
		cfg:     cfg,
		store:   ds,
		history: hs,
		search:  ss,
		bus:     bus,
		log:     logger.OrNop(log).With("component", "app"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	s.exporter = export.NewService(s, log)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Pages

func toTreePage(p store.Page) tree.Page {
	return tree.Page{
		ID:         p.ID,
		ParentID:   p.ParentID,
		Title:      p.Title,
		Icon:       p.Icon,
		IsFolder:   p.IsFolder,
		Position:   p.Position,
		Status:     p.Status,
		SourceType: p.SourceType,
		Collapsed:  p.Collapsed,
		CreatedAt:  p.CreatedAt,
	}
}

func (s *Service) forest(ctx context.Context, userID string) (*tree.Forest, error) {
	pages, err := s.store.ListPages(ctx, userID)
	if err != nil {
		return nil, err
	}
	flat := make([]tree.Page, 0, len(pages))
	for _, p := range pages {
		flat = append(flat, toTreePage(p))
	}
	return tree.FromFlat(flat), nil
}

// Tree returns the user's live pages as a nested forest.
func (s *Service) Tree(ctx context.Context, userID string) ([]*tree.Page, error) {
	f, err := s.forest(ctx, userID)
	if err != nil {
		return nil, err
	}
	roots := f.Tree()
	if roots == nil {
		roots = []*tree.Page{}
	}
	return roots, nil
}

func normalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return tree.DefaultTitle
	}
	return title
}

func (s *Service) livePage(ctx context.Context, userID, pageID string) (store.Page, error) {
	page, err := s.store.GetPage(ctx, userID, pageID)
	if err != nil {
		return store.Page{}, err
	}
	if page.TrashedAt != nil {
		return store.Page{}, domainError(http.StatusConflict, CodePageTrashed, "Page is in the trash", map[string]any{"pageId": pageID})
	}
	return page, nil
}

func (s *Service) CreatePage(ctx context.Context, userID string, input CreatePageInput) (tree.Page, error) {
	parentID := input.ParentID
	if parentID != nil && strings.TrimSpace(*parentID) == "" {
		parentID = nil
	}
	if parentID != nil {
		if _, err := s.livePage(ctx, userID, *parentID); err != nil {
			return tree.Page{}, err
		}
	}
	created, err := s.store.InsertPage(ctx, store.Page{
		ID:       util.NewID("page"),
		UserID:   userID,
		ParentID: parentID,
		Title:    normalizeTitle(input.Title),
	})
	if err != nil {
		return tree.Page{}, err
	}
	s.search.IndexPage(search.PageRecord{ID: created.ID, UserID: userID, Title: created.Title})
	return toTreePage(created), nil
}

func (s *Service) UpdatePage(ctx context.Context, userID, pageID string, input UpdatePageInput) (tree.Page, error) {
	if input.Title == nil && input.Icon == nil {
		return tree.Page{}, validationError("title or icon is required", nil)
	}
	patch := store.PagePatch{Icon: input.Icon}
	if input.Title != nil {
		title := normalizeTitle(*input.Title)
		patch.Title = &title
	}
	updated, err := s.store.UpdatePage(ctx, userID, pageID, patch)
	if err != nil {
		return tree.Page{}, err
	}
	if patch.Title != nil {
		s.reindex(ctx, userID, []string{pageID})
	}
	return toTreePage(updated), nil
}

func (s *Service) ToggleCollapse(ctx context.Context, userID, pageID string) error {
	return s.store.ToggleCollapse(ctx, userID, pageID)
}

// Reorder makes input.PageIDs the ordered children of input.ParentID.
// Moves that would place a page under itself or a descendant are rejected
// before anything is written.
func (s *Service) Reorder(ctx context.Context, userID string, input ReorderInput) error {
	if len(input.PageIDs) == 0 {
		return validationError("pageIds is required", nil)
	}
	seen := make(map[string]bool, len(input.PageIDs))
	for _, id := range input.PageIDs {
		if seen[id] {
			return validationError("pageIds contains duplicates", map[string]any{"pageId": id})
		}
		seen[id] = true
	}

	f, err := s.forest(ctx, userID)
	if err != nil {
		return err
	}
	parent := ""
	if input.ParentID != nil {
		parent = *input.ParentID
		if !f.Has(parent) {
			return domainError(http.StatusNotFound, CodeNotFound, "Parent page not found", map[string]any{"parentId": parent})
		}
	}
	for _, id := range input.PageIDs {
		if err := order.Validate(f, id, parent); err != nil {
			if errors.Is(err, order.ErrCycle) {
				return domainError(http.StatusUnprocessableEntity, CodeCycle, "A page cannot be moved into itself or a descendant", map[string]any{"pageId": id})
			}
			if errors.Is(err, tree.ErrNotFound) {
				return domainError(http.StatusNotFound, CodeNotFound, "Page not found", map[string]any{"pageId": id})
			}
			return err
		}
	}
	if parent == "" {
		return s.store.ReorderPages(ctx, userID, nil, input.PageIDs)
	}
	return s.store.ReorderPages(ctx, userID, &parent, input.PageIDs)
}

// Trash

func (s *Service) TrashPage(ctx context.Context, userID, pageID string) error {
	if _, err := s.livePage(ctx, userID, pageID); err != nil {
		return err
	}
	f, err := s.forest(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.TrashPage(ctx, userID, pageID, s.now()); err != nil {
		return err
	}
	removed := make([]string, 0)
	for _, p := range f.Subtree(pageID) {
		removed = append(removed, p.ID)
	}
	s.search.DeletePages(removed)
	return nil
}

func (s *Service) RestorePage(ctx context.Context, userID, pageID string) (tree.Page, error) {
	page, err := s.store.GetPage(ctx, userID, pageID)
	if err != nil {
		return tree.Page{}, err
	}
	if page.TrashedAt == nil || !page.TrashRoot {
		return tree.Page{}, domainError(http.StatusConflict, CodeNotInTrash, "Page is not in the trash", map[string]any{"pageId": pageID})
	}
	restored, err := s.store.RestorePage(ctx, userID, pageID)
	if err != nil {
		return tree.Page{}, err
	}
	if f, err := s.forest(ctx, userID); err != nil {
		s.log.Warn("reindex restored pages failed", "page_id", pageID, "error", err)
	} else {
		ids := make([]string, 0)
		for _, p := range f.Subtree(pageID) {
			ids = append(ids, p.ID)
		}
		s.reindex(ctx, userID, ids)
	}
	return toTreePage(restored), nil
}

// ListTrash returns trash entries newest first.
func (s *Service) ListTrash(ctx context.Context, userID string) ([]trash.Entry, error) {
	pages, err := s.store.ListTrash(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries := make([]trash.Entry, 0, len(pages))
	for _, p := range pages {
		e := trash.Entry{ID: p.ID, Title: p.Title, SourceType: p.SourceType}
		if p.TrashedAt != nil {
			e.TrashedAt = *p.TrashedAt
		}
		entries = append(entries, e)
	}
	return trash.NewBin(entries).Entries(), nil
}

func (s *Service) DeletePermanent(ctx context.Context, userID, pageID string) error {
	ids, err := s.store.DeletePermanent(ctx, userID, pageID)
	if err != nil {
		return err
	}
	s.forget(ids)
	return nil
}

func (s *Service) EmptyTrash(ctx context.Context, userID string) (int, error) {
	ids, err := s.store.EmptyTrash(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.forget(ids)
	return len(ids), nil
}

// forget drops history and index entries of purged pages.
func (s *Service) forget(ids []string) {
	for _, id := range ids {
		if err := s.history.Remove(id); err != nil {
			s.log.Warn("remove page history failed", "page_id", id, "error", err)
		}
	}
	s.search.DeletePages(ids)
}

// Blocks

func (s *Service) Blocks(ctx context.Context, userID, pageID string) ([]blocks.Row, error) {
	if _, err := s.store.GetPage(ctx, userID, pageID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListBlocks(ctx, userID, pageID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []blocks.Row{}
	}
	return rows, nil
}

// SaveBlocks replaces the page's rows, records a history version when the
// content changed and refreshes the search index.
func (s *Service) SaveBlocks(ctx context.Context, userID, pageID string, rows []blocks.Row) (SaveBlocksResult, error) {
	page, err := s.livePage(ctx, userID, pageID)
	if err != nil {
		return SaveBlocksResult{}, err
	}
	seen := make(map[string]bool, len(rows))
	clean := make([]blocks.Row, 0, len(rows))
	for i, r := range rows {
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			return SaveBlocksResult{}, validationError("block id is required", map[string]any{"index": i})
		}
		if seen[r.ID] {
			return SaveBlocksResult{}, validationError("duplicate block id", map[string]any{"blockId": r.ID})
		}
		seen[r.ID] = true
		if r.Type == "" {
			r.Type = blocks.TypeText
		}
		r.PageID = pageID
		clean = append(clean, r)
	}

	text := blocks.Text(blocks.Hydrate(clean, blocks.HydrateOptions{}))
	if err := s.store.ReplaceBlocks(ctx, userID, pageID, clean, text); err != nil {
		return SaveBlocksResult{}, err
	}

	result := SaveBlocksResult{Saved: len(clean)}
	commit, changed, err := s.history.Record(history.Content{PageID: pageID, Title: page.Title, Blocks: clean}, userID, "Update content")
	if err != nil {
		s.log.Warn("record page history failed", "page_id", pageID, "error", err)
	} else if changed {
		result.Commit = &commit
	}
	s.search.IndexPage(search.PageRecord{ID: pageID, UserID: userID, Title: page.Title, Text: text})
	return result, nil
}

func (s *Service) reindex(ctx context.Context, userID string, pageIDs []string) {
	for _, id := range pageIDs {
		page, err := s.store.GetPage(ctx, userID, id)
		if err != nil {
			s.log.Warn("reindex page failed", "page_id", id, "error", err)
			continue
		}
		rows, err := s.store.ListBlocks(ctx, userID, id)
		if err != nil {
			s.log.Warn("reindex page blocks failed", "page_id", id, "error", err)
			continue
		}
		s.search.IndexPage(search.PageRecord{
			ID:     id,
			UserID: userID,
			Title:  page.Title,
			Text:   blocks.Text(blocks.Hydrate(rows, blocks.HydrateOptions{})),
		})
	}
}

// Search, history, export

func (s *Service) Search(ctx context.Context, userID, text string, limit, offset int) search.Response {
	return s.search.Search(ctx, search.Query{Text: text, UserID: userID, Limit: limit, Offset: offset})
}

func (s *Service) History(ctx context.Context, userID, pageID string, limit int) ([]history.Commit, error) {
	if _, err := s.store.GetPage(ctx, userID, pageID); err != nil {
		return nil, err
	}
	commits, err := s.history.History(pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if commits == nil {
		commits = []history.Commit{}
	}
	return commits, nil
}

func (s *Service) Version(ctx context.Context, userID, pageID, hash string) (history.Content, history.Commit, error) {
	if _, err := s.store.GetPage(ctx, userID, pageID); err != nil {
		return history.Content{}, history.Commit{}, err
	}
	return s.history.ContentAt(pageID, hash)
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return s.exporter.Export(ctx, req)
}

// ExportPage loads a page, or a historical version of it, with every synced
// block it transcludes resolved.
func (s *Service) ExportPage(ctx context.Context, userID, pageID, version string) (export.Page, error) {
	page, err := s.store.GetPage(ctx, userID, pageID)
	if err != nil {
		return export.Page{}, err
	}
	var rows []blocks.Row
	title := page.Title
	if version != "" {
		content, _, err := s.history.ContentAt(pageID, version)
		if err != nil {
			return export.Page{}, err
		}
		rows, title = content.Blocks, content.Title
	} else if rows, err = s.store.ListBlocks(ctx, userID, pageID); err != nil {
		return export.Page{}, err
	}

	doc := blocks.Hydrate(rows, blocks.HydrateOptions{})
	syncedDocs := make(map[string][]*blocks.Block)
	pending := syncedIDs(doc)
	for len(pending) > 0 {
		id := pending[0]
		pending = pending[1:]
		if _, done := syncedDocs[id]; done {
			continue
		}
		b, err := s.store.GetSyncedBlock(ctx, userID, id)
		if err != nil {
			// Missing synced blocks render as unavailable.
			s.log.Debug("synced block not resolved for export", "synced_block_id", id, "error", err)
			continue
		}
		content, err := syncedDoc(b)
		if err != nil {
			return export.Page{}, err
		}
		syncedDocs[id] = content
		pending = append(pending, syncedIDs(content)...)
	}

	return export.Page{
		ID:        page.ID,
		Title:     title,
		Icon:      page.Icon,
		UpdatedAt: page.UpdatedAt,
		Blocks:    doc,
		Synced:    syncedDocs,
	}, nil
}

func syncedIDs(doc []*blocks.Block) []string {
	var ids []string
	blocks.Walk(doc, func(b *blocks.Block, _ int) {
		if ref, ok := b.Body.(blocks.SyncedRef); ok && ref.SyncedBlockID != "" {
			ids = append(ids, ref.SyncedBlockID)
		}
	})
	return ids
}
