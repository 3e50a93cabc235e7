package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"distill/api/internal/blocks"
	"distill/api/internal/config"
	"distill/api/internal/history"
	"distill/api/internal/logger"
	"distill/api/internal/realtime"
	"distill/api/internal/search"
	"distill/api/internal/store"
)

// fakeStore is an in-memory dataStore. Function fields override the
// default behaviour where a test needs a failure.
type fakeStore struct {
	mu     sync.Mutex
	clock  time.Time
	pages  map[string]store.Page
	rows   map[string][]blocks.Row
	texts  map[string]string
	synced map[string]store.SyncedBlock

	pingFn    func(context.Context) error
	reorderFn func(context.Context, string, *string, []string) error
	reordered [][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		pages:  make(map[string]store.Page),
		rows:   make(map[string][]blocks.Row),
		texts:  make(map[string]string),
		synced: make(map[string]store.SyncedBlock),
	}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) ListPages(_ context.Context, userID string) ([]store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Page
	for _, p := range f.pages {
		if p.UserID == userID && p.TrashedAt == nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *fakeStore) GetPage(_ context.Context, userID, pageID string) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[pageID]
	if !ok || p.UserID != userID {
		return store.Page{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) siblings(userID string, parentID *string) []store.Page {
	var out []store.Page
	for _, p := range f.pages {
		if p.UserID == userID && p.TrashedAt == nil && sameParent(p.ParentID, parentID) {
			out = append(out, p)
		}
	}
	return out
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (f *fakeStore) InsertPage(_ context.Context, page store.Page) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page.Position = len(f.siblings(page.UserID, page.ParentID))
	page.CreatedAt = f.tick()
	page.UpdatedAt = page.CreatedAt
	if page.Status == "" {
		page.Status = "crystallized"
	}
	if page.SourceType == "" {
		page.SourceType = "note"
	}
	f.pages[page.ID] = page
	return page, nil
}

func (f *fakeStore) UpdatePage(_ context.Context, userID, pageID string, patch store.PagePatch) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[pageID]
	if !ok || p.UserID != userID || p.TrashedAt != nil {
		return store.Page{}, sql.ErrNoRows
	}
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Icon != nil {
		p.Icon = *patch.Icon
	}
	f.pages[pageID] = p
	return p, nil
}

func (f *fakeStore) ToggleCollapse(_ context.Context, userID, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[pageID]
	if !ok || p.UserID != userID || p.TrashedAt != nil {
		return sql.ErrNoRows
	}
	p.Collapsed = !p.Collapsed
	f.pages[pageID] = p
	return nil
}

func (f *fakeStore) ReorderPages(ctx context.Context, userID string, parentID *string, pageIDs []string) error {
	if f.reorderFn != nil {
		return f.reorderFn(ctx, userID, parentID, pageIDs)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reordered = append(f.reordered, append([]string(nil), pageIDs...))
	for i, id := range pageIDs {
		p := f.pages[id]
		p.ParentID = parentID
		p.Position = i
		f.pages[id] = p
	}
	return nil
}

func (f *fakeStore) subtree(id string) []string {
	out := []string{id}
	for _, p := range f.pages {
		if p.ParentID != nil && *p.ParentID == id {
			out = append(out, f.subtree(p.ID)...)
		}
	}
	return out
}

func (f *fakeStore) TrashPage(_ context.Context, userID, pageID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	root, ok := f.pages[pageID]
	if !ok || root.UserID != userID || root.TrashedAt != nil {
		return sql.ErrNoRows
	}
	for _, id := range f.subtree(pageID) {
		p := f.pages[id]
		if p.TrashedAt != nil {
			continue
		}
		stamp := at
		p.TrashedAt = &stamp
		p.TrashRoot = id == pageID
		f.pages[id] = p
	}
	return nil
}

func (f *fakeStore) RestorePage(_ context.Context, userID, pageID string) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	root, ok := f.pages[pageID]
	if !ok || root.UserID != userID || !root.TrashRoot {
		return store.Page{}, sql.ErrNoRows
	}
	at := *root.TrashedAt
	for _, id := range f.subtree(pageID) {
		p := f.pages[id]
		if p.TrashedAt != nil && p.TrashedAt.Equal(at) {
			p.TrashedAt = nil
			p.TrashRoot = false
			f.pages[id] = p
		}
	}
	root = f.pages[pageID]
	if root.ParentID != nil {
		if parent, ok := f.pages[*root.ParentID]; !ok || parent.TrashedAt != nil {
			root.ParentID = nil
		}
	}
	root.Position = len(f.siblings(userID, root.ParentID)) - 1
	f.pages[pageID] = root
	return root, nil
}

func (f *fakeStore) ListTrash(_ context.Context, userID string) ([]store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Page
	for _, p := range f.pages {
		if p.UserID == userID && p.TrashRoot {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) purge(ids []string) {
	for _, id := range ids {
		delete(f.pages, id)
		delete(f.rows, id)
	}
}

func (f *fakeStore) DeletePermanent(_ context.Context, userID, pageID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[pageID]
	if !ok || p.UserID != userID || !p.TrashRoot {
		return nil, sql.ErrNoRows
	}
	ids := f.subtree(pageID)
	f.purge(ids)
	return ids, nil
}

func (f *fakeStore) EmptyTrash(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0)
	for _, p := range f.pages {
		if p.UserID == userID && p.TrashRoot {
			ids = append(ids, f.subtree(p.ID)...)
		}
	}
	f.purge(ids)
	return ids, nil
}

func (f *fakeStore) ListBlocks(_ context.Context, _ string, pageID string) ([]blocks.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]blocks.Row(nil), f.rows[pageID]...), nil
}

func (f *fakeStore) ReplaceBlocks(_ context.Context, userID, pageID string, rows []blocks.Row, searchText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[pageID]
	if !ok || p.UserID != userID || p.TrashedAt != nil {
		return sql.ErrNoRows
	}
	f.rows[pageID] = append([]blocks.Row(nil), rows...)
	f.texts[pageID] = searchText
	return nil
}

func (f *fakeStore) ListSyncedBlocks(_ context.Context, userID string) ([]store.SyncedBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.SyncedBlock
	for _, b := range f.synced {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) GetSyncedBlock(_ context.Context, userID, id string) (store.SyncedBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.synced[id]
	if !ok || b.UserID != userID {
		return store.SyncedBlock{}, sql.ErrNoRows
	}
	return b, nil
}

func (f *fakeStore) InsertSyncedBlock(_ context.Context, b store.SyncedBlock) (store.SyncedBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b.CreatedAt = f.tick()
	b.UpdatedAt = b.CreatedAt
	f.synced[b.ID] = b
	return b, nil
}

func (f *fakeStore) UpdateSyncedBlock(_ context.Context, userID, id string, title *string, content json.RawMessage) (store.SyncedBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.synced[id]
	if !ok || b.UserID != userID {
		return store.SyncedBlock{}, sql.ErrNoRows
	}
	if title != nil {
		b.Title = *title
	}
	b.Content = content
	b.UpdatedAt = f.tick()
	f.synced[id] = b
	return b, nil
}

func (f *fakeStore) DeleteSyncedBlock(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.synced[id]
	if !ok || b.UserID != userID {
		return sql.ErrNoRows
	}
	delete(f.synced, id)
	return nil
}

func (f *fakeStore) SyncedReferences(_ context.Context, userID, id string) ([]store.SyncedReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs := make([]store.SyncedReference, 0)
	for pageID, rows := range f.rows {
		p := f.pages[pageID]
		if p.UserID != userID || p.TrashedAt != nil {
			continue
		}
		for _, r := range rows {
			if r.Type == blocks.TypeSyncedBlock && r.Properties[blocks.PropSyncedBlockID] == id {
				refs = append(refs, store.SyncedReference{BlockID: r.ID, PageID: pageID, PageTitle: p.Title})
			}
		}
	}
	return refs, nil
}

func (f *fakeStore) findRow(blockID string) (string, int, bool) {
	for pageID, rows := range f.rows {
		for i, r := range rows {
			if r.ID == blockID {
				return pageID, i, true
			}
		}
	}
	return "", 0, false
}

func (f *fakeStore) ConvertBlock(_ context.Context, userID, blockID, syncedID string) (store.SyncedBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pageID, i, ok := f.findRow(blockID)
	if !ok {
		return store.SyncedBlock{}, sql.ErrNoRows
	}
	row := f.rows[pageID][i]
	if row.Type == blocks.TypeSyncedBlock {
		return store.SyncedBlock{}, store.ErrAlreadySynced
	}
	content, _ := json.Marshal([]map[string]any{{"type": row.Type, "content": row.Content}})
	b := store.SyncedBlock{ID: syncedID, UserID: userID, Content: content, CreatedAt: f.tick()}
	b.UpdatedAt = b.CreatedAt
	f.synced[syncedID] = b
	f.rows[pageID][i] = blocks.Row{
		ID: row.ID, PageID: pageID, ParentID: row.ParentID, Type: blocks.TypeSyncedBlock,
		Properties: map[string]any{blocks.PropSyncedBlockID: syncedID}, Position: row.Position,
	}
	return b, nil
}

func (f *fakeStore) LinkBlock(_ context.Context, userID, syncedID, blockID string) (blocks.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.synced[syncedID]; !ok || b.UserID != userID {
		return blocks.Row{}, sql.ErrNoRows
	}
	pageID, i, ok := f.findRow(blockID)
	if !ok {
		return blocks.Row{}, sql.ErrNoRows
	}
	row := f.rows[pageID][i]
	row.Type, row.Content = blocks.TypeSyncedBlock, ""
	row.Properties = map[string]any{blocks.PropSyncedBlockID: syncedID}
	f.rows[pageID][i] = row
	return row, nil
}

func (f *fakeStore) UnlinkBlock(_ context.Context, _ string, blockID string) (blocks.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pageID, i, ok := f.findRow(blockID)
	if !ok {
		return blocks.Row{}, sql.ErrNoRows
	}
	row := f.rows[pageID][i]
	if row.Type != blocks.TypeSyncedBlock {
		return blocks.Row{}, store.ErrNotSyncedRef
	}
	row.Type, row.Content, row.Properties = blocks.TypeText, "", nil
	f.rows[pageID][i] = row
	return row, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeHistory struct {
	mu       sync.Mutex
	recorded []history.Content
	removed  []string
	commits  map[string][]history.Commit
}

func (f *fakeHistory) Record(content history.Content, author, message string) (history.Commit, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, content)
	c := history.Commit{Hash: "hash-" + content.PageID, Message: message, Author: author}
	if f.commits == nil {
		f.commits = make(map[string][]history.Commit)
	}
	f.commits[content.PageID] = append([]history.Commit{c}, f.commits[content.PageID]...)
	return c, true, nil
}

func (f *fakeHistory) History(pageID string, _ int) ([]history.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits[pageID], nil
}

func (f *fakeHistory) ContentAt(pageID, hash string) (history.Content, history.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.recorded) - 1; i >= 0; i-- {
		if f.recorded[i].PageID == pageID && hash == "hash-"+pageID {
			return f.recorded[i], history.Commit{Hash: hash}, nil
		}
	}
	return history.Content{}, history.Commit{}, history.ErrNoHistory
}

func (f *fakeHistory) Remove(pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, pageID)
	return nil
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed map[string]search.PageRecord
	deleted []string
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := []search.Result{}
	for _, rec := range f.indexed {
		if rec.UserID == q.UserID && rec.Title == q.Text {
			results = append(results, search.Result{PageID: rec.ID, Title: rec.Title})
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

func (f *fakeSearch) IndexPage(page search.PageRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexed == nil {
		f.indexed = make(map[string]search.PageRecord)
	}
	f.indexed[page.ID] = page
}

func (f *fakeSearch) DeletePages(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	for _, id := range ids {
		delete(f.indexed, id)
	}
}

type testEnv struct {
	store   *fakeStore
	history *fakeHistory
	search  *fakeSearch
	bus     *realtime.LocalBus
	service *Service
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:   newFakeStore(),
		history: &fakeHistory{},
		search:  &fakeSearch{},
		bus:     realtime.NewLocalBus(),
	}
	env.service = newService(config.Config{DefaultUserID: "local"}, env.store, env.history, env.search, env.bus, logger.Nop())
	return env
}
