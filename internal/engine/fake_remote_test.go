package engine

import (
	"context"
	"sync"

	"distill/api/internal/blocks"
	"distill/api/internal/trash"
	"distill/api/internal/tree"
)

type call struct {
	name string
	args []any
}

// fakeRemote records calls; each operation delegates to an optional func.
type fakeRemote struct {
	mu    sync.Mutex
	calls []call

	treeFn            func(ctx context.Context) ([]*tree.Page, error)
	createPageFn      func(ctx context.Context, parentID, title string) (string, error)
	updatePageFn      func(ctx context.Context, id string, patch PagePatch) error
	toggleCollapseFn  func(ctx context.Context, id string) error
	reorderFn         func(ctx context.Context, ids []string, parentID string) error
	trashPageFn       func(ctx context.Context, id string) error
	restorePageFn     func(ctx context.Context, id string) error
	deletePermanentFn func(ctx context.Context, id string) error
	emptyTrashFn      func(ctx context.Context) error
	trashFn           func(ctx context.Context) ([]trash.Entry, error)
	blocksFn          func(ctx context.Context, pageID string) ([]blocks.Row, error)
	saveBlocksFn      func(ctx context.Context, pageID string, rows []blocks.Row) error
}

func (f *fakeRemote) record(name string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name: name, args: args})
}

func (f *fakeRemote) called(name string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRemote) Tree(ctx context.Context) ([]*tree.Page, error) {
	f.record("Tree")
	if f.treeFn != nil {
		return f.treeFn(ctx)
	}
	return nil, nil
}

func (f *fakeRemote) CreatePage(ctx context.Context, parentID, title string) (string, error) {
	f.record("CreatePage", parentID, title)
	if f.createPageFn != nil {
		return f.createPageFn(ctx, parentID, title)
	}
	return "pg_new", nil
}

func (f *fakeRemote) UpdatePage(ctx context.Context, id string, patch PagePatch) error {
	f.record("UpdatePage", id, patch)
	if f.updatePageFn != nil {
		return f.updatePageFn(ctx, id, patch)
	}
	return nil
}

func (f *fakeRemote) ToggleCollapse(ctx context.Context, id string) error {
	f.record("ToggleCollapse", id)
	if f.toggleCollapseFn != nil {
		return f.toggleCollapseFn(ctx, id)
	}
	return nil
}

func (f *fakeRemote) Reorder(ctx context.Context, ids []string, parentID string) error {
	f.record("Reorder", ids, parentID)
	if f.reorderFn != nil {
		return f.reorderFn(ctx, ids, parentID)
	}
	return nil
}

func (f *fakeRemote) TrashPage(ctx context.Context, id string) error {
	f.record("TrashPage", id)
	if f.trashPageFn != nil {
		return f.trashPageFn(ctx, id)
	}
	return nil
}

func (f *fakeRemote) RestorePage(ctx context.Context, id string) error {
	f.record("RestorePage", id)
	if f.restorePageFn != nil {
		return f.restorePageFn(ctx, id)
	}
	return nil
}

func (f *fakeRemote) DeletePermanent(ctx context.Context, id string) error {
	f.record("DeletePermanent", id)
	if f.deletePermanentFn != nil {
		return f.deletePermanentFn(ctx, id)
	}
	return nil
}

func (f *fakeRemote) EmptyTrash(ctx context.Context) error {
	f.record("EmptyTrash")
	if f.emptyTrashFn != nil {
		return f.emptyTrashFn(ctx)
	}
	return nil
}

func (f *fakeRemote) Trash(ctx context.Context) ([]trash.Entry, error) {
	f.record("Trash")
	if f.trashFn != nil {
		return f.trashFn(ctx)
	}
	return nil, nil
}

func (f *fakeRemote) Blocks(ctx context.Context, pageID string) ([]blocks.Row, error) {
	f.record("Blocks", pageID)
	if f.blocksFn != nil {
		return f.blocksFn(ctx, pageID)
	}
	return nil, nil
}

func (f *fakeRemote) SaveBlocks(ctx context.Context, pageID string, rows []blocks.Row) error {
	f.record("SaveBlocks", pageID, rows)
	if f.saveBlocksFn != nil {
		return f.saveBlocksFn(ctx, pageID, rows)
	}
	return nil
}
