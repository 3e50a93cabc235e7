package engine

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"distill/api/internal/blocks"
	"distill/api/internal/trash"
	"distill/api/internal/tree"
	"distill/api/internal/util"
)

// Load fetches the page tree and the trash from the server.
func (s *Store) Load(ctx context.Context) error {
	var (
		pages   []*tree.Page
		entries []trash.Entry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pages, err = s.remote.Tree(gctx)
		if err != nil {
			return fmt.Errorf("fetch tree: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		entries, err = s.remote.Trash(gctx)
		if err != nil {
			return fmt.Errorf("fetch trash: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	forest := tree.FromTree(pages)
	_, _ = s.update(func(st *State) error {
		st.Forest = forest
		st.Trash = trash.NewBin(entries)
		st.Loaded = true
		if st.Selected != "" && !forest.Has(st.Selected) {
			st.Selected = ""
		}
		return nil
	})
	return nil
}

// Refresh replaces the tree with the server's. Selection and favorites are
// local and survive the refresh.
func (s *Store) Refresh(ctx context.Context) error {
	pages, err := s.remote.Tree(ctx)
	if err != nil {
		return fmt.Errorf("refresh tree: %w", err)
	}
	forest := tree.FromTree(pages)
	_, _ = s.update(func(st *State) error {
		st.Forest = forest
		st.Loaded = true
		if st.Selected != "" && !forest.Has(st.Selected) {
			st.Selected = ""
		}
		return nil
	})
	return nil
}

func (s *Store) Page(id string) (tree.Page, bool) {
	return s.State().Forest.Get(s.ResolveID(id))
}

func (s *Store) Breadcrumb(id string) []tree.Page {
	return s.State().Forest.Path(s.ResolveID(id))
}

func (s *Store) Select(id string) error {
	id = s.ResolveID(id)
	_, err := s.update(func(st *State) error {
		if id != "" && !st.Forest.Has(id) {
			return fmt.Errorf("select %s: %w", id, ErrNotFound)
		}
		st.Selected = id
		return nil
	})
	return err
}

// Create adds a page as the last child of parentID ("" for root) and
// returns its server id.
func (s *Store) Create(ctx context.Context, parentID, title string) (string, error) {
	parentID = s.ResolveID(parentID)
	if strings.TrimSpace(title) == "" {
		title = tree.DefaultTitle
	}
	tempID := util.NewTempID()
	var prevSelected string

	return execute(ctx, s, command[string]{
		op: "create page",
		apply: func(st *State) error {
			if parentID != "" && !st.Forest.Has(parentID) {
				return fmt.Errorf("create page under %s: %w", parentID, ErrNotFound)
			}
			siblings := st.Forest.Children(parentID)
			page := tree.Page{
				ID:        tempID,
				Title:     title,
				Position:  len(siblings),
				CreatedAt: s.now(),
			}
			if err := st.Forest.Insert(page, parentID, len(siblings)); err != nil {
				return err
			}
			if parentID != "" {
				_ = st.Forest.Update(parentID, func(p *tree.Page) { p.Collapsed = false })
			}
			prevSelected = st.Selected
			st.Selected = tempID
			return nil
		},
		commit: func(ctx context.Context) (string, error) {
			return s.remote.CreatePage(ctx, s.ResolveID(parentID), title)
		},
		reconcile: func(st *State, realID string) {
			s.swapTemp(st, tempID, realID)
		},
		rollback: func(ctx context.Context, prev State) {
			_, _ = s.update(func(st *State) error {
				_, _ = st.Forest.Remove(tempID)
				if st.Selected == tempID {
					st.Selected = prevSelected
				}
				return nil
			})
		},
	})
}

// swapTemp replaces a placeholder with its server id. Runs under s.mu via
// update.
func (s *Store) swapTemp(st *State, tempID, realID string) {
	s.aliases[tempID] = realID
	switch {
	case !st.Forest.Has(tempID):
	case st.Forest.Has(realID):
		_, _ = st.Forest.Remove(tempID)
	default:
		if err := st.Forest.ReplaceID(tempID, realID); err != nil {
			s.log.Warn("swap temporary id", "temp_id", tempID, "page_id", realID, "error", err)
		}
	}
	if st.Selected == tempID {
		st.Selected = realID
	}
}

func (s *Store) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = tree.DefaultTitle
	}
	return s.patch(ctx, "rename page", id, PagePatch{Title: &title})
}

func (s *Store) SetIcon(ctx context.Context, id, icon string) error {
	return s.patch(ctx, "change page icon", id, PagePatch{Icon: &icon})
}

// patch writes the given fields optimistically. A failure reverts only
// those fields to the values captured before the write.
func (s *Store) patch(ctx context.Context, op, id string, patch PagePatch) error {
	id = s.ResolveID(id)
	var before tree.Page
	_, err := execute(ctx, s, command[struct{}]{
		op: op,
		apply: func(st *State) error {
			page, ok := st.Forest.Get(id)
			if !ok {
				return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
			}
			before = page
			return st.Forest.Update(id, func(p *tree.Page) { applyPatch(p, patch) })
		},
		commit: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.remote.UpdatePage(ctx, id, patch)
		},
		rollback: func(ctx context.Context, _ State) {
			_, _ = s.update(func(st *State) error {
				_ = st.Forest.Update(id, func(p *tree.Page) {
					if patch.Title != nil {
						p.Title = before.Title
					}
					if patch.Icon != nil {
						p.Icon = before.Icon
					}
				})
				return nil
			})
		},
	})
	return err
}

func applyPatch(p *tree.Page, patch PagePatch) {
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Icon != nil {
		p.Icon = *patch.Icon
	}
}

func (s *Store) ToggleFavorite(id string) {
	id = s.ResolveID(id)
	_, _ = s.update(func(st *State) error {
		if st.Favorites[id] {
			delete(st.Favorites, id)
		} else {
			st.Favorites[id] = true
		}
		return nil
	})
}

// ToggleExpand flips the collapsed flag locally and syncs it in the
// background. Sync failures are logged and otherwise ignored.
func (s *Store) ToggleExpand(ctx context.Context, id string) error {
	id = s.ResolveID(id)
	_, err := s.update(func(st *State) error {
		return st.Forest.Update(id, func(p *tree.Page) { p.Collapsed = !p.Collapsed })
	})
	if err != nil {
		return err
	}
	s.background(ctx, func(ctx context.Context) {
		if err := s.remote.ToggleCollapse(ctx, id); err != nil {
			s.log.Warn("sync collapse state", "page_id", id, "error", err)
		}
	})
	return nil
}

// Duplicate places "<title> (Copy)" just before the original, then creates
// the page, copies its blocks and fixes the sibling order on the server.
// Block copy failures are logged and do not fail the duplicate.
func (s *Store) Duplicate(ctx context.Context, id string) (string, error) {
	id = s.ResolveID(id)
	tempID := util.NewTempID()
	var (
		parentID string
		title    string
		created  string
	)
	clearFlag := func(st *State) { delete(st.Duplicating, id) }

	return execute(ctx, s, command[string]{
		op: "duplicate page",
		apply: func(st *State) error {
			page, ok := st.Forest.Get(id)
			if !ok {
				return fmt.Errorf("duplicate %s: %w", id, ErrNotFound)
			}
			if st.Duplicating[id] {
				return ErrDuplicating
			}
			parentID = page.Parent()
			title = page.Title + " (Copy)"
			dup := tree.Page{
				ID:         tempID,
				Title:      title,
				Icon:       page.Icon,
				IsFolder:   page.IsFolder,
				Status:     page.Status,
				SourceType: page.SourceType,
				CreatedAt:  s.now(),
			}
			if err := st.Forest.Insert(dup, parentID, st.Forest.IndexOf(id)); err != nil {
				return err
			}
			st.Forest.Renumber(parentID)
			st.Duplicating[id] = true
			return nil
		},
		commit: func(ctx context.Context) (string, error) {
			newID, err := s.remote.CreatePage(ctx, parentID, title)
			if err != nil {
				return "", err
			}
			created = newID
			s.copyBlocks(ctx, id, newID, title)

			ids := s.State().Forest.Children(parentID)
			for i, sibling := range ids {
				if sibling == tempID {
					ids[i] = newID
				}
			}
			if err := s.remote.Reorder(ctx, ids, parentID); err != nil {
				return "", err
			}
			return newID, nil
		},
		reconcile: func(st *State, newID string) {
			s.swapTemp(st, tempID, newID)
			st.Forest.Renumber(parentID)
			clearFlag(st)
		},
		rollback: func(ctx context.Context, prev State) {
			if created != "" {
				if err := s.Load(ctx); err != nil {
					s.log.Warn("reload after failed duplicate", "page_id", id, "error", err)
				}
				_, _ = s.update(func(st *State) error {
					if st.Forest.Has(tempID) {
						_, _ = st.Forest.Remove(tempID)
					}
					clearFlag(st)
					return nil
				})
				return
			}
			_, _ = s.update(func(st *State) error {
				_, _ = st.Forest.Remove(tempID)
				clearFlag(st)
				return nil
			})
		},
	})
}

func (s *Store) copyBlocks(ctx context.Context, fromID, toID, title string) {
	rows, err := s.remote.Blocks(ctx, fromID)
	if err != nil {
		s.log.Warn("duplicate: read blocks", "page_id", fromID, "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}
	if err := s.remote.SaveBlocks(ctx, toID, copyRows(rows, toID, title)); err != nil {
		s.log.Warn("duplicate: save blocks", "page_id", toID, "error", err)
	}
}

// copyRows re-keys rows for another page. A leading heading1 is treated as
// the page title and renamed.
func copyRows(rows []blocks.Row, pageID, title string) []blocks.Row {
	ids := make(map[string]string, len(rows))
	for _, r := range rows {
		ids[r.ID] = util.NewID("blk")
	}
	first := -1
	out := make([]blocks.Row, 0, len(rows))
	for i, r := range rows {
		c := r
		c.ID = ids[r.ID]
		c.PageID = pageID
		if r.ParentID != nil {
			if mapped, ok := ids[*r.ParentID]; ok {
				c.ParentID = &mapped
			} else {
				c.ParentID = nil
			}
		}
		if len(r.Properties) > 0 {
			c.Properties = make(map[string]any, len(r.Properties))
			for k, v := range r.Properties {
				c.Properties[k] = v
			}
		}
		if c.ParentID == nil && (first == -1 || r.Position < rows[first].Position) {
			first = i
		}
		out = append(out, c)
	}
	if first >= 0 && out[first].Type == blocks.TypeHeading1 {
		out[first].Content = blocks.Serialize([]blocks.Span{{Text: title}})
	}
	return out
}

// Document loads a page's blocks, repairing page links against the page's
// current children. The bool reports whether repair changed anything, in
// which case callers should persist the repaired document.
func (s *Store) Document(ctx context.Context, pageID string) ([]*blocks.Block, bool, error) {
	pageID = s.ResolveID(pageID)
	rows, err := s.remote.Blocks(ctx, pageID)
	if err != nil {
		return nil, false, fmt.Errorf("load blocks %s: %w", pageID, err)
	}
	forest := s.State().Forest
	if !forest.Has(pageID) {
		return blocks.Hydrate(rows, blocks.HydrateOptions{}), false, nil
	}
	children := make(map[string]blocks.PageRef)
	for _, childID := range forest.Children(pageID) {
		child, _ := forest.Get(childID)
		children[childID] = blocks.PageRef{Title: child.Title, Icon: child.Icon}
	}
	repaired, changed := blocks.RepairPageLinks(rows, children)
	return blocks.Hydrate(repaired, blocks.HydrateOptions{}), changed, nil
}
