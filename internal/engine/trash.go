package engine

import (
	"context"
	"fmt"

	"distill/api/internal/trash"
	"distill/api/internal/tree"
)

// Delete moves a page and its subtree to the trash. If the server rejects
// the delete, local state is reloaded from the server since a partial
// failure leaves the outcome unknown.
func (s *Store) Delete(ctx context.Context, id string) error {
	id = s.ResolveID(id)
	_, err := execute(ctx, s, command[struct{}]{
		op: "delete page",
		apply: func(st *State) error {
			page, ok := st.Forest.Get(id)
			if !ok {
				return fmt.Errorf("delete %s: %w", id, ErrNotFound)
			}
			removed, err := st.Forest.Remove(id)
			if err != nil {
				return err
			}
			st.Forest.Renumber(page.Parent())
			st.Trash = st.Trash.Add(trash.Entry{
				ID:         page.ID,
				Title:      page.Title,
				TrashedAt:  s.now(),
				SourceType: page.SourceType,
			})
			for _, p := range removed {
				if st.Selected == p.ID {
					st.Selected = ""
				}
			}
			return nil
		},
		commit: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.remote.TrashPage(ctx, id)
		},
		rollback: func(ctx context.Context, prev State) {
			if err := s.Load(ctx); err != nil {
				s.log.Warn("reload after failed delete", "page_id", id, "error", err)
				s.replace(prev)
			}
		},
	})
	return err
}

// Restore brings a trashed page back at the root, then refreshes the tree
// so the server's placement wins.
func (s *Store) Restore(ctx context.Context, id string) error {
	_, err := execute(ctx, s, command[struct{}]{
		op: "restore page",
		apply: func(st *State) error {
			bin, entry, ok := st.Trash.Remove(id)
			if !ok {
				return fmt.Errorf("restore %s: %w", id, ErrNotInTrash)
			}
			st.Trash = bin
			if st.Forest.Has(id) {
				return nil
			}
			roots := st.Forest.Children("")
			return st.Forest.Insert(tree.Page{
				ID:         entry.ID,
				Title:      entry.Title,
				SourceType: entry.SourceType,
				Position:   len(roots),
				CreatedAt:  s.now(),
			}, "", len(roots))
		},
		commit: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.remote.RestorePage(ctx, id)
		},
		rollback: func(ctx context.Context, prev State) {
			if err := s.Load(ctx); err != nil {
				s.log.Warn("reload after failed restore", "page_id", id, "error", err)
				_, _ = s.update(func(st *State) error {
					st.Forest = prev.Forest
					st.Trash = prev.Trash
					return nil
				})
			}
		},
		refresh: true,
	})
	return err
}

// PermanentDelete purges a trashed page; a failure puts the entry back.
func (s *Store) PermanentDelete(ctx context.Context, id string) error {
	var removed trash.Entry
	_, err := execute(ctx, s, command[struct{}]{
		op: "permanently delete page",
		apply: func(st *State) error {
			bin, entry, ok := st.Trash.Remove(id)
			if !ok {
				return fmt.Errorf("purge %s: %w", id, ErrNotInTrash)
			}
			removed = entry
			st.Trash = bin
			return nil
		},
		commit: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.remote.DeletePermanent(ctx, id)
		},
		rollback: func(ctx context.Context, _ State) {
			_, _ = s.update(func(st *State) error {
				st.Trash = st.Trash.Add(removed)
				return nil
			})
		},
	})
	return err
}

func (s *Store) EmptyTrash(ctx context.Context) error {
	var removed []trash.Entry
	_, err := execute(ctx, s, command[struct{}]{
		op: "empty trash",
		apply: func(st *State) error {
			removed = st.Trash.Entries()
			st.Trash = trash.NewBin(nil)
			return nil
		},
		commit: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.remote.EmptyTrash(ctx)
		},
		rollback: func(ctx context.Context, _ State) {
			_, _ = s.update(func(st *State) error {
				for _, e := range removed {
					st.Trash = st.Trash.Add(e)
				}
				return nil
			})
		},
	})
	return err
}

func (s *Store) TrashEntries() []trash.Entry {
	return s.State().Trash.Entries()
}

func (s *Store) SearchTrash(query string) []trash.Entry {
	return s.State().Trash.Search(query)
}
