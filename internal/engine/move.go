package engine

import (
	"context"

	"distill/api/internal/order"
)

// Move places pageID at index under targetParentID ("" for root) and sends
// the destination's full sibling order. Moves that would create a cycle are
// rejected before anything changes; a failed commit restores the previous
// tree.
func (s *Store) Move(ctx context.Context, pageID, targetParentID string, index int) error {
	pageID = s.ResolveID(pageID)
	targetParentID = s.ResolveID(targetParentID)
	var ids []string

	_, err := execute(ctx, s, command[struct{}]{
		op: "move page",
		apply: func(st *State) error {
			next, siblings, err := order.Plan(st.Forest, pageID, order.Placement{ParentID: targetParentID, Index: index})
			if err != nil {
				return err
			}
			st.Forest = next
			ids = siblings
			return nil
		},
		commit: func(ctx context.Context) (struct{}, error) {
			resolved := make([]string, len(ids))
			for i, id := range ids {
				resolved[i] = s.ResolveID(id)
			}
			return struct{}{}, s.remote.Reorder(ctx, resolved, targetParentID)
		},
		rollback: func(ctx context.Context, prev State) {
			_, _ = s.update(func(st *State) error {
				st.Forest = prev.Forest
				return nil
			})
		},
	})
	return err
}

// Drop resolves a drag gesture into a move and refreshes the tree from the
// server once the move is committed.
func (s *Store) Drop(ctx context.Context, pageID string, d order.Drop) error {
	pageID = s.ResolveID(pageID)
	d.TargetID = s.ResolveID(d.TargetID)
	placement, err := order.Resolve(s.State().Forest, pageID, d)
	if err != nil {
		return err
	}
	if err := s.Move(ctx, pageID, placement.ParentID, placement.Index); err != nil {
		return err
	}
	if err := s.Refresh(ctx); err != nil {
		s.log.Warn("refresh after drop", "page_id", pageID, "error", err)
	}
	return nil
}
