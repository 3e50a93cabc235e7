// Package order computes drop placements and dense sibling positions for
// drag-based page reordering.
package order

import (
	"fmt"

	"distill/api/internal/tree"
)

// ErrCycle is returned when a page would become its own ancestor.
var ErrCycle = tree.ErrCycle

type Zone int

const (
	ZoneBefore Zone = iota
	ZoneInside
	ZoneAfter
)

func (z Zone) String() string {
	switch z {
	case ZoneBefore:
		return "before"
	case ZoneInside:
		return "inside"
	case ZoneAfter:
		return "after"
	default:
		return fmt.Sprintf("zone(%d)", int(z))
	}
}

// ZoneAt maps a cursor offset within a row of the given height: the top
// quartile is before, the bottom quartile after, the middle inside.
func ZoneAt(offsetY, height float64) Zone {
	if height <= 0 {
		return ZoneInside
	}
	switch {
	case offsetY < height*0.25:
		return ZoneBefore
	case offsetY > height*0.75:
		return ZoneAfter
	default:
		return ZoneInside
	}
}

// Drop is a drag released over TargetID in Zone.
type Drop struct {
	TargetID string
	Zone     Zone
}

// Placement is a resolved destination: parent ("" for root) and index into
// the sibling list as it stands once the moving page has been detached.
type Placement struct {
	ParentID string
	Index    int
}

// Validate rejects moving pageID under targetParentID when that would
// create a cycle.
func Validate(f *tree.Forest, pageID, targetParentID string) error {
	if !f.Has(pageID) {
		return fmt.Errorf("validate move %s: %w", pageID, tree.ErrNotFound)
	}
	if targetParentID == "" {
		return nil
	}
	if targetParentID == pageID || f.IsDescendant(pageID, targetParentID) {
		return ErrCycle
	}
	return nil
}

// Resolve converts a drop into a placement for movingID.
func Resolve(f *tree.Forest, movingID string, d Drop) (Placement, error) {
	if !f.Has(d.TargetID) {
		return Placement{}, fmt.Errorf("resolve drop target %s: %w", d.TargetID, tree.ErrNotFound)
	}
	if d.Zone == ZoneInside {
		if err := Validate(f, movingID, d.TargetID); err != nil {
			return Placement{}, err
		}
		return Placement{ParentID: d.TargetID, Index: 0}, nil
	}

	parent, _ := f.Parent(d.TargetID)
	if err := Validate(f, movingID, parent); err != nil {
		return Placement{}, err
	}
	if d.TargetID == movingID {
		return Placement{ParentID: parent, Index: f.IndexOf(movingID)}, nil
	}

	index := 0
	for _, id := range f.Children(parent) {
		if id == movingID {
			continue
		}
		if id == d.TargetID {
			break
		}
		index++
	}
	if d.Zone == ZoneAfter {
		index++
	}
	return Placement{ParentID: parent, Index: index}, nil
}

// Plan applies a move to a clone of f and returns the new forest with the
// ordered sibling ids of the destination group. A collapsed destination is
// expanded so the moved page stays visible.
func Plan(f *tree.Forest, pageID string, p Placement) (*tree.Forest, []string, error) {
	if err := Validate(f, pageID, p.ParentID); err != nil {
		return nil, nil, err
	}
	oldParent, _ := f.Parent(pageID)
	next := f.Clone()
	if err := next.Move(pageID, p.ParentID, p.Index); err != nil {
		return nil, nil, err
	}
	if p.ParentID != "" {
		_ = next.Update(p.ParentID, func(page *tree.Page) { page.Collapsed = false })
	}
	Renumber(next, p.ParentID)
	if oldParent != p.ParentID {
		Renumber(next, oldParent)
	}
	return next, next.Children(p.ParentID), nil
}

// Renumber assigns positions 0..n-1 to the sibling group under parentID.
func Renumber(f *tree.Forest, parentID string) {
	f.Renumber(parentID)
}

// Dense reports whether the sibling group under parentID has positions
// exactly 0..n-1 in order.
func Dense(f *tree.Forest, parentID string) bool {
	for i, id := range f.Children(parentID) {
		p, _ := f.Get(id)
		if p.Position != i {
			return false
		}
	}
	return true
}
