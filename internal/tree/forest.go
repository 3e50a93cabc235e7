package tree

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNotFound = errors.New("page not found")
	ErrExists   = errors.New("page already exists")
	ErrCycle    = errors.New("page cannot be moved into itself or a descendant")
)

// Forest is an arena of pages keyed by id. Each node stores its parent id
// and ordered child ids, so ancestry checks walk parents in O(depth).
// A Forest is not safe for concurrent mutation; callers clone before editing
// a shared instance.
type Forest struct {
	nodes map[string]*node
	roots []string
}

type node struct {
	page     Page
	parent   string
	children []string
}

func New() *Forest {
	return &Forest{nodes: make(map[string]*node)}
}

// FromTree builds a forest from the nested wire view, keeping sibling order.
func FromTree(pages []*Page) *Forest {
	f := New()
	var walk func(parent string, level []*Page)
	walk = func(parent string, level []*Page) {
		for _, p := range level {
			if p == nil || f.Has(p.ID) {
				continue
			}
			page := *p
			page.Children = nil
			_ = f.Insert(page, parent, len(f.childrenOf(parent)))
			walk(p.ID, p.Children)
		}
	}
	walk("", pages)
	return f
}

// FromFlat builds a forest from rows carrying ParentID and Position.
// Siblings sort by position, ties by input order. Pages whose parent is
// missing, or whose parent chain loops, are attached at the root.
func FromFlat(pages []Page) *Forest {
	byID := make(map[string]int, len(pages))
	for i, p := range pages {
		if _, dup := byID[p.ID]; !dup {
			byID[p.ID] = i
		}
	}
	parentOf := make(map[string]string, len(pages))
	for id, i := range byID {
		parent := pages[i].Parent()
		if _, ok := byID[parent]; !ok {
			parent = ""
		}
		parentOf[id] = parent
	}
	for id := range parentOf {
		seen := map[string]bool{id: true}
		for cur := parentOf[id]; cur != ""; cur = parentOf[cur] {
			if seen[cur] {
				parentOf[id] = ""
				break
			}
			seen[cur] = true
		}
	}

	groups := make(map[string][]int)
	for id, i := range byID {
		groups[parentOf[id]] = append(groups[parentOf[id]], i)
	}
	for _, idx := range groups {
		sort.Slice(idx, func(a, b int) bool {
			pa, pb := pages[idx[a]].Position, pages[idx[b]].Position
			if pa != pb {
				return pa < pb
			}
			return idx[a] < idx[b]
		})
	}

	f := New()
	var attach func(parent string)
	attach = func(parent string) {
		for _, i := range groups[parent] {
			page := pages[i]
			page.Children = nil
			_ = f.Insert(page, parent, len(f.childrenOf(parent)))
			attach(page.ID)
		}
	}
	attach("")
	return f
}

func (f *Forest) Clone() *Forest {
	out := &Forest{
		nodes: make(map[string]*node, len(f.nodes)),
		roots: append([]string(nil), f.roots...),
	}
	for id, n := range f.nodes {
		out.nodes[id] = &node{
			page:     n.page,
			parent:   n.parent,
			children: append([]string(nil), n.children...),
		}
	}
	return out
}

func (f *Forest) Len() int { return len(f.nodes) }

func (f *Forest) Has(id string) bool {
	_, ok := f.nodes[id]
	return ok
}

func (f *Forest) Get(id string) (Page, bool) {
	n, ok := f.nodes[id]
	if !ok {
		return Page{}, false
	}
	return n.page, true
}

// Parent returns the parent id ("" at root) and whether id exists.
func (f *Forest) Parent(id string) (string, bool) {
	n, ok := f.nodes[id]
	if !ok {
		return "", false
	}
	return n.parent, true
}

// Children returns a copy of the ordered child ids; "" addresses the roots.
func (f *Forest) Children(parentID string) []string {
	return append([]string(nil), f.childrenOf(parentID)...)
}

func (f *Forest) childrenOf(parentID string) []string {
	if parentID == "" {
		return f.roots
	}
	if n, ok := f.nodes[parentID]; ok {
		return n.children
	}
	return nil
}

func (f *Forest) setChildren(parentID string, ids []string) {
	if parentID == "" {
		f.roots = ids
		return
	}
	f.nodes[parentID].children = ids
}

// IndexOf returns the position of id among its siblings, -1 when absent.
func (f *Forest) IndexOf(id string) int {
	n, ok := f.nodes[id]
	if !ok {
		return -1
	}
	for i, sibling := range f.childrenOf(n.parent) {
		if sibling == id {
			return i
		}
	}
	return -1
}

// IsDescendant reports whether id lives strictly below ancestorID.
func (f *Forest) IsDescendant(ancestorID, id string) bool {
	n, ok := f.nodes[id]
	if !ok {
		return false
	}
	for cur := n.parent; cur != ""; {
		if cur == ancestorID {
			return true
		}
		parent, ok := f.nodes[cur]
		if !ok {
			return false
		}
		cur = parent.parent
	}
	return false
}

// Path returns the breadcrumb root → id, nil when id is absent.
func (f *Forest) Path(id string) []Page {
	n, ok := f.nodes[id]
	if !ok {
		return nil
	}
	path := []Page{n.page}
	for cur := n.parent; cur != ""; {
		parent := f.nodes[cur]
		path = append(path, parent.page)
		cur = parent.parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Walk visits pages in pre-order. Returning false skips the page's subtree.
func (f *Forest) Walk(fn func(p Page, depth int) bool) {
	var walk func(ids []string, depth int)
	walk = func(ids []string, depth int) {
		for _, id := range ids {
			n := f.nodes[id]
			if fn(n.page, depth) {
				walk(n.children, depth+1)
			}
		}
	}
	walk(f.roots, 0)
}

func (f *Forest) Flatten() []Page {
	out := make([]Page, 0, len(f.nodes))
	f.Walk(func(p Page, _ int) bool {
		out = append(out, p)
		return true
	})
	return out
}

// Subtree returns id and all its descendants in pre-order.
func (f *Forest) Subtree(id string) []Page {
	n, ok := f.nodes[id]
	if !ok {
		return nil
	}
	out := []Page{n.page}
	for _, child := range n.children {
		out = append(out, f.Subtree(child)...)
	}
	return out
}

// Insert adds p under parentID at index (clamped to the sibling range).
func (f *Forest) Insert(p Page, parentID string, index int) error {
	if p.ID == "" {
		return fmt.Errorf("insert page: empty id")
	}
	if f.Has(p.ID) {
		return fmt.Errorf("insert page %s: %w", p.ID, ErrExists)
	}
	if parentID != "" && !f.Has(parentID) {
		return fmt.Errorf("insert page %s under %s: %w", p.ID, parentID, ErrNotFound)
	}
	p.ParentID = parentRef(parentID)
	p.Children = nil
	f.nodes[p.ID] = &node{page: p, parent: parentID}
	f.setChildren(parentID, insertAt(f.childrenOf(parentID), p.ID, index))
	return nil
}

// Remove detaches id with its whole subtree and returns the removed pages
// in pre-order.
func (f *Forest) Remove(id string) ([]Page, error) {
	n, ok := f.nodes[id]
	if !ok {
		return nil, fmt.Errorf("remove page %s: %w", id, ErrNotFound)
	}
	removed := f.Subtree(id)
	f.setChildren(n.parent, without(f.childrenOf(n.parent), id))
	for _, p := range removed {
		delete(f.nodes, p.ID)
	}
	return removed, nil
}

// Move reparents id under parentID at index. Moving a page into itself or
// one of its descendants fails with ErrCycle and leaves the forest intact.
func (f *Forest) Move(id, parentID string, index int) error {
	n, ok := f.nodes[id]
	if !ok {
		return fmt.Errorf("move page %s: %w", id, ErrNotFound)
	}
	if parentID != "" {
		if !f.Has(parentID) {
			return fmt.Errorf("move page %s under %s: %w", id, parentID, ErrNotFound)
		}
		if parentID == id || f.IsDescendant(id, parentID) {
			return ErrCycle
		}
	}
	f.setChildren(n.parent, without(f.childrenOf(n.parent), id))
	n.parent = parentID
	n.page.ParentID = parentRef(parentID)
	f.setChildren(parentID, insertAt(f.childrenOf(parentID), id, index))
	return nil
}

// Update applies fn to a copy of the page and stores it back. Structural
// fields (ID, ParentID, Children) are not writable through Update.
func (f *Forest) Update(id string, fn func(*Page)) error {
	n, ok := f.nodes[id]
	if !ok {
		return fmt.Errorf("update page %s: %w", id, ErrNotFound)
	}
	page := n.page
	fn(&page)
	page.ID = n.page.ID
	page.ParentID = n.page.ParentID
	page.Children = nil
	n.page = page
	return nil
}

// ReplaceID swaps a placeholder id for its permanent one in place.
func (f *Forest) ReplaceID(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	n, ok := f.nodes[oldID]
	if !ok {
		return fmt.Errorf("replace id %s: %w", oldID, ErrNotFound)
	}
	if f.Has(newID) {
		return fmt.Errorf("replace id %s with %s: %w", oldID, newID, ErrExists)
	}
	delete(f.nodes, oldID)
	n.page.ID = newID
	f.nodes[newID] = n

	siblings := f.childrenOf(n.parent)
	for i, sibling := range siblings {
		if sibling == oldID {
			siblings[i] = newID
		}
	}
	for _, child := range n.children {
		c := f.nodes[child]
		c.parent = newID
		c.page.ParentID = parentRef(newID)
	}
	return nil
}

// Renumber assigns dense positions 0..n-1 to the children of parentID.
func (f *Forest) Renumber(parentID string) {
	for i, id := range f.childrenOf(parentID) {
		f.nodes[id].page.Position = i
	}
}

// Tree materializes the nested view.
func (f *Forest) Tree() []*Page {
	var build func(ids []string) []*Page
	build = func(ids []string) []*Page {
		if len(ids) == 0 {
			return nil
		}
		out := make([]*Page, 0, len(ids))
		for _, id := range ids {
			n := f.nodes[id]
			page := n.page
			page.Children = build(n.children)
			out = append(out, &page)
		}
		return out
	}
	return build(f.roots)
}

func insertAt(ids []string, id string, index int) []string {
	if index < 0 {
		index = 0
	}
	if index > len(ids) {
		index = len(ids)
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	return append(out, ids[index:]...)
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
