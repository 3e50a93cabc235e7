// Package tree models the page hierarchy: the wire-level nested Page view
// and an arena-backed Forest used for all structural edits.
package tree

import "time"

const DefaultTitle = "Untitled"

type Page struct {
	ID         string    `json:"id"`
	ParentID   *string   `json:"parentId"`
	Title      string    `json:"title"`
	Icon       string    `json:"icon,omitempty"`
	IsFolder   bool      `json:"isFolder"`
	Position   int       `json:"position"`
	Status     string    `json:"status,omitempty"`
	SourceType string    `json:"sourceType,omitempty"`
	Collapsed  bool      `json:"collapsed"`
	CreatedAt  time.Time `json:"createdAt"`
	Children   []*Page   `json:"children,omitempty"`
}

// Parent returns the parent id, "" for a root page.
func (p Page) Parent() string {
	if p.ParentID == nil {
		return ""
	}
	return *p.ParentID
}

func parentRef(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// Find returns the page with id anywhere in the nested view.
func Find(pages []*Page, id string) *Page {
	for _, p := range pages {
		if p.ID == id {
			return p
		}
		if found := Find(p.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// Path returns the chain root → id, or nil when id is absent.
func Path(pages []*Page, id string) []*Page {
	for _, p := range pages {
		if p.ID == id {
			return []*Page{p}
		}
		if rest := Path(p.Children, id); rest != nil {
			return append([]*Page{p}, rest...)
		}
	}
	return nil
}

// Flatten lists every page in pre-order.
func Flatten(pages []*Page) []*Page {
	var out []*Page
	var walk func([]*Page)
	walk = func(level []*Page) {
		for _, p := range level {
			out = append(out, p)
			walk(p.Children)
		}
	}
	walk(pages)
	return out
}

// IsDescendant reports whether id lives strictly below ancestorID.
func IsDescendant(pages []*Page, ancestorID, id string) bool {
	ancestor := Find(pages, ancestorID)
	if ancestor == nil {
		return false
	}
	return Find(ancestor.Children, id) != nil
}
