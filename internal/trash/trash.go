// Package trash holds soft-deleted pages awaiting restore or purge.
package trash

import (
	"sort"
	"strings"
	"time"
)

type Entry struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	TrashedAt  time.Time `json:"trashedAt"`
	SourceType string    `json:"sourceType,omitempty"`
}

// Bin is an immutable collection of trash entries; every edit returns a
// new Bin.
type Bin struct {
	entries []Entry
}

func NewBin(entries []Entry) Bin {
	out := make([]Entry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return Bin{entries: out}
}

func (b Bin) Len() int { return len(b.entries) }

func (b Bin) Get(id string) (Entry, bool) {
	for _, e := range b.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

func (b Bin) Contains(id string) bool {
	_, ok := b.Get(id)
	return ok
}

// Add returns a bin with e, replacing any entry with the same id.
func (b Bin) Add(e Entry) Bin {
	next, _, _ := b.Remove(e.ID)
	next.entries = append(next.entries, e)
	return next
}

// Remove returns a bin without id plus the removed entry.
func (b Bin) Remove(id string) (Bin, Entry, bool) {
	out := make([]Entry, 0, len(b.entries))
	var removed Entry
	found := false
	for _, e := range b.entries {
		if e.ID == id && !found {
			removed = e
			found = true
			continue
		}
		out = append(out, e)
	}
	return Bin{entries: out}, removed, found
}

// Entries lists entries newest first.
func (b Bin) Entries() []Entry {
	out := append([]Entry(nil), b.entries...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TrashedAt.After(out[j].TrashedAt)
	})
	return out
}

// Search returns entries whose title contains query, case-insensitively.
// An empty query matches everything.
func (b Bin) Search(query string) []Entry {
	query = strings.ToLower(strings.TrimSpace(query))
	all := b.Entries()
	if query == "" {
		return all
	}
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if strings.Contains(strings.ToLower(e.Title), query) {
			out = append(out, e)
		}
	}
	return out
}
