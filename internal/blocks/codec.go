package blocks

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
)

// Storage block types.
const (
	TypeText        = "text"
	TypeHeading1    = "heading1"
	TypeHeading2    = "heading2"
	TypeHeading3    = "heading3"
	TypeBullet      = "bullet"
	TypeNumbered    = "numbered"
	TypeTodo        = "todo"
	TypeQuote       = "quote"
	TypeCode        = "code"
	TypeDivider     = "divider"
	TypeEmbed       = "embed"
	TypePage        = "page"
	TypeSyncedBlock = "synced_block"
)

// Property keys.
const (
	PropChecked       = "checked"
	PropEmbedURL      = "embedUrl"
	PropEmbedType     = "embedType"
	PropLanguage      = "language"
	PropPageID        = "pageId"
	PropTitle         = "title"
	PropIcon          = "icon"
	PropSyncedBlockID = "syncedBlockId"
)

// modeledProps lists, per known type, the properties its variant owns.
// Everything else on a row is carried through Block.Extra.
var modeledProps = map[string][]string{
	TypeText:        nil,
	TypeHeading1:    nil,
	TypeHeading2:    nil,
	TypeHeading3:    nil,
	TypeBullet:      nil,
	TypeNumbered:    nil,
	TypeTodo:        {PropChecked},
	TypeQuote:       nil,
	TypeCode:        {PropLanguage},
	TypeDivider:     nil,
	TypeEmbed:       {PropEmbedURL, PropEmbedType},
	TypePage:        {PropPageID, PropTitle, PropIcon},
	TypeSyncedBlock: {PropSyncedBlockID},
}

// Row is the persisted form of a block.
type Row struct {
	ID         string         `json:"id"`
	PageID     string         `json:"pageId"`
	ParentID   *string        `json:"parentId"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Properties map[string]any `json:"properties,omitempty"`
	Position   int            `json:"position"`
}

func (r Row) Parent() string {
	if r.ParentID == nil {
		return ""
	}
	return *r.ParentID
}

// PageRef is the tree's current view of a child page.
type PageRef struct {
	Title string
	Icon  string
}

type HydrateOptions struct {
	// ChildPages, when non-nil, enables page-link repair against the
	// page's current children.
	ChildPages map[string]PageRef
}

// Flatten converts a document into rows in pre-order. Positions are the
// index among siblings and parent ids follow the nesting.
func Flatten(pageID string, doc []*Block) []Row {
	var rows []Row
	var walk func(parent *string, level []*Block)
	walk = func(parent *string, level []*Block) {
		for i, b := range level {
			typ, content, props := encodeBody(b.Body)
			if _, ok := concrete(b.Body).(Paragraph); ok && b.RawType != "" {
				typ = b.RawType
			}
			props = mergeProps(b.Extra, props)
			rows = append(rows, Row{
				ID:         b.ID,
				PageID:     pageID,
				ParentID:   parent,
				Type:       typ,
				Content:    content,
				Properties: props,
				Position:   i,
			})
			if len(b.Children) > 0 {
				id := b.ID
				walk(&id, b.Children)
			}
		}
	}
	walk(nil, doc)
	return rows
}

// Hydrate rebuilds the document from rows. Siblings are ordered by
// position, ties by input order. Rows whose parent is missing are attached
// at the top level so no content is lost.
func Hydrate(rows []Row, opts HydrateOptions) []*Block {
	if opts.ChildPages != nil {
		rows, _ = RepairPageLinks(rows, opts.ChildPages)
	}

	known := make(map[string]bool, len(rows))
	for _, r := range rows {
		known[r.ID] = true
	}
	type indexed struct {
		row Row
		idx int
	}
	groups := make(map[string][]indexed)
	for i, r := range rows {
		parent := r.Parent()
		if parent == r.ID || !known[parent] {
			parent = ""
		}
		groups[parent] = append(groups[parent], indexed{row: r, idx: i})
	}
	for _, g := range groups {
		sort.SliceStable(g, func(a, b int) bool {
			return g[a].row.Position < g[b].row.Position
		})
	}

	attached := make(map[string]bool, len(rows))
	var build func(parent string) []*Block
	build = func(parent string) []*Block {
		var out []*Block
		for _, item := range groups[parent] {
			if attached[item.row.ID] {
				continue
			}
			attached[item.row.ID] = true
			b := decodeBlock(item.row)
			b.Children = build(item.row.ID)
			out = append(out, b)
		}
		return out
	}
	doc := build("")

	// Rows caught in a parent loop never reach the top level; surface them.
	for _, r := range rows {
		if !attached[r.ID] {
			attached[r.ID] = true
			b := decodeBlock(r)
			b.Children = build(r.ID)
			doc = append(doc, b)
		}
	}
	return doc
}

// RepairPageLinks drops page-link rows whose page is no longer a child,
// keeps only the first link to each page, and refreshes cached titles and
// icons. It reports whether anything changed.
func RepairPageLinks(rows []Row, children map[string]PageRef) ([]Row, bool) {
	out := make([]Row, 0, len(rows))
	seen := make(map[string]bool)
	changed := false
	for _, r := range rows {
		if r.Type != TypePage {
			out = append(out, r)
			continue
		}
		pageID := stringProp(r.Properties, PropPageID)
		ref, ok := children[pageID]
		if !ok || seen[pageID] {
			changed = true
			continue
		}
		seen[pageID] = true
		if stringProp(r.Properties, PropTitle) != ref.Title || stringProp(r.Properties, PropIcon) != ref.Icon {
			props := copyProps(r.Properties)
			props[PropTitle] = ref.Title
			props[PropIcon] = ref.Icon
			r.Properties = props
			changed = true
		}
		out = append(out, r)
	}
	return out, changed
}

// decodeBlock builds the block for r without children. Rows of an unknown
// type keep that type and all their properties.
func decodeBlock(r Row) *Block {
	b := &Block{ID: r.ID, Body: decodeBody(r)}
	modeled, known := modeledProps[r.Type]
	if !known {
		b.RawType = r.Type
	}
	for k, v := range r.Properties {
		if slices.Contains(modeled, k) {
			continue
		}
		if b.Extra == nil {
			b.Extra = make(map[string]any)
		}
		b.Extra[k] = v
	}
	return b
}

// mergeProps layers the body's own properties over the carried extras.
func mergeProps(extra, own map[string]any) map[string]any {
	if len(extra) == 0 {
		return own
	}
	out := maps.Clone(extra)
	maps.Copy(out, own)
	return out
}

func encodeBody(body Body) (string, string, map[string]any) {
	switch v := concrete(body).(type) {
	case Paragraph:
		return TypeText, Serialize(v.Text), nil
	case Heading:
		return headingType(v.Level), Serialize(v.Text), nil
	case BulletItem:
		return TypeBullet, Serialize(v.Text), nil
	case NumberedItem:
		return TypeNumbered, Serialize(v.Text), nil
	case Todo:
		return TypeTodo, Serialize(v.Text), map[string]any{PropChecked: v.Checked}
	case Quote:
		return TypeQuote, Serialize(v.Text), nil
	case Code:
		var props map[string]any
		if v.Language != "" {
			props = map[string]any{PropLanguage: v.Language}
		}
		return TypeCode, v.Source, props
	case Divider:
		return TypeDivider, "", nil
	case Embed:
		return TypeEmbed, "", map[string]any{PropEmbedURL: v.URL, PropEmbedType: v.Kind}
	case PageLink:
		return TypePage, "", map[string]any{PropPageID: v.PageID, PropTitle: v.Title, PropIcon: v.Icon}
	case SyncedRef:
		return TypeSyncedBlock, "", map[string]any{PropSyncedBlockID: v.SyncedBlockID}
	default:
		return TypeText, Serialize(Spans(v)), nil
	}
}

func decodeBody(r Row) Body {
	switch r.Type {
	case TypeHeading1:
		return Heading{Level: 1, Text: Parse(r.Content)}
	case TypeHeading2:
		return Heading{Level: 2, Text: Parse(r.Content)}
	case TypeHeading3:
		return Heading{Level: 3, Text: Parse(r.Content)}
	case TypeBullet:
		return BulletItem{Text: Parse(r.Content)}
	case TypeNumbered:
		return NumberedItem{Text: Parse(r.Content)}
	case TypeTodo:
		return Todo{Checked: boolProp(r.Properties, PropChecked), Text: Parse(r.Content)}
	case TypeQuote:
		return Quote{Text: Parse(r.Content)}
	case TypeCode:
		return Code{Language: stringProp(r.Properties, PropLanguage), Source: r.Content}
	case TypeDivider:
		return Divider{}
	case TypeEmbed:
		return Embed{URL: stringProp(r.Properties, PropEmbedURL), Kind: stringProp(r.Properties, PropEmbedType)}
	case TypePage:
		return PageLink{
			PageID: stringProp(r.Properties, PropPageID),
			Title:  stringProp(r.Properties, PropTitle),
			Icon:   stringProp(r.Properties, PropIcon),
		}
	case TypeSyncedBlock:
		return SyncedRef{SyncedBlockID: stringProp(r.Properties, PropSyncedBlockID)}
	default:
		return Paragraph{Text: Parse(r.Content)}
	}
}

func headingType(level int) string {
	switch {
	case level <= 1:
		return TypeHeading1
	case level == 2:
		return TypeHeading2
	default:
		return TypeHeading3
	}
}

func stringProp(props map[string]any, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func boolProp(props map[string]any, key string) bool {
	switch v := props[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case float64:
		return v != 0
	default:
		return false
	}
}

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props)+2)
	for k, v := range props {
		out[k] = v
	}
	return out
}
