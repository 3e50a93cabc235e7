// Package blocks converts a page's nested block document to and from the
// flat row list the server persists, including the inline markup used for
// rich text.
package blocks

import (
	"reflect"
	"strings"
)

// Block is one node of a page document.
type Block struct {
	ID       string
	Body     Body
	Children []*Block
	// RawType is the stored type of a row no variant models. The block
	// reads as a paragraph and is saved back under this type while its
	// body stays a Paragraph.
	RawType string
	// Extra carries stored properties the body does not model, written
	// back unchanged on save.
	Extra map[string]any
}

// Body is the closed set of block variants. Code switching on Body must
// handle every variant below.
type Body interface {
	isBody()
}

// concrete returns the value variant behind a pointer body, so *Paragraph
// reads like Paragraph. A nil pointer yields nil.
func concrete(b Body) Body {
	v := reflect.ValueOf(b)
	if v.Kind() != reflect.Pointer {
		return b
	}
	if v.IsNil() {
		return nil
	}
	inner, _ := v.Elem().Interface().(Body)
	return inner
}

type (
	Paragraph struct {
		Text []Span
	}
	Heading struct {
		Level int
		Text  []Span
	}
	BulletItem struct {
		Text []Span
	}
	NumberedItem struct {
		Text []Span
	}
	Todo struct {
		Checked bool
		Text    []Span
	}
	Quote struct {
		Text []Span
	}
	// Code keeps its source verbatim; markup is not interpreted inside it.
	Code struct {
		Language string
		Source   string
	}
	Divider struct{}
	Embed   struct {
		URL  string
		Kind string
	}
	// PageLink points at a child page. Title and Icon are a cached copy
	// refreshed from the page tree on load.
	PageLink struct {
		PageID string
		Title  string
		Icon   string
	}
	// SyncedRef transcludes a synced block; it owns no content.
	SyncedRef struct {
		SyncedBlockID string
	}
)

func (Paragraph) isBody()    {}
func (Heading) isBody()      {}
func (BulletItem) isBody()   {}
func (NumberedItem) isBody() {}
func (Todo) isBody()         {}
func (Quote) isBody()        {}
func (Code) isBody()         {}
func (Divider) isBody()      {}
func (Embed) isBody()        {}
func (PageLink) isBody()     {}
func (SyncedRef) isBody()    {}

// Spans returns the rich text of b, nil for variants without inline text.
func Spans(b Body) []Span {
	switch v := concrete(b).(type) {
	case Paragraph:
		return v.Text
	case Heading:
		return v.Text
	case BulletItem:
		return v.Text
	case NumberedItem:
		return v.Text
	case Todo:
		return v.Text
	case Quote:
		return v.Text
	case Code:
		return []Span{{Text: v.Source, Styles: Styles{Code: true}}}
	case PageLink:
		return []Span{{Text: v.Title, Link: PageHref(v.PageID), Styles: Styles{Underline: true}}}
	case Divider, Embed, SyncedRef:
		return nil
	default:
		return nil
	}
}

// Walk visits blocks in pre-order.
func Walk(doc []*Block, fn func(b *Block, depth int)) {
	var walk func([]*Block, int)
	walk = func(level []*Block, depth int) {
		for _, b := range level {
			fn(b, depth)
			walk(b.Children, depth+1)
		}
	}
	walk(doc, 0)
}

// Text joins the plain text of every block, one line per block. Synced
// references contribute nothing.
func Text(doc []*Block) string {
	var sb strings.Builder
	Walk(doc, func(b *Block, _ int) {
		t := PlainText(Spans(b.Body))
		if t == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(t)
	})
	return sb.String()
}
