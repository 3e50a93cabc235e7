package export

import (
	"fmt"
	"html"
	"html/template"
	"strings"

	"distill/api/internal/blocks"
)

// BlocksToHTML renders a block document. Consecutive list items share one
// list element; synced references render their synced content inline.
func BlocksToHTML(doc []*blocks.Block, synced map[string][]*blocks.Block) template.HTML {
	var sb strings.Builder
	r := renderer{synced: synced, visiting: map[string]bool{}}
	r.level(&sb, doc)
	return template.HTML(sb.String())
}

type renderer struct {
	synced   map[string][]*blocks.Block
	visiting map[string]bool
}

func (r *renderer) level(sb *strings.Builder, doc []*blocks.Block) {
	openList := ""
	closeList := func() {
		if openList != "" {
			fmt.Fprintf(sb, "</%s>\n", openList)
			openList = ""
		}
	}
	for _, b := range doc {
		list := ""
		switch b.Body.(type) {
		case blocks.BulletItem:
			list = "ul"
		case blocks.NumberedItem:
			list = "ol"
		}
		if list != openList {
			closeList()
			if list != "" {
				fmt.Fprintf(sb, "<%s>\n", list)
				openList = list
			}
		}
		r.block(sb, b)
	}
	closeList()
}

func (r *renderer) block(sb *strings.Builder, b *blocks.Block) {
	switch v := b.Body.(type) {
	case blocks.Paragraph:
		fmt.Fprintf(sb, "<p>%s</p>\n", SpansToHTML(v.Text))
	case blocks.Heading:
		level := v.Level
		if level < 1 || level > 3 {
			level = 1
		}
		fmt.Fprintf(sb, "<h%d>%s</h%d>\n", level, SpansToHTML(v.Text), level)
	case blocks.BulletItem, blocks.NumberedItem:
		fmt.Fprintf(sb, "<li>%s", SpansToHTML(blocks.Spans(v)))
		if len(b.Children) > 0 {
			sb.WriteString("\n")
			r.level(sb, b.Children)
		}
		sb.WriteString("</li>\n")
		return
	case blocks.Todo:
		mark := "&#9744;"
		if v.Checked {
			mark = "&#9745;"
		}
		fmt.Fprintf(sb, "<p class=\"todo\">%s %s</p>\n", mark, SpansToHTML(v.Text))
	case blocks.Quote:
		fmt.Fprintf(sb, "<blockquote>%s</blockquote>\n", SpansToHTML(v.Text))
	case blocks.Code:
		class := ""
		if v.Language != "" {
			class = fmt.Sprintf(" class=\"language-%s\"", html.EscapeString(v.Language))
		}
		fmt.Fprintf(sb, "<pre><code%s>%s</code></pre>\n", class, html.EscapeString(v.Source))
	case blocks.Divider:
		sb.WriteString("<hr>\n")
	case blocks.Embed:
		u := html.EscapeString(v.URL)
		if safeURL(v.URL) {
			fmt.Fprintf(sb, "<p class=\"embed\"><a href=\"%s\">%s</a></p>\n", u, u)
		} else {
			fmt.Fprintf(sb, "<p class=\"embed\">%s</p>\n", u)
		}
	case blocks.PageLink:
		title := v.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(sb, "<p class=\"page-link\">%s %s</p>\n", html.EscapeString(v.Icon), html.EscapeString(title))
	case blocks.SyncedRef:
		content, ok := r.synced[v.SyncedBlockID]
		if !ok || r.visiting[v.SyncedBlockID] {
			sb.WriteString("<div class=\"synced missing\">Synced content unavailable</div>\n")
			break
		}
		r.visiting[v.SyncedBlockID] = true
		sb.WriteString("<div class=\"synced\">\n")
		r.level(sb, content)
		sb.WriteString("</div>\n")
		delete(r.visiting, v.SyncedBlockID)
	}
	if len(b.Children) > 0 {
		sb.WriteString("<div class=\"children\">\n")
		r.level(sb, b.Children)
		sb.WriteString("</div>\n")
	}
}

// SpansToHTML renders inline text with its marks. Internal page links
// render as plain underlined text since their targets do not exist
// outside the app.
func SpansToHTML(spans []blocks.Span) string {
	var sb strings.Builder
	for _, s := range spans {
		text := html.EscapeString(s.Text)
		if s.Styles.Code {
			text = "<code>" + text + "</code>"
		}
		if s.Styles.Strike {
			text = "<s>" + text + "</s>"
		}
		if s.Styles.Italic {
			text = "<em>" + text + "</em>"
		}
		if s.Styles.Bold {
			text = "<strong>" + text + "</strong>"
		}
		switch {
		case s.Link != "" && safeURL(s.Link):
			text = fmt.Sprintf("<a href=\"%s\">%s</a>", html.EscapeString(s.Link), text)
		case s.Styles.Underline:
			text = "<u>" + text + "</u>"
		}
		sb.WriteString(text)
	}
	return sb.String()
}

func safeURL(u string) bool {
	lower := strings.ToLower(strings.TrimSpace(u))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:")
}
