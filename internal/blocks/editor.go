package blocks

import (
	"encoding/json"
	"fmt"
)

// Editor document types.
const (
	EditorParagraph = "paragraph"
	EditorHeading   = "heading"
	EditorBullet    = "bulletListItem"
	EditorNumbered  = "numberedListItem"
	EditorCheck     = "checkListItem"
	EditorQuote     = "quote"
	EditorCode      = "codeBlock"
	EditorDivider   = "divider"
	EditorEmbed     = "embed"
	EditorPageLink  = "pageLink"
	EditorSynced    = "syncedBlock"
)

// EditorBlock is the nested JSON document the editing surface exchanges.
type EditorBlock struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Props    map[string]any `json:"props,omitempty"`
	Content  []EditorInline `json:"content,omitempty"`
	Children []*EditorBlock `json:"children,omitempty"`
}

// EditorInline is either a styled text run or a link wrapping runs.
type EditorInline struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Styles  *EditorStyles  `json:"styles,omitempty"`
	Href    string         `json:"href,omitempty"`
	Content []EditorInline `json:"content,omitempty"`
}

type EditorStyles struct {
	Bold      bool `json:"bold,omitempty"`
	Italic    bool `json:"italic,omitempty"`
	Strike    bool `json:"strike,omitempty"`
	Code      bool `json:"code,omitempty"`
	Underline bool `json:"underline,omitempty"`
}

func EncodeEditorJSON(doc []*Block) ([]byte, error) {
	raw, err := json.Marshal(ToEditor(doc))
	if err != nil {
		return nil, fmt.Errorf("encode editor document: %w", err)
	}
	return raw, nil
}

func DecodeEditorJSON(raw []byte) ([]*Block, error) {
	var doc []*EditorBlock
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode editor document: %w", err)
	}
	return FromEditor(doc), nil
}

func ToEditor(doc []*Block) []*EditorBlock {
	if len(doc) == 0 {
		return nil
	}
	out := make([]*EditorBlock, 0, len(doc))
	for _, b := range doc {
		eb := &EditorBlock{ID: b.ID, Children: ToEditor(b.Children)}
		switch v := concrete(b.Body).(type) {
		case Paragraph:
			eb.Type, eb.Content = EditorParagraph, toInline(v.Text)
		case Heading:
			eb.Type, eb.Content = EditorHeading, toInline(v.Text)
			eb.Props = map[string]any{"level": v.Level}
		case BulletItem:
			eb.Type, eb.Content = EditorBullet, toInline(v.Text)
		case NumberedItem:
			eb.Type, eb.Content = EditorNumbered, toInline(v.Text)
		case Todo:
			eb.Type, eb.Content = EditorCheck, toInline(v.Text)
			eb.Props = map[string]any{PropChecked: v.Checked}
		case Quote:
			eb.Type, eb.Content = EditorQuote, toInline(v.Text)
		case Code:
			eb.Type = EditorCode
			eb.Content = []EditorInline{{Type: "text", Text: v.Source}}
			eb.Props = map[string]any{PropLanguage: v.Language}
		case Divider:
			eb.Type = EditorDivider
		case Embed:
			eb.Type = EditorEmbed
			eb.Props = map[string]any{"url": v.URL, PropEmbedType: v.Kind}
		case PageLink:
			eb.Type = EditorPageLink
			eb.Props = map[string]any{PropPageID: v.PageID, PropTitle: v.Title, PropIcon: v.Icon}
		case SyncedRef:
			eb.Type = EditorSynced
			eb.Props = map[string]any{PropSyncedBlockID: v.SyncedBlockID}
		default:
			eb.Type = EditorParagraph
		}
		out = append(out, eb)
	}
	return out
}

// FromEditor converts an editor document. Unknown block types degrade to
// paragraphs carrying their inline content.
func FromEditor(doc []*EditorBlock) []*Block {
	if len(doc) == 0 {
		return nil
	}
	out := make([]*Block, 0, len(doc))
	for _, eb := range doc {
		if eb == nil {
			continue
		}
		b := &Block{ID: eb.ID, Children: FromEditor(eb.Children)}
		text := fromInline(eb.Content)
		switch eb.Type {
		case EditorHeading:
			level := intProp(eb.Props, "level")
			if level < 1 || level > 3 {
				level = 1
			}
			b.Body = Heading{Level: level, Text: text}
		case EditorBullet:
			b.Body = BulletItem{Text: text}
		case EditorNumbered:
			b.Body = NumberedItem{Text: text}
		case EditorCheck:
			b.Body = Todo{Checked: boolProp(eb.Props, PropChecked), Text: text}
		case EditorQuote:
			b.Body = Quote{Text: text}
		case EditorCode:
			b.Body = Code{Language: stringProp(eb.Props, PropLanguage), Source: PlainText(text)}
		case EditorDivider:
			b.Body = Divider{}
		case EditorEmbed:
			b.Body = Embed{URL: stringProp(eb.Props, "url"), Kind: stringProp(eb.Props, PropEmbedType)}
		case EditorPageLink:
			b.Body = PageLink{
				PageID: stringProp(eb.Props, PropPageID),
				Title:  stringProp(eb.Props, PropTitle),
				Icon:   stringProp(eb.Props, PropIcon),
			}
		case EditorSynced:
			b.Body = SyncedRef{SyncedBlockID: stringProp(eb.Props, PropSyncedBlockID)}
		default:
			b.Body = Paragraph{Text: text}
		}
		out = append(out, b)
	}
	return out
}

func toInline(spans []Span) []EditorInline {
	var out []EditorInline
	for _, s := range Normalize(spans) {
		if s.Text == "" {
			continue
		}
		run := EditorInline{Type: "text", Text: s.Text}
		if s.Styles != (Styles{}) {
			st := EditorStyles(s.Styles)
			run.Styles = &st
		}
		if s.Link == "" {
			out = append(out, run)
			continue
		}
		if n := len(out); n > 0 && out[n-1].Type == "link" && out[n-1].Href == s.Link {
			out[n-1].Content = append(out[n-1].Content, run)
			continue
		}
		out = append(out, EditorInline{Type: "link", Href: s.Link, Content: []EditorInline{run}})
	}
	return out
}

func fromInline(content []EditorInline) []Span {
	var spans []Span
	for _, in := range content {
		switch in.Type {
		case "link":
			for _, inner := range fromInline(in.Content) {
				inner.Link = in.Href
				spans = append(spans, inner)
			}
		default:
			s := Span{Text: in.Text}
			if in.Styles != nil {
				s.Styles = Styles(*in.Styles)
			}
			spans = append(spans, s)
		}
	}
	return Normalize(spans)
}

func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
