package blocks

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// InternalLinkPrefix marks an href that targets another page.
const InternalLinkPrefix = "page:"

type Styles struct {
	Bold      bool `json:"bold,omitempty"`
	Italic    bool `json:"italic,omitempty"`
	Strike    bool `json:"strike,omitempty"`
	Code      bool `json:"code,omitempty"`
	Underline bool `json:"underline,omitempty"`
}

// Span is a run of text with uniform styling. Link is the href when the
// run is part of a link.
type Span struct {
	Text   string `json:"text"`
	Styles Styles `json:"styles"`
	Link   string `json:"link,omitempty"`
}

func PageHref(pageID string) string { return InternalLinkPrefix + pageID }

func IsInternalHref(href string) bool { return strings.HasPrefix(href, InternalLinkPrefix) }

// PageIDFromHref returns the page id of an internal link.
func PageIDFromHref(href string) (string, bool) {
	if !IsInternalHref(href) {
		return "", false
	}
	return strings.TrimPrefix(href, InternalLinkPrefix), true
}

// Normalize merges adjacent spans with identical styling, drops empty
// spans, and derives Underline from the link target: only internal page
// links are underlined. The result is never empty.
func Normalize(spans []Span) []Span {
	out := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.Text == "" {
			continue
		}
		s.Styles.Underline = s.Link != "" && IsInternalHref(s.Link)
		if n := len(out); n > 0 && out[n-1].Styles == s.Styles && out[n-1].Link == s.Link {
			out[n-1].Text += s.Text
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return []Span{{}}
	}
	return out
}

// PlainText concatenates span text.
func PlainText(spans []Span) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.Text)
	}
	return b.String()
}

// A backslash escapes only the characters in these sets; before anything
// else it is literal text. Parentheses only matter inside an href.
const (
	escapable     = `\*~` + "`" + `[]`
	hrefEscapable = `\)`
)

func escape(s string) string { return escapeSet(s, escapable) }

func escapeHref(s string) string { return escapeSet(s, hrefEscapable) }

func escapeSet(s, set string) string {
	if !strings.ContainsAny(s, set) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(set, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Serialize renders spans as inline markup. Wrapping runs from the inside
// out: code, link, strike, italic, bold. Text is written as is wherever it
// parses back unchanged, so literal delimiters like "2 * 3" stay unescaped;
// a run is escaped only when leaving it bare would change the result.
func Serialize(spans []Span) string {
	want := Normalize(spans)
	bare := make([]string, len(want))
	chosen := make([]string, len(want))
	for i, s := range want {
		bare[i] = wrap(s, false)
		chosen[i] = wrap(s, true)
	}
	for i := range want {
		if bare[i] == chosen[i] {
			continue
		}
		full := chosen[i]
		chosen[i] = bare[i]
		if !slices.Equal(Parse(strings.Join(chosen, "")), want) {
			chosen[i] = full
		}
	}
	return strings.Join(chosen, "")
}

func wrap(s Span, escapeAll bool) string {
	if s.Text == "" {
		return ""
	}
	text, href := s.Text, s.Link
	if escapeAll {
		text, href = escape(text), escapeHref(href)
	}
	if s.Styles.Code {
		text = "`" + text + "`"
	}
	if s.Link != "" {
		text = "[" + text + "](" + href + ")"
	}
	if s.Styles.Strike {
		text = "~~" + text + "~~"
	}
	if s.Styles.Italic {
		text = "*" + text + "*"
	}
	if s.Styles.Bold {
		text = "**" + text + "**"
	}
	return text
}

// Parse reads inline markup. Scanning is left to right and the earliest
// delimiter wins; a delimiter without a matching close is kept as literal
// text. Parse never fails.
func Parse(src string) []Span {
	p := &parser{src: src, failed: make(map[failKey]bool)}
	spans, _, _ := p.seq(0, "", Styles{}, "", false)
	return Normalize(spans)
}

type failKey struct {
	pos    int
	closer string
	inLink bool
}

type parser struct {
	src    string
	failed map[failKey]bool
}

type opener struct {
	delim  string
	closer string
	apply  func(Styles) Styles
}

var openers = []opener{
	{delim: "**", closer: "**", apply: func(s Styles) Styles { s.Bold = true; return s }},
	{delim: "~~", closer: "~~", apply: func(s Styles) Styles { s.Strike = true; return s }},
	{delim: "*", closer: "*", apply: func(s Styles) Styles { s.Italic = true; return s }},
}

// seq parses from pos until closer (or end of input when closer is "").
// It reports the spans, the position after the closer, and whether the
// closer was found.
func (p *parser) seq(pos int, closer string, st Styles, href string, inLink bool) ([]Span, int, bool) {
	key := failKey{pos: pos, closer: closer, inLink: inLink}
	if closer != "" && p.failed[key] {
		return nil, pos, false
	}
	start := pos
	var spans []Span
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			spans = append(spans, Span{Text: text.String(), Styles: st, Link: href})
			text.Reset()
		}
	}

	for pos < len(p.src) {
		if closer != "" && pos > start && strings.HasPrefix(p.src[pos:], closer) {
			flush()
			return spans, pos + len(closer), true
		}
		if escaped(p.src, pos, escapable) {
			text.WriteByte(p.src[pos+1])
			pos += 2
			continue
		}
		if inner, next, ok := p.construct(pos, st, href, inLink); ok {
			flush()
			spans = append(spans, inner...)
			pos = next
			continue
		}
		r, size := utf8.DecodeRuneInString(p.src[pos:])
		text.WriteRune(r)
		pos += size
	}
	if closer != "" {
		p.failed[key] = true
		return nil, pos, false
	}
	flush()
	return spans, pos, true
}

// construct tries every delimiter that opens at pos, longest first.
func (p *parser) construct(pos int, st Styles, href string, inLink bool) ([]Span, int, bool) {
	rest := p.src[pos:]
	for _, o := range openers {
		if !strings.HasPrefix(rest, o.delim) {
			continue
		}
		if inner, next, ok := p.seq(pos+len(o.delim), o.closer, o.apply(st), href, inLink); ok {
			return inner, next, true
		}
	}
	switch rest[0] {
	case '`':
		return p.code(pos, st, href)
	case '[':
		if !inLink {
			return p.link(pos, st)
		}
	}
	return nil, pos, false
}

func (p *parser) code(pos int, st Styles, href string) ([]Span, int, bool) {
	var text strings.Builder
	i := pos + 1
	for i < len(p.src) {
		switch c := p.src[i]; {
		case escaped(p.src, i, escapable):
			text.WriteByte(p.src[i+1])
			i += 2
		case c == '`':
			if text.Len() == 0 {
				return nil, pos, false
			}
			st.Code = true
			return []Span{{Text: text.String(), Styles: st, Link: href}}, i + 1, true
		default:
			r, size := utf8.DecodeRuneInString(p.src[i:])
			text.WriteRune(r)
			i += size
		}
	}
	return nil, pos, false
}

func (p *parser) link(pos int, st Styles) ([]Span, int, bool) {
	// The href is unknown until the label closes, so parse the label with
	// a placeholder and patch the link in afterwards.
	label, next, ok := p.seq(pos+1, "]", st, "", true)
	if !ok || next >= len(p.src) || p.src[next] != '(' {
		return nil, pos, false
	}
	var href strings.Builder
	i := next + 1
	for i < len(p.src) {
		if escaped(p.src, i, hrefEscapable) {
			href.WriteByte(p.src[i+1])
			i += 2
			continue
		}
		if p.src[i] == ')' {
			if href.Len() == 0 {
				return nil, pos, false
			}
			target := href.String()
			for k := range label {
				label[k].Link = target
				label[k].Styles.Underline = IsInternalHref(target)
			}
			return label, i + 1, true
		}
		r, size := utf8.DecodeRuneInString(p.src[i:])
		href.WriteRune(r)
		i += size
	}
	return nil, pos, false
}

// escaped reports whether src[i] is a backslash escaping a character of set.
func escaped(src string, i int, set string) bool {
	return src[i] == '\\' && i+1 < len(src) && strings.IndexByte(set, src[i+1]) >= 0
}
