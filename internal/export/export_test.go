package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"distill/api/internal/blocks"
)

func TestBlocksToHTML(t *testing.T) {
	tests := []struct {
		name     string
		doc      []*blocks.Block
		synced   map[string][]*blocks.Block
		expected []string
	}{
		{
			name:     "empty document",
			doc:      nil,
			expected: []string{""},
		},
		{
			name:     "bold paragraph",
			doc:      []*blocks.Block{{ID: "a", Body: blocks.Paragraph{Text: blocks.Parse("say **hi**")}}},
			expected: []string{"<p>say <strong>hi</strong></p>"},
		},
		{
			name:     "heading levels",
			doc:      []*blocks.Block{{ID: "a", Body: blocks.Heading{Level: 2, Text: blocks.Parse("Section")}}},
			expected: []string{"<h2>Section</h2>"},
		},
		{
			name: "consecutive bullets share a list",
			doc: []*blocks.Block{
				{ID: "a", Body: blocks.BulletItem{Text: blocks.Parse("one")}},
				{ID: "b", Body: blocks.BulletItem{Text: blocks.Parse("two")}},
				{ID: "c", Body: blocks.NumberedItem{Text: blocks.Parse("three")}},
			},
			expected: []string{"<ul>\n<li>one</li>\n<li>two</li>\n</ul>\n<ol>\n<li>three</li>\n</ol>"},
		},
		{
			name: "nested list items",
			doc: []*blocks.Block{
				{ID: "a", Body: blocks.BulletItem{Text: blocks.Parse("parent")}, Children: []*blocks.Block{
					{ID: "b", Body: blocks.BulletItem{Text: blocks.Parse("child")}},
				}},
			},
			expected: []string{"<li>parent\n<ul>\n<li>child</li>\n</ul>\n</li>"},
		},
		{
			name:     "code is escaped verbatim",
			doc:      []*blocks.Block{{ID: "a", Body: blocks.Code{Language: "go", Source: "if a < b {}"}}},
			expected: []string{`<pre><code class="language-go">if a &lt; b {}</code></pre>`},
		},
		{
			name: "links and internal links",
			doc: []*blocks.Block{{ID: "a", Body: blocks.Paragraph{Text: []blocks.Span{
				{Text: "site", Link: "https://example.com"},
				{Text: "page", Link: blocks.PageHref("pg_1"), Styles: blocks.Styles{Underline: true}},
				{Text: "bad", Link: "javascript:alert(1)"},
			}}}},
			expected: []string{`<a href="https://example.com">site</a>`, "<u>page</u>", "bad"},
		},
		{
			name: "synced reference expands content",
			doc:  []*blocks.Block{{ID: "a", Body: blocks.SyncedRef{SyncedBlockID: "sb_1"}}},
			synced: map[string][]*blocks.Block{
				"sb_1": {{ID: "x", Body: blocks.Paragraph{Text: blocks.Parse("shared")}}},
			},
			expected: []string{"<div class=\"synced\">\n<p>shared</p>"},
		},
		{
			name:     "missing synced content",
			doc:      []*blocks.Block{{ID: "a", Body: blocks.SyncedRef{SyncedBlockID: "gone"}}},
			expected: []string{"Synced content unavailable"},
		},
		{
			name:     "todo and divider",
			doc:      []*blocks.Block{{ID: "a", Body: blocks.Todo{Checked: true, Text: blocks.Parse("done")}}, {ID: "b", Body: blocks.Divider{}}},
			expected: []string{"&#9745; done", "<hr>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := string(BlocksToHTML(tt.doc, tt.synced))
			for _, want := range tt.expected {
				if !strings.Contains(result, want) {
					t.Errorf("BlocksToHTML() = %q, want it to contain %q", result, want)
				}
			}
			if strings.Contains(result, "javascript:") && strings.Contains(result, "href=\"javascript") {
				t.Errorf("unsafe href rendered: %q", result)
			}
		})
	}
}

func TestSelfReferencingSyncedContentTerminates(t *testing.T) {
	synced := map[string][]*blocks.Block{
		"sb_1": {{ID: "x", Body: blocks.SyncedRef{SyncedBlockID: "sb_1"}}},
	}
	result := string(BlocksToHTML([]*blocks.Block{{ID: "a", Body: blocks.SyncedRef{SyncedBlockID: "sb_1"}}}, synced))
	if !strings.Contains(result, "Synced content unavailable") {
		t.Fatalf("expected recursion to stop, got %q", result)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Page v1.2", "My-Page-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "page"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := sanitizeFilename(tt.input); result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			want := "data:text/html;charset=utf-8," + tt.expected
			if result := dataURL(tt.input); result != want {
				t.Errorf("dataURL(%q) = %q, want %q", tt.input, result, want)
			}
		})
	}
}

func TestRenderPageHTML(t *testing.T) {
	html, err := RenderPageHTML(Page{
		Title:     "Test Page",
		Icon:      "📄",
		UpdatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Blocks:    []*blocks.Block{{ID: "a", Body: blocks.Paragraph{Text: blocks.Parse("This is the content.")}}},
	})
	if err != nil {
		t.Fatalf("RenderPageHTML() error = %v", err)
	}
	for _, want := range []string{"Test Page", "📄", "Mar 1, 2024", "<p>This is the content.</p>"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "&lt;p&gt;") {
		t.Error("content HTML was escaped")
	}

	untitled, err := RenderPageHTML(Page{Title: "   "})
	if err != nil {
		t.Fatalf("RenderPageHTML() error = %v", err)
	}
	if !strings.Contains(untitled, "Untitled") {
		t.Error("blank title should render as Untitled")
	}
}

type sourceFunc func(ctx context.Context, userID, pageID, version string) (Page, error)

func (f sourceFunc) ExportPage(ctx context.Context, userID, pageID, version string) (Page, error) {
	return f(ctx, userID, pageID, version)
}

func TestServiceExport(t *testing.T) {
	var gotVersion string
	svc := NewService(sourceFunc(func(_ context.Context, userID, pageID, version string) (Page, error) {
		gotVersion = version
		if pageID == "missing" {
			return Page{}, errors.New("no rows")
		}
		return Page{ID: pageID, Title: "Weekly Notes", Blocks: []*blocks.Block{{ID: "a", Body: blocks.Paragraph{Text: blocks.Parse("*hello*")}}}}, nil
	}), nil)

	res, err := svc.Export(context.Background(), Request{UserID: "u1", PageID: "pg_1", Version: "abc1234", Format: FormatHTML})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Filename != "Weekly-Notes.html" || !strings.HasPrefix(res.MimeType, "text/html") {
		t.Fatalf("unexpected result metadata %+v", res)
	}
	if !strings.Contains(string(res.Data), "<em>hello</em>") {
		t.Fatalf("export missing content: %s", res.Data)
	}
	if gotVersion != "abc1234" {
		t.Fatalf("version not passed to source: %q", gotVersion)
	}

	var pdfTitle string
	svc.pdf = func(_ context.Context, html, title string) (*Result, error) {
		pdfTitle = title
		return &Result{Filename: "x.pdf"}, nil
	}
	if _, err := svc.Export(context.Background(), Request{PageID: "pg_1", Format: FormatPDF}); err != nil {
		t.Fatalf("Export(pdf) error = %v", err)
	}
	if pdfTitle != "Weekly Notes" {
		t.Fatalf("pdf renderer got title %q", pdfTitle)
	}

	if _, err := svc.Export(context.Background(), Request{PageID: "missing"}); !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable, got %v", err)
	}
	if _, err := svc.Export(context.Background(), Request{PageID: "pg_1", Format: "rtf"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatHTML {
		t.Fatalf("ParseFormat(\"\") = %q, %v", f, err)
	}
	if _, err := ParseFormat("odt"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
