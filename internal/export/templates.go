package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/page.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("page.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string { return t.Format(layout) },
}).ParseFS(templateFS, "templates/page.html"))

type pageView struct {
	Title       string
	Icon        string
	UpdatedAt   time.Time
	ContentHTML template.HTML
}

// RenderPageHTML renders page as a standalone HTML document. Every export
// format starts from this output.
func RenderPageHTML(page Page) (string, error) {
	view := pageView{
		Title:       strings.TrimSpace(page.Title),
		Icon:        page.Icon,
		UpdatedAt:   page.UpdatedAt,
		ContentHTML: BlocksToHTML(page.Blocks, page.Synced),
	}
	if view.Title == "" {
		view.Title = "Untitled"
	}
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}
