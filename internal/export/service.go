package export

import (
	"context"
	"fmt"

	"distill/api/internal/logger"
)

// Source loads a page ready for export.
type Source interface {
	ExportPage(ctx context.Context, userID, pageID, version string) (Page, error)
}

// Service handles page export operations
type Service struct {
	source Source
	log    *logger.Logger
	pdf    func(ctx context.Context, html, title string) (*Result, error)
	docx   func(ctx context.Context, html, title string) (*Result, error)
}

func NewService(source Source, log *logger.Logger) *Service {
	return &Service{
		source: source,
		log:    logger.OrNop(log).With("component", "export"),
		pdf:    exportPDF,
		docx:   exportDOCX,
	}
}

// Export renders the requested page in req.Format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	page, err := s.source.ExportPage(ctx, req.UserID, req.PageID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContentUnavailable, err)
	}

	html, err := RenderPageHTML(page)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	s.log.Debug("exporting page", "page_id", req.PageID, "format", req.Format)

	switch req.Format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(page.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.pdf(ctx, html, page.Title)
	case FormatDOCX:
		return s.docx(ctx, html, page.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
