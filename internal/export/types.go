// Package export renders pages to HTML, PDF and DOCX.
package export

import (
	"errors"
	"time"

	"distill/api/internal/blocks"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatHTML, FormatPDF, FormatDOCX:
		return Format(s), nil
	case "":
		return FormatHTML, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	UserID string
	PageID string
	// Version is a history hash; empty exports the current content.
	Version string
	Format  Format
}

// Page is the content to export, with synced references already resolved.
type Page struct {
	ID        string
	Title     string
	Icon      string
	UpdatedAt time.Time
	Blocks    []*blocks.Block
	// Synced maps synced block ids to their content.
	Synced map[string][]*blocks.Block
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrContentUnavailable indicates page content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
