// Package render exports resolved member documentation in reader-facing
// formats.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docinherit/internal/doctree"
)

// Renderer writes a documentation tree in one output format.
type Renderer interface {
	Render(w io.Writer, doc *doctree.Document) error
}

// Format names accepted by ForFormat, normalized.
const (
	FormatMarkdown = "md"
	FormatHTML     = "html"
	FormatDOCX     = "docx"
)

// Normalize maps format aliases onto their canonical name.
func Normalize(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "md", "markdown":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	case "docx", "word":
		return FormatDOCX, nil
	default:
		return "", fmt.Errorf("unsupported render format: %q", format)
	}
}

// ForFormat returns the renderer for a format name.
func ForFormat(format string) (Renderer, error) {
	f, err := Normalize(format)
	if err != nil {
		return nil, err
	}
	switch f {
	case FormatHTML:
		return &HTMLRenderer{}, nil
	case FormatDOCX:
		return &DOCXRenderer{}, nil
	default:
		return &MarkdownRenderer{}, nil
	}
}

// ContentType returns the MIME type served for a canonical format.
func ContentType(format string) string {
	switch format {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/xml; charset=utf-8"
	}
}

// Extension returns the file extension for a canonical format.
func Extension(format string) string {
	switch format {
	case FormatMarkdown:
		return ".md"
	case FormatHTML:
		return ".html"
	case FormatDOCX:
		return ".docx"
	default:
		return ".xml"
	}
}
