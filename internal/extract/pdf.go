// Package extract turns stored document bytes into per-page text.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Page is the text of a single document page. Number is zero-based.
type Page struct {
	Number int
	Text   string
}

// HasText reports whether any page carries non-whitespace text.
func HasText(pages []Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// PDFExtractor pulls the embedded text layer out of PDF bytes.
type PDFExtractor struct{}

// NewPDFExtractor creates a new PDFExtractor instance.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract returns one Page per PDF page. Pages without a text layer come
// back empty rather than being dropped, so page numbers stay aligned with
// the source file. The pdf package panics on some malformed files, so the
// whole pass runs under a recover.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (pages []Page, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			pages = nil
			err = fmt.Errorf("pdf parsing panicked: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	total := reader.NumPage()
	pages = make([]Page, 0, total)

	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := Page{Number: i - 1}

		p := reader.Page(i)
		if !p.V.IsNull() {
			text, err := p.GetPlainText(nil)
			if err == nil {
				page.Text = text
			}
		}

		pages = append(pages, page)
	}

	return pages, nil
}
