// Package ocr turns agreement PDFs into page text when no pre-extracted
// page JSON exists.
package ocr

import (
	"context"

	"github.com/sells-group/cao-extract/internal/config"
)

// Extractor extracts text content from PDF files, one entry per page.
type Extractor interface {
	ExtractPages(ctx context.Context, pdfPath string) ([]string, error)
}

// NewExtractor creates an Extractor based on config. PDFs are checked
// against the quality gate before extraction.
func NewExtractor(cfg config.OCRConfig) Extractor {
	return &Gated{
		Gate: Gate{MinBytes: cfg.MinPDFBytes, MaxMB: cfg.MaxPDFMB},
		Next: NewPdfToText(cfg.PdfToTextPath),
	}
}

// Gated runs Gate before delegating to Next.
type Gated struct {
	Gate Gate
	Next Extractor
}

// ExtractPages implements Extractor.
func (g *Gated) ExtractPages(ctx context.Context, pdfPath string) ([]string, error) {
	if _, err := g.Gate.Check(pdfPath); err != nil {
		return nil, err
	}
	return g.Next.ExtractPages(ctx, pdfPath)
}
