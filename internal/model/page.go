package model

import (
	"fmt"
	"strings"
)

// DocumentStatus tracks a document through a run.
type DocumentStatus string

const (
	DocumentPending          DocumentStatus = "pending"
	DocumentContextExtracted DocumentStatus = "context_extracted"
	DocumentMapped           DocumentStatus = "mapped"
	DocumentFailed           DocumentStatus = "failed"
)

// Page is one page of extracted document text.
type Page struct {
	Number  int    `json:"page"`
	OCRUsed bool   `json:"ocr_used"`
	Text    string `json:"text"`
}

// Document is a single agreement document handed to the pipeline.
type Document struct {
	ID      string         `json:"id"`
	Sources []string       `json:"sources,omitempty"`
	Pages   []Page         `json:"pages"`
	Status  DocumentStatus `json:"status"`
}

// Text joins the page texts with page markers.
func (d *Document) Text() string {
	var b strings.Builder
	for i, p := range d.Pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- page %d ---\n", p.Number)
		b.WriteString(strings.TrimSpace(p.Text))
	}
	return b.String()
}

// Size returns the total number of text bytes across pages.
func (d *Document) Size() int {
	n := 0
	for _, p := range d.Pages {
		n += len(p.Text)
	}
	return n
}

// Empty reports whether the document has no usable text.
func (d *Document) Empty() bool {
	for _, p := range d.Pages {
		if strings.TrimSpace(p.Text) != "" {
			return false
		}
	}
	return true
}
