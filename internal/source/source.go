// Package source discovers agreement documents on disk and loads their
// page text.
package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/ocr"
)

// Source lists and loads documents.
type Source interface {
	IDs(ctx context.Context) ([]string, error)
	Load(ctx context.Context, id string) (*model.Document, error)
}

// DirSource reads `<root>/<agreement>/*.json` page files, falling back to
// `<root>/<agreement>/*.pdf` through an ocr.Extractor when no JSON exists.
type DirSource struct {
	root string
	pdf  ocr.Extractor
}

// NewDirSource returns a source over root. pdf may be nil to disable the
// PDF fallback.
func NewDirSource(root string, pdf ocr.Extractor) *DirSource {
	return &DirSource{root: root, pdf: pdf}
}

// IDs returns the agreement directory names in model.SortIDs order.
func (s *DirSource) IDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, eris.Wrapf(err, "source: list %s", s.root)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") && !strings.HasPrefix(e.Name(), "_") {
			ids = append(ids, e.Name())
		}
	}
	model.SortIDs(ids)
	return ids, nil
}

// Load reads every page file of the agreement. Files are read in name
// order and pages are ordered by page number.
func (s *DirSource) Load(ctx context.Context, id string) (*model.Document, error) {
	dir := filepath.Join(s.root, id)
	jsonFiles, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, eris.Wrapf(err, "source: glob %s", dir)
	}
	sort.Strings(jsonFiles)

	doc := &model.Document{ID: id, Status: model.DocumentPending}
	for _, path := range jsonFiles {
		pages, err := readPages(path)
		if err != nil {
			return nil, err
		}
		doc.Pages = append(doc.Pages, pages...)
		doc.Sources = append(doc.Sources, path)
	}

	if len(doc.Pages) == 0 && s.pdf != nil {
		if err := s.loadPDFs(ctx, dir, doc); err != nil {
			return nil, err
		}
	}
	if len(doc.Sources) == 0 {
		return nil, eris.Errorf("source: no page files for document %s", id)
	}

	sort.SliceStable(doc.Pages, func(i, j int) bool { return doc.Pages[i].Number < doc.Pages[j].Number })
	return doc, nil
}

func (s *DirSource) loadPDFs(ctx context.Context, dir string, doc *model.Document) error {
	pdfs, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if err != nil {
		return eris.Wrapf(err, "source: glob %s", dir)
	}
	sort.Strings(pdfs)
	next := 1
	for _, path := range pdfs {
		texts, err := s.pdf.ExtractPages(ctx, path)
		if err != nil {
			zap.L().Warn("source: skipping unusable pdf", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, text := range texts {
			doc.Pages = append(doc.Pages, model.Page{Number: next, OCRUsed: true, Text: text})
			next++
		}
		doc.Sources = append(doc.Sources, path)
	}
	return nil
}

// readPages decodes a page file: an array of pages, or a single page object.
func readPages(path string) ([]model.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", path)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var p model.Page
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, eris.Wrapf(err, "source: decode %s", path)
		}
		return []model.Page{p}, nil
	}
	var pages []model.Page
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, eris.Wrapf(err, "source: decode %s", path)
	}
	return pages, nil
}
