// Package store persists extracted records as one JSON file per document
// under a per-flow directory.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cao-extract/internal/model"
)

// RecordStore reads and writes ExtractedRecords.
type RecordStore interface {
	Write(ctx context.Context, rec *model.ExtractedRecord) error
	Read(ctx context.Context, flow model.Flow, documentID string) (*model.ExtractedRecord, error)
	Exists(flow model.Flow, documentID string) bool
	List(ctx context.Context, flow model.Flow) ([]string, error)
	WriteContext(ctx context.Context, flow model.Flow, ic *model.IntermediateContext) error
}

// ErrNotFound is returned by Read when no record exists.
var ErrNotFound = eris.New("store: record not found")

const contextDir = "_context"

// FileStore is a RecordStore rooted at an output directory.
type FileStore struct {
	root string
}

// NewFileStore returns a store rooted at root. Directories are created lazily.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Root returns the output directory.
func (s *FileStore) Root() string { return s.root }

// FlowDir returns the directory holding records for flow.
func (s *FileStore) FlowDir(flow model.Flow) string {
	return filepath.Join(s.root, flow.Dir())
}

// Path returns the record path for a document.
func (s *FileStore) Path(flow model.Flow, documentID string) string {
	return filepath.Join(s.FlowDir(flow), fileName(documentID)+".json")
}

// Write atomically replaces the record for (rec.DocumentID, rec.Flow).
func (s *FileStore) Write(_ context.Context, rec *model.ExtractedRecord) error {
	if rec == nil || rec.DocumentID == "" {
		return eris.New("store: record has no document id")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "store: marshal record %s", rec.DocumentID)
	}
	return WriteFileAtomic(s.Path(rec.Flow, rec.DocumentID), append(data, '\n'))
}

// Read loads a record. It returns ErrNotFound when none exists.
func (s *FileStore) Read(_ context.Context, flow model.Flow, documentID string) (*model.ExtractedRecord, error) {
	data, err := os.ReadFile(s.Path(flow, documentID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: read record %s", documentID)
	}
	var rec model.ExtractedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrapf(err, "store: decode record %s", documentID)
	}
	if rec.DocumentID == "" {
		rec.DocumentID = documentID
	}
	if rec.Flow == "" {
		rec.Flow = flow
	}
	return &rec, nil
}

// Exists reports whether a record has been persisted for the document.
func (s *FileStore) Exists(flow model.Flow, documentID string) bool {
	fi, err := os.Stat(s.Path(flow, documentID))
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

// List returns the document ids with a record for flow, sorted.
func (s *FileStore) List(_ context.Context, flow model.Flow) ([]string, error) {
	entries, err := os.ReadDir(s.FlowDir(flow))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: list %s", flow.Dir())
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// WriteContext persists an intermediate context for debugging.
func (s *FileStore) WriteContext(_ context.Context, flow model.Flow, ic *model.IntermediateContext) error {
	data, err := json.MarshalIndent(ic, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "store: marshal context %s", ic.DocumentID)
	}
	path := filepath.Join(s.FlowDir(flow), contextDir, fileName(ic.DocumentID)+".json")
	return WriteFileAtomic(path, append(data, '\n'))
}

// CheckWritable creates dir if needed and verifies a file can be written in it.
func CheckWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "store: create %s", dir)
	}
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return eris.Wrapf(err, "store: %s is not writable", dir)
	}
	name := f.Name()
	f.Close()       //nolint:errcheck
	os.Remove(name) //nolint:errcheck
	return nil
}

func fileName(documentID string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(strings.TrimSpace(documentID))
}
