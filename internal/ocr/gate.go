package ocr

import (
	"bytes"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rotisserie/eris"
)

var pdfMagic = []byte("%PDF")

// Gate rejects files that cannot be a usable PDF before any extraction runs.
type Gate struct {
	MinBytes int64
	MaxMB    float64
}

// Check verifies path exists, is within size bounds, starts with the PDF
// header and has a readable page count. It returns the page count.
func (g Gate) Check(path string) (int, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, eris.Wrapf(err, "ocr: stat %s", path)
	}
	if !fi.Mode().IsRegular() {
		return 0, eris.Errorf("ocr: %s is not a regular file", path)
	}
	size := fi.Size()
	if size == 0 {
		return 0, eris.Errorf("ocr: %s is empty", path)
	}
	if g.MinBytes > 0 && size < g.MinBytes {
		return 0, eris.Errorf("ocr: %s is too small (%d bytes)", path, size)
	}
	if g.MaxMB > 0 && float64(size) > g.MaxMB*1024*1024 {
		return 0, eris.Errorf("ocr: %s exceeds %.0f MB", path, g.MaxMB)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "ocr: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, pdfMagic) {
		return 0, eris.Errorf("ocr: %s has no PDF header", path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, eris.Wrapf(err, "ocr: rewind %s", path)
	}

	pages, err := api.PageCount(f, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "ocr: read page count of %s", path)
	}
	if pages == 0 {
		return 0, eris.Errorf("ocr: %s has no pages", path)
	}
	return pages, nil
}
