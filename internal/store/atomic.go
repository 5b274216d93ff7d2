package store

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// WriteFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path, so readers see the old or the new content
// and never a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "store: create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "store: create temp for %s", path)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return eris.Wrapf(err, "store: write %s", path)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return eris.Wrapf(err, "store: sync %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrapf(err, "store: close %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return eris.Wrapf(err, "store: rename %s", path)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry; not every platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()  //nolint:errcheck
	d.Close() //nolint:errcheck
}
