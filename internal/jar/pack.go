package jar

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// FixedTime is stamped on every entry so repeated runs produce identical
// archives (1980-01-01 UTC, the earliest time zip can encode).
var FixedTime = time.Unix(315532800, 0).UTC()

// Pack writes every regular file under dir into a new zip archive at dest.
// Entries use forward-slash paths relative to dir and are sorted. On failure
// the partial archive is left in place.
func Pack(dir, dest string) error {
	files, err := listFiles(dir)
	if err != nil {
		return errors.Wrapf(ErrArchiveWrite, "%s: %v", dir, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrapf(ErrArchiveWrite, "%s: %v", dest, err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(ErrArchiveWrite, "%s: %v", dest, err)
	}
	zw := zip.NewWriter(out)
	for _, rel := range files {
		if err := addFile(zw, filepath.Join(dir, filepath.FromSlash(rel)), rel); err != nil {
			zw.Close()
			out.Close()
			return errors.Wrapf(ErrArchiveWrite, "%s: %v", rel, err)
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return errors.Wrapf(ErrArchiveWrite, "%s: %v", dest, err)
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(ErrArchiveWrite, "%s: %v", dest, err)
	}
	return nil
}

// listFiles returns the slash-separated paths of the regular files under dir, sorted.
func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files, err
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: FixedTime}
	h.SetMode(0o644)
	w, err := zw.CreateHeader(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
