// Package jar reads the source class archive and writes the output archive.
package jar

import (
	"archive/zip"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrArchiveRead  = errors.New("jar: cannot read archive")
	ErrArchiveWrite = errors.New("jar: cannot write archive")
	ErrNoEntry      = errors.New("jar: no such entry")
)

const classSuffix = ".class"

// Archive is a read-only handle on a class archive.
type Archive struct {
	zr        *zip.ReadCloser
	entries   map[string]*zip.File
	classes   []string
	resources []string
}

// Open opens a zip-format archive and indexes its entries. Class entries are
// listed by dotted name, everything else by its verbatim path. Directory
// entries are neither.
func Open(path string) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(ErrArchiveRead, "%s: %v", path, err)
	}
	a := &Archive{zr: zr, entries: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		if _, dup := a.entries[f.Name]; dup {
			continue
		}
		a.entries[f.Name] = f
		if strings.HasSuffix(f.Name, classSuffix) {
			a.classes = append(a.classes, DottedName(f.Name))
		} else {
			a.resources = append(a.resources, f.Name)
		}
	}
	return a, nil
}

// Classes returns the dotted names of every class entry, in archive order.
func (a *Archive) Classes() []string { return a.classes }

// Resources returns the paths of every non-class entry, in archive order.
func (a *Archive) Resources() []string { return a.resources }

// ReadFile returns the content of the named entry.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	f, ok := a.entries[name]
	if !ok {
		return nil, errors.Wrap(ErrNoEntry, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(ErrArchiveRead, "%s: %v", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(ErrArchiveRead, "%s: %v", name, err)
	}
	return data, nil
}

// ReadClass returns the bytes of a class by dotted name.
func (a *Archive) ReadClass(dotted string) ([]byte, error) {
	return a.ReadFile(EntryName(dotted))
}

// HasClass reports whether the archive contains the dotted class.
func (a *Archive) HasClass(dotted string) bool {
	_, ok := a.entries[EntryName(dotted)]
	return ok
}

// Close releases the archive.
func (a *Archive) Close() error {
	return a.zr.Close()
}

// DottedName converts a class entry path to a dotted class name.
func DottedName(entry string) string {
	return strings.ReplaceAll(strings.TrimSuffix(entry, classSuffix), "/", ".")
}

// EntryName converts a dotted class name to its entry path.
func EntryName(dotted string) string {
	return strings.ReplaceAll(dotted, ".", "/") + classSuffix
}

// Sorted returns a sorted copy of names.
func Sorted(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
