package unmock

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"unmock/internal/classfile"
	"unmock/internal/jar"
)

// archiveClasses resolves superclasses against the source archive. Many
// classes share a handful of superclasses, so parsed classes are cached.
type archiveClasses struct {
	archive *jar.Archive
	cache   *lru.Cache[string, *classfile.Class]
}

func newArchiveClasses(a *jar.Archive, size int) (*archiveClasses, error) {
	cache, err := lru.New[string, *classfile.Class](size)
	if err != nil {
		return nil, errors.Wrap(err, "unmock: superclass cache")
	}
	return &archiveClasses{archive: a, cache: cache}, nil
}

// LookupClass returns a freshly parsed, never mutated copy of the class, or
// nil when the archive does not contain it.
func (s *archiveClasses) LookupClass(internal string) (*classfile.Class, error) {
	if c, ok := s.cache.Get(internal); ok {
		return c, nil
	}
	dotted := classfile.DottedName(internal)
	if !s.archive.HasClass(dotted) {
		return nil, nil
	}
	data, err := s.archive.ReadClass(dotted)
	if err != nil {
		return nil, err
	}
	c, err := classfile.Parse(data)
	if err != nil {
		return nil, err
	}
	s.cache.Add(internal, c)
	return c, nil
}
