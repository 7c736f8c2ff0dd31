package jar

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// CopyResources copies every resource in names whose path starts with one of
// prefixes into dir, byte for byte, at the same relative path. Existing files
// are overwritten. It returns the number of files written.
func CopyResources(a *Archive, names, prefixes []string, dir string) (int, error) {
	n := 0
	for _, name := range names {
		if !hasAnyPrefix(name, prefixes) {
			continue
		}
		rel := filepath.FromSlash(SanitizePath(name))
		dst := filepath.Join(dir, rel)
		data, err := a.ReadFile(name)
		if err != nil {
			return n, err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return n, errors.Wrapf(err, "jar: resource %s", name)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return n, errors.Wrapf(err, "jar: resource %s", name)
		}
		n++
	}
	return n, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// SanitizePath normalizes an entry path: forward slashes, no drive letter, no
// leading '/', and '.' and '..' segments resolved without escaping the root.
func SanitizePath(p string) string {
	s := filepath.ToSlash(p)
	if len(s) > 1 && s[1] == ':' {
		s = s[2:]
	}
	parts := strings.Split(strings.TrimLeft(s, "/"), "/")
	stack := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
		case "..":
			if n := len(stack); n > 0 {
				stack = stack[:n-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	if len(stack) == 0 {
		return "entry"
	}
	return strings.Join(stack, "/")
}
