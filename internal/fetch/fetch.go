// Package fetch downloads the source archive into a local cache and manages
// the working tree, both through an afs storage service so that any scheme
// afs understands (file, http, https, mem) can serve as the source.
package fetch

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

// ErrDownload reports a source archive that could not be fetched.
var ErrDownload = errors.New("fetch: cannot download source archive")

// Service fetches archives and resets directories.
type Service struct {
	fs       afs.Service
	cacheDir string
	log      *slog.Logger
}

// New returns a Service caching downloads under cacheDir.
func New(cacheDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{fs: afs.New(), cacheDir: cacheDir, log: logger}
}

// CacheName is the cache file name for a source URL: the URL with '/' and
// ':' replaced by '_'.
func CacheName(sourceURL string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(sourceURL)
}

// Fetch returns the local path of sourceURL, downloading it into the cache
// unless an earlier run already did.
func (s *Service) Fetch(ctx context.Context, sourceURL string) (string, error) {
	dest := filepath.Join(s.cacheDir, CacheName(sourceURL))
	if ok, _ := s.fs.Exists(ctx, dest); ok {
		s.log.Debug("source archive cached", "url", sourceURL, "path", dest)
		return dest, nil
	}
	s.log.Info("downloading source archive", "url", sourceURL)
	data, err := s.fs.DownloadWithURL(ctx, sourceURL)
	if err != nil {
		return "", errors.Wrapf(ErrDownload, "%s: %v", sourceURL, err)
	}
	if err := s.fs.Create(ctx, s.cacheDir, file.DefaultDirOsMode, true); err != nil {
		if ok, _ := s.fs.Exists(ctx, s.cacheDir); !ok {
			return "", errors.Wrapf(err, "fetch: cache dir %s", s.cacheDir)
		}
	}
	if err := s.fs.Upload(ctx, dest, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return "", errors.Wrapf(err, "fetch: write %s", dest)
	}
	s.log.Info("cached source archive", "path", dest, "bytes", len(data))
	return dest, nil
}

// ResetDir removes dir with its content and recreates it empty.
func (s *Service) ResetDir(ctx context.Context, dir string) error {
	if ok, _ := s.fs.Exists(ctx, dir); ok {
		if err := s.fs.Delete(ctx, dir); err != nil {
			return errors.Wrapf(err, "fetch: clear %s", dir)
		}
	}
	if err := s.fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
		return errors.Wrapf(err, "fetch: create %s", dir)
	}
	return nil
}
