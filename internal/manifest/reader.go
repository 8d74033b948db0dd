// Package manifest reads the manifest.json document embedded in mod packages.
package manifest

import (
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"

	"github.com/teamcutter/patchr/internal/domain"
)

const (
	EntryName = "manifest.json"

	// maxManifestSize bounds how much of the entry is decoded.
	maxManifestSize = 1 << 20
)

// Reader memoizes parsed manifests by package path. Entries stay until
// Invalidate is called for the path; the reader does not watch the filesystem.
// Returned records are shared and must not be modified.
type Reader struct {
	mu      sync.RWMutex
	entries map[string]*domain.ManifestRecord
	opens   atomic.Int64
	log     logrus.FieldLogger
}

type Option func(*Reader)

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Reader) { r.log = l }
}

func New(opts ...Option) *Reader {
	r := &Reader{
		entries: make(map[string]*domain.ManifestRecord),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadManifest returns the manifest of the package at path. A package that
// cannot be opened, has no manifest entry or has an unparsable one yields false.
func (r *Reader) ReadManifest(path string) (*domain.ManifestRecord, bool) {
	r.mu.RLock()
	m, ok := r.entries[path]
	r.mu.RUnlock()
	if ok {
		return m, true
	}

	m, err := r.load(path)
	if err != nil {
		r.log.WithField("package", path).Debugf("no manifest: %v", err)
		return nil, false
	}
	if m == nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.entries[path]; ok {
		return cached, true
	}
	r.entries[path] = m
	return m, true
}

func (r *Reader) Invalidate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, path)
}

// Opens counts how many times a package archive has been opened.
func (r *Reader) Opens() int64 {
	return r.opens.Load()
}

func (r *Reader) load(path string) (*domain.ManifestRecord, error) {
	r.opens.Add(1)

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != EntryName {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()

		data, err := io.ReadAll(io.LimitReader(rc, maxManifestSize))
		if err != nil {
			return nil, err
		}

		// a literal null leaves m nil and counts as no manifest
		var m *domain.ManifestRecord
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	}

	return nil, nil
}
