package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/teamcutter/patchr/internal/domain"
)

const (
	LockFile      = "state.lock"
	SideMetaExt   = ".meta.json"
	lockTimeout   = 30 * time.Second
	lockRetryWait = 100 * time.Millisecond
)

// Store persists the available and installed collections and per-mod side
// metadata as JSON files. Loads never fail: a missing or unreadable file is
// treated as an empty collection.
type Store struct {
	mu            sync.Mutex
	availablePath string
	installedPath string
	modsDir       string
	lockPath      string
	log           logrus.FieldLogger
}

type Option func(*Store)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

func New(availablePath, installedPath, modsDir string, opts ...Option) *Store {
	s := &Store{
		availablePath: availablePath,
		installedPath: installedPath,
		modsDir:       modsDir,
		lockPath:      filepath.Join(filepath.Dir(installedPath), LockFile),
		log:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) LoadAvailable() []domain.VersionRecord {
	return s.loadVersions(s.availablePath)
}

// SaveAvailable replaces the whole available collection.
func (s *Store) SaveAvailable(versions []domain.VersionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.availablePath, nonNil(versions))
}

func (s *Store) LoadInstalled() []domain.VersionRecord {
	return s.loadVersions(s.installedPath)
}

func (s *Store) SaveInstalled(versions []domain.VersionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.installedPath, nonNil(versions))
}

// MarkInstalled adds v to the installed collection, replacing any record
// with the same patch number.
func (s *Store) MarkInstalled(v domain.VersionRecord) error {
	v.Installed = true
	return s.updateInstalled(func(installed []domain.VersionRecord) []domain.VersionRecord {
		installed = slices.DeleteFunc(installed, v.Same)
		installed = append(installed, v)
		slices.SortFunc(installed, func(a, b domain.VersionRecord) int {
			return b.PatchNumber - a.PatchNumber
		})
		return installed
	})
}

// RemoveInstalled drops the record for patch. A missing record is not an error.
func (s *Store) RemoveInstalled(patch int) error {
	return s.updateInstalled(func(installed []domain.VersionRecord) []domain.VersionRecord {
		return slices.DeleteFunc(installed, func(v domain.VersionRecord) bool {
			return v.PatchNumber == patch
		})
	})
}

func (s *Store) LoadModSideMetadata(fileName string) (*domain.ModSideMetadata, bool) {
	path, err := s.sideMetaPath(fileName)
	if err != nil {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithField("path", path).Warnf("reading side metadata: %v", err)
		}
		return nil, false
	}

	var meta domain.ModSideMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		s.log.WithField("path", path).Warnf("ignoring corrupt side metadata: %v", err)
		return nil, false
	}
	return &meta, true
}

func (s *Store) SaveModSideMetadata(fileName string, meta domain.ModSideMetadata) error {
	path, err := s.sideMetaPath(fileName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(path, meta)
}

func (s *Store) RemoveModSideMetadata(fileName string) error {
	path, err := s.sideMetaPath(fileName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SideMetadataPath is where the side metadata of a mod package lives.
func SideMetadataPath(modsDir, fileName string) string {
	return filepath.Join(modsDir, fileName+SideMetaExt)
}

func (s *Store) sideMetaPath(fileName string) (string, error) {
	if err := domain.ValidateFileName(fileName); err != nil {
		return "", err
	}
	return SideMetadataPath(s.modsDir, fileName), nil
}

// updateInstalled runs a read-modify-write of the installed collection under
// the in-process mutex and a file lock shared with other patchr processes.
func (s *Store) updateInstalled(modify func([]domain.VersionRecord) []domain.VersionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0755); err != nil {
		return err
	}

	fileLock := flock.New(s.lockPath)
	lockCtx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := fileLock.TryLockContext(lockCtx, lockRetryWait)
	if err != nil {
		return fmt.Errorf("locking state: %w", err)
	}
	if locked {
		defer fileLock.Unlock()
	}

	installed := modify(s.loadVersions(s.installedPath))
	return s.writeJSON(s.installedPath, nonNil(installed))
}

func (s *Store) loadVersions(path string) []domain.VersionRecord {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithField("path", path).Warnf("reading state: %v", err)
		}
		return []domain.VersionRecord{}
	}

	var versions []domain.VersionRecord
	if err := json.Unmarshal(data, &versions); err != nil {
		s.log.WithField("path", path).Warnf("ignoring corrupt state file: %v", err)
		return []domain.VersionRecord{}
	}
	return nonNil(versions)
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := AtomicWriteFile(path, bytes.NewReader(data), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// AtomicWriteFile writes through a temp file in the same directory and
// renames it over filename, so readers see either the old or the new file.
func AtomicWriteFile(filename string, r io.Reader, mode os.FileMode) error {
	dir, base := filepath.Split(filename)
	tmp, err := os.CreateTemp(dir, "."+strings.TrimPrefix(base, ".")+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filename); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func nonNil(versions []domain.VersionRecord) []domain.VersionRecord {
	if versions == nil {
		return []domain.VersionRecord{}
	}
	return versions
}
