package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/teamcutter/patchr/internal/domain"
)

const (
	versionDirPrefix = "patch-"
	stagingSuffix    = ".partial"
)

// Installer turns remote artifacts into installed local state and back.
// Downloads always land in a staging path first, so a failed install never
// disturbs what is already installed.
type Installer struct {
	fetcher   domain.Fetcher
	extractor domain.Extractor
	state     domain.State
	manifests domain.ManifestReader
	journal   domain.Journal
	gamesDir  string
	modsDir   string
	log       logrus.FieldLogger
}

type Option func(*Installer)

func WithLogger(l logrus.FieldLogger) Option {
	return func(i *Installer) { i.log = l }
}

func New(
	fetcher domain.Fetcher,
	extractor domain.Extractor,
	state domain.State,
	manifests domain.ManifestReader,
	journal domain.Journal,
	gamesDir, modsDir string,
	opts ...Option,
) *Installer {
	i := &Installer{
		fetcher:   fetcher,
		extractor: extractor,
		state:     state,
		manifests: manifests,
		journal:   journal,
		gamesDir:  gamesDir,
		modsDir:   modsDir,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Installer) VersionDir(patch int) string {
	return filepath.Join(i.gamesDir, versionDirPrefix+strconv.Itoa(patch))
}

// IsVersionInstalled requires both an installed record and its directory.
func (i *Installer) IsVersionInstalled(patch int) bool {
	for _, v := range i.state.LoadInstalled() {
		if v.PatchNumber == patch {
			info, err := os.Stat(i.VersionDir(patch))
			return err == nil && info.IsDir()
		}
	}
	return false
}

// InstallVersion downloads v into its version directory and marks it
// installed. Download failures are returned as the fetcher reported them.
func (i *Installer) InstallVersion(ctx context.Context, v domain.VersionRecord, report domain.ProgressFunc) (*domain.VersionRecord, error) {
	fileName := v.FileName
	if fileName == "" {
		fileName = domain.PatchFileName(v.PatchNumber)
	}
	if err := domain.ValidateFileName(fileName); err != nil {
		return nil, err
	}
	if v.DownloadURL == "" {
		return nil, fmt.Errorf("patch %d: %w", v.PatchNumber, domain.ErrNotAvailable)
	}

	log := i.log.WithField("patch", v.PatchNumber)
	dir := i.VersionDir(v.PatchNumber)
	staging := dir + stagingSuffix
	key := strconv.Itoa(v.PatchNumber)

	// the journal entry holds the staging lock, so claim it before touching staging
	if err := i.begin(domain.JournalVersion, key, staging); err != nil {
		return nil, err
	}
	defer i.finish(domain.JournalVersion, key)

	if err := os.RemoveAll(staging); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := os.RemoveAll(staging); err != nil {
				log.Warnf("failed to remove staging directory: %v", err)
			}
		}
	}()

	artifact := filepath.Join(staging, fileName)
	pkg := domain.Package{Name: v.Name, DownloadURL: v.DownloadURL, SHA256: v.SHA256}
	result := i.fetcher.Fetch(ctx, pkg, artifact, report)
	if result.Error != nil {
		return nil, result.Error
	}

	if domain.IsArchive(fileName) {
		if err := i.extractor.Extract(artifact, staging); err != nil {
			return nil, fmt.Errorf("extracting %s: %w", fileName, err)
		}
		if err := os.Remove(artifact); err != nil {
			return nil, err
		}
	}

	backup, err := swapDir(staging, dir)
	if err != nil {
		return nil, fmt.Errorf("activating patch %d: %w", v.PatchNumber, err)
	}
	committed = true

	installed := v
	installed.FileName = fileName
	installed.Installed = true
	installed.Size = result.Size
	installed.SHA256 = result.SHA256

	if err := i.state.MarkInstalled(installed); err != nil {
		if rerr := restoreDir(dir, backup); rerr != nil {
			log.Warnf("failed to restore previous version: %v", rerr)
		}
		return nil, fmt.Errorf("recording patch %d: %w", v.PatchNumber, err)
	}
	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			log.Warnf("failed to remove previous version: %v", err)
		}
	}

	log.WithFields(logrus.Fields{"dir": dir, "bytes": result.Size}).Info("version installed")
	return &installed, nil
}

// UninstallVersion removes the version directory and its record. Removing a
// version that is not installed is not an error.
func (i *Installer) UninstallVersion(patch int) error {
	dir := i.VersionDir(patch)
	var result *multierror.Error

	if err := os.RemoveAll(dir); err != nil {
		result = multierror.Append(result, err)
	}
	if err := os.RemoveAll(dir + stagingSuffix); err != nil {
		result = multierror.Append(result, err)
	}
	if err := i.state.RemoveInstalled(patch); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("uninstalling patch %d: %w", patch, err)
	}

	i.log.WithField("patch", patch).Info("version uninstalled")
	return nil
}

// Reconcile drops installed records whose directory has gone missing and
// returns their patch numbers.
func (i *Installer) Reconcile() ([]int, error) {
	var dropped []int
	for _, v := range i.state.LoadInstalled() {
		if _, err := os.Stat(i.VersionDir(v.PatchNumber)); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return dropped, err
		}

		if err := i.state.RemoveInstalled(v.PatchNumber); err != nil {
			return dropped, err
		}
		i.log.WithField("patch", v.PatchNumber).Warn("dropping installed record with missing directory")
		dropped = append(dropped, v.PatchNumber)
	}
	return dropped, nil
}

func (i *Installer) begin(kind, key, path string) error {
	if i.journal == nil {
		return nil
	}
	return i.journal.Begin(domain.JournalEntry{Kind: kind, Key: key, Path: path})
}

func (i *Installer) finish(kind, key string) {
	if i.journal == nil {
		return
	}
	if err := i.journal.Finish(kind, key); err != nil {
		i.log.WithFields(logrus.Fields{"kind": kind, "key": key}).Warnf("journal: %v", err)
	}
}

// swapDir moves staging into place at dir. Previous content is parked at the
// returned backup path, empty when there was none, until the caller drops it.
func swapDir(staging, dir string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return "", err
	}

	backup := dir + ".old"
	if err := os.RemoveAll(backup); err != nil {
		return "", err
	}

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		backup = ""
	} else if err := os.Rename(dir, backup); err != nil {
		return "", err
	}

	if err := os.Rename(staging, dir); err != nil {
		if backup != "" {
			os.Rename(backup, dir)
		}
		return "", err
	}
	return backup, nil
}

// restoreDir undoes swapDir: dir is dropped and backup, if any, put back.
func restoreDir(dir, backup string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if backup == "" {
		return nil
	}
	return os.Rename(backup, dir)
}
