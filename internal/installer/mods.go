package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/teamcutter/patchr/internal/domain"
)

const unknown = "Unknown"

var modExtensions = []string{".jar", ".zip"}

func (i *Installer) ModsDir() string {
	return i.modsDir
}

func (i *Installer) ModPath(fileName string) string {
	return filepath.Join(i.modsDir, fileName)
}

// InstallMod downloads file into the mods directory. When catalogID is set a
// side metadata record keeps the catalog linkage for manifest-less listings.
func (i *Installer) InstallMod(ctx context.Context, file domain.CatalogFile, catalogID int, iconURL string, report domain.ProgressFunc) (string, error) {
	if err := domain.ValidateFileName(file.FileName); err != nil {
		return "", err
	}
	if file.DownloadURL == "" {
		return "", fmt.Errorf("%s: no download url", file.FileName)
	}

	log := i.log.WithField("mod", file.FileName)
	dst := i.ModPath(file.FileName)
	staging := filepath.Join(i.modsDir, "."+file.FileName+".part")

	if err := os.MkdirAll(i.modsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create mods directory: %w", err)
	}

	if err := i.begin(domain.JournalMod, file.FileName, staging); err != nil {
		return "", err
	}
	defer i.finish(domain.JournalMod, file.FileName)

	name := file.DisplayName
	if name == "" {
		name = file.FileName
	}
	result := i.fetcher.Fetch(ctx, domain.Package{Name: name, DownloadURL: file.DownloadURL}, staging, report)
	if result.Error != nil {
		return "", result.Error
	}

	if file.FileLength > 0 && result.Size != file.FileLength {
		log.Warnf("catalog lists %d bytes, received %d", file.FileLength, result.Size)
	}

	if err := os.Rename(staging, dst); err != nil {
		os.Remove(staging)
		return "", fmt.Errorf("activating %s: %w", file.FileName, err)
	}
	i.manifests.Invalidate(dst)

	if catalogID > 0 {
		meta := domain.ModSideMetadata{CatalogID: catalogID, CatalogFileID: file.ID, IconURL: iconURL}
		if err := i.state.SaveModSideMetadata(file.FileName, meta); err != nil {
			return dst, fmt.Errorf("saving catalog link for %s: %w", file.FileName, err)
		}
	} else if err := i.state.RemoveModSideMetadata(file.FileName); err != nil {
		log.Warnf("removing stale side metadata: %v", err)
	}

	log.WithField("bytes", result.Size).Info("mod installed")
	return dst, nil
}

// UninstallMod removes the package, its side metadata and its cached
// manifest. A package that is already gone is not an error.
func (i *Installer) UninstallMod(fileName string) error {
	if err := domain.ValidateFileName(fileName); err != nil {
		return err
	}

	path := i.ModPath(fileName)
	var result *multierror.Error

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		result = multierror.Append(result, err)
	}
	if err := i.state.RemoveModSideMetadata(fileName); err != nil {
		result = multierror.Append(result, err)
	}
	i.manifests.Invalidate(path)

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("uninstalling %s: %w", fileName, err)
	}

	i.log.WithField("mod", fileName).Info("mod uninstalled")
	return nil
}

// ListInstalledMods returns one summary per package in the mods directory,
// taken from the package manifest, else the side metadata, else the file name.
func (i *Installer) ListInstalledMods() ([]domain.InstalledModSummary, error) {
	entries, err := os.ReadDir(i.modsDir)
	if os.IsNotExist(err) {
		return []domain.InstalledModSummary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing mods: %w", err)
	}

	mods := make([]domain.InstalledModSummary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isModPackage(e.Name()) {
			continue
		}
		mods = append(mods, i.summarize(e.Name()))
	}
	return mods, nil
}

func (i *Installer) summarize(fileName string) domain.InstalledModSummary {
	s := domain.InstalledModSummary{
		ID:      fileName,
		Name:    strings.TrimSuffix(fileName, filepath.Ext(fileName)),
		Version: unknown,
		Author:  unknown,
		Enabled: true,
		Source:  domain.SourceFileName,
	}

	meta, hasMeta := i.state.LoadModSideMetadata(fileName)
	if hasMeta {
		s.CatalogID = meta.CatalogID
		s.CatalogFileID = meta.CatalogFileID
		s.IconURL = meta.IconURL
		s.Source = domain.SourceSideMetadata
	}

	m, ok := i.manifests.ReadManifest(i.ModPath(fileName))
	if !ok {
		return s
	}

	s.Source = domain.SourceManifest
	if m.Name != "" {
		s.Name = m.Name
	}
	if m.Version != "" {
		s.Version = m.Version
	}
	if len(m.Authors) > 0 && m.Authors[0].Name != "" {
		s.Author = m.Authors[0].Name
	}
	s.Enabled = !m.DisabledByDefault

	i.log.WithFields(logrus.Fields{"mod": fileName, "source": s.Source}).Debug("summarized mod")
	return s
}

func isModPackage(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range modExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
