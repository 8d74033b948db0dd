package domain

import "time"

// VersionRecord is one build on the patch host. Identity is PatchNumber alone.
type VersionRecord struct {
	Name        string `json:"name"`
	FileName    string `json:"fileName"`
	DownloadURL string `json:"downloadUrl"`
	PatchNumber int    `json:"patchNumber"`
	Size        int64  `json:"size"`
	Installed   bool   `json:"installed"`
	SHA256      string `json:"sha256,omitempty"`
}

func (v VersionRecord) Same(other VersionRecord) bool {
	return v.PatchNumber == other.PatchNumber
}

func (v VersionRecord) FormattedSize() string {
	return FormatSize(v.Size)
}

type Author struct {
	Name    string `json:"Name"`
	Website string `json:"Website"`
}

// ManifestRecord mirrors the manifest.json document shipped inside a mod package.
type ManifestRecord struct {
	Group                string            `json:"Group"`
	Name                 string            `json:"Name"`
	Version              string            `json:"Version"`
	Description          string            `json:"Description"`
	Authors              []Author          `json:"Authors"`
	ServerVersion        string            `json:"ServerVersion"`
	Dependencies         map[string]string `json:"Dependencies"`
	OptionalDependencies map[string]string `json:"OptionalDependencies"`
	DisabledByDefault    bool              `json:"DisabledByDefault"`
	Main                 string            `json:"Main"`
	IncludesAssetPack    bool              `json:"IncludesAssetPack"`
}

// ModSideMetadata is stored next to a package and records catalog provenance.
type ModSideMetadata struct {
	CatalogID     int    `json:"curseForgeId"`
	CatalogFileID int    `json:"fileId"`
	IconURL       string `json:"iconUrl,omitempty"`
}

type SummarySource string

const (
	SourceManifest     SummarySource = "manifest"
	SourceSideMetadata SummarySource = "side-metadata"
	SourceFileName     SummarySource = "filename"
)

type InstalledModSummary struct {
	ID            string
	Name          string
	Version       string
	Author        string
	Enabled       bool
	IconURL       string
	CatalogID     int
	CatalogFileID int
	Source        SummarySource
}

// Progress is one telemetry update. Percent is -1 when the total is unknown.
type Progress struct {
	Percent     float64
	Transferred int64
	Total       int64
	Rate        string
	Message     string
}

func (p Progress) Indeterminate() bool {
	return p.Percent < 0
}

type ProgressFunc func(Progress)

func (f ProgressFunc) Report(p Progress) {
	if f != nil {
		f(p)
	}
}

// Package is a single artifact to transfer.
type Package struct {
	Name        string
	DownloadURL string
	SHA256      string
}

type FetchResult struct {
	Package  string
	Path     string
	Size     int64
	SHA256   string
	Attempts int
	Error    error
}

// CatalogFile is the (locator, file name, size hint) triple the installer needs from the catalog.
type CatalogFile struct {
	ID          int       `json:"id"`
	ModID       int       `json:"modId"`
	DisplayName string    `json:"displayName"`
	FileName    string    `json:"fileName"`
	DownloadURL string    `json:"downloadUrl"`
	FileLength  int64     `json:"fileLength"`
	FileDate    time.Time `json:"fileDate"`
}

type CatalogMod struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Summary string `json:"summary"`
	Logo    struct {
		ThumbnailURL string `json:"thumbnailUrl"`
	} `json:"logo"`
}

type JournalEntry struct {
	Kind      string
	Key       string
	Path      string
	StartedAt time.Time
}

const (
	JournalVersion = "version"
	JournalMod     = "mod"
)
