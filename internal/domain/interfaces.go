package domain

import (
	"context"
	"time"
)

type Fetcher interface {
	Fetch(ctx context.Context, pkg Package, dst string, progress ProgressFunc) FetchResult
}

type Cache interface {
	Get(key string, ttl time.Duration) ([]byte, bool)
	Put(key string, data []byte) error
	Size() (int64, error)
	Clear() error
}

type Extractor interface {
	Extract(src, dest string) error
}

type State interface {
	LoadAvailable() []VersionRecord
	SaveAvailable(versions []VersionRecord) error
	LoadInstalled() []VersionRecord
	SaveInstalled(versions []VersionRecord) error
	MarkInstalled(v VersionRecord) error
	RemoveInstalled(patch int) error
	LoadModSideMetadata(fileName string) (*ModSideMetadata, bool)
	SaveModSideMetadata(fileName string, meta ModSideMetadata) error
	RemoveModSideMetadata(fileName string) error
}

type ManifestReader interface {
	ReadManifest(path string) (*ManifestRecord, bool)
	Invalidate(path string)
}

type Journal interface {
	Begin(entry JournalEntry) error
	Finish(kind, key string) error
	Pending() ([]JournalEntry, error)
}

type Catalog interface {
	GetMod(ctx context.Context, modID int) (*CatalogMod, error)
	GetFile(ctx context.Context, modID, fileID int) (*CatalogFile, error)
	GetLatestFile(ctx context.Context, modID int) (*CatalogFile, error)
}
