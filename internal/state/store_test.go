package state

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcutter/patchr/internal/domain"
	"github.com/teamcutter/patchr/internal/logging"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s := New(
		filepath.Join(dir, "available_versions.json"),
		filepath.Join(dir, "installed_versions.json"),
		filepath.Join(dir, "UserData", "Mods"),
		WithLogger(logging.Discard()),
	)
	return s, dir
}

func record(patch int, size int64) domain.VersionRecord {
	return domain.VersionRecord{
		Name:        domain.PatchName(patch),
		FileName:    domain.PatchFileName(patch),
		DownloadURL: "https://example.com/" + domain.PatchFileName(patch),
		PatchNumber: patch,
		Size:        size,
	}
}

func TestLoadMissingIsEmpty(t *testing.T) {
	s, _ := newTestStore(t)

	available := s.LoadAvailable()
	require.NotNil(t, available)
	assert.Empty(t, available)
	assert.Empty(t, s.LoadInstalled())

	meta, ok := s.LoadModSideMetadata("a.jar")
	assert.False(t, ok)
	assert.Nil(t, meta)
}

func TestLoadCorruptIsEmpty(t *testing.T) {
	s, dir := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "available_versions.json"), []byte(`[{"patchNumber": 4,`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "installed_versions.json"), []byte("not json"), 0644))

	assert.Empty(t, s.LoadAvailable())
	assert.Empty(t, s.LoadInstalled())
}

func TestSaveAvailableReplaces(t *testing.T) {
	s, dir := newTestStore(t)

	require.NoError(t, s.SaveAvailable([]domain.VersionRecord{record(7, 10), record(3, 20)}))
	require.NoError(t, s.SaveAvailable([]domain.VersionRecord{record(4, 300), record(2, 100)}))

	got := s.LoadAvailable()
	require.Len(t, got, 2)
	assert.Equal(t, 4, got[0].PatchNumber)
	assert.Equal(t, int64(300), got[0].Size)
	assert.Equal(t, 2, got[1].PatchNumber)

	data, err := os.ReadFile(filepath.Join(dir, "available_versions.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"patchNumber": 4`)
	assert.Contains(t, string(data), `"downloadUrl"`)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestSaveAvailableEmptyWritesArray(t *testing.T) {
	s, dir := newTestStore(t)
	require.NoError(t, s.SaveAvailable(nil))

	data, err := os.ReadFile(filepath.Join(dir, "available_versions.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestMarkAndRemoveInstalled(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.MarkInstalled(record(2, 100)))
	require.NoError(t, s.MarkInstalled(record(4, 300)))

	updated := record(4, 300)
	updated.SHA256 = "abc"
	require.NoError(t, s.MarkInstalled(updated))

	installed := s.LoadInstalled()
	require.Len(t, installed, 2)
	assert.Equal(t, 4, installed[0].PatchNumber)
	assert.True(t, installed[0].Installed)
	assert.Equal(t, "abc", installed[0].SHA256)
	assert.Equal(t, 2, installed[1].PatchNumber)

	require.NoError(t, s.RemoveInstalled(4))
	require.NoError(t, s.RemoveInstalled(4))
	installed = s.LoadInstalled()
	require.Len(t, installed, 1)
	assert.Equal(t, 2, installed[0].PatchNumber)
}

func TestMarkInstalledConcurrent(t *testing.T) {
	s, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.MarkInstalled(record(i, int64(i))))
		}()
	}
	wg.Wait()

	assert.Len(t, s.LoadInstalled(), 10)
}

func TestSideMetadata(t *testing.T) {
	s, dir := newTestStore(t)
	meta := domain.ModSideMetadata{CatalogID: 1234, CatalogFileID: 5678, IconURL: "https://example.com/icon.png"}

	require.NoError(t, s.SaveModSideMetadata("cool-mod.jar", meta))
	assert.FileExists(t, filepath.Join(dir, "UserData", "Mods", "cool-mod.jar"+SideMetaExt))

	got, ok := s.LoadModSideMetadata("cool-mod.jar")
	require.True(t, ok)
	assert.Equal(t, meta, *got)

	require.NoError(t, s.RemoveModSideMetadata("cool-mod.jar"))
	require.NoError(t, s.RemoveModSideMetadata("cool-mod.jar"))
	_, ok = s.LoadModSideMetadata("cool-mod.jar")
	assert.False(t, ok)
}

func TestSideMetadataRejectsTraversal(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.SaveModSideMetadata("../escape.jar", domain.ModSideMetadata{CatalogID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestAtomicWriteFileReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, AtomicWriteFile(path, strings.NewReader("first"), 0644))
	require.NoError(t, AtomicWriteFile(path, strings.NewReader("second"), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}
