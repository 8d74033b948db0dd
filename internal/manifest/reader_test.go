package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcutter/patchr/internal/logging"
)

const sampleManifest = `{
  "Group": "com.example",
  "Name": "Better Torches",
  "Version": "1.2.0",
  "Description": "Brighter torches",
  "Authors": [{"Name": "alice", "Website": "https://alice.dev"}, {"Name": "bob"}],
  "ServerVersion": "*",
  "Dependencies": {"core": ">=1.0"},
  "OptionalDependencies": {"lights": "*"},
  "DisabledByDefault": true,
  "Main": "com.example.torches.Main",
  "IncludesAssetPack": true
}`

func writePackage(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func newTestReader() *Reader {
	return New(WithLogger(logging.Discard()))
}

func TestReadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torches.jar")
	writePackage(t, path, map[string]string{
		EntryName:                        sampleManifest,
		"com/example/torches/Main.class": "bytecode",
	})

	r := newTestReader()
	m, ok := r.ReadManifest(path)
	require.True(t, ok)

	assert.Equal(t, "com.example", m.Group)
	assert.Equal(t, "Better Torches", m.Name)
	assert.Equal(t, "1.2.0", m.Version)
	require.Len(t, m.Authors, 2)
	assert.Equal(t, "alice", m.Authors[0].Name)
	assert.Equal(t, "https://alice.dev", m.Authors[0].Website)
	assert.Equal(t, map[string]string{"core": ">=1.0"}, m.Dependencies)
	assert.Equal(t, map[string]string{"lights": "*"}, m.OptionalDependencies)
	assert.True(t, m.DisabledByDefault)
	assert.Equal(t, "com.example.torches.Main", m.Main)
	assert.True(t, m.IncludesAssetPack)
}

func TestReadManifestCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torches.jar")
	writePackage(t, path, map[string]string{EntryName: sampleManifest})

	r := newTestReader()
	first, ok := r.ReadManifest(path)
	require.True(t, ok)
	second, ok := r.ReadManifest(path)
	require.True(t, ok)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), r.Opens())
}

func TestInvalidateRereads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torches.jar")
	writePackage(t, path, map[string]string{EntryName: sampleManifest})

	r := newTestReader()
	_, ok := r.ReadManifest(path)
	require.True(t, ok)

	writePackage(t, path, map[string]string{EntryName: `{"Name": "Better Torches", "Version": "2.0.0"}`})

	stale, _ := r.ReadManifest(path)
	assert.Equal(t, "1.2.0", stale.Version)

	r.Invalidate(path)
	fresh, ok := r.ReadManifest(path)
	require.True(t, ok)
	assert.Equal(t, "2.0.0", fresh.Version)
	assert.Equal(t, int64(2), r.Opens())
}

func TestReadManifestAbsent(t *testing.T) {
	dir := t.TempDir()

	noEntry := filepath.Join(dir, "plain.jar")
	writePackage(t, noEntry, map[string]string{"a.class": "x"})

	badJSON := filepath.Join(dir, "broken.jar")
	writePackage(t, badJSON, map[string]string{EntryName: "{not json"})

	nullJSON := filepath.Join(dir, "null.jar")
	writePackage(t, nullJSON, map[string]string{EntryName: "null"})

	notZip := filepath.Join(dir, "garbage.jar")
	require.NoError(t, os.WriteFile(notZip, []byte("definitely not a zip"), 0644))

	r := newTestReader()
	for _, path := range []string{noEntry, badJSON, nullJSON, notZip, filepath.Join(dir, "missing.jar")} {
		m, ok := r.ReadManifest(path)
		assert.False(t, ok, path)
		assert.Nil(t, m, path)
	}
}

func TestNestedManifestIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested.jar")
	writePackage(t, path, map[string]string{"sub/" + EntryName: sampleManifest})

	_, ok := newTestReader().ReadManifest(path)
	assert.False(t, ok)
}
