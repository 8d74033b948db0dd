package extractor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extractor unpacks archive-shaped version artifacts into a directory.
type Extractor struct {
	tar *TARExtractor
	zip *ZIPExtractor
}

func New() *Extractor {
	return &Extractor{
		tar: NewTAR(),
		zip: NewZIP(),
	}
}

func (e *Extractor) Extract(src, dst string) error {
	lower := strings.ToLower(src)

	switch {
	case strings.HasSuffix(lower, ".zip"):
		return e.zip.Extract(src, dst)
	case isTarArchive(lower):
		return e.tar.Extract(src, dst)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(src))
	}
}

func isTarArchive(name string) bool {
	tarExts := []string{".tar.gz", ".tar.zst", ".tar.xz", ".tar.bz2", ".tgz", ".txz", ".tzst", ".tbz2", ".tar"}
	for _, ext := range tarExts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// safeJoin resolves name under dst and rejects entries that would land
// outside of it.
func safeJoin(dst, name string) (string, error) {
	target := filepath.Join(dst, name)
	rel, err := filepath.Rel(dst, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid path in archive: %s", name)
	}
	return target, nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
