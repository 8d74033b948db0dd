package domain

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

func FormatSize(size int64) string {
	if size < 0 {
		return "Unknown"
	}
	return humanize.IBytes(uint64(size))
}

func PatchFileName(patch int) string {
	return fmt.Sprintf("%d.pwr", patch)
}

func PatchName(patch int) string {
	return fmt.Sprintf("Release %d", patch)
}

// Extensions lists the archive suffixes the extractor understands, longest first.
func Extensions() []string {
	return []string{".tar.gz", ".tar.zst", ".tar.xz", ".tar.bz2", ".tgz", ".txz", ".tzst", ".tbz2", ".tar", ".zip"}
}

func IsArchive(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range Extensions() {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// ValidateFileName rejects names that would escape the directory they are joined to.
func ValidateFileName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
