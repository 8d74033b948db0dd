// Package platform resolves host-specific values: the application data
// directory and the os/arch pair used in patch URLs.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	OSDarwin  = "darwin"
	OSWindows = "windows"
	OSLinux   = "linux"
)

const AppName = "patchr"

// DefaultAppDir returns the per-user data directory, falling back to the
// home directory and finally the working directory.
func DefaultAppDir() string {
	if dir := os.Getenv("PATCHR_HOME"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "."+AppName)
	}
	return "." + AppName
}

func OS() string {
	switch runtime.GOOS {
	case OSDarwin, OSWindows:
		return runtime.GOOS
	default:
		return OSLinux
	}
}

func Arch() string {
	switch runtime.GOARCH {
	case "arm64":
		return "arm64"
	default:
		return "amd64"
	}
}
