package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/teamcutter/patchr/internal/platform"
)

const FileName = "config.toml"

type Config struct {
	AppDir        string   `toml:"app_dir"`
	CacheDir      string   `toml:"cache_dir"`
	ModsDir       string   `toml:"mods_dir"`
	GamesDir      string   `toml:"games_dir"`
	AvailableFile string   `toml:"available_file"`
	InstalledFile string   `toml:"installed_file"`
	JournalFile   string   `toml:"journal_file"`
	PatchesURL    string   `toml:"patches_url"`
	MaxScan       int      `toml:"max_scan"`
	ScanWorkers   int      `toml:"scan_workers"`
	ProbeTimeout  Duration `toml:"probe_timeout"`
	MaxParallel   int      `toml:"max_parallel"`
	LogLevel      string   `toml:"log_level"`
	Download      Download `toml:"download"`
	Catalog       Catalog  `toml:"catalog"`
}

type Download struct {
	MaxRetries       int      `toml:"max_retries"`
	MaxRedirects     int      `toml:"max_redirects"`
	ChunkSize        int      `toml:"chunk_size"`
	Timeout          Duration `toml:"timeout"`
	Backoff          Duration `toml:"backoff"`
	ProgressInterval Duration `toml:"progress_interval"`
	UserAgent        string   `toml:"user_agent"`
}

type Catalog struct {
	URL    string   `toml:"url"`
	APIKey string   `toml:"api_key"`
	TTL    Duration `toml:"ttl"`
}

// Duration lets TOML carry values such as "5s" or "16ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func DefaultConfig(base string) *Config {
	if base == "" {
		base = platform.DefaultAppDir()
	}

	return &Config{
		AppDir:        base,
		CacheDir:      filepath.Join(base, "cache"),
		ModsDir:       filepath.Join(base, "UserData", "Mods"),
		GamesDir:      filepath.Join(base, "release", "package", "game"),
		AvailableFile: filepath.Join(base, "available_versions.json"),
		InstalledFile: filepath.Join(base, "installed_versions.json"),
		JournalFile:   filepath.Join(base, "journal.db"),
		PatchesURL:    "https://game-patches.hytale.com/patches",
		MaxScan:       100,
		ScanWorkers:   10,
		ProbeTimeout:  Duration{5 * time.Second},
		MaxParallel:   4,
		LogLevel:      "info",
		Download: Download{
			MaxRetries:       3,
			MaxRedirects:     5,
			ChunkSize:        1 << 20,
			Timeout:          Duration{60 * time.Second},
			Backoff:          Duration{2 * time.Second},
			ProgressInterval: Duration{16 * time.Millisecond},
			UserAgent:        "Mozilla/5.0",
		},
		Catalog: Catalog{
			URL: "https://api.curseforge.com/v1/",
			TTL: Duration{10 * time.Minute},
		},
	}
}

// Load reads <base>/config.toml over the defaults. A missing file is written
// out with the defaults so users have something to edit.
func Load(base string) (*Config, error) {
	cfg := DefaultConfig(base)
	configPath := filepath.Join(cfg.AppDir, FileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := Save(cfg); err != nil {
			return cfg, fmt.Errorf("writing default config: %w", err)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	configPath := filepath.Join(cfg.AppDir, FileName)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}
	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (c *Config) Validate() error {
	switch {
	case c.MaxScan < 0:
		return fmt.Errorf("max_scan must not be negative, got %d", c.MaxScan)
	case c.ScanWorkers < 1:
		return fmt.Errorf("scan_workers must be at least 1, got %d", c.ScanWorkers)
	case c.Download.MaxRetries < 1:
		return fmt.Errorf("download.max_retries must be at least 1, got %d", c.Download.MaxRetries)
	case c.Download.ChunkSize < 1:
		return fmt.Errorf("download.chunk_size must be positive, got %d", c.Download.ChunkSize)
	}
	if c.MaxParallel < 1 {
		c.MaxParallel = 1
	}
	return nil
}
