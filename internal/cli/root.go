package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/teamcutter/patchr/internal/cache"
	"github.com/teamcutter/patchr/internal/catalog"
	"github.com/teamcutter/patchr/internal/config"
	"github.com/teamcutter/patchr/internal/discovery"
	"github.com/teamcutter/patchr/internal/extractor"
	"github.com/teamcutter/patchr/internal/fetcher"
	"github.com/teamcutter/patchr/internal/installer"
	"github.com/teamcutter/patchr/internal/journal"
	"github.com/teamcutter/patchr/internal/logging"
	"github.com/teamcutter/patchr/internal/manifest"
	"github.com/teamcutter/patchr/internal/state"
)

type globalFlags struct {
	dir      string
	logLevel string
}

var flags globalFlags

func Execute() error {
	rootCmd := &cobra.Command{
		Use:           "patchr",
		Short:         "Discover, download and manage game patches and mods",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.dir, "dir", "", "Application data directory")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newVersionsCmd(),
		newInstallCmd(),
		newUninstallCmd(),
		newModsCmd(),
		newClearCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("✗"), err)
		return err
	}
	return nil
}

type app struct {
	cfg       *config.Config
	log       *logrus.Logger
	store     *state.Store
	journal   *journal.SQLiteJournal
	discovery *discovery.Service
	installer *installer.Installer
	catalog   *catalog.CurseForge
	cache     *cache.DiskCache
}

func newApp() (*app, error) {
	cfg, err := config.Load(flags.dir)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	log := logging.New(level, os.Stderr)

	store := state.New(cfg.AvailableFile, cfg.InstalledFile, cfg.ModsDir, state.WithLogger(log))

	j, err := journal.Open(cfg.JournalFile, journal.WithLogger(log))
	if err != nil {
		return nil, err
	}
	recovered, err := j.Recover()
	if err != nil {
		j.Close()
		return nil, err
	}
	for _, e := range recovered {
		fmt.Printf("%s cleaned up interrupted %s install: %s\n", dim("○"), e.Kind, e.Key)
	}

	c, err := cache.New(cfg.CacheDir)
	if err != nil {
		j.Close()
		return nil, err
	}

	f := fetcher.New(
		fetcher.WithMaxRetries(cfg.Download.MaxRetries),
		fetcher.WithMaxRedirects(cfg.Download.MaxRedirects),
		fetcher.WithChunkSize(cfg.Download.ChunkSize),
		fetcher.WithTimeout(cfg.Download.Timeout.Duration),
		fetcher.WithBackoff(cfg.Download.Backoff.Duration),
		fetcher.WithProgressInterval(cfg.Download.ProgressInterval.Duration),
		fetcher.WithUserAgent(cfg.Download.UserAgent),
		fetcher.WithLogger(log),
	)

	disc := discovery.New(cfg.PatchesURL, store,
		discovery.WithMaxScan(cfg.MaxScan),
		discovery.WithWorkers(cfg.ScanWorkers),
		discovery.WithProbeTimeout(cfg.ProbeTimeout.Duration),
		discovery.WithUserAgent(cfg.Download.UserAgent),
		discovery.WithLogger(log),
	)

	inst := installer.New(
		f,
		extractor.New(),
		store,
		manifest.New(manifest.WithLogger(log)),
		j,
		cfg.GamesDir,
		cfg.ModsDir,
		installer.WithLogger(log),
	)

	cat := catalog.New(
		catalog.WithBaseURL(cfg.Catalog.URL),
		catalog.WithAPIKey(cfg.Catalog.APIKey),
		catalog.WithCache(c, cfg.Catalog.TTL.Duration),
		catalog.WithLogger(log),
	)

	return &app{
		cfg:       cfg,
		log:       log,
		store:     store,
		journal:   j,
		discovery: disc,
		installer: inst,
		catalog:   cat,
		cache:     c,
	}, nil
}

func (a *app) Close() error {
	return a.journal.Close()
}

func (a *app) relPath(path string) string {
	if rel, err := filepath.Rel(a.cfg.AppDir, path); err == nil {
		return filepath.Join("<app>", rel)
	}
	return path
}
