package cli

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teamcutter/patchr/internal/domain"
)

func newModsUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade [file...]",
		Short: "Upgrade catalog-linked mods to their latest file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			mods, err := a.installer.ListInstalledMods()
			if err != nil {
				return err
			}

			wanted := make(map[string]bool)
			for _, name := range args {
				wanted[name] = true
			}

			var linked []domain.InstalledModSummary
			for _, m := range mods {
				if len(wanted) > 0 && !wanted[m.ID] {
					continue
				}
				delete(wanted, m.ID)
				if m.CatalogID == 0 {
					continue
				}
				linked = append(linked, m)
			}

			var errs []error
			for name := range wanted {
				errs = append(errs, fmt.Errorf("%s: %w", name, domain.ErrNotInstalled))
			}

			if len(linked) == 0 && len(errs) == 0 {
				fmt.Printf("\n%s No catalog-linked mods installed\n", dim("○"))
				return nil
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(1, min(len(linked), a.cfg.MaxParallel)))

			mu := &sync.Mutex{}
			var upgraded []string
			var upToDate []string

			for _, m := range linked {
				m := m
				g.Go(func() error {
					stop := withSpinner(ctx, fmt.Sprintf("Checking %s...", m.Name))
					latest, err := a.catalog.GetLatestFile(ctx, m.CatalogID)
					stop()
					if err != nil {
						mu.Lock()
						errs = append(errs, fmt.Errorf("%s: %w", m.ID, err))
						mu.Unlock()
						return nil
					}

					if latest.ID == m.CatalogFileID {
						mu.Lock()
						upToDate = append(upToDate, m.ID)
						mu.Unlock()
						return nil
					}

					_, err = a.installer.InstallMod(ctx, *latest, m.CatalogID, m.IconURL, nil)
					if err == nil && latest.FileName != m.ID {
						err = a.installer.UninstallMod(m.ID)
					}
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", m.ID, err))
						return nil
					}
					upgraded = append(upgraded, fmt.Sprintf("%s %s → %s",
						green("✓"), bold(m.ID), bold(latest.FileName)))
					return nil
				})
			}
			_ = g.Wait()

			fmt.Println()
			for _, s := range upgraded {
				fmt.Println(s)
			}
			for _, name := range upToDate {
				fmt.Printf("%s %s already up-to-date\n", dim("○"), name)
			}

			if len(errs) > 0 {
				for _, e := range errs {
					fmt.Printf("%s %s\n", red("✗"), e)
				}
				return fmt.Errorf("failed to upgrade %d mod(s)", len(errs))
			}
			return nil
		},
	}
}
