package cli

import (
	"errors"
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/teamcutter/patchr/internal/domain"
	"github.com/teamcutter/patchr/internal/platform"
)

func newVersionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Discover and list game versions",
	}
	cmd.AddCommand(newScanCmd(), newListCmd())
	return cmd
}

func newScanCmd() *cobra.Command {
	var osName, arch string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Probe the patch host for available versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			sink, stop := withProgress("Scanning versions...")
			versions, err := a.discovery.ScanOrCached(cmd.Context(), osName, arch, sink)
			stop()
			if err != nil {
				if errors.Is(err, domain.ErrCancelled) {
					return err
				}
				fmt.Printf("%s scan failed, showing cached list: %v\n", yellow("!"), err)
			}

			printVersions(versions, a.installedSet())
			return nil
		},
	}

	cmd.Flags().StringVar(&osName, "os", platform.OS(), "Platform segment of the patch URL")
	cmd.Flags().StringVar(&arch, "arch", platform.Arch(), "Architecture segment of the patch URL")
	return cmd
}

func newListCmd() *cobra.Command {
	var installedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached or installed versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			dropped, err := a.installer.Reconcile()
			if err != nil {
				return err
			}
			if len(dropped) > 0 {
				for _, patch := range dropped {
					fmt.Printf("%s %s removed externally\n", dim("○"), domain.PatchName(patch))
				}
				fmt.Println()
			}

			versions := a.store.LoadAvailable()
			if installedOnly {
				versions = a.store.LoadInstalled()
			}

			if len(versions) == 0 {
				if installedOnly {
					fmt.Printf("\n%s No versions installed\n", dim("○"))
				} else {
					fmt.Printf("\n%s No versions known, run %s\n", dim("○"), bold("patchr versions scan"))
				}
				return nil
			}

			printVersions(versions, a.installedSet())
			return nil
		},
	}

	cmd.Flags().BoolVar(&installedOnly, "installed", false, "Only list installed versions")
	return cmd
}

func (a *app) installedSet() map[int]bool {
	set := make(map[int]bool)
	for _, v := range a.store.LoadInstalled() {
		set[v.PatchNumber] = true
	}
	return set
}

func printVersions(versions []domain.VersionRecord, installed map[int]bool) {
	if len(versions) == 0 {
		fmt.Printf("\n%s No versions found\n", dim("○"))
		return
	}

	table := uitable.New()
	table.AddRow("PATCH", "NAME", "SIZE", "INSTALLED")
	for _, v := range versions {
		table.AddRow(v.PatchNumber, v.Name, v.FormattedSize(), yesNo(installed[v.PatchNumber]))
	}
	fmt.Println(table)
}
