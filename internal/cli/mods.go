package cli

import (
	"fmt"
	"path"
	"strconv"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/teamcutter/patchr/internal/domain"
)

func newModsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mods",
		Short: "Manage installed mods",
	}
	cmd.AddCommand(
		newModsListCmd(),
		newModsInstallCmd(),
		newModsInfoCmd(),
		newModsRemoveCmd(),
		newModsUpgradeCmd(),
	)
	return cmd
}

func newModsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed mods",
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
			if len(mods) == 0 {
				fmt.Printf("\n%s No mods installed\n", dim("○"))
				return nil
			}

			table := uitable.New()
			table.MaxColWidth = 40
			table.AddRow("FILE", "NAME", "VERSION", "AUTHOR", "ENABLED", "CATALOG", "SOURCE")
			for _, m := range mods {
				catalogID := "-"
				if m.CatalogID > 0 {
					catalogID = strconv.Itoa(m.CatalogID)
				}
				table.AddRow(m.ID, m.Name, m.Version, m.Author, yesNo(m.Enabled), catalogID, dim(string(m.Source)))
			}
			fmt.Println(table)
			return nil
		},
	}
}

func newModsInstallCmd() *cobra.Command {
	var rawURL, name string

	cmd := &cobra.Command{
		Use:   "install [modID [fileID]]",
		Short: "Install a mod from the catalog or a direct URL",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rawURL == "" && len(args) == 0 {
				return fmt.Errorf("a catalog mod id or --url is required")
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var file domain.CatalogFile
			var catalogID int
			var iconURL string

			if rawURL != "" {
				if name == "" {
					name = path.Base(rawURL)
				}
				file = domain.CatalogFile{FileName: name, DownloadURL: rawURL}
			} else {
				catalogID, err = strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid mod id %q", args[0])
				}

				stop := withSpinner(ctx, fmt.Sprintf("Resolving %d...", catalogID))
				mod, err := a.catalog.GetMod(ctx, catalogID)
				var f *domain.CatalogFile
				if err == nil {
					iconURL = mod.Logo.ThumbnailURL
					if len(args) == 2 {
						var fileID int
						if fileID, err = strconv.Atoi(args[1]); err != nil {
							err = fmt.Errorf("invalid file id %q", args[1])
						} else {
							f, err = a.catalog.GetFile(ctx, catalogID, fileID)
						}
					} else {
						f, err = a.catalog.GetLatestFile(ctx, catalogID)
					}
				}
				stop()
				if err != nil {
					return err
				}
				file = *f
			}

			sink, stop := withProgress(fmt.Sprintf("Downloading %s", file.FileName))
			dst, err := a.installer.InstallMod(ctx, file, catalogID, iconURL, sink)
			stop()
			if err != nil {
				return err
			}

			fmt.Printf("\n%s %s\n  %s %s\n", green("✓"), bold(file.FileName), cyan("path:"), a.relPath(dst))
			return nil
		},
	}

	cmd.Flags().StringVar(&rawURL, "url", "", "Install directly from a download URL")
	cmd.Flags().StringVar(&name, "name", "", "File name to store a --url download under")
	return cmd
}

func newModsInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <modID>",
		Short: "Show catalog details for a mod",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid mod id %q", args[0])
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			stop := withSpinner(ctx, "Querying catalog...")
			mod, err := a.catalog.GetMod(ctx, modID)
			var latest *domain.CatalogFile
			if err == nil {
				latest, err = a.catalog.GetLatestFile(ctx, modID)
			}
			stop()
			if err != nil {
				return err
			}

			fmt.Printf("%s %s\n", bold(mod.Name), dim(fmt.Sprintf("(%d)", mod.ID)))
			if mod.Summary != "" {
				fmt.Printf("  %s\n", mod.Summary)
			}
			fmt.Printf("  %s %s %s\n", cyan("latest:"), latest.FileName, dim(domain.FormatSize(latest.FileLength)))
			if !latest.FileDate.IsZero() {
				fmt.Printf("  %s %s\n", cyan("released:"), latest.FileDate.Format("2006-01-02"))
			}
			return nil
		},
	}
}
