package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teamcutter/patchr/internal/domain"
)

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <patch>...",
		Short: "Remove installed game versions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Printf("Uninstalling %d version(s)...\n", len(args))

			var failed int
			for _, arg := range args {
				patch, err := parsePatch(arg)
				if err == nil && !a.installer.IsVersionInstalled(patch) {
					err = fmt.Errorf("%s: %w", domain.PatchName(patch), domain.ErrNotInstalled)
				}
				if err == nil {
					err = a.installer.UninstallVersion(patch)
				}
				if err != nil {
					fmt.Printf("\n%s %v\n", red("✗"), err)
					failed++
					continue
				}
				fmt.Printf("\n%s %s\n", green("✓"), bold(domain.PatchName(patch)))
			}

			if failed > 0 {
				return fmt.Errorf("failed to uninstall %d version(s)", failed)
			}
			return nil
		},
	}
}
