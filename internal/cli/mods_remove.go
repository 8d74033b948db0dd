package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teamcutter/patchr/internal/domain"
)

func newModsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <file>...",
		Short: "Remove installed mod packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Printf("Removing %d mod(s)...\n", len(args))

			var failed int
			for _, name := range args {
				err := domain.ValidateFileName(name)
				if err == nil {
					if _, statErr := os.Stat(a.installer.ModPath(name)); os.IsNotExist(statErr) {
						err = fmt.Errorf("%s: %w", name, domain.ErrNotInstalled)
					}
				}
				if err == nil {
					err = a.installer.UninstallMod(name)
				}
				if err != nil {
					fmt.Printf("\n%s %v\n", red("✗"), err)
					failed++
					continue
				}
				fmt.Printf("\n%s %s\n", green("✓"), bold(name))
			}

			if failed > 0 {
				return fmt.Errorf("failed to remove %d mod(s)", failed)
			}
			return nil
		},
	}
}
