package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teamcutter/patchr/internal/domain"
)

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the catalog cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			size, _ := a.cache.Size()

			if err := a.cache.Clear(); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}

			fmt.Printf("%s Cache cleared (%s freed)\n", green("✓"), domain.FormatSize(size))
			return nil
		},
	}
}
