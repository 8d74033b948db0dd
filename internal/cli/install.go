package cli

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teamcutter/patchr/internal/domain"
)

func newInstallCmd() *cobra.Command {
	var sha256 string

	cmd := &cobra.Command{
		Use:   "install <patch>...",
		Short: "Download and install game versions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			available := make(map[int]domain.VersionRecord)
			for _, v := range a.store.LoadAvailable() {
				available[v.PatchNumber] = v
			}

			var errs []error
			var plan []domain.VersionRecord
			for _, arg := range args {
				patch, err := parsePatch(arg)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				v, ok := available[patch]
				if !ok {
					errs = append(errs, fmt.Errorf("%s: %w", domain.PatchName(patch), domain.ErrNotAvailable))
					continue
				}
				if sha256 != "" && len(args) == 1 {
					v.SHA256 = sha256
				}
				plan = append(plan, v)
			}

			ctx := cmd.Context()
			mu := &sync.Mutex{}
			output := make(map[int]string)

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(max(1, min(len(plan), a.cfg.MaxParallel)))

			for _, v := range plan {
				v := v
				g.Go(func() error {
					var report domain.ProgressFunc
					var stop func()
					if len(plan) == 1 {
						report, stop = withProgress(fmt.Sprintf("Downloading %s", v.Name))
					} else {
						stop = withSpinner(gctx, fmt.Sprintf("Downloading %s...", v.Name))
					}
					rec, err := a.installer.InstallVersion(gctx, v, report)
					stop()

					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", v.Name, err))
						return nil
					}
					output[v.PatchNumber] = fmt.Sprintf("%s %s %s\n  %s %s",
						green("✓"), bold(rec.Name), dim(rec.FormattedSize()),
						cyan("path:"), a.relPath(a.installer.VersionDir(rec.PatchNumber)))
					return nil
				})
			}
			_ = g.Wait()

			fmt.Println()
			for _, v := range plan {
				if msg, ok := output[v.PatchNumber]; ok {
					fmt.Println(msg)
				}
			}

			if len(errs) > 0 {
				for _, e := range errs {
					fmt.Printf("%s %s\n", red("✗"), e)
				}
				return fmt.Errorf("failed to install %d version(s)", len(errs))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sha256, "sha256", "", "Expected SHA256 checksum (single version only)")
	return cmd
}
