package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/teamcutter/patchr/internal/domain"
	"github.com/teamcutter/patchr/internal/progress"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

func withSpinner(ctx context.Context, desc string) (stop func()) {
	spinner := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				spinner.Finish()
				return
			default:
				spinner.Add(1)
				time.Sleep(100 * time.Millisecond)
			}
		}
	}()
	return func() {
		close(done)
		spinner.Finish()
	}
}

// withProgress renders updates from a core operation as a progress bar. The
// operation reports into the returned sink; stop drains and closes the bar.
func withProgress(desc string) (sink domain.ProgressFunc, stop func()) {
	q := progress.NewQueue(16)
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for p := range q.Updates() {
			if p.Indeterminate() {
				bar.Describe(fmt.Sprintf("%s %s %s", desc, domain.FormatSize(p.Transferred), dim(p.Rate)))
				continue
			}
			if p.Message != "" {
				bar.Describe(fmt.Sprintf("%s %s", desc, dim(p.Message)))
			}
			bar.Set(int(p.Percent))
		}
		bar.Finish()
	}()

	return q.Sink(), func() {
		q.Close()
		<-finished
	}
}

func parsePatch(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid patch number %q", arg)
	}
	return n, nil
}

func yesNo(b bool) string {
	if b {
		return green("yes")
	}
	return dim("no")
}
