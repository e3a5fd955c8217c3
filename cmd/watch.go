package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/conneroisu/nanorender/internal/watcher"
)

var watchOpts renderOptions

var watchCmd = &cobra.Command{
	Use:   "watch <template>",
	Short: "Re-render a template whenever it or its data changes",
	Long: `Render a template, then render it again each time the template or the
data file changes. Rapid edits are debounced by watch.debounce.

Examples:
  nanorender watch page.html -d site.yaml -o out/page.html`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	addDataFlags(watchCmd.Flags(), &watchOpts.data)
	watchCmd.Flags().StringVarP(&watchOpts.output, "output", "o", "", "write to this file instead of stdout")
	watchCmd.Flags().StringVar(&watchOpts.route, "route", "", "render as if the preview server had matched this path")
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	job, err := a.newRenderJob(args[0], watchOpts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fw, err := job.watch(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer fw.Stop()

	a.logger.Info(ctx, "Watching for changes", "template", job.path, "data", job.opts.data.file)
	<-ctx.Done()
	return nil
}

// watch renders once and starts a watcher that renders again after every
// batch touching the template or the data file. A failed render is logged
// and the last good output is left in place.
func (j *renderJob) watch(ctx context.Context, stdout io.Writer) (*watcher.FileWatcher, error) {
	if err := j.run(ctx, stdout); err != nil {
		j.logger.Error(ctx, err, "Render failed")
	}

	fw, err := watcher.NewFileWatcher(j.app.config.Watch.Debounce, j.app.logger)
	if err != nil {
		return nil, err
	}

	files := []string{j.path}
	if j.opts.data.file != "" {
		abs, err := filepath.Abs(j.opts.data.file)
		if err != nil {
			fw.Stop()
			return nil, err
		}
		files = append(files, abs)
	}

	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddFilter(watcher.PathFilter(files...))
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		return j.handleChanges(ctx, stdout, events)
	})

	// Directories rather than files, so editors that replace the file on
	// save keep being followed.
	dirs := map[string]bool{}
	for _, f := range files {
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if err := fw.AddPath(dir); err != nil {
			fw.Stop()
			return nil, err
		}
	}

	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return nil, err
	}
	return fw, nil
}

func (j *renderJob) handleChanges(ctx context.Context, stdout io.Writer, events []watcher.ChangeEvent) error {
	var errs error
	for _, event := range events {
		if filepath.Clean(event.Path) == j.path {
			_, err := j.refresh()
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return errs
	}
	return j.run(ctx, stdout)
}
