package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/conneroisu/nanorender/internal/data"
	"github.com/conneroisu/nanorender/internal/loader"
	"github.com/conneroisu/nanorender/internal/logging"
	"github.com/conneroisu/nanorender/internal/renderer"
	"github.com/conneroisu/nanorender/internal/router"
)

type renderOptions struct {
	data   dataFlags
	output string
	route  string
}

var renderOpts renderOptions

var renderCmd = &cobra.Command{
	Use:   "render <template>",
	Short: "Render a template once",
	Long: `Render a template against a data file and print the result, or write it
atomically to --output.

Examples:
  nanorender render page.html -d site.yaml
  nanorender render page.html -d site.json --set user.name=Ada -o out/page.html
  nanorender render post.html --route /posts/42   # params.id is "42"`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	addDataFlags(renderCmd.Flags(), &renderOpts.data)
	renderCmd.Flags().StringVarP(&renderOpts.output, "output", "o", "", "write to this file instead of stdout")
	renderCmd.Flags().StringVar(&renderOpts.route, "route", "", "render as if the preview server had matched this path")
}

func runRender(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	job, err := a.newRenderJob(args[0], renderOpts)
	if err != nil {
		return err
	}
	return job.run(cmd.Context(), cmd.OutOrStdout())
}

// renderJob renders one template file. It is reused by watch, which runs
// it again after every change.
type renderJob struct {
	app    *app
	engine *renderer.Engine
	files  *loader.Loader
	name   string
	path   string
	opts   renderOptions
	logger logging.Logger
}

func (a *app) newRenderJob(file string, opts renderOptions) (*renderJob, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, err
	}
	if opts.data.file == "" {
		opts.data.file = a.config.Data.File
	}
	return &renderJob{
		app:    a,
		engine: a.engine(),
		files:  loader.New(nil, loader.Options{Root: filepath.Dir(abs)}),
		name:   filepath.Base(abs),
		path:   abs,
		opts:   opts,
		logger: a.logger.WithComponent("render"),
	}, nil
}

// context loads the data file, applies --set overrides and, with --route,
// adds the params and route keys the preview server would.
func (j *renderJob) context() (map[string]any, error) {
	ctx := map[string]any{}
	if j.opts.data.file != "" {
		loaded, err := data.NewLoader(nil, j.app.config.Data.MaxItems).Load(j.opts.data.file)
		if err != nil {
			return nil, err
		}
		ctx = loaded
	}
	if err := data.ApplyOverrides(ctx, j.opts.data.overrides); err != nil {
		return nil, err
	}
	if j.opts.route != "" {
		j.applyRoute(ctx)
	}
	return ctx, nil
}

func (j *renderJob) applyRoute(ctx map[string]any) {
	r := router.New(j.app.config.Server.BasePath)
	title := ""
	for _, rc := range j.app.config.Routes {
		r.Register(rc.Path)
	}
	m, ok := r.Navigate(j.opts.route)
	if ok {
		for _, rc := range j.app.config.Routes {
			if rc.Path == m.Pattern {
				title = rc.Title
				break
			}
		}
	}

	state := r.Store().GetState()
	params := map[string]any{}
	if p, ok := state["params"].(map[string]string); ok {
		for k, v := range p {
			params[k] = v
		}
	}
	ctx["params"] = params
	ctx["route"] = map[string]any{
		"path":     m.Pattern,
		"pathname": state["pathname"],
		"title":    title,
		"template": j.name,
	}
}

// run renders the template with a fresh context and writes the result.
func (j *renderJob) run(ctx context.Context, stdout io.Writer) error {
	perf := logging.StartOperation(j.logger, "render")

	tmpl, err := j.files.Load(j.name)
	if err != nil {
		perf.EndWithError(ctx, err)
		return err
	}
	values, err := j.context()
	if err != nil {
		perf.EndWithError(ctx, err)
		return err
	}
	out, err := j.engine.Render(tmpl.Source, values)
	if err != nil {
		err = fmt.Errorf("%s: %w", j.path, err)
		perf.EndWithError(ctx, err)
		return err
	}

	if j.opts.output == "" {
		_, err = io.WriteString(stdout, out)
	} else {
		err = atomic.WriteFile(j.opts.output, strings.NewReader(out))
	}
	if err != nil {
		perf.EndWithError(ctx, err)
		return err
	}
	perf.End(ctx, "template", j.name, "bytes", len(out))
	return nil
}

// refresh re-reads the template and drops the stale compiled copy. It
// reports whether the source changed.
func (j *renderJob) refresh() (bool, error) {
	old, hadOld := j.files.Cached(j.name)
	_, changed, err := j.files.Reload(j.name)
	if hadOld && (changed || err != nil) {
		j.engine.Invalidate(old.Source)
	}
	return changed, err
}
