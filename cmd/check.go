package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/nanorender/internal/data"
	"github.com/conneroisu/nanorender/internal/errors"
	"github.com/conneroisu/nanorender/internal/loader"
	"github.com/conneroisu/nanorender/internal/renderer"
)

var (
	checkFormat   = newOutputFormat("table", "table", "json", "yaml")
	checkJobs     int
	checkDataFile bool
)

var checkCmd = &cobra.Command{
	Use:   "check [paths...]",
	Short: "Parse every template and report all errors",
	Long: `Parse template files and report every parse error with its position.
Directories are searched for files with the configured template extensions.
With no paths, templates.dir is checked. The exit status is non-zero when
anything fails to parse.

Examples:
  nanorender check
  nanorender check templates/ emails/welcome.html
  nanorender check --output json --data`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().VarP(checkFormat, "output", "o", "output format (table, json, yaml)")
	checkCmd.Flags().IntVarP(&checkJobs, "jobs", "j", runtime.NumCPU(), "templates parsed in parallel")
	checkCmd.Flags().BoolVar(&checkDataFile, "data", false, "also load and validate data.file")
}

// checkReport is what check prints in json and yaml.
type checkReport struct {
	Checked     int                 `json:"checked" yaml:"checked"`
	Diagnostics []errors.Diagnostic `json:"diagnostics" yaml:"diagnostics"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		args = []string{a.config.Templates.Dir}
	}

	report, err := a.check(args, checkJobs, checkDataFile)
	if err != nil {
		return err
	}
	if err := writeReport(cmd.OutOrStdout(), checkFormat.String(), report); err != nil {
		return err
	}
	if n := len(report.Diagnostics); n > 0 {
		return fmt.Errorf("%d problem(s) found", n)
	}
	return nil
}

type checkTarget struct {
	files *loader.Loader
	name  string
}

func (t checkTarget) path() string {
	return filepath.Join(t.files.Root(), filepath.FromSlash(t.name))
}

// check parses every template under paths. Paths that cannot be listed
// fail the whole run. Parse failures are collected into the report.
func (a *app) check(paths []string, jobs int, withData bool) (*checkReport, error) {
	targets, err := a.checkTargets(paths)
	if err != nil {
		return nil, err
	}

	collector := errors.NewErrorCollector()
	if jobs < 1 {
		jobs = 1
	}
	p := pool.New().WithMaxGoroutines(jobs)
	for _, target := range targets {
		p.Go(func() {
			tmpl, err := target.files.Load(target.name)
			if err == nil {
				_, err = renderer.Parse(tmpl.Source)
			}
			collector.AddError(target.path(), err)
		})
	}
	p.Wait()

	checked := len(targets)
	if withData && a.config.Data.File != "" {
		_, err := data.NewLoader(nil, a.config.Data.MaxItems).Load(a.config.Data.File)
		collector.AddError(a.config.Data.File, err)
		checked++
	}

	return &checkReport{Checked: checked, Diagnostics: collector.GetErrors()}, nil
}

func (a *app) checkTargets(paths []string) ([]checkTarget, error) {
	var (
		targets []checkTarget
		errs    error
	)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			errs = multierr.Append(errs, errors.NewIOError(errors.ErrCodeFileNotFound, "checking "+p, err))
			continue
		}

		if !info.IsDir() {
			files := loader.New(nil, loader.Options{Root: filepath.Dir(p)})
			targets = append(targets, checkTarget{files: files, name: filepath.Base(p)})
			continue
		}

		files := loader.New(nil, loader.Options{
			Root:       p,
			Extensions: a.config.Templates.Extensions,
			Exclude:    a.config.Templates.Exclude,
		})
		names, err := files.List()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, name := range names {
			targets = append(targets, checkTarget{files: files, name: name})
		}
	}
	return targets, errs
}

func writeReport(w io.Writer, format string, report *checkReport) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(report)
	default:
		return writeTable(w, report)
	}
}

func writeTable(w io.Writer, report *checkReport) error {
	paint := colorizer(w)
	if len(report.Diagnostics) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "LOCATION\tCODE\tMESSAGE")
		for _, d := range report.Diagnostics {
			location := fmt.Sprintf("%s:%d:%d", d.File, d.Line, d.Column)
			// Keep one row per diagnostic so the columns line up.
			message := strings.Join(strings.Fields(d.Message), " ")
			fmt.Fprintf(tw, "%s\t%s\t%s\n", paint(colorRed, location), d.Code, message)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	status := paint(colorGreen, "ok")
	if len(report.Diagnostics) > 0 {
		status = paint(colorRed, "failed")
	}
	_, err := fmt.Fprintf(w, "%s: checked %d file(s), %d problem(s)\n", status, report.Checked, len(report.Diagnostics))
	return err
}

const (
	colorRed   = "31"
	colorGreen = "32"
)

// colorizer returns a painter that adds ANSI colors only when w is a
// terminal.
func colorizer(w io.Writer) func(color, s string) string {
	f, ok := w.(*os.File)
	if !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) || os.Getenv("NO_COLOR") != "" {
		return func(_, s string) string { return s }
	}
	return func(color, s string) string {
		return "\x1b[" + color + "m" + s + "\x1b[0m"
	}
}
