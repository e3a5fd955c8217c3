package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/nanorender/internal/data"
	"github.com/conneroisu/nanorender/internal/livereload"
	"github.com/conneroisu/nanorender/internal/security"
	"github.com/conneroisu/nanorender/internal/server"
	"github.com/conneroisu/nanorender/internal/store"
)

var serveNoReload bool

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Preview templates in the browser with live reload",
	Long: `Start the preview server. Configured routes map URL patterns to
templates; other paths are looked up as files under templates.dir. Pages
reload in the browser when a template or the data file changes.

Examples:
  nanorender serve
  nanorender serve --port 3000 --base-path /preview`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.IntP("port", "p", 8080, "port to serve on")
	flags.String("host", "localhost", "host to bind to")
	flags.String("base-path", "/", "URL prefix the preview is served under")
	flags.BoolVar(&serveNoReload, "no-reload", false, "disable live reload")

	_ = viper.BindPFlag("server.port", flags.Lookup("port"))
	_ = viper.BindPFlag("server.host", flags.Lookup("host"))
	_ = viper.BindPFlag("server.base_path", flags.Lookup("base-path"))
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := a.previewServer(!serveNoReload)
	if err != nil {
		return err
	}

	if !serveNoReload {
		if err := s.WatchFiles(ctx); err != nil {
			return err
		}
	}
	return s.Start(ctx)
}

func (a *app) previewServer(liveReload bool) (*server.PreviewServer, error) {
	dataLoader := data.NewLoader(nil, a.config.Data.MaxItems)
	initial := map[string]any{}
	if a.config.Data.File != "" {
		loaded, err := dataLoader.Load(a.config.Data.File)
		if err != nil {
			return nil, err
		}
		initial = loaded
	}

	opts := server.Options{
		Config:     a.config,
		Engine:     a.engine(),
		Loader:     a.templates(),
		Data:       store.New(initial),
		DataLoader: dataLoader,
		Logger:     a.logger,
	}
	if liveReload {
		opts.Hub = livereload.NewHub(security.NewOriginAllowList(a.config.Server.AllowedOrigins), a.logger)
	}
	return server.New(opts)
}
