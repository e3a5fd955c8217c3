// Package cmd provides the nanorender command-line interface.
//
// Configuration is read from .nanorender.yml in the working directory, from
// the file named by --config or NANORENDER_CONFIG_FILE, and from
// NANORENDER_<SECTION>_<KEY> environment variables, in increasing order of
// precedence. Flags bound to config keys win over all of them.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/nanorender/internal/config"
	"github.com/conneroisu/nanorender/internal/loader"
	"github.com/conneroisu/nanorender/internal/logging"
	"github.com/conneroisu/nanorender/internal/renderer"
	"github.com/conneroisu/nanorender/internal/security"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nanorender",
	Short: "Render mustache-style HTML templates",
	Long: `nanorender renders {{ }} templates against JSON, YAML, TOML or .env data.

Quick Start:
  nanorender render page.html -d data.yaml     Render once to stdout
  nanorender check templates/                  Report every parse error
  nanorender watch page.html -d data.yaml -o out.html
  nanorender serve                             Preview with live reload`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .nanorender.yml, can also use NANORENDER_CONFIG_FILE)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")

	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
}

func initConfig(cmd *cobra.Command, args []string) error {
	return config.Init(viper.GetViper(), cfgFile)
}

// app is what every command builds from the loaded configuration.
type app struct {
	config *config.Config
	logger logging.Logger
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newAppFrom(cfg), nil
}

func newAppFrom(cfg *config.Config) *app {
	// Validated by config.Load.
	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	return &app{config: cfg, logger: logger}
}

func (a *app) engine() *renderer.Engine {
	return renderer.NewEngine(
		renderer.WithCacheSize(a.config.Renderer.CacheSize),
		renderer.WithCacheTTL(a.config.Renderer.CacheTTL),
		renderer.WithLogger(a.logger),
		renderer.WithPolicy(security.NewPolicy(
			security.WithDeniedElements(a.config.Security.DeniedElements...),
		)),
	)
}

func (a *app) templates() *loader.Loader {
	return loader.New(nil, loader.Options{
		Root:       a.config.Templates.Dir,
		Extensions: a.config.Templates.Extensions,
		Exclude:    a.config.Templates.Exclude,
	})
}
