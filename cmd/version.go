package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/nanorender/internal/version"
)

var (
	versionFormat   = newOutputFormat("text", "text", "json", "yaml")
	versionDetailed bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display the version, commit, build time, Go version and platform.

Examples:
  nanorender version
  nanorender version --detailed
  nanorender version --format json`,
	Args: cobra.NoArgs,
	// Version output must not depend on a readable config file.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeVersion(cmd.OutOrStdout(), version.GetBuildInfo(), versionFormat.String(), versionDetailed)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().VarP(versionFormat, "format", "f", "output format (text, json, yaml)")
	versionCmd.Flags().BoolVar(&versionDetailed, "detailed", false, "show every build field")
}

func writeVersion(w io.Writer, info *version.BuildInfo, format string, detailed bool) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(info)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return encoder.Encode(info)
	}
	if detailed {
		_, err := fmt.Fprintln(w, info.Detailed())
		return err
	}
	_, err := fmt.Fprintln(w, info.String())
	return err
}
