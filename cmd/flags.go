package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// outputFormat is a pflag.Value that only accepts the formats a command can
// print.
type outputFormat struct {
	value   string
	choices []string
}

var _ pflag.Value = (*outputFormat)(nil)

func newOutputFormat(def string, choices ...string) *outputFormat {
	return &outputFormat{value: def, choices: choices}
}

func (f *outputFormat) String() string { return f.value }

func (f *outputFormat) Type() string { return "format" }

func (f *outputFormat) Set(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, choice := range f.choices {
		if s == choice {
			f.value = s
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(f.choices, ", "))
}

// dataFlags are shared by the commands that render against a data file.
type dataFlags struct {
	file      string
	overrides []string
}

func addDataFlags(flags *pflag.FlagSet, d *dataFlags) {
	flags.StringVarP(&d.file, "data", "d", "", "data file (.json, .yaml, .toml or .env); defaults to data.file from config")
	flags.StringArrayVar(&d.overrides, "set", nil, "override a data value, as key.path=value (repeatable)")
}
