// Package config provides configuration management for nanorender using
// Viper for loading from files, environment variables, and command-line
// flags.
//
// The configuration file is .nanorender.yml by default. Every key can be
// overridden from the environment with the NANORENDER_ prefix, replacing dots
// with underscores (NANORENDER_SERVER_PORT=9000).
package config

import (
	stderrors "errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/nanorender/internal/errors"
)

const (
	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "NANORENDER"
	// FileEnv names a config file to use instead of .nanorender.yml.
	FileEnv = "NANORENDER_CONFIG_FILE"
	// FileName is the config file searched for in the working directory.
	FileName = ".nanorender"
)

type Config struct {
	Renderer  RendererConfig  `mapstructure:"renderer" yaml:"renderer"`
	Security  SecurityConfig  `mapstructure:"security" yaml:"security"`
	Templates TemplatesConfig `mapstructure:"templates" yaml:"templates"`
	Data      DataConfig      `mapstructure:"data" yaml:"data"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Routes    []RouteConfig   `mapstructure:"routes" yaml:"routes"`
}

type RendererConfig struct {
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

type SecurityConfig struct {
	DeniedElements []string `mapstructure:"denied_elements" yaml:"denied_elements"`
}

type TemplatesConfig struct {
	Dir        string   `mapstructure:"dir" yaml:"dir"`
	Extensions []string `mapstructure:"extensions" yaml:"extensions"`
	Exclude    []string `mapstructure:"exclude" yaml:"exclude"`
}

type DataConfig struct {
	File     string `mapstructure:"file" yaml:"file"`
	MaxItems int    `mapstructure:"max_items" yaml:"max_items"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	BasePath       string   `mapstructure:"base_path" yaml:"base_path"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// RouteConfig maps a URL pattern to a template for the preview server.
// Patterns use :name segments and an optional trailing /* wildcard.
type RouteConfig struct {
	Path     string `mapstructure:"path" yaml:"path"`
	Template string `mapstructure:"template" yaml:"template"`
	Title    string `mapstructure:"title" yaml:"title"`
}

// Address returns host:port for the preview server.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("renderer.cache_size", 512)
	v.SetDefault("renderer.cache_ttl", time.Duration(0))
	v.SetDefault("security.denied_elements", []string{"script", "iframe", "object", "embed", "style", "link", "meta"})
	v.SetDefault("templates.dir", "./templates")
	v.SetDefault("templates.extensions", []string{".html", ".tmpl", ".nano", ".md"})
	v.SetDefault("templates.exclude", []string{})
	v.SetDefault("data.file", "")
	v.SetDefault("data.max_items", 10000)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.base_path", "/")
	v.SetDefault("watch.debounce", 300*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Init prepares v to read the config file and environment. An explicit
// file wins over NANORENDER_CONFIG_FILE, which wins over .nanorender.yml in
// the working directory.
func Init(v *viper.Viper, file string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file == "" {
		file = v.GetString("config_file")
	}
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if stderrors.As(err, &notFound) && file == "" {
			return nil
		}
		return errors.NewIOError(errors.ErrCodeFileNotFound, "reading config file", err)
	}

	return nil
}

// Load reads the global viper instance, which the CLI binds its flags to.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("decoding configuration: %v", err))
	}

	// Comma-separated env values arrive as one element
	config.Security.DeniedElements = splitList(config.Security.DeniedElements)
	config.Templates.Extensions = splitList(config.Templates.Extensions)
	config.Templates.Exclude = splitList(config.Templates.Exclude)
	config.Server.AllowedOrigins = splitList(config.Server.AllowedOrigins)

	if config.Server.BasePath == "" {
		config.Server.BasePath = "/"
	}

	result := Validate(&config)
	if result.HasErrors() {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			"invalid configuration:\n"+result.String())
	}

	return &config, nil
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
