package config

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conneroisu/nanorender/internal/logging"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			fmt.Fprintf(&builder, "  - %s: %s\n", issue.Field, issue.Message)
			for _, suggestion := range issue.Suggestions {
				fmt.Fprintf(&builder, "      hint: %s\n", suggestion)
			}
		}
	}

	write("errors", vr.Errors)
	write("warnings", vr.Warnings)

	return builder.String()
}

func (vr *ValidationResult) fail(field string, value interface{}, msg string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

func (vr *ValidationResult) warn(field string, value interface{}, msg string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

// Validate checks every section and collects all problems at once.
func Validate(config *Config) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateRenderer(&config.Renderer, result)
	validateTemplates(&config.Templates, result)
	validateData(&config.Data, result)
	validateServer(&config.Server, result)
	validateRoutes(config.Routes, result)

	if config.Watch.Debounce < 0 {
		result.fail("watch.debounce", config.Watch.Debounce, "debounce cannot be negative")
	}

	if _, err := logging.ParseLevel(config.Log.Level); err != nil {
		result.fail("log.level", config.Log.Level, err.Error(), "Use one of debug, info, warn, error")
	}
	if config.Log.Format != "text" && config.Log.Format != "json" {
		result.fail("log.format", config.Log.Format, "unknown log format", "Use 'text' or 'json'")
	}

	return result
}

func validateRenderer(config *RendererConfig, result *ValidationResult) {
	if config.CacheSize < 0 {
		result.fail("renderer.cache_size", config.CacheSize, "cache size cannot be negative",
			"Use 0 to keep every compiled template")
	} else if config.CacheSize == 0 {
		result.warn("renderer.cache_size", config.CacheSize, "compiled template cache is unbounded",
			"Set a limit for long-running processes that compile ad hoc templates")
	}
	if config.CacheTTL < 0 {
		result.fail("renderer.cache_ttl", config.CacheTTL, "cache TTL cannot be negative")
	}
}

func validateTemplates(config *TemplatesConfig, result *ValidationResult) {
	if err := validatePath(config.Dir); err != nil {
		result.fail("templates.dir", config.Dir, err.Error())
	}
	if len(config.Extensions) == 0 {
		result.fail("templates.extensions", config.Extensions, "at least one extension is required")
	}
	for _, ext := range config.Extensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			result.fail("templates.extensions", ext, fmt.Sprintf("extension %q must start with a dot", ext),
				"Write extensions as .html, .tmpl")
		}
	}
	for _, pattern := range config.Exclude {
		if _, err := filepath.Match(pattern, "x"); err != nil {
			result.fail("templates.exclude", pattern, fmt.Sprintf("bad glob %q: %v", pattern, err))
		}
	}
}

func validateData(config *DataConfig, result *ValidationResult) {
	if config.MaxItems < 0 {
		result.fail("data.max_items", config.MaxItems, "max items cannot be negative",
			"Use 0 to disable the sequence limit")
	}
}

func validateServer(config *ServerConfig, result *ValidationResult) {
	// Validate port range (allow 0 for system-assigned ports in testing)
	if config.Port < 0 || config.Port > 65535 {
		result.fail("server.port", config.Port, fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			"Common development ports: 3000, 8080, 8000",
			"Port 0 allows system to assign an available port")
	} else if config.Port > 0 && config.Port < 1024 {
		result.warn("server.port", config.Port, "port below 1024 requires elevated privileges")
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.fail("server.host", config.Host, err.Error(),
				"Use 'localhost' for local development",
				"Use '0.0.0.0' to bind to all interfaces")
		}
	}

	if !strings.HasPrefix(config.BasePath, "/") {
		result.fail("server.base_path", config.BasePath, "base path must start with /")
	}

	for _, origin := range config.AllowedOrigins {
		if origin == "*" {
			result.warn("server.allowed_origins", origin, "live reload accepts connections from any origin")
		}
	}
}

func validateRoutes(routes []RouteConfig, result *ValidationResult) {
	seen := make(map[string]bool, len(routes))
	for i, route := range routes {
		field := fmt.Sprintf("routes[%d]", i)
		if !strings.HasPrefix(route.Path, "/") {
			result.fail(field+".path", route.Path, "route path must start with /")
		}
		if route.Template == "" {
			result.fail(field+".template", route.Template, "route needs a template")
		} else if err := validatePath(route.Template); err != nil {
			result.fail(field+".template", route.Template, err.Error())
		}
		if seen[route.Path] {
			result.warn(field+".path", route.Path, "duplicate route, the first one wins")
		}
		seen[route.Path] = true
	}
}

// Helper validation functions

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	// Reject path traversal attempts
	for _, part := range strings.Split(filepath.ToSlash(cleanPath), "/") {
		if part == ".." {
			return fmt.Errorf("path contains traversal: %s", path)
		}
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateHostname(host string) error {
	// Check for dangerous characters
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil || host == "localhost" {
		return nil
	}

	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}
