package errors

import (
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"
)

// Diagnostic is one problem found in a template file.
type Diagnostic struct {
	File      string        `json:"file" yaml:"file"`
	Line      int           `json:"line" yaml:"line"`
	Column    int           `json:"column" yaml:"column"`
	Code      string        `json:"code" yaml:"code"`
	Message   string        `json:"message" yaml:"message"`
	Severity  ErrorSeverity `json:"severity" yaml:"severity"`
	Timestamp time.Time     `json:"-" yaml:"-"`
}

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the severity by name in json and yaml output.
func (s ErrorSeverity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Error implements the error interface
func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s: %s", d.File, d.Line, d.Column, d.Severity, d.Message)
}

// DiagnosticFrom converts err into a Diagnostic for file. Location and code
// are taken from a NanoError when one is in the chain.
func DiagnosticFrom(file string, err error) Diagnostic {
	d := Diagnostic{
		File:     file,
		Message:  err.Error(),
		Severity: ErrorSeverityError,
		Code:     ErrCodeInternalError,
	}

	var ne *NanoError
	if errors.As(err, &ne) {
		d.Line = ne.Line
		d.Column = ne.Column
		d.Code = ne.Code
		d.Message = ne.Message
		if ne.FilePath != "" {
			d.File = ne.FilePath
		}
	}

	return d
}

// ErrorCollector collects diagnostics from many templates.
type ErrorCollector struct {
	diagnostics []Diagnostic
	mutex       sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		diagnostics: make([]Diagnostic, 0),
	}
}

// Add adds a diagnostic to the collector
func (ec *ErrorCollector) Add(d Diagnostic) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	d.Timestamp = time.Now()
	ec.diagnostics = append(ec.diagnostics, d)
}

// AddError records err against file.
func (ec *ErrorCollector) AddError(file string, err error) {
	if err == nil {
		return
	}
	ec.Add(DiagnosticFrom(file, err))
}

// GetErrors returns the collected diagnostics sorted by file and position.
func (ec *ErrorCollector) GetErrors() []Diagnostic {
	ec.mutex.RLock()
	result := make([]Diagnostic, len(ec.diagnostics))
	copy(result, ec.diagnostics)
	ec.mutex.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].File != result[j].File {
			return result[i].File < result[j].File
		}
		if result[i].Line != result[j].Line {
			return result[i].Line < result[j].Line
		}
		return result[i].Column < result[j].Column
	})
	return result
}

// GetErrorsByFile returns diagnostics for a specific file
func (ec *ErrorCollector) GetErrorsByFile(file string) []Diagnostic {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var fileErrors []Diagnostic
	for _, d := range ec.diagnostics {
		if d.File == file {
			fileErrors = append(fileErrors, d)
		}
	}
	return fileErrors
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.diagnostics) > 0
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.diagnostics = ec.diagnostics[:0]
}

// RemoveFile drops every diagnostic recorded for file.
func (ec *ErrorCollector) RemoveFile(file string) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	kept := ec.diagnostics[:0]
	for _, d := range ec.diagnostics {
		if d.File != file {
			kept = append(kept, d)
		}
	}
	ec.diagnostics = kept
}

// ErrorOverlay generates HTML for the preview server's error overlay.
func (ec *ErrorCollector) ErrorOverlay() string {
	diagnostics := ec.GetErrors()
	if len(diagnostics) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(`<div id="nanorender-error-overlay" style="position:fixed;inset:0;background:rgba(0,0,0,.85);color:#fff;font-family:monospace;font-size:14px;z-index:9999;padding:20px;overflow:auto">`)
	b.WriteString(`<h2 style="color:#ff6b6b;margin-top:0">Template Errors</h2>`)
	for _, d := range diagnostics {
		color := "#ff6b6b"
		if d.Severity == ErrorSeverityWarning {
			color = "#feca57"
		}
		fmt.Fprintf(&b,
			`<div style="background:#2d3748;padding:12px;margin-bottom:12px;border-left:4px solid %s"><strong>%s</strong><div style="color:#a0aec0;font-size:12px">%s:%d:%d %s</div></div>`,
			color,
			html.EscapeString(d.Message),
			html.EscapeString(d.File), d.Line, d.Column, d.Code,
		)
	}
	b.WriteString(`</div>`)

	return b.String()
}
