// Package errors provides the structured error taxonomy shared by the
// renderer, the loaders and the CLI.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeParse      ErrorType = "parse"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeSecurity   ErrorType = "security"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// NanoError is a structured error type with context.
type NanoError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Template    string
	FilePath    string
	Line        int
	Column      int
	Recoverable bool
}

// Error implements the error interface.
func (e *NanoError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Template != "" {
		parts = append(parts, "template:"+e.Template)
	}

	if e.FilePath != "" || e.Line > 0 {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *NanoError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *NanoError) Is(target error) bool {
	var t *NanoError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *NanoError) WithContext(key string, value interface{}) *NanoError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds file location information.
func (e *NanoError) WithLocation(filePath string, line, column int) *NanoError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithTemplate records the template name the error belongs to.
func (e *NanoError) WithTemplate(name string) *NanoError {
	e.Template = name

	return e
}

// Error creation functions

// NewParseError creates a template parse error. Parse errors are local to
// one template and never abort the host.
func NewParseError(code, message string, line, column int) *NanoError {
	return &NanoError{
		Type:        ErrorTypeParse,
		Code:        code,
		Message:     message,
		Line:        line,
		Column:      column,
		Recoverable: true,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *NanoError {
	return &NanoError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewSecurityError creates a security error.
func NewSecurityError(code, message string) *NanoError {
	return &NanoError{
		Type:        ErrorTypeSecurity,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *NanoError {
	return &NanoError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *NanoError {
	return &NanoError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *NanoError {
	return &NanoError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var ne *NanoError
	if errors.As(err, &ne) {
		return ne.Recoverable
	}

	return false
}

// IsParseError checks if an error came from the template parser.
func IsParseError(err error) bool {
	var ne *NanoError
	if errors.As(err, &ne) {
		return ne.Type == ErrorTypeParse
	}

	return false
}

// IsSecurityError checks if an error is security-related.
func IsSecurityError(err error) bool {
	var ne *NanoError
	if errors.As(err, &ne) {
		return ne.Type == ErrorTypeSecurity
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err at a level matching its type.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var ne *NanoError
	if !errors.As(err, &ne) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch ne.Type {
	case ErrorTypeParse, ErrorTypeValidation:
		h.logger.Warn(ctx, ne, "Template error occurred",
			"type", ne.Type,
			"code", ne.Code,
			"template", ne.Template,
			"line", ne.Line,
			"column", ne.Column)
	default:
		h.logger.Error(ctx, ne, "Error occurred",
			"type", ne.Type,
			"code", ne.Code,
			"file", ne.FilePath)
	}
}

// Common error codes.
const (
	ErrCodeUnterminatedTag   = "ERR_UNTERMINATED_TAG"
	ErrCodeUnterminatedBlock = "ERR_UNTERMINATED_BLOCK"
	ErrCodeUnmatchedClose    = "ERR_UNMATCHED_CLOSE"
	ErrCodeMismatchedClose   = "ERR_MISMATCHED_CLOSE"
	ErrCodeDuplicateElse     = "ERR_DUPLICATE_ELSE"
	ErrCodeStrayElse         = "ERR_STRAY_ELSE"
	ErrCodeEmptyTag          = "ERR_EMPTY_TAG"
	ErrCodeMalformedTag      = "ERR_MALFORMED_TAG"
	ErrCodeMissingPath       = "ERR_MISSING_PATH"
	ErrCodeInvalidPath       = "ERR_INVALID_PATH"
	ErrCodeBadFallback       = "ERR_BAD_FALLBACK"
	ErrCodePathTraversal     = "ERR_PATH_TRAVERSAL"
	ErrCodeInvalidOrigin     = "ERR_INVALID_ORIGIN"
	ErrCodeTemplateNotFound  = "ERR_TEMPLATE_NOT_FOUND"
	ErrCodeRouteNotFound     = "ERR_ROUTE_NOT_FOUND"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeFileNotFound      = "ERR_FILE_NOT_FOUND"
	ErrCodeDataInvalid       = "ERR_DATA_INVALID"
	ErrCodeInternalError     = "ERR_INTERNAL"
)

// ErrPathTraversal creates a path traversal security error.
func ErrPathTraversal(path string) *NanoError {
	return NewSecurityError(ErrCodePathTraversal, "path traversal attempt: "+path)
}

// ErrInvalidOrigin creates an invalid origin security error.
func ErrInvalidOrigin(origin string) *NanoError {
	return NewSecurityError(ErrCodeInvalidOrigin, "invalid origin: "+origin)
}

// ErrTemplateNotFound creates a template not found error.
func ErrTemplateNotFound(name string) *NanoError {
	return NewValidationError(ErrCodeTemplateNotFound, "template not found: "+name)
}
