// Package errors provides the structured error type shared by the AMEE client
// packages. Every failure surfaced to a caller is a *ContextualError whose Type
// identifies the failure kind, so callers can branch with errors.Is against the
// sentinel values exported here.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/carbon-console/amee/internal/logging"
)

// ErrorType categorizes failures for appropriate handling
type ErrorType string

const (
	ErrorTypeConfiguration  ErrorType = "configuration"
	ErrorTypePathValidation ErrorType = "path_validation"
	ErrorTypeProtocol       ErrorType = "protocol"
	ErrorTypeConnection     ErrorType = "connection"
	ErrorTypeTransmission   ErrorType = "transmission"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeAuthorization  ErrorType = "authorization"
)

// ErrorSeverity indicates the impact level of an error
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// Sentinels for errors.Is. A ContextualError matches a sentinel of the same Type.
var (
	ErrConfiguration  = &ContextualError{Type: ErrorTypeConfiguration}
	ErrPathValidation = &ContextualError{Type: ErrorTypePathValidation}
	ErrProtocol       = &ContextualError{Type: ErrorTypeProtocol}
	ErrConnection     = &ContextualError{Type: ErrorTypeConnection}
	ErrTransmission   = &ContextualError{Type: ErrorTypeTransmission}
	ErrAuthentication = &ContextualError{Type: ErrorTypeAuthentication}
	ErrAuthorization  = &ContextualError{Type: ErrorTypeAuthorization}
)

// ContextualError carries the failure kind together with diagnostic context
type ContextualError struct {
	Type        ErrorType              `json:"type"`
	Severity    ErrorSeverity          `json:"severity"`
	Message     string                 `json:"message"`
	Component   string                 `json:"component"`
	Operation   string                 `json:"operation,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	StackTrace  []string               `json:"stackTrace,omitempty"`
	Cause       error                  `json:"-"`
	Recoverable bool                   `json:"recoverable"`
}

// Error implements the error interface
func (e *ContextualError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Type) + " error"
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component == "" {
		return msg
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Type, msg)
}

// Unwrap provides access to the underlying error
func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ContextualError of the same Type
func (e *ContextualError) Is(target error) bool {
	t, ok := target.(*ContextualError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// IsRecoverable indicates if the error can potentially be resolved by retrying later
func (e *ContextualError) IsRecoverable() bool {
	return e.Recoverable
}

// TypeOf returns the ErrorType of err, or "" when err is not a ContextualError
func TypeOf(err error) ErrorType {
	var ce *ContextualError
	if stderrors.As(err, &ce) {
		return ce.Type
	}
	return ""
}

// ErrorBuilder provides a fluent interface for creating contextual errors
type ErrorBuilder struct {
	err          *ContextualError
	logger       *logging.Logger
	captureStack bool
}

// NewErrorBuilder creates a new error builder with default settings
func NewErrorBuilder(errorType ErrorType, component string) *ErrorBuilder {
	return &ErrorBuilder{
		err: &ContextualError{
			Type:      errorType,
			Severity:  SeverityMedium,
			Component: component,
			Context:   make(map[string]interface{}),
			Timestamp: time.Now(),
		},
		logger:       logging.GetGlobalLogger().WithComponent(component),
		captureStack: true,
	}
}

// WithSeverity sets the error severity level
func (eb *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	eb.err.Severity = severity
	return eb
}

// WithMessage sets the error message
func (eb *ErrorBuilder) WithMessage(message string) *ErrorBuilder {
	eb.err.Message = message
	return eb
}

// WithMessagef sets a formatted error message
func (eb *ErrorBuilder) WithMessagef(format string, args ...interface{}) *ErrorBuilder {
	eb.err.Message = fmt.Sprintf(format, args...)
	return eb
}

// WithOperation sets the operation that failed
func (eb *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	eb.err.Operation = operation
	return eb
}

// WithCause sets the underlying error that caused this error
func (eb *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	eb.err.Cause = cause
	return eb
}

// WithContext adds contextual information to the error
func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	eb.err.Context[key] = value
	return eb
}

// WithRecoverable sets whether the error is recoverable
func (eb *ErrorBuilder) WithRecoverable(recoverable bool) *ErrorBuilder {
	eb.err.Recoverable = recoverable
	return eb
}

// WithLogger replaces the logger the error is reported to on Build
func (eb *ErrorBuilder) WithLogger(logger *logging.Logger) *ErrorBuilder {
	if logger != nil {
		eb.logger = logger
	}
	return eb
}

// WithoutStackTrace disables stack trace capture
func (eb *ErrorBuilder) WithoutStackTrace() *ErrorBuilder {
	eb.captureStack = false
	return eb
}

// Build creates the contextual error and logs it
func (eb *ErrorBuilder) Build() *ContextualError {
	if eb.captureStack {
		eb.err.StackTrace = captureStackTrace(3)
	}

	logFields := map[string]interface{}{
		"error_type":  eb.err.Type,
		"severity":    eb.err.Severity,
		"operation":   eb.err.Operation,
		"recoverable": eb.err.Recoverable,
	}
	for k, v := range eb.err.Context {
		logFields["ctx_"+k] = v
	}

	loggerWithFields := eb.logger.WithFields(logFields)
	switch eb.err.Severity {
	case SeverityCritical, SeverityHigh:
		loggerWithFields.Warn(eb.err.Error())
	default:
		loggerWithFields.Debug(eb.err.Error())
	}

	return eb.err
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip int) []string {
	var traces []string
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		funcName := "unknown"
		if fn != nil {
			funcName = fn.Name()
		}

		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}

		traces = append(traces, fmt.Sprintf("%s:%d %s", file, line, funcName))
	}
	return traces
}

// Component-specific error builders

func NewConfigurationError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeConfiguration, component).WithSeverity(SeverityHigh)
}

func NewPathValidationError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypePathValidation, component).WithSeverity(SeverityMedium).WithoutStackTrace()
}

func NewProtocolError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeProtocol, component).WithSeverity(SeverityMedium)
}

func NewConnectionError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeConnection, component).WithSeverity(SeverityHigh).WithRecoverable(true)
}

func NewTransmissionError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeTransmission, component).WithSeverity(SeverityHigh).WithRecoverable(true)
}

func NewAuthenticationError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeAuthentication, component).WithSeverity(SeverityHigh)
}

func NewAuthorizationError(component string) *ErrorBuilder {
	return NewErrorBuilder(ErrorTypeAuthorization, component).WithSeverity(SeverityHigh)
}
