package errors

import (
	"fmt"
	"time"
)

// ProcessedError is an error prepared for display by the CLI.
type ProcessedError struct {
	Timestamp time.Time
	Type      ErrorType
	Message   string
	Hints     []string
}

// Handler turns client errors into ProcessedError values.
type Handler struct{}

// NewHandler creates a new error handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Process converts err into a ProcessedError with recovery hints.
func (h *Handler) Process(err error) (*ProcessedError, error) {
	if err == nil {
		return nil, fmt.Errorf("cannot process a nil error")
	}

	processed := &ProcessedError{
		Timestamp: time.Now(),
		Type:      TypeOf(err),
		Message:   err.Error(),
	}
	processed.Hints = hintsFor(processed.Type)
	return processed, nil
}

func hintsFor(t ErrorType) []string {
	switch t {
	case ErrorTypeConfiguration:
		return []string{
			"Set projectKey, projectPassword and host in the profile",
			"Or export AMEE_PROJECT_KEY, AMEE_PROJECT_PASSWORD and AMEE_HOST",
		}
	case ErrorTypePathValidation:
		return []string{
			"GET accepts /profiles and /data paths",
			"PUT and DELETE need /profiles/<12 hex digit id>/...",
			"POST accepts /auth only",
		}
	case ErrorTypeProtocol:
		return []string{"Use one of GET, POST, PUT or DELETE followed by a path"}
	case ErrorTypeConnection:
		return []string{"Check the host and port, then retry"}
	case ErrorTypeTransmission:
		return []string{"The connection dropped mid-request; retry the call"}
	case ErrorTypeAuthentication:
		return []string{"The server accepted the request but issued no token; check the project key and password"}
	case ErrorTypeAuthorization:
		return []string{"The server rejected the session twice; verify the project credentials"}
	default:
		return []string{"Re-run with -log-level debug for details"}
	}
}
