package protocol

import (
	"fmt"
	"strings"

	apperrors "github.com/carbon-console/amee/internal/errors"
	"github.com/carbon-console/amee/internal/interfaces"
)

// IsValidMethod reports whether method is one of the supported verbs.
func IsValidMethod(method string) bool {
	switch method {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return true
	default:
		return false
	}
}

// IsAuthCall reports whether req is the authorization handshake.
func IsAuthCall(req interfaces.Request) bool {
	return req.Method == MethodPost && req.Path == "/auth"
}

// ParseDescriptor splits a "VERB path" descriptor. The verb is upper-cased.
func ParseDescriptor(descriptor string) (string, string, error) {
	fields := strings.Fields(descriptor)
	if len(fields) != 2 {
		return "", "", malformedRequest(descriptor, "expected \"VERB path\"")
	}
	method := strings.ToUpper(fields[0])
	if !IsValidMethod(method) {
		return "", "", malformedRequest(descriptor, fmt.Sprintf("unsupported method %q", fields[0]))
	}
	if !strings.HasPrefix(fields[1], "/") {
		return "", "", malformedRequest(descriptor, "path must start with /")
	}
	return method, fields[1], nil
}

func malformedRequest(descriptor, reason string) error {
	return apperrors.NewProtocolError("protocol").
		WithOperation("parse_descriptor").
		WithMessagef("malformed request %q: %s", descriptor, reason).
		Build()
}

// BuildRequest renders the request message. token is sent as the authToken
// cookie when non-empty; a body adds the form content headers.
func BuildRequest(req interfaces.Request, host string, token string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s %s\n", req.Method, req.Path, ProtocolVersion)
	b.WriteString("Accept: application/json\n")
	if token != "" {
		fmt.Fprintf(&b, "Cookie: authToken=%s\n", token)
	}
	fmt.Fprintf(&b, "Host: %s\n", host)
	b.WriteString("Connection: close\n")

	if req.Body == "" {
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString("Content-Type: application/x-www-form-urlencoded\n")
	fmt.Fprintf(&b, "Content-Length: %d\n", len(req.Body))
	b.WriteString("\n")
	b.WriteString(req.Body)
	return b.String()
}
