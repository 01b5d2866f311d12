// Package interfaces defines the contracts shared by the AMEE client packages
// so the session manager, dispatcher and configuration layer can be wired and
// tested independently of each other.
package interfaces

import (
	"context"
	"io"
	"strings"
	"time"
)

// Profile is a named connection profile as stored in the configuration file.
type Profile struct {
	Name            string        `yaml:"name"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port,omitempty"`
	SSLPort         int           `yaml:"sslPort,omitempty"`
	DisableTLS      bool          `yaml:"disableTLS,omitempty"`
	ProjectKey      string        `yaml:"projectKey"`
	ProjectPassword string        `yaml:"projectPassword,omitempty"`
	ReadTimeout     time.Duration `yaml:"readTimeout,omitempty"`
	Theme           string        `yaml:"theme,omitempty"`
}

// Theme represents visual styling configuration for CLI output
type Theme struct {
	Name    string `yaml:"name"`
	Success string `yaml:"success"`
	Error   string `yaml:"error"`
	Warning string `yaml:"warning"`
	Info    string `yaml:"info"`
}

// Settings is the resolved connection configuration handed to a client.
// Zero ports fall back to the protocol defaults.
type Settings struct {
	ProjectKey      string
	ProjectPassword string
	Host            string
	Port            int
	SSLPort         int
	DisableTLS      bool
	ReadTimeout     time.Duration
}

// ConfigManager handles profile persistence
type ConfigManager interface {
	// LoadProfile retrieves a profile by name with credentials decrypted
	LoadProfile(name string) (*Profile, error)

	// SaveProfile persists a profile, encrypting its password
	SaveProfile(profile *Profile) error

	// ListProfiles returns all available profile names
	ListProfiles() ([]string, error)

	// DeleteProfile removes a profile by name
	DeleteProfile(name string) error

	// LoadTheme retrieves theme configuration by name
	LoadTheme(name string) (*Theme, error)

	// ValidateProfile ensures profile has all required fields
	ValidateProfile(profile *Profile) error

	// GetConfigPath returns the path to the configuration file
	GetConfigPath() string
}

// Conn is an open byte-stream connection to the API host.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens plain or encrypted connections to the API host.
type Dialer interface {
	// Dial connects to address ("host:port"), over TLS when secure is set.
	Dial(ctx context.Context, address string, secure bool) (Conn, error)

	// SupportsTLS reports whether encrypted connections can be opened.
	SupportsTLS() bool
}

// Request is a single request message. Path already carries any query string.
type Request struct {
	Method string
	Path   string
	Body   string
}

// Descriptor returns the "VERB path" form of the request.
func (r Request) Descriptor() string {
	return r.Method + " " + r.Path
}

// DispatchOptions controls how a single dispatch behaves.
type DispatchOptions struct {
	// WantHeaders asks for the full line sequence rather than only the payload.
	WantHeaders bool

	// AllowRetry permits one reconnect and replay after a 401 response.
	AllowRetry bool
}

// Response is the parsed result of one dispatch.
type Response struct {
	// Lines holds every line read: status line, headers, blank line, body.
	Lines []string

	// JSONLines holds the lines that start with '{'.
	JSONLines []string
}

// StatusLine returns the first response line, or "" when nothing was read.
func (r *Response) StatusLine() string {
	if r == nil || len(r.Lines) == 0 {
		return ""
	}
	return r.Lines[0]
}

// Payload returns the first JSON line, or "" when the response carried none.
func (r *Response) Payload() string {
	if r == nil || len(r.JSONLines) == 0 {
		return ""
	}
	return r.JSONLines[0]
}

// Raw joins all lines back into a single newline-separated string.
func (r *Response) Raw() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Lines, "\n")
}

// Dispatcher sends a request and returns the parsed response.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request, opts DispatchOptions) (*Response, error)
}

// SessionManager owns the session token and its expiry.
type SessionManager interface {
	// Attach sets the dispatcher used for the authorization handshake.
	Attach(d Dispatcher)

	// IsActive reports whether a token is held and has not expired.
	IsActive() bool

	// Connect performs the authorization handshake.
	Connect(ctx context.Context) error

	// Disconnect clears the session unconditionally.
	Disconnect()

	// Reconnect disconnects then connects.
	Reconnect(ctx context.Context) error

	// Token returns the current session token, or "" when none is held.
	Token() string

	// Touch extends the session expiry after a completed dispatch.
	Touch()

	// ExpiresAt returns the session expiry, zero when no session is held.
	ExpiresAt() time.Time
}
