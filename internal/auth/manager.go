// Package auth implements the session manager for the AMEE client: it performs
// the authorization handshake against /auth, caches the issued token and
// tracks when it expires.
//
// A Manager is not safe for concurrent use; it belongs to a single client.
package auth

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	apperrors "github.com/carbon-console/amee/internal/errors"
	"github.com/carbon-console/amee/internal/interfaces"
	"github.com/carbon-console/amee/internal/logging"
	"github.com/carbon-console/amee/internal/metrics"
)

const (
	// SessionTimeout is how long a token stays valid after the last activity.
	SessionTimeout = 1800 * time.Second

	// AuthPath is the handshake endpoint.
	AuthPath = "/auth"

	component = "auth"
)

// authTokenHeader matches the header line carrying the session token.
var authTokenHeader = regexp.MustCompile(`^(?i:authToken):\s*(\S+)\s*$`)

// Session is the cached authorization state. Zero fields mean absent.
type Session struct {
	ID        string
	Token     string
	ExpiresAt time.Time
}

// Manager implements interfaces.SessionManager.
type Manager struct {
	settings   interfaces.Settings
	dispatcher interfaces.Dispatcher
	validator  *TokenValidator
	logger     *logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	session    Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger used for handshake reporting.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records handshake outcomes on m.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a session manager for the given settings. A dispatcher
// must be attached before Connect is called.
func NewManager(settings interfaces.Settings, opts ...Option) *Manager {
	m := &Manager{
		settings:  settings,
		validator: NewTokenValidator(),
		logger:    logging.GetAuthLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach sets the dispatcher used for the handshake.
func (m *Manager) Attach(d interfaces.Dispatcher) {
	m.dispatcher = d
}

// IsActive reports whether a token is held and its expiry lies in the future.
func (m *Manager) IsActive() bool {
	if m.session.Token == "" || m.session.ExpiresAt.IsZero() {
		return false
	}
	return m.now().Before(m.session.ExpiresAt)
}

// Token returns the current token, or "" when none is held.
func (m *Manager) Token() string {
	return m.session.Token
}

// ExpiresAt returns the session expiry, zero when no session is held.
func (m *Manager) ExpiresAt() time.Time {
	return m.session.ExpiresAt
}

// Session returns a copy of the current session state.
func (m *Manager) Session() Session {
	return m.session
}

// Touch extends the expiry of a held token to now + SessionTimeout.
func (m *Manager) Touch() {
	if m.session.Token == "" {
		return
	}
	m.session.ExpiresAt = m.now().Add(SessionTimeout)
}

// Disconnect clears the session unconditionally.
func (m *Manager) Disconnect() {
	if m.session.ID != "" {
		m.logger.Debug("Session cleared", "session_id", m.session.ID)
	}
	m.session = Session{}
}

// Reconnect clears the session and performs a fresh handshake.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.Disconnect()
	return m.Connect(ctx)
}

// Connect performs the authorization handshake: POST /auth with the project
// credentials, then read the token from the authToken response header.
func (m *Manager) Connect(ctx context.Context) error {
	return m.logger.LogOperation("handshake", func() error {
		return m.handshake(ctx)
	})
}

func (m *Manager) handshake(ctx context.Context) error {
	if err := m.checkSettings(); err != nil {
		return err
	}
	if m.dispatcher == nil {
		return apperrors.NewConfigurationError(component).
			WithOperation("connect").
			WithMessage("no dispatcher attached to session manager").
			WithLogger(m.logger).
			Build()
	}

	// A stale token must not survive a failed handshake.
	m.session = Session{}

	body := url.Values{
		"username": {m.settings.ProjectKey},
		"password": {m.settings.ProjectPassword},
	}.Encode()

	req := interfaces.Request{Method: "POST", Path: AuthPath, Body: body}
	resp, err := m.dispatcher.Dispatch(ctx, req, interfaces.DispatchOptions{
		WantHeaders: true,
		AllowRetry:  false,
	})
	if err != nil {
		m.metrics.ObserveHandshake(metrics.HandshakeError)
		return err
	}

	token, ok := ExtractToken(resp.Lines)
	if !ok {
		m.metrics.ObserveHandshake(metrics.HandshakeNoToken)
		return apperrors.NewAuthenticationError(component).
			WithOperation("connect").
			WithMessage("authorization response carried no authToken header").
			WithContext("status", resp.StatusLine()).
			WithLogger(m.logger).
			Build()
	}

	if err := m.validator.ValidateToken(token); err != nil {
		m.metrics.ObserveHandshake(metrics.HandshakeNoToken)
		return apperrors.NewAuthenticationError(component).
			WithOperation("connect").
			WithMessage("authorization response carried an unusable token").
			WithCause(err).
			WithLogger(m.logger).
			Build()
	}

	now := m.now()
	if exp := m.validator.JWTExpiry(token); !exp.IsZero() && !now.Before(exp) {
		m.metrics.ObserveHandshake(metrics.HandshakeNoToken)
		return apperrors.NewAuthenticationError(component).
			WithOperation("connect").
			WithMessage("authorization response carried an expired token").
			WithContext("exp", exp.UTC().Format(time.RFC3339)).
			WithLogger(m.logger).
			Build()
	}

	m.session = Session{
		ID:        ulid.Make().String(),
		Token:     token,
		ExpiresAt: now.Add(SessionTimeout),
	}

	m.metrics.ObserveHandshake(metrics.HandshakeSuccess)
	m.logger.LogHandshake(m.settings.Host, m.session.ID, m.session.ExpiresAt)
	return nil
}

func (m *Manager) checkSettings() error {
	var missing []string
	if strings.TrimSpace(m.settings.ProjectKey) == "" {
		missing = append(missing, "project key")
	}
	if m.settings.ProjectPassword == "" {
		missing = append(missing, "project password")
	}
	if strings.TrimSpace(m.settings.Host) == "" {
		missing = append(missing, "host")
	}
	if len(missing) == 0 {
		return nil
	}
	return apperrors.NewConfigurationError(component).
		WithOperation("connect").
		WithMessage(fmt.Sprintf("missing required settings: %s", strings.Join(missing, ", "))).
		WithLogger(m.logger).
		Build()
}

// ExtractToken scans header lines (up to the first blank line) for
// "authToken: <value>" and returns the value.
func ExtractToken(lines []string) (string, bool) {
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			break
		}
		if match := authTokenHeader.FindStringSubmatch(line); match != nil {
			return match[1], true
		}
	}
	return "", false
}

// TokenValidator checks that a token is safe to echo back in a Cookie header.
type TokenValidator struct {
	jwtRegex       *regexp.Regexp
	maxTokenLength int
	parser         *jwt.Parser
}

// NewTokenValidator creates a validator with default limits.
func NewTokenValidator() *TokenValidator {
	return &TokenValidator{
		jwtRegex:       regexp.MustCompile(`^[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]*$`),
		maxTokenLength: 4096,
		parser:         jwt.NewParser(),
	}
}

// ValidateToken rejects empty, oversized or header-breaking tokens.
func (v *TokenValidator) ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if len(token) > v.maxTokenLength {
		return fmt.Errorf("token is too long (maximum %d characters)", v.maxTokenLength)
	}
	if strings.ContainsAny(token, " \t\r\n;") {
		return fmt.Errorf("token contains characters not allowed in a cookie value")
	}
	return nil
}

// JWTExpiry returns the exp claim of a JWT token, or the zero time when the
// token is not a JWT or carries no exp. The signature is not verified.
func (v *TokenValidator) JWTExpiry(token string) time.Time {
	if !v.jwtRegex.MatchString(token) {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := v.parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
