package protocol

import (
	"context"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/carbon-console/amee/internal/auth"
	apperrors "github.com/carbon-console/amee/internal/errors"
	"github.com/carbon-console/amee/internal/interfaces"
	"github.com/carbon-console/amee/internal/logging"
	"github.com/carbon-console/amee/internal/metrics"
)

const component = "protocol"

// Client dispatches requests to the AMEE API and owns one session.
//
// A Client is not safe for concurrent use: every call runs to completion,
// including any retry, before returning, and the session state is unguarded.
// Use one Client per goroutine or serialize access.
type Client struct {
	settings    interfaces.Settings
	dialer      interfaces.Dialer
	sessions    interfaces.SessionManager
	validator   *PathValidator
	logger      *logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	readTimeout time.Duration
	stats       Statistics
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the network dialer.
func WithDialer(d interfaces.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithSessionManager replaces the default auth.Manager.
func WithSessionManager(s interfaces.SessionManager) Option {
	return func(c *Client) { c.sessions = s }
}

// WithPathValidator replaces the default allow-lists.
func WithPathValidator(v *PathValidator) Option {
	return func(c *Client) { c.validator = v }
}

// WithLogger sets the logger for dispatch reporting.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records dispatch metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock replaces time.Now for session expiry, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a client for settings. Unset ports and read timeout take
// the protocol defaults; credentials are checked lazily on the first handshake.
func NewClient(settings interfaces.Settings, opts ...Option) (*Client, error) {
	if settings.Port == 0 {
		settings.Port = DefaultPort
	}
	if settings.SSLPort == 0 {
		settings.SSLPort = DefaultSSLPort
	}
	if err := validatePort("port", settings.Port); err != nil {
		return nil, err
	}
	if err := validatePort("sslPort", settings.SSLPort); err != nil {
		return nil, err
	}

	readTimeout := settings.ReadTimeout
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}

	c := &Client{
		settings:    settings,
		validator:   MustPathValidator(DefaultAllowList),
		logger:      logging.GetProtocolLogger(),
		now:         time.Now,
		readTimeout: readTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.dialer == nil {
		c.dialer = &NetDialer{Timeout: DefaultDialTimeout, DisableTLS: settings.DisableTLS}
	}
	if c.sessions == nil {
		c.sessions = auth.NewManager(settings,
			auth.WithClock(c.now),
			auth.WithMetrics(c.metrics),
			auth.WithLogger(c.logger.WithComponent("auth")))
	}
	c.sessions.Attach(c)

	return c, nil
}

func validatePort(name string, port int) error {
	if port > 0 && port <= 65535 {
		return nil
	}
	return apperrors.NewConfigurationError(component).
		WithOperation("new_client").
		WithMessagef("%s must be between 1 and 65535, got %d", name, port).
		Build()
}

// Connect performs the authorization handshake now rather than on first use.
func (c *Client) Connect(ctx context.Context) error {
	return c.sessions.Connect(ctx)
}

// IsConnected reports whether the client holds an unexpired session.
func (c *Client) IsConnected() bool {
	return c.sessions.IsActive()
}

// Disconnect drops the session; the next call performs a new handshake.
func (c *Client) Disconnect() {
	c.sessions.Disconnect()
}

// Statistics returns a copy of the dispatch statistics.
func (c *Client) Statistics() Statistics {
	return c.stats
}

// Post sends params as a form body to path and returns the JSON payload.
func (c *Client) Post(ctx context.Context, path string, params url.Values) (string, error) {
	return c.call(ctx, MethodPost, path, params)
}

// Put sends params as a form body to path and returns the JSON payload.
func (c *Client) Put(ctx context.Context, path string, params url.Values) (string, error) {
	return c.call(ctx, MethodPut, path, params)
}

// Get requests path with params as the query string and returns the JSON payload.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (string, error) {
	return c.call(ctx, MethodGet, path, params)
}

// Delete requests deletion of path and returns the JSON payload.
func (c *Client) Delete(ctx context.Context, path string) (string, error) {
	return c.call(ctx, MethodDelete, path, nil)
}

// Do routes a "VERB path" descriptor to the matching verb method.
func (c *Client) Do(ctx context.Context, descriptor string, params url.Values) (string, error) {
	method, path, err := ParseDescriptor(descriptor)
	if err != nil {
		return "", err
	}
	return c.call(ctx, method, path, params)
}

// DoRaw is Do returning the full response, headers included.
func (c *Client) DoRaw(ctx context.Context, descriptor string, params url.Values) (*interfaces.Response, error) {
	method, path, err := ParseDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	req, err := c.prepare(method, path, params)
	if err != nil {
		return nil, err
	}
	return c.Dispatch(ctx, req, interfaces.DispatchOptions{WantHeaders: true, AllowRetry: true})
}

func (c *Client) call(ctx context.Context, method, path string, params url.Values) (string, error) {
	req, err := c.prepare(method, path, params)
	if err != nil {
		return "", err
	}
	resp, err := c.Dispatch(ctx, req, interfaces.DispatchOptions{AllowRetry: true})
	if err != nil {
		return "", err
	}
	return resp.Payload(), nil
}

// prepare validates path for method and builds the request message.
func (c *Client) prepare(method, path string, params url.Values) (interfaces.Request, error) {
	if err := c.validator.Validate(path, method); err != nil {
		return interfaces.Request{}, err
	}

	req := interfaces.Request{Method: method, Path: path}
	switch method {
	case MethodGet:
		if len(params) > 0 {
			req.Path = path + "?" + params.Encode()
		}
	case MethodPost, MethodPut:
		req.Body = params.Encode()
	}
	return req, nil
}

// Dispatch sends req, connecting first when no session is active. A 401
// response triggers one reconnect and an unchanged replay when
// opts.AllowRetry is set; a second 401 is an authorization error.
func (c *Client) Dispatch(ctx context.Context, req interfaces.Request, opts interfaces.DispatchOptions) (*interfaces.Response, error) {
	if !IsValidMethod(req.Method) {
		return nil, apperrors.NewProtocolError(component).
			WithOperation("dispatch").
			WithMessagef("unsupported method %q", req.Method).
			WithLogger(c.logger).
			Build()
	}
	authCall := IsAuthCall(req)

	for attempt := 1; ; attempt++ {
		if !authCall && !c.sessions.IsActive() {
			if err := c.sessions.Connect(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.roundTrip(ctx, req, authCall, attempt)
		if err != nil {
			return nil, err
		}

		if !IsUnauthorized(resp) {
			c.sessions.Touch()
			if opts.WantHeaders {
				return resp, nil
			}
			return &interfaces.Response{JSONLines: resp.JSONLines}, nil
		}

		if !opts.AllowRetry || attempt >= MaxAttempts {
			return nil, apperrors.NewAuthorizationError(component).
				WithOperation("dispatch").
				WithMessagef("%s rejected: %s", req.Descriptor(), resp.StatusLine()).
				WithContext("attempts", attempt).
				WithLogger(c.logger).
				Build()
		}

		c.stats.Retries++
		c.metrics.ObserveRetry()
		c.logger.Info("Authorization rejected, reconnecting",
			"method", req.Method, "path", req.Path, "attempt", attempt)

		if err := c.sessions.Reconnect(ctx); err != nil {
			return nil, err
		}
	}
}

// roundTrip performs one connection lifecycle: open, write, read, close.
func (c *Client) roundTrip(ctx context.Context, req interfaces.Request, authCall bool, attempt int) (*interfaces.Response, error) {
	requestID := uuid.NewString()
	secure := authCall && !c.settings.DisableTLS && c.dialer.SupportsTLS()
	address := c.address(secure)

	token := ""
	if !authCall {
		token = c.sessions.Token()
	}
	message := BuildRequest(req, c.settings.Host, token)

	startTime := time.Now()
	conn, err := c.dialer.Dial(ctx, address, secure)
	if err != nil {
		c.finish(req.Method, metrics.OutcomeError, startTime, false)
		return nil, apperrors.NewConnectionError(component).
			WithOperation("dial").
			WithMessagef("failed to connect to %s", address).
			WithCause(err).
			WithContext("request_id", requestID).
			WithContext("secure", secure).
			WithLogger(c.logger).
			Build()
	}
	defer conn.Close()

	if c.readTimeout > 0 {
		if d, ok := conn.(interface{ SetReadDeadline(time.Time) error }); ok {
			if err := d.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
				c.logger.Debug("Read deadline not set", "request_id", requestID, "error", err)
			}
		}
	}

	written, err := io.WriteString(conn, message)
	c.stats.BytesSent += int64(written)
	if err != nil || written != len(message) {
		c.finish(req.Method, metrics.OutcomeError, startTime, false)
		return nil, apperrors.NewTransmissionError(component).
			WithOperation("write").
			WithMessagef("wrote %d of %d bytes to %s", written, len(message), address).
			WithCause(err).
			WithContext("request_id", requestID).
			WithLogger(c.logger).
			Build()
	}

	resp, read, err := ReadResponse(conn)
	c.stats.BytesReceived += read
	if err == nil && len(resp.Lines) == 0 {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		c.finish(req.Method, metrics.OutcomeError, startTime, false)
		return nil, apperrors.NewTransmissionError(component).
			WithOperation("read").
			WithMessagef("failed to read response from %s", address).
			WithCause(err).
			WithContext("request_id", requestID).
			WithLogger(c.logger).
			Build()
	}

	outcome := metrics.OutcomeSuccess
	if IsUnauthorized(resp) {
		outcome = metrics.OutcomeUnauthorized
	}
	duration := c.finish(req.Method, outcome, startTime, outcome == metrics.OutcomeSuccess)
	c.logger.LogDispatch(requestID, req.Method, req.Path, attempt, resp.StatusLine(), duration)

	return resp, nil
}

// address returns host:port for the plain or SSL port.
func (c *Client) address(secure bool) string {
	port := c.settings.Port
	if secure {
		port = c.settings.SSLPort
	}
	return net.JoinHostPort(c.settings.Host, strconv.Itoa(port))
}

// finish records one attempt in statistics and metrics and returns its duration.
func (c *Client) finish(method, outcome string, startTime time.Time, success bool) time.Duration {
	responseTime := time.Since(startTime)
	c.metrics.ObserveRequest(method, outcome, responseTime)
	c.updateRequestStatistics(responseTime, success)
	return responseTime
}

// updateRequestStatistics updates dispatch statistics
func (c *Client) updateRequestStatistics(responseTime time.Duration, success bool) {
	stats := &c.stats
	stats.TotalRequests++
	stats.LastRequestTime = time.Now()

	if success {
		stats.SuccessfulRequests++
	} else {
		stats.FailedRequests++
	}

	if stats.TotalRequests == 1 {
		stats.AverageResponseTime = responseTime
	} else {
		total := stats.AverageResponseTime * time.Duration(stats.TotalRequests-1)
		stats.AverageResponseTime = (total + responseTime) / time.Duration(stats.TotalRequests)
	}
}
