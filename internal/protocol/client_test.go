package protocol

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbon-console/amee/internal/auth"
	apperrors "github.com/carbon-console/amee/internal/errors"
	"github.com/carbon-console/amee/internal/interfaces"
	"github.com/carbon-console/amee/internal/metrics"
)

// Interface compliance (compile-time assertions)
var (
	_ interfaces.Dispatcher = (*Client)(nil)
	_ interfaces.Dialer     = (*NetDialer)(nil)
)

func testSettings() interfaces.Settings {
	return interfaces.Settings{ProjectKey: "k", ProjectPassword: "p", Host: "api.example"}
}

func newTestClient(t *testing.T, d *fakeDialer, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(testSettings(), append([]Option{WithDialer(d)}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestClient_GetAuthenticatesThenReturnsPayload(t *testing.T) {
	d := &fakeDialer{responses: []string{authOK("XYZ"), jsonOK(`{"data":1}`)}}
	c := newTestClient(t, d)

	out, err := c.Get(context.Background(), "/data", url.Values{"uid": {"123"}})
	require.NoError(t, err)
	assert.Equal(t, `{"data":1}`, out)

	require.Len(t, d.dials, 2)
	assert.Equal(t, dialRecord{address: "api.example:443", secure: true}, d.dials[0])
	assert.Equal(t, dialRecord{address: "api.example:80", secure: false}, d.dials[1])

	reqs := d.requests()
	assert.True(t, strings.HasPrefix(reqs[0], "POST /auth HTTP/1.1\n"))
	assert.True(t, strings.HasSuffix(reqs[0], "\n\npassword=p&username=k"))
	assert.NotContains(t, reqs[0], "Cookie:")

	assert.True(t, strings.HasPrefix(reqs[1], "GET /data?uid=123 HTTP/1.1\n"))
	assert.Contains(t, reqs[1], "\nCookie: authToken=XYZ\n")
	assert.True(t, c.IsConnected())
}

func TestClient_ReusesActiveSession(t *testing.T) {
	d := &fakeDialer{responses: []string{authOK("XYZ"), jsonOK(`{"a":1}`), jsonOK(`{"b":2}`)}}
	c := newTestClient(t, d)

	_, err := c.Get(context.Background(), "/profiles", nil)
	require.NoError(t, err)
	out, err := c.Get(context.Background(), "/profiles", nil)
	require.NoError(t, err)

	assert.Equal(t, `{"b":2}`, out)
	assert.Len(t, d.dials, 3, "one handshake for two calls")
	assert.True(t, strings.HasPrefix(d.requests()[2], "GET /profiles HTTP/1.1\n"), "empty params add no query string")
}

func TestClient_UnauthorizedRetriesOnceWithFreshToken(t *testing.T) {
	d := &fakeDialer{responses: []string{
		authOK("T1"),
		unauthorized,
		authOK("T2"),
		jsonOK(`{"ok":true}`),
	}}
	c := newTestClient(t, d)

	path := "/profiles/ABCDEF012345/categories"
	out, err := c.Put(context.Background(), path, url.Values{"name": {"x"}})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)

	reqs := d.requests()
	require.Len(t, reqs, 4)
	assert.Contains(t, reqs[1], "Cookie: authToken=T1")
	assert.Contains(t, reqs[3], "Cookie: authToken=T2")

	first := strings.Replace(reqs[1], "T1", "T2", 1)
	assert.Equal(t, first, reqs[3], "replay must be the identical request")
	assert.Equal(t, 1, c.Statistics().Retries)
}

func TestClient_SecondUnauthorizedIsAuthorizationError(t *testing.T) {
	d := &fakeDialer{responses: []string{authOK("T1"), unauthorized, authOK("T2"), unauthorized}}
	c := newTestClient(t, d)

	_, err := c.Get(context.Background(), "/data", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAuthorization), "got %v", err)
	assert.Len(t, d.dials, 4, "exactly one reconnect and one replay")
}

func TestClient_UnauthorizedWithoutRetry(t *testing.T) {
	d := &fakeDialer{responses: []string{authOK("T1"), unauthorized}}
	c := newTestClient(t, d)

	_, err := c.Dispatch(context.Background(),
		interfaces.Request{Method: "GET", Path: "/data"},
		interfaces.DispatchOptions{AllowRetry: false})
	assert.True(t, errors.Is(err, apperrors.ErrAuthorization))
	assert.Len(t, d.dials, 2)
}

func TestClient_HandshakeWithoutTokenIsAuthenticationError(t *testing.T) {
	d := &fakeDialer{responses: []string{jsonOK(`{"status":"OK"}`)}}
	c := newTestClient(t, d)

	_, err := c.Get(context.Background(), "/data", nil)
	assert.True(t, errors.Is(err, apperrors.ErrAuthentication), "got %v", err)
	assert.False(t, c.IsConnected())
	assert.Len(t, d.dials, 1, "the request itself is never sent")
}

func TestClient_HandshakeRejectedIsAuthorizationError(t *testing.T) {
	d := &fakeDialer{responses: []string{unauthorized}}
	c := newTestClient(t, d)

	err := c.Connect(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrAuthorization), "got %v", err)
	assert.Len(t, d.dials, 1, "the handshake is never retried")
}

func TestClient_ConnectionFailure(t *testing.T) {
	d := &fakeDialer{dialErr: errRefused}
	c := newTestClient(t, d)

	_, err := c.Get(context.Background(), "/data", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConnection), "got %v", err)
	assert.ErrorIs(t, err, errRefused)
	assert.Len(t, d.dials, 1)
	assert.Empty(t, d.conns, "nothing is written")

	stats := c.Statistics()
	assert.Equal(t, 1, stats.FailedRequests)
	assert.Equal(t, 0, stats.SuccessfulRequests)
}

func TestClient_ShortWriteIsTransmissionError(t *testing.T) {
	d := &fakeDialer{responses: []string{authOK("XYZ")}, shortBy: 1}
	c := newTestClient(t, d)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTransmission), "got %v", err)

	var ce *apperrors.ContextualError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "write", ce.Operation)
	require.Len(t, d.conns, 1)
	assert.True(t, d.conns[0].closed)
}

func TestClient_WriteErrorIsTransmissionError(t *testing.T) {
	d := &fakeDialer{responses: []string{authOK("XYZ")}, writeErr: errors.New("broken pipe")}
	c := newTestClient(t, d)

	err := c.Connect(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrTransmission))
	assert.True(t, d.conns[0].closed)
}

func TestClient_EmptyResponseIsTransmissionError(t *testing.T) {
	d := &fakeDialer{responses: []string{""}}
	c := newTestClient(t, d)

	err := c.Connect(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrTransmission), "got %v", err)
	assert.True(t, d.conns[0].closed)
}

func TestClient_ClosesEveryConnection(t *testing.T) {
	d := &fakeDialer{responses: []string{authOK("T1"), unauthorized, authOK("T2"), jsonOK(`{}`)}}
	c := newTestClient(t, d)

	_, err := c.Get(context.Background(), "/data", nil)
	require.NoError(t, err)
	for i, conn := range d.conns {
		assert.True(t, conn.closed, "connection %d left open", i)
	}
}

func TestClient_PlainHandshakeWhenTLSUnavailable(t *testing.T) {
	t.Run("dialer without TLS", func(t *testing.T) {
		d := &fakeDialer{responses: []string{authOK("XYZ")}, noTLS: true}
		c := newTestClient(t, d)

		require.NoError(t, c.Connect(context.Background()))
		assert.Equal(t, dialRecord{address: "api.example:80", secure: false}, d.dials[0])
	})

	t.Run("TLS disabled in settings", func(t *testing.T) {
		d := &fakeDialer{responses: []string{authOK("XYZ")}}
		settings := testSettings()
		settings.DisableTLS = true
		settings.Port = 8080
		c, err := NewClient(settings, WithDialer(d))
		require.NoError(t, err)

		require.NoError(t, c.Connect(context.Background()))
		assert.Equal(t, dialRecord{address: "api.example:8080", secure: false}, d.dials[0])
	})
}

func TestClient_PathValidationHappensBeforeDispatch(t *testing.T) {
	d := &fakeDialer{responses: []string{authOK("XYZ")}}
	c := newTestClient(t, d)

	_, err := c.Put(context.Background(), "/other", nil)
	assert.True(t, errors.Is(err, apperrors.ErrPathValidation))

	_, err = c.Delete(context.Background(), "/profiles")
	assert.True(t, errors.Is(err, apperrors.ErrPathValidation))

	assert.Empty(t, d.dials)
}

func TestClient_DispatchRejectsUnknownMethod(t *testing.T) {
	d := &fakeDialer{responses: []string{authOK("XYZ")}}
	c := newTestClient(t, d)

	_, err := c.Dispatch(context.Background(), interfaces.Request{Method: "PATCH", Path: "/data"}, interfaces.DispatchOptions{})
	assert.True(t, errors.Is(err, apperrors.ErrProtocol))
	assert.Empty(t, d.dials)
}

func TestClient_InvalidPortIsConfigurationError(t *testing.T) {
	settings := testSettings()
	settings.Port = 70000

	_, err := NewClient(settings)
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
}

func TestClient_ExpiredSessionTriggersNewHandshake(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	d := &fakeDialer{responses: []string{authOK("T1"), jsonOK(`{}`), authOK("T2"), jsonOK(`{}`)}}
	c := newTestClient(t, d, WithClock(clock))

	_, err := c.Get(context.Background(), "/data", nil)
	require.NoError(t, err)

	now = now.Add(auth.SessionTimeout)
	assert.False(t, c.IsConnected())

	_, err = c.Get(context.Background(), "/data", nil)
	require.NoError(t, err)
	require.Len(t, d.dials, 4)
	assert.Contains(t, d.requests()[3], "Cookie: authToken=T2")
}

func TestClient_Disconnect(t *testing.T) {
	d := &fakeDialer{responses: []string{authOK("XYZ")}}
	c := newTestClient(t, d)

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	c.Disconnect()
	assert.False(t, c.IsConnected())
}

func TestClient_DoRoutesDescriptor(t *testing.T) {
	d := &fakeDialer{responses: []string{authOK("XYZ"), jsonOK(`{"deleted":true}`)}}
	c := newTestClient(t, d)

	out, err := c.Do(context.Background(), "delete /profiles/ABCDEF012345/", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"deleted":true}`, out)
	assert.True(t, strings.HasPrefix(d.requests()[1], "DELETE /profiles/ABCDEF012345/ HTTP/1.1\n"))

	_, err = c.Do(context.Background(), "FETCH /data", nil)
	assert.True(t, errors.Is(err, apperrors.ErrProtocol))
}

func TestClient_DoRawKeepsHeaders(t *testing.T) {
	d := &fakeDialer{responses: []string{authOK("XYZ"), jsonOK(`{"a":1}`)}}
	c := newTestClient(t, d)

	resp, err := c.DoRaw(context.Background(), "GET /profiles", nil)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK", resp.StatusLine())
	assert.Equal(t, `{"a":1}`, resp.Payload())
	assert.Contains(t, resp.Raw(), "Content-Type: application/json")
}

func TestClient_PostEncodesBody(t *testing.T) {
	d := &fakeDialer{responses: []string{authOK("XYZ"), jsonOK(`{}`)}}
	c := newTestClient(t, d, WithPathValidator(MustPathValidator(map[string][]string{
		"POST": {`/auth`, `/profiles`},
	})))

	_, err := c.Post(context.Background(), "/profiles", url.Values{"profile": {"true"}})
	require.NoError(t, err)

	req := d.requests()[1]
	assert.Contains(t, req, "Content-Type: application/x-www-form-urlencoded\n")
	assert.Contains(t, req, "Content-Length: 12\n")
	assert.True(t, strings.HasSuffix(req, "\n\nprofile=true"))
}

func TestClient_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	d := &fakeDialer{responses: []string{authOK("T1"), unauthorized, authOK("T2"), jsonOK(`{}`)}}
	c := newTestClient(t, d, WithMetrics(m))

	_, err = c.Get(context.Background(), "/data", nil)
	require.NoError(t, err)

	expected := `
# HELP amee_auth_handshakes_total Authorization handshakes by result.
# TYPE amee_auth_handshakes_total counter
amee_auth_handshakes_total{result="success"} 2
# HELP amee_auth_retries_total Requests replayed after a 401 response.
# TYPE amee_auth_retries_total counter
amee_auth_retries_total 1
# HELP amee_requests_total Dispatch attempts by method and outcome.
# TYPE amee_requests_total counter
amee_requests_total{method="GET",outcome="success"} 1
amee_requests_total{method="GET",outcome="unauthorized"} 1
amee_requests_total{method="POST",outcome="success"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"amee_auth_handshakes_total", "amee_auth_retries_total", "amee_requests_total"))

	stats := c.Statistics()
	assert.Equal(t, 4, stats.TotalRequests)
	assert.Equal(t, 3, stats.SuccessfulRequests)
	assert.Positive(t, stats.BytesSent)
	assert.Positive(t, stats.BytesReceived)
}
