package mockserver

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s := New("key", "secret", opts...)
	require.NoError(t, s.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// roundTrip writes raw to the server and returns everything it answered.
func roundTrip(t *testing.T, s *Server, raw string) string {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, raw)
	require.NoError(t, err)
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(out)
}

func tokenFrom(t *testing.T, resp string) string {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(resp))
	for scanner.Scan() {
		if value, ok := strings.CutPrefix(scanner.Text(), "authToken: "); ok {
			return strings.TrimSpace(value)
		}
	}
	t.Fatalf("no authToken header in %q", resp)
	return ""
}

func authRequest(body string) string {
	return "POST /auth HTTP/1.1\nAccept: application/json\nHost: localhost\n" +
		"Content-Type: application/x-www-form-urlencoded\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\n\n" + body
}

func TestServer_AuthIssuesToken(t *testing.T) {
	s := startServer(t)

	resp := roundTrip(t, s, authRequest("password=secret&username=key"))
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))
	assert.NotEmpty(t, tokenFrom(t, resp))
	assert.Contains(t, resp, `{"status":"OK"}`)
}

func TestServer_AuthRejectsBadCredentials(t *testing.T) {
	s := startServer(t)

	resp := roundTrip(t, s, authRequest("password=wrong&username=key"))
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 403 Forbidden\r\n"))
	assert.NotContains(t, resp, "authToken")
}

func TestServer_RequiresToken(t *testing.T) {
	s := startServer(t)

	resp := roundTrip(t, s, "GET /profiles HTTP/1.1\nHost: localhost\n\n")
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 401 UNAUTHORIZED\r\n"))
}

func TestServer_ServesWithToken(t *testing.T) {
	s := startServer(t, WithProfiles("AAAAAAAAAAAA"))
	token := tokenFrom(t, roundTrip(t, s, authRequest("password=secret&username=key")))

	resp := roundTrip(t, s, "GET /profiles HTTP/1.1\nCookie: authToken="+token+"\nHost: localhost\n\n")
	assert.Contains(t, resp, `{"profiles":[{"uid":"AAAAAAAAAAAA"}]}`)

	resp = roundTrip(t, s, "GET /nothing HTTP/1.1\nCookie: authToken="+token+"\n\n")
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 404 Not Found\r\n"))

	s.ExpireTokens()
	resp = roundTrip(t, s, "GET /profiles HTTP/1.1\nCookie: authToken="+token+"\n\n")
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 401 UNAUTHORIZED\r\n"))
}

func TestServer_RecordsRequests(t *testing.T) {
	s := startServer(t)
	roundTrip(t, s, authRequest("password=secret&username=key"))

	reqs := s.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "POST", reqs[0].Method)
	assert.Equal(t, "/auth", reqs[0].Path)
	assert.Equal(t, "password=secret&username=key", reqs[0].Body)
	assert.Equal(t, "localhost", reqs[0].Headers["host"])
}

func TestServer_MalformedRequest(t *testing.T) {
	s := startServer(t)

	resp := roundTrip(t, s, "NONSENSE\n")
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 400 Bad Request\r\n"))
}

func TestRequest_Cookie(t *testing.T) {
	req := Request{Headers: map[string]string{"cookie": "theme=dark; authToken=abc"}}
	assert.Equal(t, "abc", req.Cookie())
	assert.Equal(t, "", Request{Headers: map[string]string{}}.Cookie())
}
