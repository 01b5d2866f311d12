// Package mockserver is a loopback stand-in for the AMEE API. It speaks the
// same line protocol as the real service: POST /auth issues an authToken
// header, every other path requires that token as a cookie and answers
// "401 UNAUTHORIZED" without it. Responses are canned JSON.
package mockserver

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/carbon-console/amee/internal/logging"
)

const readTimeout = 5 * time.Second

var profilePath = regexp.MustCompile(`^/profiles/([0-9A-Fa-f]{12})/`)

// Request is a request as the server received it.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    string
}

// Cookie returns the authToken cookie value, or "".
func (r Request) Cookie() string {
	for _, part := range strings.Split(r.Headers["cookie"], ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && name == "authToken" {
			return value
		}
	}
	return ""
}

// Server is a mock AMEE API server.
type Server struct {
	projectKey      string
	projectPassword string
	logger          *logging.Logger

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	tokens   map[string]bool
	requests []Request
	profiles []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProfiles seeds the profile UIDs listed by GET /profiles.
func WithProfiles(uids ...string) Option {
	return func(s *Server) { s.profiles = append([]string(nil), uids...) }
}

// New creates a server accepting the given project credentials.
func New(projectKey, projectPassword string, opts ...Option) *Server {
	s := &Server{
		projectKey:      projectKey,
		projectPassword: projectPassword,
		logger:          logging.GetGlobalLogger().WithComponent("mockserver"),
		tokens:          make(map[string]bool),
		profiles:        []string{"ABCDEF012345", "0123456789AB"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.logger.Info("Mock server listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go s.serve()
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the listening port.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close stops accepting connections and waits for in-flight ones.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

// ExpireTokens invalidates every issued token, as a server-side timeout would.
func (s *Server) ExpireTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]bool)
}

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("Accept failed", "error", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	start := time.Now()
	_ = conn.SetReadDeadline(start.Add(readTimeout))

	req, err := readRequest(bufio.NewReader(conn))
	if err != nil {
		s.logger.Warn("Malformed request", "error", err, "remote", conn.RemoteAddr().String())
		writeResponse(conn, "400 Bad Request", map[string]string{"error": err.Error()}, nil)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	status, body, headers := s.route(req)
	writeResponse(conn, status, body, headers)

	s.logger.Debug("Request served",
		"method", req.Method,
		"path", req.Path,
		"status", status,
		"duration", time.Since(start))
}

// route answers one request: status, JSON body and extra headers.
func (s *Server) route(req Request) (string, any, map[string]string) {
	target, err := url.Parse(req.Path)
	if err != nil {
		return "400 Bad Request", map[string]string{"error": "invalid path"}, nil
	}

	if req.Method == "POST" && target.Path == "/auth" {
		return s.authorize(req)
	}

	s.mu.Lock()
	valid := s.tokens[req.Cookie()]
	s.mu.Unlock()
	if !valid {
		return "401 UNAUTHORIZED", map[string]string{"error": "authentication required"}, nil
	}

	switch {
	case req.Method == "GET" && target.Path == "/profiles":
		s.mu.Lock()
		uids := append([]string(nil), s.profiles...)
		s.mu.Unlock()
		profiles := make([]map[string]string, 0, len(uids))
		for _, uid := range uids {
			profiles = append(profiles, map[string]string{"uid": uid})
		}
		return "200 OK", map[string]any{"profiles": profiles}, nil

	case req.Method == "GET" && strings.HasPrefix(target.Path, "/data"):
		query := map[string]string{}
		for k := range target.Query() {
			query[k] = target.Query().Get(k)
		}
		return "200 OK", map[string]any{"path": target.Path, "query": query}, nil

	case req.Method == "PUT" && profilePath.MatchString(target.Path):
		form, _ := url.ParseQuery(req.Body)
		values := map[string]string{}
		for k := range form {
			values[k] = form.Get(k)
		}
		uid := profilePath.FindStringSubmatch(target.Path)[1]
		return "200 OK", map[string]any{"profile": uid, "path": target.Path, "updated": values}, nil

	case req.Method == "DELETE" && profilePath.MatchString(target.Path):
		return "200 OK", map[string]any{"deleted": target.Path}, nil
	}

	return "404 Not Found", map[string]string{"error": "no such resource"}, nil
}

func (s *Server) authorize(req Request) (string, any, map[string]string) {
	form, err := url.ParseQuery(req.Body)
	if err != nil || form.Get("username") != s.projectKey || form.Get("password") != s.projectPassword {
		s.logger.Info("Rejected credentials", "username", form.Get("username"))
		return "403 Forbidden", map[string]string{"error": "invalid project credentials"}, nil
	}

	token := ulid.Make().String()
	s.mu.Lock()
	s.tokens[token] = true
	s.mu.Unlock()

	s.logger.Info("Issued token", "username", form.Get("username"))
	return "200 OK", map[string]string{"status": "OK"}, map[string]string{"authToken": token}
}

// readRequest parses the request line, headers up to the blank line, and a
// body of Content-Length bytes.
func readRequest(r *bufio.Reader) (Request, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return Request{}, fmt.Errorf("reading request line: %w", err)
	}
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Request{}, fmt.Errorf("malformed request line %q", strings.TrimSpace(line))
	}
	req := Request{Method: fields[0], Path: fields[1], Headers: map[string]string{}}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return Request{}, fmt.Errorf("reading headers: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return Request{}, fmt.Errorf("malformed header %q", line)
		}
		req.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	if cl := req.Headers["content-length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return Request{}, fmt.Errorf("invalid content length %q", cl)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return Request{}, fmt.Errorf("reading body: %w", err)
		}
		req.Body = string(body)
	}
	return req, nil
}

func writeResponse(w io.Writer, status string, body any, headers map[string]string) {
	payload, err := json.Marshal(body)
	if err != nil {
		payload = []byte(`{"error":"encoding failed"}`)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %s\r\n", status)
	b.WriteString("Content-Type: application/json\r\n")
	for name, value := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", name, value)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(payload)+2)
	b.WriteString("Connection: close\r\n\r\n")
	b.Write(payload)
	b.WriteString("\r\n")

	_, _ = io.WriteString(w, b.String())
}
