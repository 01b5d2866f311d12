package protocol

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/carbon-console/amee/internal/interfaces"
)

// fakeConn replays a canned response and records what was written to it.
type fakeConn struct {
	reader   *strings.Reader
	written  bytes.Buffer
	shortBy  int
	writeErr error
	closed   bool
}

func (c *fakeConn) Read(p []byte) (int, error) { return c.reader.Read(p) }

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	n := len(p) - c.shortBy
	if n < 0 {
		n = 0
	}
	c.written.Write(p[:n])
	return n, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type dialRecord struct {
	address string
	secure  bool
}

// fakeDialer hands out one fakeConn per Dial, answering with responses in order.
// The last response repeats once the script runs out.
type fakeDialer struct {
	mu        sync.Mutex
	responses []string
	dialErr   error
	noTLS     bool
	shortBy   int
	writeErr  error

	// deadlineErr makes every conn expose a failing SetReadDeadline.
	deadlineErr error

	dials []dialRecord
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, address string, secure bool) (interfaces.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials = append(d.dials, dialRecord{address: address, secure: secure})
	if d.dialErr != nil {
		return nil, d.dialErr
	}

	i := len(d.conns)
	if i >= len(d.responses) {
		i = len(d.responses) - 1
	}
	conn := &fakeConn{reader: strings.NewReader(d.responses[i]), shortBy: d.shortBy, writeErr: d.writeErr}
	d.conns = append(d.conns, conn)
	if d.deadlineErr != nil {
		return &deadlineConn{fakeConn: conn, err: d.deadlineErr}, nil
	}
	return conn, nil
}

type deadlineConn struct {
	*fakeConn
	err error
}

func (c *deadlineConn) SetReadDeadline(time.Time) error { return c.err }

func (d *fakeDialer) SupportsTLS() bool { return !d.noTLS }

// requests returns the request messages written so far.
func (d *fakeDialer) requests() []string {
	out := make([]string, 0, len(d.conns))
	for _, c := range d.conns {
		out = append(out, c.written.String())
	}
	return out
}

func authOK(token string) string {
	return "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nauthToken: " + token + "\r\n\r\n{\"status\":\"OK\"}\r\n"
}

func jsonOK(body string) string {
	return "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n" + body + "\r\n"
}

const unauthorized = "HTTP/1.1 401 UNAUTHORIZED\r\nContent-Type: text/plain\r\n\r\nnot authorized\r\n"

var errRefused = errors.New("connection refused")
