package protocol

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/carbon-console/amee/internal/interfaces"
)

// NetDialer opens TCP connections, optionally wrapped in TLS.
type NetDialer struct {
	// Timeout bounds connection establishment.
	Timeout time.Duration

	// TLSConfig is used for secure connections. ServerName defaults to the dialed host.
	TLSConfig *tls.Config

	// DisableTLS makes SupportsTLS report false.
	DisableTLS bool
}

// Dial implements interfaces.Dialer.
func (d *NetDialer) Dial(ctx context.Context, address string, secure bool) (interfaces.Conn, error) {
	netDialer := &net.Dialer{Timeout: d.Timeout}

	if !secure {
		conn, err := netDialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: d.TLSConfig}
	conn, err := tlsDialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SupportsTLS implements interfaces.Dialer.
func (d *NetDialer) SupportsTLS() bool {
	return !d.DisableTLS
}
