package network

import (
	"context"
	"fmt"
	"net"
)

// Dial connects to a relay and returns an active LineConn.
func Dial(ctx context.Context, address string, options Options) (*LineConn, error) {
	opts := options.withDefaults()

	dialer := net.Dialer{Timeout: opts.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %q: %v", ErrConnectFailed, address, err)
	}

	lineConn := newLineConn(conn, opts)
	log.Debug("dialed connection", "remote", lineConn.RemoteAddr())
	return lineConn, nil
}
