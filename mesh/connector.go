// Package mesh opens outbound connections to other relays and folds them into
// the same registry used for inbound peers.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"meshchat/registry"
)

// ErrConnectFailed indicates the outbound connection could not be established.
var ErrConnectFailed = errors.New("mesh: connect failed")

// Conn is an established line connection.
type Conn interface {
	Send(line string) error
	Close() error
	RemoteAddr() string
	ReceiveLine(ctx context.Context) (string, error)
}

// DialFunc establishes an outbound connection to address (host:port).
type DialFunc func(ctx context.Context, address string) (Conn, error)

// ConnectedFunc is called once an outbound peer is registered. It is expected
// to start serving lines from conn.
type ConnectedFunc func(peer *registry.Peer, conn Conn)

// Connector dials relays on behalf of /connect.
type Connector struct {
	peers     *registry.Registry
	dial      DialFunc
	onConnect ConnectedFunc
}

// NewConnector returns a connector registering into peers.
func NewConnector(peers *registry.Registry, dial DialFunc, onConnect ConnectedFunc) *Connector {
	return &Connector{
		peers:     peers,
		dial:      dial,
		onConnect: onConnect,
	}
}

// ConnectTo dials host:port and registers the connection under its remote
// endpoint. The registry is untouched when dialing fails.
func (c *Connector) ConnectTo(ctx context.Context, host string, port int) (*registry.Peer, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	if c.dial == nil {
		return nil, fmt.Errorf("%w: %s: no dialer configured", ErrConnectFailed, address)
	}

	conn, err := c.dial(ctx, address)
	if err != nil {
		log.Warn("outbound connection failed", "address", address, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, address, err)
	}

	identity := conn.RemoteAddr()
	if identity == "" {
		identity = address
	}

	peer, err := c.peers.Register(identity, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Info("connected to relay", "peer", identity)
	if c.onConnect != nil {
		c.onConnect(peer, conn)
	}
	return peer, nil
}
