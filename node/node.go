// Package node runs one relay: it listens for peers, serves each connection,
// bridges the local console and dials other relays on request.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"meshchat/console"
	"meshchat/crypto"
	"meshchat/discovery"
	"meshchat/mesh"
	"meshchat/network"
	"meshchat/registry"
	"meshchat/router"
	"meshchat/storage"
)

// DefaultListenAddress binds every interface on an ephemeral port.
const DefaultListenAddress = ":0"

// Options configures a Node.
type Options struct {
	ListenAddress string
	Network       network.Options

	// Encrypt enables end-to-end encryption of /send payloads.
	Encrypt bool
	Keys    crypto.KeyProvider
	// Identity is generated when Private is empty.
	Identity crypto.KeyPair

	// Console is read as the local operator's input. Nil disables the bridge.
	Console io.Reader
	// Output receives everything addressed to the local operator.
	Output     io.Writer
	ShowPrompt bool

	// Discovery enables mDNS announcement when non-nil.
	Discovery *discovery.Config
	// Store records audit events when non-nil. The node does not close it.
	Store *storage.Store

	// Connect lists host:port relays dialled once Run starts.
	Connect []string
}

// Node is one relay process.
type Node struct {
	options   Options
	identity  crypto.KeyPair
	peers     *registry.Registry
	router    *router.Router
	connector *mesh.Connector
	server    *network.Server
	local     *console.Endpoint

	mu       sync.Mutex
	runCtx   context.Context
	cancel   context.CancelFunc
	stopped  bool
	serveWG  sync.WaitGroup
	shutdown sync.Once
}

// New creates the node and starts listening. Connections are served once Run is called.
func New(options Options) (*Node, error) {
	if options.ListenAddress == "" {
		options.ListenAddress = DefaultListenAddress
	}
	if options.Keys == nil {
		options.Keys = crypto.NewBoxProvider()
	}

	identity := options.Identity
	if identity.Private == "" {
		pair, err := options.Keys.GenerateKeyPair("")
		if err != nil {
			return nil, fmt.Errorf("generate node identity: %w", err)
		}
		identity = pair
	}

	n := &Node{
		options:  options,
		identity: identity,
		peers:    registry.New(),
		local:    console.NewEndpoint(options.Output),
	}
	n.connector = mesh.NewConnector(n.peers, n.dial, n.onOutbound)

	rt, err := router.New(router.Options{
		Peers:     n.peers,
		Keys:      options.Keys,
		Identity:  identity,
		Encrypt:   options.Encrypt,
		Connector: n.connector,
		Local:     n.local,
		OnExit:    n.Shutdown,
		Events:    n,
	})
	if err != nil {
		return nil, err
	}
	n.router = rt

	server, err := network.Listen(options.ListenAddress, options.Network)
	if err != nil {
		return nil, err
	}
	n.server = server

	return n, nil
}

// Addr returns the listening address.
func (n *Node) Addr() net.Addr {
	return n.server.Addr()
}

// PublicKey returns the node's advertised public key.
func (n *Node) PublicKey() string {
	return n.identity.Public
}

// Registry exposes the live peer set.
func (n *Node) Registry() *registry.Registry {
	return n.peers
}

// Peers returns the identities of connected peers.
func (n *Node) Peers() []string {
	all := n.peers.All()
	out := make([]string, 0, len(all))
	for _, peer := range all {
		out = append(out, peer.Identity())
	}
	return out
}

// Dispatch routes a line as if typed on the local console.
func (n *Node) Dispatch(ctx context.Context, line string) error {
	return n.router.Dispatch(ctx, n.local, line)
}

// Connect dials another relay and serves it like an inbound peer.
func (n *Node) Connect(ctx context.Context, host string, port int) (*registry.Peer, error) {
	return n.connector.ConnectTo(ctx, host, port)
}

// Run serves until ctx is cancelled or Shutdown is called. Every connection
// is closed at once on return.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n.mu.Lock()
	if n.runCtx != nil {
		n.mu.Unlock()
		return errors.New("node: already running")
	}
	n.runCtx = ctx
	n.cancel = cancel
	stopped := n.stopped
	n.mu.Unlock()
	if stopped {
		cancel()
	}

	log.Info("relay started", "addr", n.Addr().String(), "encrypt", n.options.Encrypt)

	if broadcaster := n.startDiscovery(); broadcaster != nil {
		defer broadcaster.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.acceptLoop(gctx)
	})
	if n.options.Console != nil {
		bridge := console.NewBridge(n.options.Console, n.local, n.router)
		bridge.ShowPrompt = n.options.ShowPrompt
		g.Go(func() error {
			return bridge.Run(gctx)
		})
	}
	for _, address := range n.options.Connect {
		address := address
		g.Go(func() error {
			n.connectInitial(gctx, address)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		n.closeAll()
		return nil
	})

	err := g.Wait()
	n.serveWG.Wait()
	log.Info("relay stopped")
	return err
}

// Shutdown stops a running node. It is what /exit invokes.
func (n *Node) Shutdown() {
	n.shutdown.Do(func() {
		n.mu.Lock()
		n.stopped = true
		cancel := n.cancel
		n.mu.Unlock()

		if cancel != nil {
			cancel()
			return
		}
		n.closeAll()
	})
}

// RecordEvent stores a routing event in the audit log, if one is configured.
func (n *Node) RecordEvent(kind, identity string, details map[string]any) {
	if n.options.Store == nil {
		return
	}
	if err := n.options.Store.LogEventDetails(kind, identity, severityFor(kind), details); err != nil {
		log.Warn("record event failed", "kind", kind, "error", err)
	}
}

func severityFor(kind string) string {
	switch kind {
	case router.EventDecryptionFailed:
		return storage.SeverityCritical
	case router.EventConnectFailed, router.EventDeliveryFailed, router.EventMalformed, eventRejected:
		return storage.SeverityWarning
	default:
		return storage.SeverityInfo
	}
}

func (n *Node) startDiscovery() *discovery.Broadcaster {
	if n.options.Discovery == nil {
		return nil
	}

	cfg := *n.options.Discovery
	if tcp, ok := n.Addr().(*net.TCPAddr); ok {
		cfg.ListeningPort = tcp.Port
	}
	cfg.KeyFingerprint = crypto.KeyFingerprint(n.identity.Public)

	broadcaster, err := discovery.StartBroadcaster(cfg)
	if err != nil {
		log.Warn("mDNS announcement disabled", "error", err)
		return nil
	}
	return broadcaster
}

func (n *Node) connectInitial(ctx context.Context, address string) {
	host, rawPort, err := net.SplitHostPort(address)
	if err != nil {
		log.Warn("invalid relay address", "address", address, "error", err)
		return
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		log.Warn("invalid relay port", "address", address, "error", err)
		return
	}

	line := fmt.Sprintf("%s %s %d", router.TokenConnect, host, port)
	if err := n.router.Dispatch(ctx, n.local, line); err != nil {
		log.Warn("initial connect failed", "address", address, "error", err)
	}
}

func (n *Node) closeAll() {
	if err := n.server.Close(); err != nil {
		log.Debug("close listener", "error", err)
	}
	for _, peer := range n.peers.All() {
		n.peers.Remove(peer)
		_ = peer.Close()
	}
}

func (n *Node) context() context.Context {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.runCtx == nil {
		return context.Background()
	}
	return n.runCtx
}
