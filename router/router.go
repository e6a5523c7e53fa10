// Package router classifies received lines and delivers them against the live
// peer set.
package router

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"meshchat/crypto"
	"meshchat/registry"
)

const (
	// SelfIdentity is the identity of the local console. It is never registered.
	SelfIdentity = "self"
	// NoticePrefix starts every line the router writes on its own behalf.
	// Received lines starting with it are displayed, never routed.
	NoticePrefix = "*** "

	noticeMarker = "***"
)

// Event kinds passed to an EventRecorder.
const (
	EventConnected        = "peer_connected"
	EventConnectFailed    = "connect_failed"
	EventDisconnected     = "peer_disconnected"
	EventDeliveryFailed   = "delivery_failed"
	EventDecryptionFailed = "decryption_failed"
	EventKeyAdvertised    = "key_advertised"
	EventMalformed        = "malformed_command"
	EventExit             = "exit_requested"
)

var helpLines = []string{
	"commands:",
	"  <message>                broadcast to every other peer",
	"  /broadcast <message>     same as a plain message",
	"  /send <peer> <message>   send to one peer, by identity or public key;",
	"                           it arrives as /private <message> (or /encrypted)",
	"  /connect <host> <port>   connect to another relay",
	"  /disconnect              close your connection",
	"  /exit                    stop this node",
	"  /peers                   list connected peers",
	"  /publickey               show this node's public key",
	"  /key <public-key>        advertise your public key",
	"  /help                    show this list",
}

// Endpoint is anything a line can come from and replies can go to.
// *registry.Peer and the console endpoint both satisfy it.
type Endpoint interface {
	Identity() string
	Send(line string) error
	Close() error
}

// Connector opens outbound connections for /connect.
type Connector interface {
	ConnectTo(ctx context.Context, host string, port int) (*registry.Peer, error)
}

// EventRecorder receives notable routing events.
type EventRecorder interface {
	RecordEvent(kind, identity string, details map[string]any)
}

// Options configures a Router.
type Options struct {
	Peers    *registry.Registry
	Keys     crypto.KeyProvider
	Identity crypto.KeyPair
	// Encrypt enables end-to-end encryption of /send payloads.
	Encrypt   bool
	Connector Connector
	// Local receives messages addressed to this node. It may be nil.
	Local  Endpoint
	OnExit func()
	Events EventRecorder
}

// Router dispatches lines. It holds no state of its own beyond the registry,
// so Dispatch is safe to call from every connection goroutine at once.
type Router struct {
	peers     *registry.Registry
	keys      crypto.KeyProvider
	identity  crypto.KeyPair
	encrypt   bool
	connector Connector
	local     Endpoint
	onExit    func()
	events    EventRecorder
}

// New validates options and returns a Router.
func New(options Options) (*Router, error) {
	if options.Peers == nil {
		return nil, errors.New("router: peer registry is required")
	}
	if options.Keys == nil {
		options.Keys = crypto.NewBoxProvider()
	}
	if options.Encrypt && options.Identity.Private == "" {
		return nil, errors.New("router: encryption requires a local key pair")
	}

	return &Router{
		peers:     options.Peers,
		keys:      options.Keys,
		identity:  options.Identity,
		encrypt:   options.Encrypt,
		connector: options.Connector,
		local:     options.Local,
		onExit:    options.OnExit,
		events:    options.Events,
	}, nil
}

// Dispatch handles one line received from an endpoint. Any error is reported
// to from only and returned for logging; it never reaches other peers.
func (r *Router) Dispatch(ctx context.Context, from Endpoint, line string) error {
	cmd, err := Parse(line)
	if err != nil {
		r.record(EventMalformed, from, map[string]any{"command": cmd.Token, "error": err.Error()})
		r.fail(from, err)
		return err
	}

	switch cmd.Kind {
	case KindIgnore:
		return nil
	case KindNotice:
		r.showLocal(from, cmd.Body)
		if !r.isRelay(from) {
			r.reply(from, "not routed: lines starting with "+noticeMarker+" are shown here only")
		}
		return nil
	case KindBroadcast:
		r.broadcast(from, cmd.Body)
		return nil
	case KindSend:
		return r.send(from, cmd)
	case KindConnect:
		return r.connect(ctx, from, cmd)
	case KindDisconnect:
		return r.disconnect(from)
	case KindExit:
		r.exit(from)
		return nil
	case KindHelp:
		r.reply(from, helpLines...)
		return nil
	case KindPublicKey:
		r.publicKey(from)
		return nil
	case KindKey:
		return r.setKey(from, cmd.Body)
	case KindPeers:
		r.listPeers(from)
		return nil
	case KindEncrypted:
		return r.receiveEncrypted(from, cmd.Body)
	case KindPrivate:
		r.showLocal(from, "(private) "+cmd.Body)
		return nil
	default:
		err := fmt.Errorf("%w: %s (type /help)", ErrUnknownCommand, cmd.Token)
		r.fail(from, err)
		return err
	}
}

func (r *Router) broadcast(from Endpoint, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}

	delivered := 0
	for _, peer := range r.peers.All() {
		if peer.Identity() == from.Identity() {
			continue
		}
		if err := peer.Send(body); err != nil {
			r.drop(peer, err)
			continue
		}
		delivered++
	}

	if !isLocal(from) {
		r.showLocal(from, body)
	}
	log.Debug("broadcast", "from", from.Identity(), "delivered", delivered)
}

func (r *Router) send(from Endpoint, cmd Command) error {
	peer, ok := r.resolve(cmd.Destination)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownDestination, cmd.Destination)
		r.fail(from, err)
		return err
	}

	line := TokenPrivate + " " + cmd.Body
	if r.encrypt {
		key := peer.PublicKey()
		if key == "" {
			err := fmt.Errorf("%w: %q", ErrNoKeyForPeer, peer.Identity())
			r.fail(from, err)
			return err
		}
		ciphertext, err := r.keys.Encrypt(key, []byte(cmd.Body))
		if err != nil {
			err = fmt.Errorf("encrypt for %q: %w", peer.Identity(), err)
			r.fail(from, err)
			return err
		}
		line = TokenEncrypted + " " + base64.StdEncoding.EncodeToString(ciphertext)
	}

	if err := peer.Send(line); err != nil {
		r.drop(peer, err)
		err = fmt.Errorf("deliver to %q: %w", peer.Identity(), err)
		r.fail(from, err)
		return err
	}
	return nil
}

// resolve looks a destination up by identity, then by advertised public key.
func (r *Router) resolve(destination string) (*registry.Peer, bool) {
	if peer, ok := r.peers.Lookup(destination); ok {
		return peer, true
	}
	return r.peers.LookupByPublicKey(destination)
}

func (r *Router) connect(ctx context.Context, from Endpoint, cmd Command) error {
	if r.connector == nil {
		r.fail(from, ErrNoConnector)
		return ErrNoConnector
	}

	r.reply(from, fmt.Sprintf("connecting to %s:%d...", cmd.Host, cmd.Port))
	peer, err := r.connector.ConnectTo(ctx, cmd.Host, cmd.Port)
	if err != nil {
		r.record(EventConnectFailed, from, map[string]any{
			"host":  cmd.Host,
			"port":  cmd.Port,
			"error": err.Error(),
		})
		r.fail(from, err)
		return err
	}

	r.reply(from, "connected to "+peer.Identity())
	return nil
}

func (r *Router) disconnect(from Endpoint) error {
	if isLocal(from) {
		err := fmt.Errorf("%w: use %s to stop this node", ErrNotConnected, TokenExit)
		r.fail(from, err)
		return err
	}

	if peer, ok := r.peers.Lookup(from.Identity()); ok {
		r.peers.Remove(peer)
	}
	if err := from.Close(); err != nil {
		log.Debug("close on disconnect", "peer", from.Identity(), "error", err)
	}
	r.record(EventDisconnected, from, map[string]any{"reason": "requested"})
	return nil
}

func (r *Router) exit(from Endpoint) {
	log.Info("exit requested", "from", from.Identity())
	r.record(EventExit, from, nil)
	r.reply(from, "shutting down")
	if r.onExit != nil {
		r.onExit()
	}
}

func (r *Router) publicKey(from Endpoint) {
	if r.identity.Public == "" {
		r.reply(from, "this node has no public key")
		return
	}
	r.reply(from, "public key: "+r.identity.Public)
}

func (r *Router) setKey(from Endpoint, key string) error {
	if err := r.peers.SetPublicKey(from.Identity(), key); err != nil {
		r.fail(from, err)
		return err
	}

	r.record(EventKeyAdvertised, from, map[string]any{"fingerprint": crypto.KeyFingerprint(key)})
	r.reply(from, "public key registered for "+from.Identity())
	return nil
}

func (r *Router) listPeers(from Endpoint) {
	peers := r.peers.All()
	lines := make([]string, 0, len(peers)+1)
	lines = append(lines, fmt.Sprintf("peers (%d):", len(peers)))
	for _, peer := range peers {
		fingerprint := "none"
		if key := peer.PublicKey(); key != "" {
			fingerprint = crypto.FormatFingerprint(crypto.KeyFingerprint(key))
		}
		lines = append(lines, fmt.Sprintf("  %s key=%s", peer.Identity(), fingerprint))
	}
	r.reply(from, lines...)
}

func (r *Router) receiveEncrypted(from Endpoint, payload string) error {
	plaintext, err := r.decrypt(payload)
	if err != nil {
		err = fmt.Errorf("%w: message from %q dropped: %w", ErrDecryptionFailed, from.Identity(), err)
		r.record(EventDecryptionFailed, from, map[string]any{"error": err.Error()})
		if r.local != nil {
			r.fail(r.local, err)
		}
		log.Warn("decryption failed", "from", from.Identity(), "error", err)
		return err
	}

	r.showLocal(from, "(encrypted) "+string(plaintext))
	return nil
}

func (r *Router) decrypt(payload string) ([]byte, error) {
	if r.identity.Private == "" {
		return nil, errors.New("no local private key")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return r.keys.Decrypt(r.identity.Private, ciphertext)
}

// drop treats a failed send as an implicit disconnect of that peer.
func (r *Router) drop(peer *registry.Peer, err error) {
	log.Warn("send failed, dropping peer", "peer", peer.Identity(), "error", err)
	r.peers.Remove(peer)
	_ = peer.Close()
	r.record(EventDeliveryFailed, peer, map[string]any{"error": err.Error()})
}

func (r *Router) showLocal(from Endpoint, text string) {
	if r.local == nil {
		return
	}
	if err := r.local.Send("[" + from.Identity() + "] " + text); err != nil {
		log.Debug("local display failed", "error", err)
	}
}

func (r *Router) reply(to Endpoint, lines ...string) {
	for _, line := range lines {
		if err := to.Send(NoticePrefix + line); err != nil {
			log.Debug("reply failed", "to", to.Identity(), "error", err)
			return
		}
	}
}

func (r *Router) fail(to Endpoint, err error) {
	r.reply(to, "error: "+err.Error())
}

func (r *Router) record(kind string, from Endpoint, details map[string]any) {
	if r.events == nil {
		return
	}
	r.events.RecordEvent(kind, from.Identity(), details)
}

// isRelay reports whether from is another relay. Relays advertise their key
// before any notice, so a keyless sender is a plain client or the console.
func (r *Router) isRelay(from Endpoint) bool {
	if isLocal(from) {
		return false
	}
	peer, ok := r.peers.Lookup(from.Identity())
	return ok && peer.PublicKey() != ""
}

func isLocal(endpoint Endpoint) bool {
	return endpoint.Identity() == SelfIdentity
}
