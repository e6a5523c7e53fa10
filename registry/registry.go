// Package registry tracks the live peers of a node. It is the only state shared
// between connection goroutines, so every mutation and snapshot goes through one lock.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrDuplicateIdentity indicates a live peer is already registered under the identity.
	ErrDuplicateIdentity = errors.New("registry: duplicate identity")
	// ErrUnknownPeer indicates the identity is not registered.
	ErrUnknownPeer = errors.New("registry: unknown peer")
)

// Conn is the connection handle owned by a registry entry.
type Conn interface {
	Send(line string) error
	Close() error
}

// Peer is one connected party.
type Peer struct {
	identity    string
	conn        Conn
	connectedAt time.Time
	publicKey   atomic.Pointer[string]
}

// Identity returns the key the peer is addressed by.
func (p *Peer) Identity() string {
	return p.identity
}

// PublicKey returns the advertised public key, or "" if none was advertised.
func (p *Peer) PublicKey() string {
	if key := p.publicKey.Load(); key != nil {
		return *key
	}
	return ""
}

// ConnectedAt reports when the peer was registered.
func (p *Peer) ConnectedAt() time.Time {
	return p.connectedAt
}

// Send writes one line to the peer's connection.
func (p *Peer) Send(line string) error {
	return p.conn.Send(line)
}

// Close closes the peer's connection.
func (p *Peer) Close() error {
	return p.conn.Close()
}

// Registry maps identities to live peers.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
	byKey map[string]string
	now   func() time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		peers: make(map[string]*Peer),
		byKey: make(map[string]string),
		now:   time.Now,
	}
}

// Register inserts a peer for identity. An existing live entry is never replaced.
func (r *Registry) Register(identity string, conn Conn) (*Peer, error) {
	if identity == "" {
		return nil, errors.New("registry: identity is required")
	}
	if conn == nil {
		return nil, errors.New("registry: connection is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[identity]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateIdentity, identity)
	}

	peer := &Peer{
		identity:    identity,
		conn:        conn,
		connectedAt: r.now(),
	}
	r.peers[identity] = peer
	return peer, nil
}

// Unregister removes identity. Absent identities are ignored because transport
// disconnects can race with explicit removal.
func (r *Registry) Unregister(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[identity]
	if !ok {
		return
	}
	delete(r.peers, identity)
	r.forgetKey(peer.PublicKey(), identity)
}

// Remove unregisters peer only while it is still the entry for its identity.
func (r *Registry) Remove(peer *Peer) {
	if peer == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.peers[peer.identity]; !ok || current != peer {
		return
	}
	delete(r.peers, peer.identity)
	r.forgetKey(peer.PublicKey(), peer.identity)
}

// Lookup returns the peer registered under identity.
func (r *Registry) Lookup(identity string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, ok := r.peers[identity]
	return peer, ok
}

// LookupByPublicKey returns the peer that most recently advertised key, or
// another live peer holding the same key once that one is gone. Keys are not
// authenticated: any peer may advertise any key, so only encrypted payloads
// are safe from a peer claiming someone else's key.
func (r *Registry) LookupByPublicKey(key string) (*Peer, bool) {
	if key == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.byKey[key]
	if !ok {
		return nil, false
	}
	peer, ok := r.peers[identity]
	return peer, ok
}

// SetPublicKey attaches or replaces the advertised key of a registered peer.
// The key is taken on the peer's word; nothing proves the peer holds the
// matching private key.
func (r *Registry) SetPublicKey(identity, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[identity]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPeer, identity)
	}

	previous := peer.PublicKey()
	if key == "" {
		peer.publicKey.Store(nil)
	} else {
		peer.publicKey.Store(&key)
		r.byKey[key] = identity
	}
	if previous != key {
		r.forgetKey(previous, identity)
	}
	return nil
}

// forgetKey drops identity as the holder of key. If another live peer still
// advertises key, lookups by key resolve to it instead. Callers hold r.mu.
func (r *Registry) forgetKey(key, identity string) {
	if key == "" || r.byKey[key] != identity {
		return
	}
	delete(r.byKey, key)
	for other, peer := range r.peers {
		if other != identity && peer.PublicKey() == key {
			r.byKey[key] = other
			return
		}
	}
}

// All returns a snapshot of registered peers ordered by identity. The slice is
// not updated by later registry changes.
func (r *Registry) All() []*Peer {
	r.mu.RLock()
	out := make([]*Peer, 0, len(r.peers))
	for _, peer := range r.peers {
		out = append(out, peer)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].identity < out[j].identity
	})
	return out
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
