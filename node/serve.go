package node

import (
	"context"
	"errors"
	"io"

	"meshchat/mesh"
	"meshchat/network"
	"meshchat/registry"
	"meshchat/router"
)

const eventRejected = "peer_rejected"

func (n *Node) acceptLoop(ctx context.Context) error {
	incoming := n.server.Incoming()
	errs := n.server.Errors()

	for {
		select {
		case <-ctx.Done():
			return nil
		case conn, ok := <-incoming:
			if !ok {
				return nil
			}
			n.acceptInbound(ctx, conn)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn("listener error", "error", err)
		}
	}
}

func (n *Node) acceptInbound(ctx context.Context, conn *network.LineConn) {
	identity := conn.RemoteAddr()

	peer, err := n.peers.Register(identity, conn)
	if err != nil {
		log.Warn("rejecting inbound connection", "remote", identity, "error", err)
		_ = conn.Send(router.NoticePrefix + "error: " + err.Error())
		_ = conn.Close()
		n.RecordEvent(eventRejected, identity, map[string]any{"error": err.Error()})
		return
	}

	log.Info("peer connected", "peer", identity, "direction", "inbound")
	n.RecordEvent(router.EventConnected, identity, map[string]any{"direction": "inbound"})
	n.notify("peer connected: " + identity)

	n.advertiseKey(peer)
	if err := peer.Send(router.NoticePrefix + "welcome, you are " + identity); err != nil {
		log.Debug("welcome failed", "peer", identity, "error", err)
	}
	n.serve(ctx, peer, conn)
}

func (n *Node) onOutbound(peer *registry.Peer, conn mesh.Conn) {
	log.Info("peer connected", "peer", peer.Identity(), "direction", "outbound")
	n.RecordEvent(router.EventConnected, peer.Identity(), map[string]any{"direction": "outbound"})

	n.advertiseKey(peer)
	n.serve(n.context(), peer, conn)
}

func (n *Node) dial(ctx context.Context, address string) (mesh.Conn, error) {
	conn, err := network.Dial(ctx, address, n.options.Network)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (n *Node) advertiseKey(peer *registry.Peer) {
	if n.identity.Public == "" {
		return
	}
	if err := peer.Send(router.TokenKey + " " + n.identity.Public); err != nil {
		log.Debug("key advertisement failed", "peer", peer.Identity(), "error", err)
	}
}

// serve feeds every line received on conn through the router until the
// connection ends, then unregisters the peer.
func (n *Node) serve(ctx context.Context, peer *registry.Peer, conn mesh.Conn) {
	n.serveWG.Add(1)
	go func() {
		defer n.serveWG.Done()
		defer n.drop(peer)

		for {
			line, err := conn.ReceiveLine(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					log.Debug("connection ended", "peer", peer.Identity(), "error", err)
				}
				return
			}
			if err := n.router.Dispatch(ctx, peer, line); err != nil {
				log.Debug("dispatch failed", "peer", peer.Identity(), "error", err)
			}
		}
	}()
}

func (n *Node) drop(peer *registry.Peer) {
	n.peers.Remove(peer)
	_ = peer.Close()

	log.Info("peer disconnected", "peer", peer.Identity())
	n.RecordEvent(router.EventDisconnected, peer.Identity(), nil)
	n.notify("peer disconnected: " + peer.Identity())
}

func (n *Node) notify(text string) {
	if err := n.local.Send(router.NoticePrefix + text); err != nil {
		log.Debug("console notice failed", "error", err)
	}
}
