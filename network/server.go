package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// Server accepts inbound TCP sessions and wraps them as LineConn.
type Server struct {
	listener net.Listener
	options  Options

	incoming chan *LineConn
	errs     chan error

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen starts a TCP listener and accept loop.
func Listen(address string, options Options) (*Server, error) {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	server := &Server{
		listener: listener,
		options:  options.withDefaults(),
		incoming: make(chan *LineConn, 16),
		errs:     make(chan error, 16),
		closed:   make(chan struct{}),
	}

	server.wg.Add(1)
	go server.acceptLoop()
	log.Info("listening", "addr", listener.Addr().String())
	return server, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Incoming returns accepted connections.
func (s *Server) Incoming() <-chan *LineConn {
	return s.incoming
}

// Errors returns asynchronous server errors.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Close stops accepting and closes all server channels. Connections already
// handed out through Incoming stay open.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.listener.Close()
		s.wg.Wait()
		close(s.incoming)
		close(s.errs)
	})
	return closeErr
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}

			s.reportError(fmt.Errorf("accept connection: %w", err))
			continue
		}

		lineConn := newLineConn(conn, s.options)
		log.Debug("accepted connection", "remote", lineConn.RemoteAddr())

		select {
		case s.incoming <- lineConn:
		case <-s.closed:
			_ = lineConn.Close()
			return
		}
	}
}

func (s *Server) reportError(err error) {
	if err == nil {
		return
	}

	select {
	case s.errs <- err:
	default:
	}
}
