package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionState represents the lifecycle state of one line connection.
type ConnectionState string

const (
	StateConnecting ConnectionState = "CONNECTING"
	StateActive     ConnectionState = "ACTIVE"
	StateClosing    ConnectionState = "CLOSING"
	StateClosed     ConnectionState = "CLOSED"
)

// LineConn is a TCP session exchanging newline-terminated text lines.
type LineConn struct {
	conn       net.Conn
	remoteAddr string

	maxLineSize  int
	writeTimeout time.Duration

	sendMu sync.Mutex

	stateMu sync.RWMutex
	state   ConnectionState

	lastActivity atomic.Int64

	inbound chan string

	closeOnce sync.Once
	closed    chan struct{}

	errMu    sync.RWMutex
	closeErr error
}

func newLineConn(conn net.Conn, options Options) *LineConn {
	opts := options.withDefaults()

	lc := &LineConn{
		conn:         conn,
		remoteAddr:   conn.RemoteAddr().String(),
		maxLineSize:  opts.MaxLineSize,
		writeTimeout: opts.WriteTimeout,
		inbound:      make(chan string, opts.InboundBuffer),
		closed:       make(chan struct{}),
		state:        StateConnecting,
	}

	lc.touchActivity()
	lc.setState(StateActive)
	go lc.readLoop(NewLineScanner(conn, opts.MaxLineSize))

	return lc
}

// RemoteAddr returns the remote endpoint as host:port.
func (lc *LineConn) RemoteAddr() string {
	return lc.remoteAddr
}

// State returns the current connection state.
func (lc *LineConn) State() ConnectionState {
	lc.stateMu.RLock()
	defer lc.stateMu.RUnlock()
	return lc.state
}

// Done is closed when the connection is fully closed.
func (lc *LineConn) Done() <-chan struct{} {
	return lc.closed
}

// LastError returns the terminal connection error, if any.
func (lc *LineConn) LastError() error {
	lc.errMu.RLock()
	defer lc.errMu.RUnlock()
	return lc.closeErr
}

// LastActivity reports when a line was last sent or received.
func (lc *LineConn) LastActivity() time.Time {
	return time.Unix(0, lc.lastActivity.Load())
}

// Send writes one line. A write failure closes the connection.
func (lc *LineConn) Send(line string) error {
	if state := lc.State(); state == StateClosed || state == StateClosing {
		return ErrConnectionClosed
	}

	lc.sendMu.Lock()
	defer lc.sendMu.Unlock()

	if lc.writeTimeout > 0 {
		if err := lc.conn.SetWriteDeadline(time.Now().Add(lc.writeTimeout)); err != nil {
			lc.closeWithError(fmt.Errorf("set write deadline: %w", err))
			return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
	}
	if err := WriteLine(lc.conn, line, lc.maxLineSize); err != nil {
		if errors.Is(err, ErrInvalidLine) || errors.Is(err, ErrLineTooLong) {
			return err
		}
		lc.closeWithError(err)
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	lc.touchActivity()
	return nil
}

// ReceiveLine waits for the next inbound line.
func (lc *LineConn) ReceiveLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-lc.inbound:
		if ok {
			return line, nil
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if err := lc.LastError(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Close terminates the connection.
func (lc *LineConn) Close() error {
	lc.setState(StateClosing)
	lc.closeWithError(nil)
	return nil
}

func (lc *LineConn) readLoop(scanner *bufio.Scanner) {
	defer close(lc.inbound)

	for scanner.Scan() {
		lc.touchActivity()
		select {
		case lc.inbound <- scanner.Text():
		case <-lc.closed:
			return
		}
	}

	err := scanner.Err()
	if err == nil || errors.Is(err, net.ErrClosed) {
		lc.closeWithError(nil)
		return
	}
	lc.closeWithError(fmt.Errorf("read line: %w", err))
}

func (lc *LineConn) setState(state ConnectionState) {
	lc.stateMu.Lock()
	defer lc.stateMu.Unlock()
	if lc.state == StateClosed {
		return
	}
	lc.state = state
}

func (lc *LineConn) touchActivity() {
	lc.lastActivity.Store(time.Now().UnixNano())
}

func (lc *LineConn) closeWithError(err error) {
	lc.closeOnce.Do(func() {
		lc.errMu.Lock()
		lc.closeErr = err
		lc.errMu.Unlock()

		_ = lc.conn.Close()

		lc.stateMu.Lock()
		lc.state = StateClosed
		lc.stateMu.Unlock()
		close(lc.closed)
	})
}
