package network

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestLineConnReceivesLines(t *testing.T) {
	local, remote := net.Pipe()
	lc := newLineConn(local, Options{})
	defer func() {
		_ = lc.Close()
		_ = remote.Close()
	}()

	go func() {
		_, _ = io.WriteString(remote, "hello\r\nworld\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, want := range []string{"hello", "world"} {
		got, err := lc.ReceiveLine(ctx)
		if err != nil {
			t.Fatalf("ReceiveLine failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestLineConnSendWritesTerminatedLine(t *testing.T) {
	local, remote := net.Pipe()
	lc := newLineConn(local, Options{})
	defer func() {
		_ = lc.Close()
		_ = remote.Close()
	}()

	received := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(remote).ReadString('\n')
		received <- line
	}()

	if err := lc.Send("ping"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case line := <-received:
		if line != "ping\n" {
			t.Fatalf("expected %q, got %q", "ping\n", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for line")
	}
}

func TestLineConnInvalidLineKeepsConnectionOpen(t *testing.T) {
	local, remote := net.Pipe()
	lc := newLineConn(local, Options{})
	defer func() {
		_ = lc.Close()
		_ = remote.Close()
	}()

	if err := lc.Send("two\nlines"); !errors.Is(err, ErrInvalidLine) {
		t.Fatalf("expected ErrInvalidLine, got %v", err)
	}
	if lc.State() != StateActive {
		t.Fatalf("expected connection to stay active, got %s", lc.State())
	}
}

func TestLineConnRemoteCloseEndsReceive(t *testing.T) {
	local, remote := net.Pipe()
	lc := newLineConn(local, Options{})
	defer func() {
		_ = lc.Close()
	}()

	_ = remote.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := lc.ReceiveLine(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after remote close, got %v", err)
	}

	select {
	case <-lc.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected connection to close after remote close")
	}
	if lc.State() != StateClosed {
		t.Fatalf("expected CLOSED, got %s", lc.State())
	}
}

func TestLineConnSendAfterCloseFails(t *testing.T) {
	local, remote := net.Pipe()
	defer func() {
		_ = remote.Close()
	}()
	lc := newLineConn(local, Options{})

	if err := lc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := lc.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := lc.Send("late"); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}
