package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meshchat/network"
	"meshchat/router"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	lines []string
	from  []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, from router.Endpoint, line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = append(d.lines, line)
	d.from = append(d.from, from.Identity())
	return from.Send("*** ack " + line)
}

func TestBridgeDispatchesLinesAsSelf(t *testing.T) {
	var out bytes.Buffer
	dispatcher := &recordingDispatcher{}
	bridge := NewBridge(strings.NewReader("hello\n/help\n"), NewEndpoint(&out), dispatcher)

	require.NoError(t, bridge.Run(context.Background()))

	require.Equal(t, []string{"hello", "/help"}, dispatcher.lines)
	require.Equal(t, []string{router.SelfIdentity, router.SelfIdentity}, dispatcher.from)
	require.Equal(t, ">>> *** ack hello\n>>> *** ack /help\n>>> ", out.String())
}

func TestBridgeWithoutPrompt(t *testing.T) {
	var out bytes.Buffer
	bridge := NewBridge(strings.NewReader("one\n"), NewEndpoint(&out), &recordingDispatcher{})
	bridge.ShowPrompt = false

	require.NoError(t, bridge.Run(context.Background()))
	require.Equal(t, "*** ack one\n", out.String())
}

func TestBridgeStopsOnCancel(t *testing.T) {
	reader, writer := io.Pipe()
	defer func() {
		_ = writer.Close()
	}()

	bridge := NewBridge(reader, NewEndpoint(io.Discard), &recordingDispatcher{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- bridge.Run(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge did not stop after cancel")
	}
}

func TestEndpointIdentityAndClose(t *testing.T) {
	endpoint := NewEndpoint(nil)
	require.Equal(t, router.SelfIdentity, endpoint.Identity())
	require.NoError(t, endpoint.Send("discarded"))
	require.NoError(t, endpoint.Close())
}

func TestBridgeSkipsOversizedLine(t *testing.T) {
	var out bytes.Buffer
	dispatcher := &recordingDispatcher{}
	input := "before\n" + strings.Repeat("z", network.MaxLineSize+10) + "\nafter\n"
	bridge := NewBridge(strings.NewReader(input), NewEndpoint(&out), dispatcher)
	bridge.ShowPrompt = false

	require.NoError(t, bridge.Run(context.Background()))

	require.Equal(t, []string{"before", "after"}, dispatcher.lines)
	require.Contains(t, out.String(), "*** error: "+network.ErrLineTooLong.Error())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("terminal gone")
}

func TestBridgeReadErrorEndsQuietly(t *testing.T) {
	bridge := NewBridge(failingReader{}, NewEndpoint(io.Discard), &recordingDispatcher{})
	require.NoError(t, bridge.Run(context.Background()))
}
