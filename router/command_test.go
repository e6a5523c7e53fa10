package router

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseClassifiesLines(t *testing.T) {
	cases := []struct {
		line string
		want Command
	}{
		{line: "", want: Command{Kind: KindIgnore}},
		{line: "   \t ", want: Command{Kind: KindIgnore}},
		{line: "hello there", want: Command{Kind: KindBroadcast, Body: "hello there"}},
		{line: "/broadcast hi all", want: Command{Kind: KindBroadcast, Token: "/broadcast", Body: "hi all"}},
		{line: "/send 10.0.0.2:9000 hello  big world", want: Command{
			Kind: KindSend, Token: "/send", Destination: "10.0.0.2:9000", Body: "hello  big world",
		}},
		{line: "/connect example.org 9000", want: Command{Kind: KindConnect, Token: "/connect", Host: "example.org", Port: 9000}},
		{line: "/disconnect", want: Command{Kind: KindDisconnect, Token: "/disconnect"}},
		{line: "/exit", want: Command{Kind: KindExit, Token: "/exit"}},
		{line: "/help", want: Command{Kind: KindHelp, Token: "/help"}},
		{line: "/publickey", want: Command{Kind: KindPublicKey, Token: "/publickey"}},
		{line: "/peers", want: Command{Kind: KindPeers, Token: "/peers"}},
		{line: "/key abc=", want: Command{Kind: KindKey, Token: "/key", Body: "abc="}},
		{line: "/encrypted Zm9v", want: Command{Kind: KindEncrypted, Token: "/encrypted", Body: "Zm9v"}},
		{line: "/private psst", want: Command{Kind: KindPrivate, Token: "/private", Body: "psst"}},
		{line: "*** welcome", want: Command{Kind: KindNotice, Body: "*** welcome"}},
		{line: "/dance now", want: Command{Kind: KindUnknown, Token: "/dance"}},
	}

	for _, tc := range cases {
		got, err := Parse(tc.line)
		require.NoError(t, err, tc.line)
		require.Equal(t, tc.want, got, tc.line)
	}
}

func TestParseRejectsMalformedCommands(t *testing.T) {
	for _, line := range []string{
		"/send",
		"/send peer",
		"/send  peer hello",
		"/connect host",
		"/connect host port",
		"/connect host 0",
		"/connect host 70000",
		"/connect host 9000 extra",
		"/key",
		"/key a b",
		"/encrypted",
	} {
		_, err := Parse(line)
		require.ErrorIs(t, err, ErrMalformedCommand, line)
	}
}

func TestKindString(t *testing.T) {
	require.Equal(t, "send", KindSend.String())
	require.Equal(t, "Kind(99)", Kind(99).String())
}
