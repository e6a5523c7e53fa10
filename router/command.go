package router

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies one received line.
type Kind int

const (
	KindIgnore Kind = iota
	KindBroadcast
	KindSend
	KindConnect
	KindDisconnect
	KindExit
	KindHelp
	KindPublicKey
	KindKey
	KindPeers
	KindEncrypted
	KindPrivate
	KindNotice
	KindUnknown
)

// Command tokens of the line protocol.
const (
	TokenSend       = "/send"
	TokenBroadcast  = "/broadcast"
	TokenConnect    = "/connect"
	TokenDisconnect = "/disconnect"
	TokenExit       = "/exit"
	TokenHelp       = "/help"
	TokenPublicKey  = "/publickey"
	TokenKey        = "/key"
	TokenPeers      = "/peers"
	TokenEncrypted  = "/encrypted"
	TokenPrivate    = "/private"
)

var kindNames = map[Kind]string{
	KindIgnore:     "ignore",
	KindBroadcast:  "broadcast",
	KindSend:       "send",
	KindConnect:    "connect",
	KindDisconnect: "disconnect",
	KindExit:       "exit",
	KindHelp:       "help",
	KindPublicKey:  "publickey",
	KindKey:        "key",
	KindPeers:      "peers",
	KindEncrypted:  "encrypted",
	KindPrivate:    "private",
	KindNotice:     "notice",
	KindUnknown:    "unknown",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Command is the parsed form of one line.
type Command struct {
	Kind        Kind
	Token       string
	Destination string
	Body        string
	Host        string
	Port        int
}

// Parse classifies line by its leading token. A malformed command still
// carries its Kind so callers can tell which command failed.
func Parse(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{Kind: KindIgnore}, nil
	}
	if strings.HasPrefix(trimmed, noticeMarker) {
		return Command{Kind: KindNotice, Body: trimmed}, nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		return Command{Kind: KindBroadcast, Body: line}, nil
	}

	token, rest, _ := strings.Cut(trimmed, " ")
	cmd := Command{Token: token}

	switch token {
	case TokenSend:
		cmd.Kind = KindSend
		parts := strings.SplitN(trimmed, " ", 3)
		if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
			return cmd, fmt.Errorf("%w: usage %s <destination> <message>", ErrMalformedCommand, TokenSend)
		}
		cmd.Destination = parts[1]
		cmd.Body = parts[2]
	case TokenBroadcast:
		cmd.Kind = KindBroadcast
		cmd.Body = rest
	case TokenConnect:
		cmd.Kind = KindConnect
		fields := strings.Fields(trimmed)
		if len(fields) != 3 {
			return cmd, fmt.Errorf("%w: usage %s <host> <port>", ErrMalformedCommand, TokenConnect)
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil || port < 1 || port > 65535 {
			return cmd, fmt.Errorf("%w: invalid port %q", ErrMalformedCommand, fields[2])
		}
		cmd.Host = fields[1]
		cmd.Port = port
	case TokenDisconnect:
		cmd.Kind = KindDisconnect
	case TokenExit:
		cmd.Kind = KindExit
	case TokenHelp:
		cmd.Kind = KindHelp
	case TokenPublicKey:
		cmd.Kind = KindPublicKey
	case TokenPeers:
		cmd.Kind = KindPeers
	case TokenKey:
		cmd.Kind = KindKey
		fields := strings.Fields(rest)
		if len(fields) != 1 {
			return cmd, fmt.Errorf("%w: usage %s <public-key>", ErrMalformedCommand, TokenKey)
		}
		cmd.Body = fields[0]
	case TokenEncrypted:
		cmd.Kind = KindEncrypted
		cmd.Body = strings.TrimSpace(rest)
		if cmd.Body == "" {
			return cmd, fmt.Errorf("%w: empty encrypted payload", ErrMalformedCommand)
		}
	case TokenPrivate:
		cmd.Kind = KindPrivate
		cmd.Body = rest
	default:
		cmd.Kind = KindUnknown
	}
	return cmd, nil
}
