package router

import "errors"

var (
	// ErrMalformedCommand indicates a command with missing or invalid arguments.
	ErrMalformedCommand = errors.New("router: malformed command")
	// ErrUnknownDestination indicates /send named a peer that is not registered.
	ErrUnknownDestination = errors.New("router: unknown destination")
	// ErrNoKeyForPeer indicates encryption is enabled but the destination advertised no key.
	ErrNoKeyForPeer = errors.New("router: no public key for peer")
	// ErrDecryptionFailed indicates an encrypted message could not be opened with the local key.
	ErrDecryptionFailed = errors.New("router: decryption failed")
	// ErrUnknownCommand indicates an unrecognised slash command.
	ErrUnknownCommand = errors.New("router: unknown command")
	// ErrNotConnected indicates a connection-scoped command came from the local console.
	ErrNotConnected = errors.New("router: sender has no connection")
	// ErrNoConnector indicates /connect was issued on a router without a connector.
	ErrNoConnector = errors.New("router: outbound connections disabled")
)
