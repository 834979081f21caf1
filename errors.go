package battleye

import "errors"

// Error taxonomy. Per-datagram errors (bad frame, bad checksum, unknown peer)
// are reported through error callbacks and never tear a connection down;
// state-machine and resource errors are returned to the offending call site.
var (
	// ErrNotConnected is returned by Command when the connection has not
	// completed its login handshake.
	ErrNotConnected = errors.New("battleye: not connected")

	// ErrAlreadyConnecting is returned by Connect while a login handshake is
	// already in flight.
	ErrAlreadyConnecting = errors.New("battleye: login already in progress")

	// ErrAlreadyConnected is returned by Connect on an established connection.
	ErrAlreadyConnected = errors.New("battleye: already connected")

	// ErrConnectionExists is returned by CreateConnection when a connection
	// for the same address and port is already registered.
	ErrConnectionExists = errors.New("battleye: connection already exists for address")

	// ErrUnknownConnection is reported when a datagram arrives from an
	// address no registered connection claims. The datagram is dropped;
	// unsolicited traffic never creates a connection implicitly.
	ErrUnknownConnection = errors.New("battleye: datagram from unknown address")

	// ErrInvalidPacket is reported when a well-framed datagram fails CRC
	// verification.
	ErrInvalidPacket = errors.New("battleye: packet checksum mismatch")

	// ErrSequenceExhausted is returned by Command when all 256 sequence
	// numbers have live in-flight commands.
	ErrSequenceExhausted = errors.New("battleye: all sequence numbers in flight")

	// ErrCommandTimeout is returned by Command when the retry budget is
	// exhausted without a response. The connection itself stays up.
	ErrCommandTimeout = errors.New("battleye: command timed out")

	// ErrLoginTimeout is returned by Connect when the server does not answer
	// the login request within the login timeout.
	ErrLoginTimeout = errors.New("battleye: login timed out")

	// ErrAuthFailed is returned by Connect when the server rejects the
	// password.
	ErrAuthFailed = errors.New("battleye: login rejected by server")

	// ErrConnectionLost is the rejection reason for every outstanding command
	// when the liveness window elapses with no inbound traffic.
	ErrConnectionLost = errors.New("battleye: connection lost")

	// ErrTransportClosed is returned for operations on a closed transport.
	ErrTransportClosed = errors.New("battleye: transport closed")
)
