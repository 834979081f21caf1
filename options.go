package battleye

import "time"

// Tuning defaults. The BattlEye server drops a client that stays silent for
// 45 seconds, so the keepalive interval must be comfortably below the
// liveness window.
const (
	DefaultLoginTimeout      = 5 * time.Second
	DefaultCommandInterval   = 1 * time.Second
	DefaultCommandAttempts   = 3
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultLivenessTimeout   = 45 * time.Second
)

// ConnectionDetails identifies one remote RCON endpoint. Address and Port
// key the connection inside its Transport; at most one connection may exist
// per distinct pair.
type ConnectionDetails struct {
	Address  string
	Port     int
	Password string
}

// ConnectionOptions tunes the protocol timers of a single connection. Zero
// values fall back to the package defaults.
type ConnectionOptions struct {
	// LoginTimeout bounds the wait for the server's login response.
	LoginTimeout time.Duration

	// CommandInterval is the delay between retransmissions of an unanswered
	// command.
	CommandInterval time.Duration

	// CommandAttempts is the total number of sends (first try included)
	// before a command is rejected with ErrCommandTimeout.
	CommandAttempts int

	// KeepAliveInterval is how often an empty command is issued to keep the
	// session alive while no caller traffic flows.
	KeepAliveInterval time.Duration

	// LivenessTimeout is the inactivity window after which the connection is
	// presumed dead and torn down with ErrConnectionLost.
	LivenessTimeout time.Duration
}

// withDefaults returns a copy of o with zero fields replaced by defaults.
func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = DefaultLoginTimeout
	}
	if o.CommandInterval <= 0 {
		o.CommandInterval = DefaultCommandInterval
	}
	if o.CommandAttempts <= 0 {
		o.CommandAttempts = DefaultCommandAttempts
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.LivenessTimeout <= 0 {
		o.LivenessTimeout = DefaultLivenessTimeout
	}
	return o
}

// TransportOptions configures the shared UDP socket.
type TransportOptions struct {
	// BindAddress is the local address to bind, e.g. ":0" (default) for an
	// ephemeral port on all interfaces.
	BindAddress string
}
