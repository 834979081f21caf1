package battleye

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"sync"
	"time"

	"github.com/mr-guard/battleye/internal/util"
	"github.com/mr-guard/battleye/protocol"
)

// State is the lifecycle phase of a Connection.
type State int

const (
	StateDisconnected State = iota // initial and terminal
	StateLoggingIn                 // login packet sent, awaiting the server's verdict
	StateConnected                 // steady state, commands accepted
)

func (s State) String() string {
	switch s {
	case StateLoggingIn:
		return "logging-in"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// messageDedupWindow is how long an acknowledged server-message sequence is
// remembered. The server retransmits an unacknowledged message within a few
// seconds, while a busy server takes far longer than this to wrap the 8-bit
// sequence, so the window separates retransmissions from genuinely new
// messages.
const messageDedupWindow = 10 * time.Second

// sender is the slice of the Transport a Connection needs: encode and hand
// one packet to the socket. Tests substitute an in-process double.
type sender interface {
	send(c *Connection, pkt *protocol.Packet) (int, error)
}

// Connection is one logical RCON session to one remote server address. All
// protocol state — the login handshake, the sequence counter, the pending
// command table, multi-part reassembly and liveness tracking — lives here;
// the Transport only moves datagrams.
//
// Connections are created through Transport.CreateConnection and are safe
// for concurrent use.
type Connection struct {
	id       uint32
	addr     *net.UDPAddr
	password string
	opts     ConnectionOptions
	tr       sender

	mu            sync.Mutex
	state         State
	seq           byte // next outbound command sequence, wraps at 256
	pending       map[byte]*pendingCommand
	reasm         map[byte]*reassembly
	seenMsgs      map[byte]time.Time // acknowledged server-message sequences
	lastReceived  time.Time          // last valid inbound datagram, drives liveness
	loginTimer    *time.Timer
	loginDone     chan error
	sessionCancel context.CancelFunc // stops the keepalive loop

	handlerMu      sync.RWMutex
	onConnected    func()
	onDisconnected func(reason error)
	onMessage      func(text string, pkt *protocol.Packet)
	onCommand      func(response []byte, err error, request *protocol.Packet)
	onError        func(err error)
	onDebug        func(msg string)
}

// newConnection builds an unregistered connection. The id is a stable hash
// of the remote address so log lines from different sessions to the same
// server correlate.
func newConnection(tr sender, addr *net.UDPAddr, password string, opts ConnectionOptions) *Connection {
	h := fnv.New32a()
	h.Write([]byte(addr.String()))

	return &Connection{
		id:       h.Sum32(),
		addr:     addr,
		password: password,
		opts:     opts.withDefaults(),
		tr:       tr,
		pending:  make(map[byte]*pendingCommand),
		reasm:    make(map[byte]*reassembly),
		seenMsgs: make(map[byte]time.Time),
	}
}

// ID returns the connection's address-derived identifier.
func (c *Connection) ID() uint32 { return c.id }

// RemoteAddr returns the server address this connection talks to.
func (c *Connection) RemoteAddr() *net.UDPAddr { return c.addr }

// State returns the current lifecycle phase.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ---------------------------------------------------------------------------
// Event registration
// ---------------------------------------------------------------------------

// Handlers run on the transport's demux goroutine or on timer goroutines and
// must not block; a handler that needs to issue commands should do so from
// its own goroutine.

// OnConnected registers a callback fired when the login handshake succeeds.
func (c *Connection) OnConnected(fn func()) {
	c.handlerMu.Lock()
	c.onConnected = fn
	c.handlerMu.Unlock()
}

// OnDisconnected registers a callback fired when the connection leaves the
// Connected or LoggingIn state. The reason is ErrAuthFailed, ErrLoginTimeout,
// ErrConnectionLost, ErrTransportClosed, or whatever was passed to Kill.
func (c *Connection) OnDisconnected(fn func(reason error)) {
	c.handlerMu.Lock()
	c.onDisconnected = fn
	c.handlerMu.Unlock()
}

// OnMessage registers a callback fired exactly once per distinct server-push
// message. Acknowledgment is handled internally.
func (c *Connection) OnMessage(fn func(text string, pkt *protocol.Packet)) {
	c.handlerMu.Lock()
	c.onMessage = fn
	c.handlerMu.Unlock()
}

// OnCommand registers a callback fired whenever an in-flight command is
// resolved or rejected, alongside the result returned to the caller.
func (c *Connection) OnCommand(fn func(response []byte, err error, request *protocol.Packet)) {
	c.handlerMu.Lock()
	c.onCommand = fn
	c.handlerMu.Unlock()
}

// OnError registers a callback for per-datagram and send errors that do not
// fail a specific call.
func (c *Connection) OnError(fn func(err error)) {
	c.handlerMu.Lock()
	c.onError = fn
	c.handlerMu.Unlock()
}

// OnDebug registers a callback receiving protocol trace lines.
func (c *Connection) OnDebug(fn func(msg string)) {
	c.handlerMu.Lock()
	c.onDebug = fn
	c.handlerMu.Unlock()
}

func (c *Connection) emitConnected() {
	c.handlerMu.RLock()
	fn := c.onConnected
	c.handlerMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Connection) emitDisconnected(reason error) {
	c.handlerMu.RLock()
	fn := c.onDisconnected
	c.handlerMu.RUnlock()
	if fn != nil {
		fn(reason)
	}
}

func (c *Connection) emitMessage(text string, pkt *protocol.Packet) {
	c.handlerMu.RLock()
	fn := c.onMessage
	c.handlerMu.RUnlock()
	if fn != nil {
		fn(text, pkt)
	}
}

func (c *Connection) emitCommand(response []byte, err error, request *protocol.Packet) {
	c.handlerMu.RLock()
	fn := c.onCommand
	c.handlerMu.RUnlock()
	if fn != nil {
		fn(response, err, request)
	}
}

func (c *Connection) emitError(err error) {
	c.handlerMu.RLock()
	fn := c.onError
	c.handlerMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Connection) emitDebug(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	util.LogDebug("[%08x] %s", c.id, msg)
	c.handlerMu.RLock()
	fn := c.onDebug
	c.handlerMu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

// ---------------------------------------------------------------------------
// Login handshake
// ---------------------------------------------------------------------------

// Connect performs the login handshake and blocks until the server accepts
// the password, rejects it (ErrAuthFailed), the login timeout elapses
// (ErrLoginTimeout), or ctx is cancelled. It is only valid while
// disconnected; a connection may log in again after a disconnect.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateLoggingIn:
		c.mu.Unlock()
		return ErrAlreadyConnecting
	case StateConnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}

	c.state = StateLoggingIn
	done := make(chan error, 1)
	c.loginDone = done
	c.loginTimer = time.AfterFunc(c.opts.LoginTimeout, c.loginTimedOut)
	c.mu.Unlock()

	c.emitDebug("logging in to %s", c.addr)

	if _, err := c.tr.send(c, protocol.NewLoginPacket(c.password)); err != nil {
		c.abortLogin(done)
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.abortLogin(done)
		return ctx.Err()
	}
}

// abortLogin rolls a failed or cancelled Connect back to Disconnected,
// unless the handshake already concluded through another path.
func (c *Connection) abortLogin(done chan error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateLoggingIn && c.loginDone == done {
		c.state = StateDisconnected
		c.loginDone = nil
		if c.loginTimer != nil {
			c.loginTimer.Stop()
			c.loginTimer = nil
		}
	}
}

// loginTimedOut fires when the server never answered the login request.
func (c *Connection) loginTimedOut() {
	c.mu.Lock()
	if c.state != StateLoggingIn {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.loginTimer = nil
	done := c.loginDone
	c.loginDone = nil
	c.mu.Unlock()

	if done != nil {
		done <- ErrLoginTimeout
	}
	c.emitDebug("login timed out")
	c.emitDisconnected(ErrLoginTimeout)
}

func (c *Connection) handleLogin(pkt *protocol.Packet) {
	c.mu.Lock()
	if c.state != StateLoggingIn {
		c.mu.Unlock()
		c.emitDebug("unexpected login response in state %s", c.state)
		return
	}
	if c.loginTimer != nil {
		c.loginTimer.Stop()
		c.loginTimer = nil
	}
	done := c.loginDone
	c.loginDone = nil

	if len(pkt.Payload) > 0 && pkt.Payload[0] == protocol.LoginSuccess {
		c.state = StateConnected
		sessionCtx, cancel := context.WithCancel(context.Background())
		c.sessionCancel = cancel
		c.mu.Unlock()

		go c.keepAliveLoop(sessionCtx)
		if done != nil {
			done <- nil
		}
		c.emitDebug("login accepted")
		c.emitConnected()
		return
	}

	c.state = StateDisconnected
	c.mu.Unlock()

	if done != nil {
		done <- ErrAuthFailed
	}
	c.emitDebug("login rejected")
	c.emitDisconnected(ErrAuthFailed)
}

// ---------------------------------------------------------------------------
// Command dispatch & retry
// ---------------------------------------------------------------------------

// Command sends an administrative command and blocks until the (possibly
// multi-part) response arrives, the retry budget is exhausted
// (ErrCommandTimeout), the connection is lost, or ctx is cancelled.
func (c *Connection) Command(ctx context.Context, command string) ([]byte, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}

	seq := c.seq
	if _, live := c.pending[seq]; live {
		// 256 commands in flight — refuse rather than clobber a live entry.
		c.mu.Unlock()
		return nil, ErrSequenceExhausted
	}
	c.seq++

	pkt := protocol.NewCommandPacket(seq, command)
	pc := &pendingCommand{
		sequence: seq,
		packet:   pkt,
		attempts: 1,
		created:  time.Now(),
		done:     make(chan commandResult, 1),
	}
	pc.timer = time.AfterFunc(c.opts.CommandInterval, func() { c.retry(seq) })
	c.pending[seq] = pc
	c.mu.Unlock()

	if _, err := c.tr.send(c, pkt); err != nil {
		c.dropPending(seq, pc)
		return nil, err
	}

	select {
	case res := <-pc.done:
		return res.payload, res.err
	case <-ctx.Done():
		c.dropPending(seq, pc)
		return nil, ctx.Err()
	}
}

// dropPending removes a pending command that its caller abandoned, if it is
// still the live entry for that sequence.
func (c *Connection) dropPending(seq byte, pc *pendingCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.pending[seq]; ok && cur == pc {
		delete(c.pending, seq)
		delete(c.reasm, seq)
		if pc.timer != nil {
			pc.timer.Stop()
			pc.timer = nil
		}
	}
}

// retry fires on a pending command's response timer: resend until the
// attempt budget is spent, then reject with ErrCommandTimeout. The
// connection itself stays up — a single lost exchange is not loss of the
// session.
func (c *Connection) retry(seq byte) {
	c.mu.Lock()
	pc, ok := c.pending[seq]
	if !ok || c.state != StateConnected {
		c.mu.Unlock()
		return
	}

	if pc.attempts >= c.opts.CommandAttempts {
		delete(c.pending, seq)
		delete(c.reasm, seq)
		age := time.Since(pc.created)
		pc.resolve(nil, ErrCommandTimeout)
		c.mu.Unlock()
		c.emitDebug("command seq=%d timed out after %d attempts over %s",
			seq, pc.attempts, age.Round(time.Millisecond))
		c.emitCommand(nil, ErrCommandTimeout, pc.packet)
		return
	}

	pc.attempts++
	pc.timer.Reset(c.opts.CommandInterval)
	attempt := pc.attempts
	pkt := pc.packet
	c.mu.Unlock()

	c.emitDebug("resending command seq=%d attempt=%d", seq, attempt)
	if _, err := c.tr.send(c, pkt); err != nil {
		c.emitError(err)
	}
}

func (c *Connection) handleCommand(pkt *protocol.Packet) {
	c.mu.Lock()
	pc, ok := c.pending[pkt.Sequence]
	if !ok {
		// Stray or duplicate server reply — UDP may deliver a retransmitted
		// response after we already resolved or timed out. Not an error.
		c.mu.Unlock()
		c.emitDebug("ignoring response for unknown seq=%d", pkt.Sequence)
		return
	}

	var payload []byte
	if pkt.Multipart() {
		r, ok := c.reasm[pkt.Sequence]
		if !ok {
			r = newReassembly(pkt.PartCount)
			c.reasm[pkt.Sequence] = r
		}
		r.add(pkt.PartCount, pkt.PartIndex, pkt.Payload)
		if !r.complete() {
			// Fragment progress counts as response progress: push the retry
			// timer back out so a slow multi-part reply is not re-requested.
			if pc.timer != nil {
				pc.timer.Reset(c.opts.CommandInterval)
			}
			c.mu.Unlock()
			return
		}
		payload = r.assemble()
		delete(c.reasm, pkt.Sequence)
	} else {
		payload = pkt.Payload
		delete(c.reasm, pkt.Sequence)
	}

	delete(c.pending, pkt.Sequence)
	pc.resolve(payload, nil)
	c.mu.Unlock()

	c.emitCommand(payload, nil, pc.packet)
}

// ---------------------------------------------------------------------------
// Server-pushed messages
// ---------------------------------------------------------------------------

func (c *Connection) handleMessage(pkt *protocol.Packet) {
	// Acknowledge every delivery, duplicates included — the server resends
	// until it sees the ack.
	if _, err := c.tr.send(c, protocol.NewMessageAck(pkt.Sequence)); err != nil {
		c.emitError(err)
	}

	c.mu.Lock()
	now := time.Now()
	for seq, seen := range c.seenMsgs {
		if now.Sub(seen) > messageDedupWindow {
			delete(c.seenMsgs, seq)
		}
	}
	if _, dup := c.seenMsgs[pkt.Sequence]; dup {
		c.mu.Unlock()
		c.emitDebug("duplicate message seq=%d re-acknowledged", pkt.Sequence)
		return
	}
	c.seenMsgs[pkt.Sequence] = now
	c.mu.Unlock()

	c.emitMessage(string(pkt.Payload), pkt)
}

// ---------------------------------------------------------------------------
// Inbound dispatch, liveness, teardown
// ---------------------------------------------------------------------------

// handlePacket is the single entry point for valid inbound packets, invoked
// by the transport's demux goroutine.
func (c *Connection) handlePacket(pkt *protocol.Packet) {
	if !pkt.Valid {
		c.emitError(ErrInvalidPacket)
		return
	}

	c.mu.Lock()
	c.lastReceived = time.Now()
	c.mu.Unlock()

	switch pkt.Type {
	case protocol.TypeLogin:
		c.handleLogin(pkt)
	case protocol.TypeCommand:
		c.handleCommand(pkt)
	case protocol.TypeMessage:
		c.handleMessage(pkt)
	}
}

// keepAliveLoop runs for the lifetime of one Connected session. Each tick it
// checks the liveness window and, while the session is healthy, issues an
// empty command so the server does not drop an otherwise idle client.
func (c *Connection) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if c.state != StateConnected {
				c.mu.Unlock()
				return
			}
			idle := time.Since(c.lastReceived)
			c.mu.Unlock()

			if idle > c.opts.LivenessTimeout {
				c.emitDebug("no traffic for %s, presuming connection dead", idle.Round(time.Millisecond))
				c.teardown(ErrConnectionLost)
				return
			}

			go func() {
				kctx, cancel := context.WithTimeout(ctx, c.opts.KeepAliveInterval)
				defer cancel()
				if _, err := c.Command(kctx, ""); err != nil {
					// Expected during packet loss; liveness tracking decides
					// whether the session is actually gone.
					c.emitDebug("keepalive: %v", err)
				}
			}()

		case <-ctx.Done():
			return
		}
	}
}

// Kill forces the connection to Disconnected from any state, rejecting every
// outstanding command with ErrConnectionLost and clearing all timers. The
// connection stays registered with its transport and may Connect again.
func (c *Connection) Kill(reason error) {
	c.teardown(reason)
}

func (c *Connection) teardown(reason error) {
	c.mu.Lock()
	wasActive := c.state != StateDisconnected

	c.state = StateDisconnected
	if c.loginTimer != nil {
		c.loginTimer.Stop()
		c.loginTimer = nil
	}
	done := c.loginDone
	c.loginDone = nil
	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}

	rejected := make([]*pendingCommand, 0, len(c.pending))
	for seq, pc := range c.pending {
		delete(c.pending, seq)
		pc.resolve(nil, ErrConnectionLost)
		rejected = append(rejected, pc)
	}
	c.reasm = make(map[byte]*reassembly)
	c.seenMsgs = make(map[byte]time.Time)
	c.mu.Unlock()

	if done != nil {
		if reason != nil {
			done <- reason
		} else {
			done <- ErrConnectionLost
		}
	}
	for _, pc := range rejected {
		c.emitCommand(nil, ErrConnectionLost, pc.packet)
	}
	if wasActive {
		c.emitDebug("disconnected: %v", reason)
		c.emitDisconnected(reason)
	}
}
