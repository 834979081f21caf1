package battleye

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/mr-guard/battleye/internal/util"
	"github.com/mr-guard/battleye/protocol"
)

// readBufferSize comfortably exceeds the largest frame a BattlEye server
// emits in one datagram.
const readBufferSize = 4096

// Transport owns one UDP socket shared by any number of logical connections.
// It serializes outbound packets, demultiplexes inbound datagrams to the
// owning Connection by remote address, and tears every connection down when
// the socket closes. Registry mutation only ever happens through
// CreateConnection / RemoveConnection / Close, under the transport lock.
type Transport struct {
	udp    *net.UDPConn
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[string]*Connection // keyed by resolved "ip:port"

	closeOnce sync.Once

	handlerMu   sync.RWMutex
	onListening func(addr *net.UDPAddr)
	onReceived  func(pkt *protocol.Packet, conn *Connection, from *net.UDPAddr)
	onSent      func(pkt *protocol.Packet, bytes int, conn *Connection)
	onError     func(err error)
}

// NewTransport binds the UDP socket and starts the demux loop. The transport
// shuts down when ctx is cancelled or Close is called.
func NewTransport(ctx context.Context, opts TransportOptions) (*Transport, error) {
	bind := opts.BindAddress
	if bind == "" {
		bind = ":0"
	}
	laddr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("battleye: resolve bind address: %w", err)
	}
	udp, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("battleye: bind socket: %w", err)
	}

	tCtx, tCancel := context.WithCancel(ctx)
	t := &Transport{
		udp:    udp,
		ctx:    tCtx,
		cancel: tCancel,
		conns:  make(map[string]*Connection),
	}

	go t.readLoop()
	go func() {
		<-tCtx.Done()
		t.Close(nil)
	}()

	util.LogDebug("transport listening on %s", udp.LocalAddr())
	t.emitListening(udp.LocalAddr().(*net.UDPAddr))
	return t, nil
}

// LocalAddr returns the bound socket address.
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.udp.LocalAddr().(*net.UDPAddr)
}

// ---------------------------------------------------------------------------
// Event registration
// ---------------------------------------------------------------------------

// OnListening registers a callback fired once the socket is bound. Because
// binding happens inside NewTransport, the callback is useful when the
// transport is constructed by someone else.
func (t *Transport) OnListening(fn func(addr *net.UDPAddr)) {
	t.handlerMu.Lock()
	t.onListening = fn
	t.handlerMu.Unlock()
}

// OnReceived registers a callback fired for every valid, routed datagram.
func (t *Transport) OnReceived(fn func(pkt *protocol.Packet, conn *Connection, from *net.UDPAddr)) {
	t.handlerMu.Lock()
	t.onReceived = fn
	t.handlerMu.Unlock()
}

// OnSent registers a callback fired after each successful socket write.
func (t *Transport) OnSent(fn func(pkt *protocol.Packet, bytes int, conn *Connection)) {
	t.handlerMu.Lock()
	t.onSent = fn
	t.handlerMu.Unlock()
}

// OnError registers a callback for transport-level errors: unroutable or
// malformed datagrams, send failures, socket failures.
func (t *Transport) OnError(fn func(err error)) {
	t.handlerMu.Lock()
	t.onError = fn
	t.handlerMu.Unlock()
}

func (t *Transport) emitListening(addr *net.UDPAddr) {
	t.handlerMu.RLock()
	fn := t.onListening
	t.handlerMu.RUnlock()
	if fn != nil {
		fn(addr)
	}
}

func (t *Transport) emitReceived(pkt *protocol.Packet, conn *Connection, from *net.UDPAddr) {
	t.handlerMu.RLock()
	fn := t.onReceived
	t.handlerMu.RUnlock()
	if fn != nil {
		fn(pkt, conn, from)
	}
}

func (t *Transport) emitSent(pkt *protocol.Packet, bytes int, conn *Connection) {
	t.handlerMu.RLock()
	fn := t.onSent
	t.handlerMu.RUnlock()
	if fn != nil {
		fn(pkt, bytes, conn)
	}
}

func (t *Transport) emitError(err error) {
	t.handlerMu.RLock()
	fn := t.onError
	t.handlerMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// CreateConnection registers a new logical connection for the given server.
// At most one connection may exist per (address, port) pair; a duplicate is
// a configuration error, not a race to resolve, and fails with
// ErrConnectionExists. With autoConnect the login handshake starts in the
// background and its outcome is reported through the connection's events.
func (t *Transport) CreateConnection(details ConnectionDetails, opts ConnectionOptions, autoConnect bool) (*Connection, error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(details.Address, strconv.Itoa(details.Port)))
	if err != nil {
		return nil, fmt.Errorf("battleye: resolve %s:%d: %w", details.Address, details.Port, err)
	}
	key := raddr.String()

	t.mu.Lock()
	if t.ctx.Err() != nil {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	if _, exists := t.conns[key]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrConnectionExists, key)
	}
	conn := newConnection(t, raddr, details.Password, opts)
	t.conns[key] = conn
	t.mu.Unlock()

	util.LogDebug("[%08x] connection registered for %s", conn.id, key)

	if autoConnect {
		go func() {
			if err := conn.Connect(t.ctx); err != nil {
				t.emitError(fmt.Errorf("battleye: auto-connect %s: %w", key, err))
			}
		}()
	}
	return conn, nil
}

// RemoveConnection kills a connection and deregisters it from the transport.
// Connections are only ever destroyed this way or by Close.
func (t *Transport) RemoveConnection(conn *Connection) {
	t.mu.Lock()
	delete(t.conns, conn.addr.String())
	t.mu.Unlock()
	conn.Kill(nil)
}

// lookup finds the connection owning a remote address.
func (t *Transport) lookup(addr *net.UDPAddr) (*Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn, ok := t.conns[addr.String()]
	return conn, ok
}

// ---------------------------------------------------------------------------
// Send path
// ---------------------------------------------------------------------------

// send encodes a packet and writes it to the socket. It implements the
// sender interface consumed by Connection.
func (t *Transport) send(c *Connection, pkt *protocol.Packet) (int, error) {
	if t.ctx.Err() != nil {
		return 0, ErrTransportClosed
	}
	if pkt == nil || !pkt.Valid {
		return 0, fmt.Errorf("battleye: refusing to send invalid packet")
	}

	frame := protocol.Encode(pkt)
	n, err := t.udp.WriteToUDP(frame, c.addr)
	if err != nil {
		err = fmt.Errorf("battleye: send to %s: %w", c.addr, err)
		t.emitError(err)
		return n, err
	}

	util.Stats.AddSent(n)
	if pkt.Type == protocol.TypeLogin {
		// Never let the password reach a log sink.
		util.LogDebug("[%08x] -> login frame, %d bytes (payload scrubbed)", c.id, n)
	} else {
		util.LogDebug("[%08x] -> type=%#x seq=%d %d bytes", c.id, pkt.Type, pkt.Sequence, n)
	}
	t.emitSent(pkt, n, c)
	return n, nil
}

// ---------------------------------------------------------------------------
// Inbound demultiplexing
// ---------------------------------------------------------------------------

// readLoop is the transport's single control path for inbound traffic: read,
// route by source address, decode, hand to the owning connection. Each
// datagram is fully processed before the next is read, which is what makes
// per-connection handler code safe without further coordination.
func (t *Transport) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, from, err := t.udp.ReadFromUDP(buf)
		if err != nil {
			if t.ctx.Err() != nil {
				return // normal shutdown
			}
			t.emitError(fmt.Errorf("battleye: socket read: %w", err))
			t.Close(err)
			return
		}
		util.Stats.AddRecv(n)

		conn, ok := t.lookup(from)
		if !ok {
			// Unsolicited traffic never creates a connection.
			util.Stats.AddDropped()
			t.emitError(fmt.Errorf("%w: %s", ErrUnknownConnection, from))
			continue
		}

		pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			util.Stats.AddDropped()
			t.emitError(err)
			conn.emitError(err)
			continue
		}
		if !pkt.Valid {
			util.Stats.AddDropped()
			err := fmt.Errorf("%w: from %s", ErrInvalidPacket, from)
			t.emitError(err)
			conn.emitError(err)
			continue
		}

		t.emitReceived(pkt, conn, from)
		conn.handlePacket(pkt)
	}
}

// ---------------------------------------------------------------------------
// Shutdown
// ---------------------------------------------------------------------------

// Close kills every registered connection, then closes the socket. It is
// idempotent; the reason (may be nil) is passed to each connection's
// disconnect handler.
func (t *Transport) Close(reason error) {
	t.closeOnce.Do(func() {
		t.cancel()

		t.mu.Lock()
		conns := make([]*Connection, 0, len(t.conns))
		for _, c := range t.conns {
			conns = append(conns, c)
		}
		t.conns = make(map[string]*Connection)
		t.mu.Unlock()

		for _, c := range conns {
			if reason != nil {
				c.Kill(reason)
			} else {
				c.Kill(ErrTransportClosed)
			}
		}

		t.udp.Close()
		util.LogDebug("transport closed")
	})
}
