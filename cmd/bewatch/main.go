// Bewatch — WebSocket live feed for a BattlEye server.
//
// Logs into a game server over RCON and rebroadcasts every server-push
// message (chat, join/leave, admin log lines) to any number of WebSocket
// subscribers at /ws, as JSON frames. Handy for dashboards that want the
// server log without speaking UDP themselves.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"

	"github.com/mr-guard/battleye"
	"github.com/mr-guard/battleye/internal/util"
	"github.com/mr-guard/battleye/protocol"
)

var version = "dev"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// feedFrame is the JSON shape delivered to subscribers.
type feedFrame struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// hub fans server messages out to the connected WebSocket subscribers.
type hub struct {
	mu   sync.Mutex
	subs map[*websocket.Conn]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*websocket.Conn]struct{})}
}

// add registers a subscriber and starts a read loop whose only job is to
// notice the peer going away.
func (h *hub) add(ws *websocket.Conn) {
	h.mu.Lock()
	h.subs[ws] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	util.LogInfo("subscriber joined (%d total)", n)

	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				h.remove(ws)
				return
			}
		}
	}()
}

func (h *hub) remove(ws *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.subs[ws]; ok {
		delete(h.subs, ws)
		ws.Close()
	}
	n := len(h.subs)
	h.mu.Unlock()
	util.LogInfo("subscriber left (%d total)", n)
}

// broadcast delivers one frame to every subscriber, dropping any whose
// socket errors.
func (h *hub) broadcast(frame feedFrame) {
	h.mu.Lock()
	subs := make([]*websocket.Conn, 0, len(h.subs))
	for ws := range h.subs {
		subs = append(subs, ws)
	}
	h.mu.Unlock()

	for _, ws := range subs {
		ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := ws.WriteJSON(frame); err != nil {
			h.remove(ws)
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := flag.String("addr", "127.0.0.1", "Server address")
	port := flag.Int("port", 2302, "Server RCON port, 1~65535")
	password := flag.String("password", "", "RCON password")
	listen := flag.String("listen", ":8080", "HTTP listen address for /ws")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}
	if *password == "" {
		util.LogError("missing -password")
		os.Exit(1)
	}

	pterm.Info.Println(fmt.Sprintf("Bewatch — v%s", version))
	pterm.Println()

	tr, err := battleye.NewTransport(ctx, battleye.TransportOptions{})
	if err != nil {
		util.LogError("failed to bind socket: %v", err)
		os.Exit(1)
	}
	defer tr.Close(nil)
	util.StartStatsReporter(ctx)

	h := newHub()

	conn, err := tr.CreateConnection(battleye.ConnectionDetails{
		Address:  *addr,
		Port:     *port,
		Password: *password,
	}, battleye.ConnectionOptions{}, false)
	if err != nil {
		util.LogError("failed to create connection: %v", err)
		os.Exit(1)
	}
	conn.OnMessage(func(text string, _ *protocol.Packet) {
		h.broadcast(feedFrame{Time: time.Now(), Message: text})
	})
	conn.OnDisconnected(func(reason error) {
		util.LogWarning("disconnected: %v", reason)
		stop()
	})

	if err := conn.Connect(ctx); err != nil {
		util.LogError("login failed: %v", err)
		os.Exit(1)
	}
	util.LogInfo("logged in to %s", conn.RemoteAddr())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.add(ws)
	})

	srv := &http.Server{Addr: *listen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	util.LogInfo("feed available at ws://%s/ws", *listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.LogError("http server: %v", err)
		os.Exit(1)
	}
}
