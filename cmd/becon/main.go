// Becon — interactive BattlEye RCON console.
//
// Connects to a game server, prints server-push messages as they arrive, and
// sends each line typed on stdin as an RCON command.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/mr-guard/battleye"
	"github.com/mr-guard/battleye/internal/util"
	"github.com/mr-guard/battleye/protocol"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	addr := flag.String("addr", "127.0.0.1", "Server address")
	port := flag.Int("port", 2302, "Server RCON port, 1~65535")
	password := flag.String("password", "", "RCON password")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}
	if *password == "" {
		util.LogError("missing -password")
		os.Exit(1)
	}
	if *port < 1 || *port > 65535 {
		util.LogError("invalid -port (must be 1~65535)")
		os.Exit(1)
	}

	pterm.Info.Println(fmt.Sprintf("Becon — v%s", version))
	pterm.Println()

	tr, err := battleye.NewTransport(ctx, battleye.TransportOptions{})
	if err != nil {
		util.LogError("failed to bind socket: %v", err)
		os.Exit(1)
	}
	defer tr.Close(nil)
	util.StartStatsReporter(ctx)

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
		pterm.Println(pterm.Cyan(text))
	})
	conn.OnDisconnected(func(reason error) {
		util.LogWarning("disconnected: %v", reason)
		stop()
	})

	if err := conn.Connect(ctx); err != nil {
		util.LogError("login failed: %v", err)
		os.Exit(1)
	}
	pterm.Success.Println(fmt.Sprintf("Logged in to %s. Type commands; Ctrl+C to quit.", conn.RemoteAddr()))

	// stdin reader in its own goroutine so Ctrl+C stays responsive.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			resp, err := conn.Command(ctx, line)
			if err != nil {
				util.LogError("command failed: %v", err)
				continue
			}
			if len(resp) == 0 {
				pterm.Println(pterm.Gray("(no output)"))
			} else {
				pterm.Println(string(resp))
			}
		}
	}
}
