// Package battleye implements a client for the BattlEye RCON protocol, the
// UDP-based remote console used to administer Arma and DayZ game servers.
//
// A Transport owns one UDP socket and any number of logical Connections,
// each bound to a distinct server address. The protocol supplies its own
// reliability on top of UDP: commands are sequence-numbered and retried,
// large responses arrive as indexed fragments and are reassembled, and
// server-push messages are acknowledged and deduplicated. Wire parsing
// lives in the protocol subpackage.
//
//	tr, err := battleye.NewTransport(ctx, battleye.TransportOptions{})
//	conn, err := tr.CreateConnection(battleye.ConnectionDetails{
//		Address:  "192.0.2.10",
//		Port:     2302,
//		Password: password,
//	}, battleye.ConnectionOptions{}, false)
//	conn.OnMessage(func(text string, _ *protocol.Packet) { fmt.Println(text) })
//	err = conn.Connect(ctx)
//	resp, err := conn.Command(ctx, "players")
package battleye
