// Package protocol implements the BattlEye RCON wire format: packet framing,
// CRC-32 validation, and multi-part response headers. It is pure — no state,
// no I/O — so it can be exercised byte-for-byte in tests.
package protocol

// Packet kind bytes as they appear on the wire.
const (
	TypeLogin   byte = 0x00 // authentication request/response
	TypeCommand byte = 0x01 // sequenced command request/response
	TypeMessage byte = 0x02 // server-push message / client acknowledgment
)

// Login response payload bytes.
const (
	LoginFailed  byte = 0x00
	LoginSuccess byte = 0x01
)

// multiPartMarker introduces the fragment header inside a Command response
// payload: seq, 0x00, total, index, chunk.
const multiPartMarker byte = 0x00

// headerSize is the fixed frame prefix: 'B' 'E', CRC-32 (4 bytes,
// little-endian), 0xFF.
const headerSize = 7

// MaxPayloadSize is the largest payload the BattlEye server is known to place
// in a single datagram. Outbound commands are short; the constant exists so
// callers splitting large payloads agree on the fragment size.
const MaxPayloadSize = 1024

// Packet is one decoded BattlEye frame. Instances produced by Decode are
// immutable by convention; a Packet must never be acted on unless Valid is
// true.
type Packet struct {
	Type     byte
	Sequence byte   // Command/Message only; zero for Login
	Payload  []byte // bytes after the sequence (after the fragment header, if any)
	Checksum uint32 // CRC-32 carried on the wire
	Valid    bool   // checksum verification result

	// Multi-part Command response header. PartCount is zero for single-part
	// packets; PartIndex is the zero-based position of this fragment.
	PartCount byte
	PartIndex byte
}

// Multipart reports whether the packet is one fragment of a larger Command
// response.
func (p *Packet) Multipart() bool {
	return p.PartCount > 0
}

// NewLoginPacket builds an outbound login request carrying the password.
func NewLoginPacket(password string) *Packet {
	return &Packet{Type: TypeLogin, Payload: []byte(password), Valid: true}
}

// NewCommandPacket builds an outbound command request with the given
// sequence number.
func NewCommandPacket(seq byte, command string) *Packet {
	return &Packet{Type: TypeCommand, Sequence: seq, Payload: []byte(command), Valid: true}
}

// NewMessageAck builds the acknowledgment frame for a server-push message.
// The server retransmits a message until it sees this ack, so it must echo
// the message's sequence exactly.
func NewMessageAck(seq byte) *Packet {
	return &Packet{Type: TypeMessage, Sequence: seq, Valid: true}
}
