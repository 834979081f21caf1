package protocol

import (
	"bytes"
	"errors"
	"testing"
)

// TestEncodeDecodeRoundTrip verifies that encoding and decoding are inverse
// operations for every packet kind.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		pkt  *Packet
	}{
		{
			name: "login request",
			pkt:  NewLoginPacket("hunter2"),
		},
		{
			name: "login with empty password",
			pkt:  NewLoginPacket(""),
		},
		{
			name: "command request",
			pkt:  NewCommandPacket(42, "players"),
		},
		{
			name: "empty keepalive command",
			pkt:  NewCommandPacket(0, ""),
		},
		{
			name: "command at sequence wrap boundary",
			pkt:  NewCommandPacket(255, "say -1 hello"),
		},
		{
			name: "message acknowledgment",
			pkt:  NewMessageAck(7),
		},
		{
			name: "multi-part command fragment",
			pkt: &Packet{
				Type:      TypeCommand,
				Sequence:  9,
				PartCount: 3,
				PartIndex: 1,
				Payload:   []byte("middle chunk"),
			},
		},
		{
			name: "large payload",
			pkt:  &Packet{Type: TypeCommand, Sequence: 1, Payload: bytes.Repeat([]byte{0xAB}, MaxPayloadSize)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			frame := Encode(tc.pkt)
			got, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !got.Valid {
				t.Fatal("decoded packet reported invalid checksum")
			}
			if got.Type != tc.pkt.Type {
				t.Errorf("Type = %#x, want %#x", got.Type, tc.pkt.Type)
			}
			if got.Sequence != tc.pkt.Sequence {
				t.Errorf("Sequence = %d, want %d", got.Sequence, tc.pkt.Sequence)
			}
			if got.PartCount != tc.pkt.PartCount || got.PartIndex != tc.pkt.PartIndex {
				t.Errorf("fragment header = (%d,%d), want (%d,%d)",
					got.PartCount, got.PartIndex, tc.pkt.PartCount, tc.pkt.PartIndex)
			}
			if !bytes.Equal(got.Payload, tc.pkt.Payload) {
				t.Errorf("Payload = %q, want %q", got.Payload, tc.pkt.Payload)
			}
		})
	}
}

// TestChecksumSensitivity flips every bit of an encoded frame past the CRC
// field and verifies each corruption is caught.
func TestChecksumSensitivity(t *testing.T) {
	frame := Encode(NewCommandPacket(17, "loadBans"))

	for i := 6; i < len(frame); i++ {
		for bit := 0; bit < 8; bit++ {
			corrupt := make([]byte, len(frame))
			copy(corrupt, frame)
			corrupt[i] ^= 1 << bit

			pkt, err := Decode(corrupt)
			if err != nil {
				// Flipping the 0xFF marker or the type/length-bearing bytes may
				// make the frame unparseable, which is also a detection.
				continue
			}
			if pkt.Valid {
				t.Fatalf("bit flip at byte %d bit %d went undetected", i, bit)
			}
		}
	}
}

// TestDecodeMalformed verifies that corrupt-length frames produce a
// *DecodeError rather than a garbled Packet.
func TestDecodeMalformed(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "truncated header", data: []byte{'B', 'E', 1, 2}},
		{name: "wrong preamble", data: []byte{'X', 'Y', 0, 0, 0, 0, 0xFF, TypeLogin, 1}},
		{name: "missing 0xFF marker", data: []byte{'B', 'E', 0, 0, 0, 0, 0x00, TypeLogin, 1}},
		{name: "command without sequence", data: Encode(NewCommandPacket(1, "x"))[:8]},
		{name: "unknown type", data: []byte{'B', 'E', 0, 0, 0, 0, 0xFF, 0x7F, 1, 2, 3}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pkt, err := Decode(tc.data)
			if err == nil {
				t.Fatalf("Decode returned packet %+v, want error", pkt)
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("error type = %T, want *DecodeError", err)
			}
			if pkt != nil {
				t.Fatal("Decode returned a packet alongside an error")
			}
		})
	}
}

// TestDecodeTruncatedLoginIsChecksumFailure verifies that a Login frame cut
// down to the bare header still decodes: an empty password is legal, so the
// frame is well-formed and the truncation shows up as a CRC mismatch rather
// than a *DecodeError.
func TestDecodeTruncatedLoginIsChecksumFailure(t *testing.T) {
	pkt, err := Decode(Encode(NewLoginPacket("x"))[:8])
	if err != nil {
		t.Fatalf("Decode = %v, want a checksum-invalid packet", err)
	}
	if pkt.Type != TypeLogin {
		t.Fatalf("Type = %#x, want %#x", pkt.Type, TypeLogin)
	}
	if pkt.Valid {
		t.Fatal("truncated login frame passed CRC verification")
	}
}

// TestDecodeInconsistentFragmentHeader verifies fragment headers that declare
// an impossible total/index pair are rejected as malformed.
func TestDecodeInconsistentFragmentHeader(t *testing.T) {
	// seq=5, marker, total=2, index=2 (out of range).
	frame := Encode(&Packet{Type: TypeCommand, Sequence: 5, Payload: []byte{0x00, 2, 2, 'x'}})
	if _, err := Decode(frame); err == nil {
		t.Fatal("out-of-range fragment index was accepted")
	}
}

// TestMessageAckShape pins the acknowledgment frame layout: kind byte 0x02,
// the echoed sequence, and no payload.
func TestMessageAckShape(t *testing.T) {
	frame := Encode(NewMessageAck(200))
	if len(frame) != 9 {
		t.Fatalf("ack frame length = %d, want 9", len(frame))
	}
	if frame[7] != TypeMessage || frame[8] != 200 {
		t.Fatalf("ack frame tail = %#x %#x, want %#x 200", frame[7], frame[8], TypeMessage)
	}

	pkt, err := Decode(frame)
	if err != nil || !pkt.Valid {
		t.Fatalf("ack did not round-trip: %v", err)
	}
	if len(pkt.Payload) != 0 {
		t.Fatalf("ack carried payload %q", pkt.Payload)
	}
}

// TestDecodeDoesNotAliasInput verifies a decoded payload survives reuse of
// the receive buffer.
func TestDecodeDoesNotAliasInput(t *testing.T) {
	frame := Encode(NewCommandPacket(3, "version"))
	pkt, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	for i := range frame {
		frame[i] = 0
	}
	if string(pkt.Payload) != "version" {
		t.Fatalf("payload mutated to %q after buffer reuse", pkt.Payload)
	}
}
