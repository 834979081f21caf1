package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// DecodeError reports a frame whose length or framing is malformed. It is
// distinct from a checksum mismatch (Packet.Valid == false): a corrupt-length
// frame never yields a Packet at all.
type DecodeError struct {
	Reason string
	Length int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("battleye: malformed frame (%s, %d bytes)", e.Reason, e.Length)
}

// Encode serializes a Packet into a wire frame:
//
//	'B' 'E' | crc32(LE) | 0xFF | type | [seq] | payload
//
// The CRC-32 (IEEE) covers everything from the 0xFF byte to the end of the
// payload. Login packets carry no sequence byte. The codec encodes exactly
// one fragment per call; splitting oversized payloads is the caller's job.
func Encode(pkt *Packet) []byte {
	// Checksummed region first: 0xFF, type, optional seq, payload.
	body := make([]byte, 0, 6+len(pkt.Payload))
	body = append(body, 0xFF, pkt.Type)
	if pkt.Type != TypeLogin {
		body = append(body, pkt.Sequence)
	}
	if pkt.Type == TypeCommand && pkt.PartCount > 0 {
		body = append(body, multiPartMarker, pkt.PartCount, pkt.PartIndex)
	}
	body = append(body, pkt.Payload...)

	buf := make([]byte, 0, 6+len(body))
	buf = append(buf, 'B', 'E')
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(body))
	buf = append(buf, body...)
	return buf
}

// Decode parses a wire frame into a Packet. A malformed length or preamble
// returns a *DecodeError and no Packet. A well-framed packet whose CRC does
// not match is returned with Valid == false so the caller can count and drop
// it; its payload must not be trusted.
//
// A Command response payload of three or more bytes beginning with 0x00 is
// indistinguishable from a fragment header on the wire; such payloads are
// parsed as fragments. Server responses are text in practice, so the
// ambiguity only matters for binary payloads.
func Decode(data []byte) (*Packet, error) {
	if len(data) < headerSize+1 {
		return nil, &DecodeError{Reason: "frame too short", Length: len(data)}
	}
	if data[0] != 'B' || data[1] != 'E' || data[6] != 0xFF {
		return nil, &DecodeError{Reason: "bad preamble", Length: len(data)}
	}

	pkt := &Packet{
		Type:     data[7],
		Checksum: binary.LittleEndian.Uint32(data[2:6]),
	}
	pkt.Valid = crc32.ChecksumIEEE(data[6:]) == pkt.Checksum

	rest := data[8:]
	switch pkt.Type {
	case TypeLogin:
		pkt.Payload = clone(rest)

	case TypeCommand:
		if len(rest) < 1 {
			return nil, &DecodeError{Reason: "command frame missing sequence", Length: len(data)}
		}
		pkt.Sequence = rest[0]
		rest = rest[1:]
		// Multi-part responses carry "0x00 total index" before the chunk.
		if len(rest) >= 3 && rest[0] == multiPartMarker {
			pkt.PartCount = rest[1]
			pkt.PartIndex = rest[2]
			if pkt.PartCount == 0 || pkt.PartIndex >= pkt.PartCount {
				return nil, &DecodeError{Reason: "inconsistent fragment header", Length: len(data)}
			}
			rest = rest[3:]
		}
		pkt.Payload = clone(rest)

	case TypeMessage:
		if len(rest) < 1 {
			return nil, &DecodeError{Reason: "message frame missing sequence", Length: len(data)}
		}
		pkt.Sequence = rest[0]
		pkt.Payload = clone(rest[1:])

	default:
		return nil, &DecodeError{Reason: "unknown packet type", Length: len(data)}
	}

	return pkt, nil
}

// clone copies a slice so a decoded Packet never aliases the receive buffer.
func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
