// Package protocol implements the gateway's line-oriented frame protocol.
//
// It solves TCP's sticky-packet problem the way a text protocol does: every
// frame occupies exactly one newline-terminated line. A 5-byte binary
// preheader, hex-encoded, carries sequence/length/flag bookkeeping; an
// optional hex-encoded app header follows; the remainder of the line up to
// the newline is a raw JSON payload. A bare newline with nothing before it
// is a keepalive.
//
// Frame format (all multi-byte preheader fields little-endian):
//
//	HH HH HH HH HH  [HH x header_len]  <JSON payload bytes>  \n
//	│  │  │  │  └── flags  (bit0 = QOS; whole byte 0x2C = ACK marker)
//	│  │  └──┴───── payload_len (uint16)
//	│  └─────────── header_len (bytes of app header)
//	└────────────── seq (uint8; 0 = dedup reset; the login frame uses 0x2c)
package protocol

import (
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	"devicehub/codec"
)

const (
	// PreheaderLen is the decoded size of the binary preheader.
	PreheaderLen = 5
	// PreheaderHexLen is the preheader's hex-ASCII wire length.
	PreheaderHexLen = PreheaderLen * 2

	// FlagQOS marks a frame as requesting an ACK.
	FlagQOS byte = 0x01
	// AckMarker is the whole flags byte value that identifies an ACK frame.
	AckMarker byte = 0x2C
)

// LoginPreheader is the fixed preheader of the login frame in the
// header-ACK protocol variant: seq=0x2c, header_len=0, payload_len=0,
// flags=0x2c. It deliberately collides with the ACK marker; callers must
// only treat flags==0x2c as an ACK once login has completed.
var LoginPreheader = Preheader{Seq: 0x2c, HeaderLen: 0, PayloadLen: 0, Flags: AckMarker}

// Preheader is the decoded form of a frame's 5-byte binary header.
type Preheader struct {
	Seq        uint8
	HeaderLen  uint8
	PayloadLen uint16
	Flags      byte
}

// IsAck reports whether the whole flags byte is the ACK marker.
func (p Preheader) IsAck() bool { return p.Flags == AckMarker }

// IsQOS reports whether the sender requested an ACK for this frame.
func (p Preheader) IsQOS() bool { return p.Flags&FlagQOS == FlagQOS }

// IsLogin reports whether p matches the login frame's preheader shape
// (seq and flags both 0x2c, no app header) — the collision with the ACK
// marker that only the Connection Layer's pre-login read is allowed to
// interpret this way.
func (p Preheader) IsLogin() bool {
	return p.Seq == LoginPreheader.Seq && p.HeaderLen == 0 && p.Flags == AckMarker
}

// Frame is a fully decoded application frame: preheader plus the optional
// app header bytes and the raw JSON payload.
type Frame struct {
	Preheader Preheader
	AppHeader []byte
	Payload   []byte
}

// Encode renders the preheader, app header, and payload as the hex-ASCII
// line body (without the trailing newline). The Framer appends the '\n'.
func Encode(f Frame) []byte {
	out := make([]byte, 0, PreheaderHexLen+len(f.AppHeader)*2+len(f.Payload))

	var pre [PreheaderLen]byte
	pre[0] = f.Preheader.Seq
	pre[1] = uint8(len(f.AppHeader))
	pre[2] = byte(f.Preheader.PayloadLen)
	pre[3] = byte(f.Preheader.PayloadLen >> 8)
	pre[4] = f.Preheader.Flags

	hexPre := make([]byte, PreheaderHexLen)
	hex.Encode(hexPre, pre[:])
	out = append(out, hexPre...)

	if len(f.AppHeader) > 0 {
		hexHeader := make([]byte, len(f.AppHeader)*2)
		hex.Encode(hexHeader, f.AppHeader)
		out = append(out, hexHeader...)
	}
	out = append(out, f.Payload...)
	return out
}

// EncodeAck renders a bare ACK line (no app header, no payload) for the
// given acknowledged sequence.
func EncodeAck(seq uint8) []byte {
	return Encode(Frame{Preheader: Preheader{Seq: seq, Flags: AckMarker}})
}

// Decode parses one newline-delimited line (without the trailing '\n')
// into a Frame. An empty line is a keepalive and is not a valid Frame;
// callers must check for that before calling Decode.
func Decode(line []byte) (Frame, error) {
	if len(line) < PreheaderHexLen {
		return Frame{}, fmt.Errorf("%w: line too short for preheader (%d bytes)", ErrFrameDecode, len(line))
	}
	var pre [PreheaderLen]byte
	if _, err := hex.Decode(pre[:], line[:PreheaderHexLen]); err != nil {
		return Frame{}, fmt.Errorf("%w: bad preheader hex: %v", ErrFrameDecode, err)
	}
	preheader := Preheader{
		Seq:        pre[0],
		HeaderLen:  pre[1],
		PayloadLen: uint16(pre[2]) | uint16(pre[3])<<8,
		Flags:      pre[4],
	}

	rest := line[PreheaderHexLen:]
	headerHexLen := int(preheader.HeaderLen) * 2
	if len(rest) < headerHexLen {
		return Frame{}, fmt.Errorf("%w: app header truncated", ErrFrameDecode)
	}
	var appHeader []byte
	if headerHexLen > 0 {
		appHeader = make([]byte, preheader.HeaderLen)
		if _, err := hex.Decode(appHeader, rest[:headerHexLen]); err != nil {
			return Frame{}, fmt.Errorf("%w: bad app header hex: %v", ErrFrameDecode, err)
		}
	}

	payload := rest[headerHexLen:]
	// A login line may carry payload_len 0 with the client_id as the rest
	// of the line; every other frame's payload_len must match exactly.
	loginWithoutLen := preheader.IsLogin() && preheader.PayloadLen == 0
	if !loginWithoutLen && int(preheader.PayloadLen) != len(payload) {
		return Frame{}, fmt.Errorf("%w: payload length mismatch: header says %d, got %d",
			ErrFrameDecode, preheader.PayloadLen, len(payload))
	}

	// The login frame's payload is the raw client_id, not JSON, and ACK/
	// control frames carry no payload at all — only an app data frame's
	// payload is JSON and subject to this check.
	if !preheader.IsLogin() && len(payload) > 0 {
		if !utf8.Valid(payload) {
			return Frame{}, fmt.Errorf("%w: payload is not valid UTF-8", ErrFrameDecode)
		}
		var v any
		if err := codec.Default.Decode(payload, &v); err != nil {
			return Frame{}, fmt.Errorf("%w: malformed JSON payload: %v", ErrFrameDecode, err)
		}
	}

	return Frame{Preheader: preheader, AppHeader: appHeader, Payload: payload}, nil
}
