// Package scp implements the SiriusConnect Protocol wire format: frame
// escaping, header layout, 2's-complement checksum, and frame compose /
// validate. The stream resync shape (advance-one-byte-and-retry on a
// malformed candidate) is grounded on the teacher's internal/serial
// Codec.DecodeStream loop; the stateless-struct-of-pure-functions shape
// is grounded on the teacher's internal/cnl.Codec.
package scp

import (
	"errors"
	"fmt"
)

// Wire constants (values per the SiriusConnect Protocol).
const (
	Sentinel    byte = 0xA4 // frame start sentinel; never appears elsewhere unescaped
	AsciiEsc    byte = 0x1B
	SentinelEsc byte = 0x53 // second byte of the sentinel escape sequence

	headerConst2 byte = 0x03
	headerConst3 byte = 0x00

	HeaderLen  = 6
	MaxPayload = 255
)

// Flags are the frame header flag bits.
type Flags uint8

const (
	FlagChksum Flags = 0x01 // prior frame had a bad checksum
	FlagBusy   Flags = 0x02 // radio cannot accept now
	FlagAck    Flags = 0x80 // frame is an acknowledgement
)

// Header is the fixed 6-byte SCP frame header.
type Header struct {
	Seq   uint8
	Flags Flags
	Len   uint8
}

var (
	ErrShortFrame    = errors.New("scp: frame shorter than header")
	ErrBadSentinel   = errors.New("scp: missing start sentinel")
	ErrBadChecksum   = errors.New("scp: checksum mismatch")
	ErrPayloadTooBig = errors.New("scp: payload exceeds 255 bytes")
)

// Compose builds an unescaped frame: 6-byte header, payload, and a trailing
// checksum byte chosen so the whole frame sums to zero mod 256.
func Compose(payload []byte, seq uint8, flags Flags) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooBig
	}
	frame := make([]byte, HeaderLen+len(payload)+1)
	frame[0] = Sentinel
	frame[1] = headerConst2
	frame[2] = headerConst3
	frame[3] = seq
	frame[4] = byte(flags)
	frame[5] = byte(len(payload))
	copy(frame[HeaderLen:], payload)

	var sum byte
	for _, b := range frame[:len(frame)-1] {
		sum += b
	}
	frame[len(frame)-1] = byte(-int8(sum))
	return frame, nil
}

// Validate reports whether an unescaped candidate frame's bytes sum to
// zero modulo 256.
func Validate(frame []byte) bool {
	var sum byte
	for _, b := range frame {
		sum += b
	}
	return sum == 0
}

// ParseHeader reads the 6-byte header from an unescaped frame.
func ParseHeader(frame []byte) (Header, error) {
	if len(frame) < HeaderLen {
		return Header{}, ErrShortFrame
	}
	if frame[0] != Sentinel {
		return Header{}, ErrBadSentinel
	}
	return Header{Seq: frame[3], Flags: Flags(frame[4]), Len: frame[5]}, nil
}

// Payload returns the payload slice of a fully-buffered unescaped frame
// whose length matches hdr.Len.
func Payload(frame []byte, hdr Header) []byte {
	return frame[HeaderLen : HeaderLen+int(hdr.Len)]
}

// FrameLen returns the total unescaped length of a frame with the given
// header (header + payload + checksum byte).
func FrameLen(hdr Header) int {
	return HeaderLen + int(hdr.Len) + 1
}

// Escape returns an escaped copy of src, doubling 0x1B and replacing
// 0xA4 with the two-byte sequence 0x1B 0x53. Every byte of src is
// escaped, including a leading sentinel; use EscapeFrame for a full frame
// whose leading sentinel must stay bare.
func Escape(src []byte) []byte {
	out := make([]byte, 0, len(src)+4)
	for _, b := range src {
		switch b {
		case Sentinel:
			out = append(out, AsciiEsc, SentinelEsc)
		case AsciiEsc:
			out = append(out, AsciiEsc, AsciiEsc)
		default:
			out = append(out, b)
		}
	}
	return out
}

// EscapeFrame escapes a full unescaped frame for transmission, leaving the
// leading sentinel byte bare per the SCP wire contract.
func EscapeFrame(frame []byte) []byte {
	if len(frame) == 0 {
		return frame
	}
	out := make([]byte, 1, len(frame)+4)
	out[0] = frame[0]
	out = append(out, Escape(frame[1:])...)
	return out
}

// Deescaper maintains the one-bit "in escape" state across Feed calls, as
// required by a byte stream that may deliver the escape byte and its
// successor in separate reads.
type Deescaper struct {
	inEscape bool
}

// Feed de-escapes src, appending the result to dst, and returns the new
// dst slice along with the count of bytes that were dropped because they
// followed an ESC byte with an unrecognized successor.
func (d *Deescaper) Feed(dst, src []byte) (out []byte, dropped int) {
	out = dst
	for _, b := range src {
		if d.inEscape {
			d.inEscape = false
			switch b {
			case SentinelEsc:
				out = append(out, Sentinel)
			case AsciiEsc:
				out = append(out, AsciiEsc)
			default:
				dropped++
			}
			continue
		}
		if b == AsciiEsc {
			d.inEscape = true
			continue
		}
		out = append(out, b)
	}
	return out, dropped
}

// Deescape is a convenience wrapper for one-shot (non-streaming) use.
func Deescape(src []byte) ([]byte, error) {
	var d Deescaper
	out, dropped := d.Feed(nil, src)
	if dropped > 0 {
		return out, fmt.Errorf("scp: dropped %d byte(s) with invalid escape successor", dropped)
	}
	return out, nil
}
