package scp

import (
	"bytes"
	"testing"

	"github.com/kstaniek/sircond/internal/slidebuf"
)

func newFilledBuffer(data []byte) *slidebuf.Buffer {
	buf := slidebuf.New(len(data))
	n := copy(buf.WritePtr(), data)
	buf.MarkWritten(n)
	return buf
}

func TestCompose_ValidatesZeroSum(t *testing.T) {
	frame, err := Compose([]byte{0x01, 0x02, 0x03}, 7, FlagBusy)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !Validate(frame) {
		t.Fatalf("composed frame does not validate: % X", frame)
	}
}

func TestCompose_RoundTripsHeaderAndPayload(t *testing.T) {
	payload := []byte("hello sirius")
	frame, err := Compose(payload, 42, 0)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	hdr, err := ParseHeader(frame)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if hdr.Seq != 42 {
		t.Fatalf("Seq = %d, want 42", hdr.Seq)
	}
	if int(hdr.Len) != len(payload) {
		t.Fatalf("Len = %d, want %d", hdr.Len, len(payload))
	}
	if got := Payload(frame, hdr); !bytes.Equal(got, payload) {
		t.Fatalf("Payload = %q, want %q", got, payload)
	}
}

func TestCompose_RejectsOversizedPayload(t *testing.T) {
	_, err := Compose(make([]byte, 256), 0, 0)
	if err != ErrPayloadTooBig {
		t.Fatalf("err = %v, want ErrPayloadTooBig", err)
	}
}

func TestEscapeDeescape_RoundTrip(t *testing.T) {
	cases := [][]byte{
		{0x00, 0x01, 0xFF},
		{AsciiEsc, AsciiEsc, AsciiEsc},
		{Sentinel, 0x10, AsciiEsc, 0x20},
		{},
	}
	for _, payload := range cases {
		escaped := Escape(payload)
		got, err := Deescape(escaped)
		if err != nil {
			t.Fatalf("Deescape(%v): %v", payload, err)
		}
		if !bytes.Equal(got, payload) && !(len(got) == 0 && len(payload) == 0) {
			t.Fatalf("round trip mismatch: got %v, want %v", got, payload)
		}
	}
}

func TestEscapeFrame_LeavesLeadingSentinelBare(t *testing.T) {
	frame, _ := Compose([]byte{Sentinel, AsciiEsc}, 1, 0)
	escaped := EscapeFrame(frame)
	if escaped[0] != Sentinel {
		t.Fatalf("leading byte = %#x, want sentinel", escaped[0])
	}
	// no other Sentinel byte should appear unescaped
	for i := 1; i < len(escaped); i++ {
		if escaped[i] == Sentinel {
			t.Fatalf("unescaped sentinel found mid-frame at %d", i)
		}
	}
}

func TestDeescaper_SplitAcrossFeeds(t *testing.T) {
	var d Deescaper
	var out []byte
	out, _ = d.Feed(out, []byte{AsciiEsc})
	out, _ = d.Feed(out, []byte{SentinelEsc, 0x01})
	if !bytes.Equal(out, []byte{Sentinel, 0x01}) {
		t.Fatalf("got %v, want [0xA4 0x01]", out)
	}
}

func TestDeescaper_UnknownSuccessorDropsAndCounts(t *testing.T) {
	var d Deescaper
	out, dropped := d.Feed(nil, []byte{AsciiEsc, 0x99, 0x01})
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if !bytes.Equal(out, []byte{0x01}) {
		t.Fatalf("out = %v, want [0x01]", out)
	}
}

func TestDecode_ResyncsOnGarbageAndBadChecksum(t *testing.T) {
	good, _ := Compose([]byte{0xAA, 0xBB}, 5, 0)
	bad, _ := Compose([]byte{0xCC}, 6, 0)
	bad[len(bad)-1] ^= 0xFF // corrupt checksum

	var raw []byte
	raw = append(raw, 0x00, 0x11, 0x22) // garbage before first frame
	raw = append(raw, good...)
	raw = append(raw, bad...)
	buf := newFilledBuffer(raw)

	var frames []Frame
	var badHeaders []Header
	Decode(buf, func(f Frame) { frames = append(frames, f) }, func(h Header) { badHeaders = append(badHeaders, h) })

	if len(frames) != 1 || frames[0].Header.Seq != 5 {
		t.Fatalf("frames = %+v, want one frame with seq 5", frames)
	}
	if len(badHeaders) != 1 || badHeaders[0].Seq != 6 {
		t.Fatalf("badHeaders = %+v, want one header with seq 6", badHeaders)
	}
}

func TestDecode_WaitsForCompleteFrame(t *testing.T) {
	full, _ := Compose([]byte{1, 2, 3, 4}, 1, 0)
	buf := newFilledBuffer(full[:len(full)-1]) // withhold the checksum byte
	var got []Frame
	Decode(buf, func(f Frame) { got = append(got, f) }, func(Header) {})
	if len(got) != 0 {
		t.Fatalf("decoded %d frames from a truncated stream, want 0", len(got))
	}
	if buf.ReadLen() != len(full)-1 {
		t.Fatalf("truncated bytes were consumed prematurely")
	}
}

func TestReader_FeedsEscapedBytesAcrossChunks(t *testing.T) {
	frame, _ := Compose([]byte{Sentinel, 0x02}, 3, 0)
	escaped := EscapeFrame(frame)

	var r Reader
	var got []Frame
	// split the escaped stream mid-frame to exercise cross-call state
	mid := len(escaped) / 2
	r.Feed(escaped[:mid], func(f Frame) { got = append(got, f) }, func(Header) {})
	r.Feed(escaped[mid:], func(f Frame) { got = append(got, f) }, func(Header) {})

	if len(got) != 1 || got[0].Header.Seq != 3 {
		t.Fatalf("got %+v, want one frame with seq 3", got)
	}
	if !bytes.Equal(got[0].Payload, []byte{Sentinel, 0x02}) {
		t.Fatalf("payload = % X, want escaped sentinel restored", got[0].Payload)
	}
}

func FuzzDecode(f *testing.F) {
	good, _ := Compose([]byte{1, 2, 3}, 9, FlagAck)
	f.Add(good)
	f.Add([]byte{Sentinel, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00})
	f.Fuzz(func(t *testing.T, data []byte) {
		buf := newFilledBuffer(data)
		Decode(buf, func(Frame) {}, func(Header) {})
	})
}
