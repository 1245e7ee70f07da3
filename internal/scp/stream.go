package scp

import "github.com/kstaniek/sircond/internal/slidebuf"

// Frame is a fully parsed, de-escaped SCP frame.
type Frame struct {
	Header  Header
	Payload []byte
}

// Decode scans buf (de-escaped raw bytes accumulated from the serial port)
// for complete frames, invoking onFrame for each valid frame and
// onBadChecksum for each candidate frame whose checksum failed to validate
// (header still usable so the caller can NAK the sender's sequence). It
// consumes bytes from buf via MarkRead as it goes and returns the number
// of resyncs performed (bytes skipped while scanning for a sentinel, or
// discarded to force resync after a malformed candidate). Grounded on the
// teacher's internal/serial Codec.DecodeStream resync loop, adapted to
// the slidebuf.Buffer staging contract spec.md §4.1/§4.5 describe.
func Decode(buf *slidebuf.Buffer, onFrame func(Frame), onBadChecksum func(Header)) (resyncs int) {
	for {
		data := buf.ReadPtr()
		if len(data) < HeaderLen {
			return resyncs
		}
		if data[0] != Sentinel {
			buf.MarkRead(1)
			resyncs++
			continue
		}
		hdr, err := ParseHeader(data)
		if err != nil {
			buf.MarkRead(1)
			resyncs++
			continue
		}
		need := FrameLen(hdr)
		if len(data) < need {
			return resyncs
		}
		frame := data[:need]
		if !Validate(frame) {
			onBadChecksum(hdr)
			buf.MarkRead(1)
			resyncs++
			continue
		}
		onFrame(Frame{Header: hdr, Payload: append([]byte(nil), Payload(frame, hdr)...)})
		buf.MarkRead(need)
	}
}

// Reader couples a Deescaper with a slidebuf.Buffer accumulator so
// callers can feed raw (escaped) bytes straight off the serial port and
// receive parsed frames back, without managing the de-escape or staging
// state themselves.
type Reader struct {
	deesc Deescaper
	acc   *slidebuf.Buffer
}

const initialAccCapacity = 512

// Feed de-escapes raw and accumulates it, then extracts any complete
// frames now available, invoking onFrame/onBadChecksum as Decode does.
func (r *Reader) Feed(raw []byte, onFrame func(Frame), onBadChecksum func(Header)) (resyncs, dropped int) {
	if r.acc == nil {
		r.acc = slidebuf.New(initialAccCapacity)
	}
	out, dropped := r.deesc.Feed(nil, raw)
	r.acc.Grow(len(out))
	n := copy(r.acc.WritePtr(), out)
	r.acc.MarkWritten(n)
	resyncs = Decode(r.acc, onFrame, onBadChecksum)
	return resyncs, dropped
}

// Len reports the number of de-escaped bytes still buffered awaiting a
// complete frame.
func (r *Reader) Len() int {
	if r.acc == nil {
		return 0
	}
	return r.acc.ReadLen()
}
