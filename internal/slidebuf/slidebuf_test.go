package slidebuf

import "testing"

func TestBuffer_WriteReadRoundTrip(t *testing.T) {
	b := New(16)
	n := copy(b.WritePtr(), []byte("hello"))
	b.MarkWritten(n)
	if b.ReadLen() != 5 {
		t.Fatalf("ReadLen = %d, want 5", b.ReadLen())
	}
	if got := string(b.ReadPtr()); got != "hello" {
		t.Fatalf("ReadPtr = %q", got)
	}
	b.MarkRead(5)
	if b.ReadLen() != 0 {
		t.Fatalf("ReadLen after drain = %d, want 0", b.ReadLen())
	}
}

func TestBuffer_CompactsWhenTailExhausted(t *testing.T) {
	b := New(8)
	n := copy(b.WritePtr(), []byte("abcdefgh"))
	b.MarkWritten(n)
	b.MarkRead(7) // 1 unread byte ("h") remains, 7 bytes consumed from the front
	if got := b.WriteLen(); got != 7 {
		t.Fatalf("WriteLen after compaction = %d, want 7", got)
	}
	if got := string(b.ReadPtr()); got != "h" {
		t.Fatalf("ReadPtr after compaction = %q, want %q", got, "h")
	}
}

func TestBuffer_MarkReadPastWriteCursorPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	b := New(4)
	b.MarkRead(1)
}

func TestBuffer_MarkWrittenPastCapacityPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	b := New(4)
	b.MarkWritten(5)
}

func TestBuffer_ResizeShrinkTruncates(t *testing.T) {
	b := New(8)
	n := copy(b.WritePtr(), []byte("abcdefgh"))
	b.MarkWritten(n)
	b.Resize(4)
	if b.ReadLen() != 4 {
		t.Fatalf("ReadLen after shrink = %d, want 4", b.ReadLen())
	}
	if got := string(b.ReadPtr()); got != "abcd" {
		t.Fatalf("ReadPtr after shrink = %q", got)
	}
}

func TestBuffer_Grow(t *testing.T) {
	b := New(4)
	b.Grow(100)
	if b.Cap() < 100 {
		t.Fatalf("Cap = %d, want >= 100", b.Cap())
	}
}
