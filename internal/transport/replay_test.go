package transport

import (
	"bytes"
	"testing"
	"time"
)

func TestReplay_FeedThenRead(t *testing.T) {
	r := NewReplay(9600)
	r.Feed([]byte("hello"))
	buf := make([]byte, 5)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("hello")) {
		t.Fatalf("read %q, want hello", buf[:n])
	}
}

func TestReplay_ReadBlocksUntilFed(t *testing.T) {
	r := NewReplay(9600)
	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 3)
		n, _ := r.Read(buf)
		done <- buf[:n]
	}()

	select {
	case <-done:
		t.Fatal("Read returned before any data was fed")
	case <-time.After(50 * time.Millisecond):
	}

	r.Feed([]byte("abc"))
	select {
	case got := <-done:
		if !bytes.Equal(got, []byte("abc")) {
			t.Fatalf("got %q, want abc", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Feed")
	}
}

func TestReplay_WriteCapturesBytes(t *testing.T) {
	r := NewReplay(9600)
	if _, err := r.Write([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := r.WrittenBytes(); !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Fatalf("WrittenBytes() = % X, want 01 02", got)
	}
}

func TestReplay_SetBaudTracksHistory(t *testing.T) {
	r := NewReplay(9600)
	if err := r.SetBaud(57600); err != nil {
		t.Fatalf("SetBaud: %v", err)
	}
	want := []int{9600, 57600}
	got := r.BaudHistory()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("BaudHistory() = %v, want %v", got, want)
	}
}

func TestReplay_CloseUnblocksReadWithTimeout(t *testing.T) {
	r := NewReplay(9600)
	done := make(chan error, 1)
	go func() {
		_, err := r.Read(make([]byte, 1))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	r.Close()
	select {
	case err := <-done:
		if err != ErrTimeout {
			t.Fatalf("Read after Close returned %v, want ErrTimeout", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}
