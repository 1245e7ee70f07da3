package transport

import (
	"bytes"
	"sync"
)

// Replay is an in-memory Port double for tests: writes are captured and
// returned by WrittenBytes, and reads are served from a queue of canned responses pushed
// with Feed. It never returns ErrTimeout spuriously; Read blocks on an
// internal condition variable until either data is available or the
// port is closed.
type Replay struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending bytes.Buffer
	written bytes.Buffer
	baud    int
	baudLog []int
	closed  bool
}

// NewReplay returns a ready-to-use Replay double at the given initial baud.
func NewReplay(baud int) *Replay {
	r := &Replay{baud: baud}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Feed makes b available to the next Read call(s).
func (r *Replay) Feed(b []byte) {
	r.mu.Lock()
	r.pending.Write(b)
	r.mu.Unlock()
	r.cond.Broadcast()
}

// WrittenBytes returns everything written to the port so far.
func (r *Replay) WrittenBytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.written.Bytes()...)
}

// BaudHistory returns every baud rate SetBaud was called with, in order,
// including the initial one passed to NewReplay.
func (r *Replay) BaudHistory() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int{r.baud}, r.baudLog...)
}

func (r *Replay) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.pending.Len() == 0 && !r.closed {
		r.cond.Wait()
	}
	if r.closed && r.pending.Len() == 0 {
		return 0, ErrTimeout
	}
	return r.pending.Read(p)
}

func (r *Replay) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written.Write(p)
}

func (r *Replay) SetBaud(baud int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baudLog = append(r.baudLog, baud)
	r.baud = baud
	return nil
}

func (r *Replay) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cond.Broadcast()
	return nil
}

var _ Port = (*Replay)(nil)
