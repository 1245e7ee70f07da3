// Package arbiter implements the single-writer control token described in
// the command protocol: at most one connected client may issue mutating
// SET commands at a time, and a FIFO queue of waiters is granted
// the token in arrival order as each holder releases it. Grounded on the
// teacher's internal/hub.Hub locking shape (one mutex, snapshot-free
// mutation under lock), adapted from a broadcast set to an exclusive
// holder plus ordered waiter slice.
package arbiter

import "sync"

// ClientID identifies a connected client for the purposes of control
// arbitration. The command/server layer owns the actual identity
// (typically an xid per connection) and only ever passes it through.
type ClientID string

// Outcome reports the result of an Acquire or Release call, mirroring the
// CONTROL,ACQUIRED / CONTROL,PENDING / CONTROL,RELEASED wire replies.
type Outcome int

const (
	Acquired Outcome = iota
	Pending
	Released
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "ACQUIRED"
	case Pending:
		return "PENDING"
	case Released:
		return "RELEASED"
	default:
		return "UNKNOWN"
	}
}

// Arbiter holds the control token and its FIFO waiter queue. A client
// appears in the queue at most once and never appears both as holder and
// in the queue.
type Arbiter struct {
	mu        sync.Mutex
	holder    ClientID
	hasHolder bool
	waiters   []ClientID
}

// New returns an Arbiter with no holder and an empty waiter queue.
func New() *Arbiter {
	return &Arbiter{}
}

// Acquire grants the token immediately if there is no holder and the
// queue is empty, re-acknowledges a client that already holds it, or
// else appends id to the waiter queue (unless it is already queued).
func (a *Arbiter) Acquire(id ClientID) Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hasHolder && a.holder == id {
		return Acquired
	}
	if !a.hasHolder && len(a.waiters) == 0 {
		a.holder = id
		a.hasHolder = true
		return Acquired
	}
	for _, w := range a.waiters {
		if w == id {
			return Pending
		}
	}
	a.waiters = append(a.waiters, id)
	return Pending
}

// Release relinquishes the token if id currently holds it, promoting the
// next waiter (if any) to holder and returning its ClientID so the
// caller can notify it with CONTROL,ACQUIRED. If id does not hold the
// token, it is simply removed from the waiter queue. Either way the
// caller itself is told RELEASED.
func (a *Arbiter) Release(id ClientID) (next ClientID, promoted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hasHolder && a.holder == id {
		a.hasHolder = false
		a.holder = ""
		return a.promoteLocked()
	}
	a.removeWaiterLocked(id)
	return "", false
}

// Detach removes id from arbitration entirely, as on client disconnect.
// If id held the token, the next waiter (if any) is promoted and
// returned so the caller can notify it.
func (a *Arbiter) Detach(id ClientID) (next ClientID, promoted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hasHolder && a.holder == id {
		a.hasHolder = false
		a.holder = ""
		return a.promoteLocked()
	}
	a.removeWaiterLocked(id)
	return "", false
}

// Holder reports the current token holder, if any.
func (a *Arbiter) Holder() (id ClientID, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holder, a.hasHolder
}

// IsHolder reports whether id currently holds the control token.
func (a *Arbiter) IsHolder(id ClientID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasHolder && a.holder == id
}

func (a *Arbiter) promoteLocked() (ClientID, bool) {
	if len(a.waiters) == 0 {
		return "", false
	}
	next := a.waiters[0]
	a.waiters = a.waiters[1:]
	a.holder = next
	a.hasHolder = true
	return next, true
}

func (a *Arbiter) removeWaiterLocked(id ClientID) {
	for i, w := range a.waiters {
		if w == id {
			a.waiters = append(a.waiters[:i], a.waiters[i+1:]...)
			return
		}
	}
}
