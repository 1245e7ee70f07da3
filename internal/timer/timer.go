// Package timer implements the periodic-callback service: a single worker
// goroutine ticks at a fixed resolution and fires registered callbacks whose
// countdown has elapsed. The single-goroutine-plus-lock shape mirrors
// internal/transport.AsyncTx's funnel idiom, generalized to a repeating
// timer wheel instead of a one-shot work queue.
package timer

import (
	"context"
	"sync"
	"time"
)

// Resolution is the worker tick period; all registered intervals are
// rounded down to whole ticks of this duration.
const Resolution = 100 * time.Millisecond

// Handle identifies a registered timer entry.
type Handle uint32

type entry struct {
	intervalTicks uint32
	remaining     uint32
	userData      any
	callback      func(userData any)
	dead          bool
}

// Service drives registered callbacks from one background goroutine.
type Service struct {
	mu      sync.Mutex
	entries map[Handle]*entry
	nextID  uint32
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewService constructs a Service. Call Run to start the worker goroutine.
func NewService() *Service {
	return &Service{entries: make(map[Handle]*entry)}
}

// Run starts the tick loop; it returns once ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()
	defer close(done)

	t := time.NewTicker(Resolution)
	defer t.Stop()
	for {
		select {
		case <-runCtx.Done():
			return
		case <-t.C:
			s.tick()
		}
	}
}

// Stop cancels the tick loop and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// tick advances every entry's countdown and fires the ones that reach
// zero. Callbacks run after s.mu is released: a callback is free to call
// back into Create/Restart/Destroy (as link.Engine's do, crossing back
// into Engine.mu) without risking the AB-BA deadlock that holding mu
// across a synchronous callback would invite.
func (s *Service) tick() {
	var due []*entry
	s.mu.Lock()
	for h, e := range s.entries {
		if e.dead {
			delete(s.entries, h)
			continue
		}
		if e.remaining == 0 {
			continue
		}
		e.remaining--
		if e.remaining == 0 {
			e.remaining = e.intervalTicks
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		e.callback(e.userData)
	}
}

// Create registers a periodic callback firing every interval, and returns
// an opaque handle used to Restart or Destroy it.
func (s *Service) Create(interval time.Duration, userData any, callback func(userData any)) Handle {
	ticks := uint32(interval / Resolution)
	if ticks == 0 {
		ticks = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h := Handle(s.nextID)
	s.entries[h] = &entry{
		intervalTicks: ticks,
		remaining:     ticks,
		userData:      userData,
		callback:      callback,
	}
	return h
}

// Restart reloads the countdown for h to its full interval.
func (s *Service) Restart(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[h]; ok {
		e.remaining = e.intervalTicks
	}
}

// Destroy unregisters h. Safe to call while the callback for h is running
// on the tick goroutine from another thread. Destroy does not wait for a
// running callback, and a callback the current tick has already selected
// as due still runs once after Destroy returns; no later tick fires it.
func (s *Service) Destroy(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[h]; ok {
		e.dead = true
	}
}
