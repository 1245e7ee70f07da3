package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestService_FiresAtInterval(t *testing.T) {
	s := NewService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var count atomic.Int32
	s.Create(Resolution, nil, func(any) { count.Add(1) })

	deadline := time.After(2 * time.Second)
	for count.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("timer fired %d times, want >= 3", count.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestService_DestroyStopsFiring(t *testing.T) {
	s := NewService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var count atomic.Int32
	h := s.Create(Resolution, nil, func(any) { count.Add(1) })
	time.Sleep(3 * Resolution)
	s.Destroy(h)
	seen := count.Load()
	time.Sleep(3 * Resolution)
	if count.Load() > seen+1 { // allow at most one in-flight tick
		t.Fatalf("timer kept firing after Destroy: before=%d after=%d", seen, count.Load())
	}
}

func TestService_RestartReloadsCountdown(t *testing.T) {
	s := NewService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var count atomic.Int32
	h := s.Create(5*Resolution, nil, func(any) { count.Add(1) })
	time.Sleep(3 * Resolution)
	s.Restart(h)
	time.Sleep(3 * Resolution)
	if count.Load() != 0 {
		t.Fatalf("timer fired %d times before its reloaded interval elapsed", count.Load())
	}
}
