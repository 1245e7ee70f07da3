package task

import (
	"context"
	"testing"
	"time"
)

type fakeHooks struct {
	startOK  bool
	started  chan struct{}
	ranAt    chan struct{}
	exited   chan struct{}
	blockRun bool
}

func newFakeHooks(startOK bool) *fakeHooks {
	return &fakeHooks{
		startOK: startOK,
		started: make(chan struct{}, 1),
		ranAt:   make(chan struct{}, 1),
		exited:  make(chan struct{}, 1),
	}
}

func (f *fakeHooks) OnStart(ctx context.Context) bool {
	f.started <- struct{}{}
	return f.startOK
}

func (f *fakeHooks) OnRun(ctx context.Context) {
	f.ranAt <- struct{}{}
	<-ctx.Done()
}

func (f *fakeHooks) OnExit() {
	f.exited <- struct{}{}
}

func TestTask_StartRunsThroughLifecycle(t *testing.T) {
	h := newFakeHooks(true)
	tk := New(h)

	if !tk.Start(context.Background()) {
		t.Fatalf("Start returned false on first call")
	}

	select {
	case <-h.started:
	case <-time.After(time.Second):
		t.Fatal("OnStart was not invoked")
	}
	select {
	case <-h.ranAt:
	case <-time.After(time.Second):
		t.Fatal("OnRun was not invoked")
	}

	if tk.State() != StateRunning {
		t.Fatalf("State() = %v, want running", tk.State())
	}

	if !tk.Stop() {
		t.Fatal("Stop returned false")
	}

	select {
	case <-h.exited:
	case <-time.After(time.Second):
		t.Fatal("OnExit was not invoked")
	}

	if tk.State() != StateStopped {
		t.Fatalf("State() = %v, want stopped after Stop", tk.State())
	}
}

func TestTask_StartTwiceReturnsFalse(t *testing.T) {
	h := newFakeHooks(true)
	tk := New(h)
	tk.Start(context.Background())
	<-h.started
	if tk.Start(context.Background()) {
		t.Fatal("second Start call should return false")
	}
	tk.Stop()
}

func TestTask_OnStartFalseSkipsOnRun(t *testing.T) {
	h := newFakeHooks(false)
	tk := New(h)
	tk.Start(context.Background())

	select {
	case <-h.exited:
	case <-time.After(time.Second):
		t.Fatal("OnExit was not invoked when OnStart returned false")
	}

	select {
	case <-h.ranAt:
		t.Fatal("OnRun should not run when OnStart returns false")
	default:
	}
}

func TestTask_StopBeforeStartReturnsFalse(t *testing.T) {
	tk := New(newFakeHooks(true))
	if tk.Stop() {
		t.Fatal("Stop on a never-started task should return false")
	}
}
