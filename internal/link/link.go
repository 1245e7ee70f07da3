// Package link implements the SCP link engine: the stop-and-wait state
// machine that drives one outbound request at a time over the serial
// port, dispatches inbound frames into radio events, and keeps the link
// alive with a periodic RSSI keepalive probe. Grounded on
// original_source/sircon.h's CSirCon state machine and the teacher's
// internal/transport.AsyncTx single-goroutine funnel idiom for the write
// path; built on internal/task for its start/stop lifecycle and
// internal/timer for the retransmit and keepalive ticks.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/sircond/internal/cache"
	"github.com/kstaniek/sircond/internal/dispatch"
	"github.com/kstaniek/sircond/internal/events"
	"github.com/kstaniek/sircond/internal/metrics"
	"github.com/kstaniek/sircond/internal/scp"
	"github.com/kstaniek/sircond/internal/task"
	"github.com/kstaniek/sircond/internal/timer"
	"github.com/kstaniek/sircond/internal/transport"
)

// Result is the outcome of one enqueued request.
type Result int

const (
	ResultSuccess Result = iota
	ResultTimeout
	ResultNoMemory
	// ResultShutdown resolves any request still outstanding when the
	// engine tears down, so callers blocked on a completion channel are
	// never leaked.
	ResultShutdown
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "SUCCESS"
	case ResultTimeout:
		return "TIMEOUT"
	case ResultNoMemory:
		return "NOMEMORY"
	case ResultShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

const (
	maxRetries           = 3
	busyDelayCount       = 1
	linkTimeout          = 30 * time.Second
	maxLinkFailures      = 10
	retransmitTickPeriod = 100 * time.Millisecond
)

// ErrQueueFull is returned by Enqueue when the outbound queue has no
// room for another request. No completion channel is created in that
// case; ResultNoMemory is delivered only when a queued request's frame
// cannot be composed.
var ErrQueueFull = errors.New("link: outbound queue full")

// MaxQueueDepth bounds the outbound FIFO; Enqueue rejects a request with
// ErrQueueFull once this many are queued.
const MaxQueueDepth = 32

type requestState int

const (
	stateQueued requestState = iota
	stateSent
	stateDeferred
)

type outboundRequest struct {
	payload   []byte
	seq       uint8
	state     requestState
	retries   int
	busyTicks int
	done      chan Result
	resolved  bool
}

func (r *outboundRequest) resolve(res Result) {
	if r.resolved {
		return
	}
	r.resolved = true
	r.done <- res
	close(r.done)
}

// Engine is the SCP link engine.
type Engine struct {
	port  transport.Port
	cache *cache.Cache
	log   *slog.Logger

	// onEvent is invoked for every event the dispatcher produces. It must
	// not block; callers typically hand this off to a broadcast bus.
	onEvent func(events.Event)
	// onFatal is invoked once link_fail_count exceeds maxLinkFailures,
	// requesting the outer lifecycle tear the process down.
	onFatal func(error)

	tx *transport.AsyncTx[[]byte]

	mu            sync.Mutex // guards everything below (queue + link state)
	queue         []*outboundRequest
	nextSeq       uint8
	lastSeqRx     uint8
	haveLastSeqRx bool
	seqExpected   uint8
	linkAlive     bool
	linkFailCount int

	timers            *timer.Service
	retransmitHandle  timer.Handle
	linkTimeoutHandle timer.Handle

	acc scp.Reader

	task *task.Task
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithEventSink sets the callback invoked for every dispatched event.
func WithEventSink(f func(events.Event)) Option {
	return func(e *Engine) { e.onEvent = f }
}

// WithFatalHook sets the callback invoked when the link fails
// irrecoverably (link_fail_count exceeds maxLinkFailures).
func WithFatalHook(f func(error)) Option {
	return func(e *Engine) { e.onFatal = f }
}

// WithLogger overrides the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New builds an Engine bound to port, with c as the radio cache it
// updates from dispatched events.
func New(port transport.Port, c *cache.Cache, opts ...Option) *Engine {
	e := &Engine{
		port:    port,
		cache:   c,
		log:     slog.Default(),
		onEvent: func(events.Event) {},
		onFatal: func(error) {},
		timers:  timer.NewService(),
	}
	for _, o := range opts {
		o(e)
	}
	e.task = task.New(e)
	return e
}

// Start launches the engine's background goroutines.
func (e *Engine) Start(ctx context.Context) bool { return e.task.Start(ctx) }

// Stop tears the engine down, resolving any outstanding request with
// ResultShutdown so no caller is left blocked forever.
func (e *Engine) Stop() bool { return e.task.Stop() }

// Enqueue submits payload as a new outbound request and returns a
// channel that receives exactly one Result once the request resolves.
func (e *Engine) Enqueue(payload []byte) (<-chan Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) >= MaxQueueDepth {
		return nil, ErrQueueFull
	}
	req := &outboundRequest{
		payload: payload,
		seq:     e.nextSeq,
		done:    make(chan Result, 1),
	}
	e.nextSeq++
	e.queue = append(e.queue, req)
	if len(e.queue) == 1 {
		e.sendHeadLocked()
	}
	return req.done, nil
}

// --- task.Hooks ---

// OnStart opens the AsyncTx write funnel and arms the retransmit and
// link-timeout timers. Always returns true; failures happen at New/Open
// time, not here.
func (e *Engine) OnStart(ctx context.Context) bool {
	e.tx = transport.NewAsyncTx(ctx, 8, func(b []byte) error {
		_, err := e.port.Write(b)
		return err
	}, transport.Hooks{
		OnError: func(err error) { e.log.Warn("link: write failed", "err", err) },
	})

	e.mu.Lock()
	e.linkAlive = true
	e.mu.Unlock()

	e.retransmitHandle = e.timers.Create(retransmitTickPeriod, nil, func(any) { e.onRetransmitTick() })
	e.linkTimeoutHandle = e.timers.Create(linkTimeout, nil, func(any) { e.onLinkTimeout() })
	go e.timers.Run(ctx)

	e.onEvent(events.Startup{})
	return true
}

// OnRun reads the serial port until ctx is cancelled, feeding bytes into
// the inbound frame decoder.
func (e *Engine) OnRun(ctx context.Context) {
	buf := make([]byte, 512)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := e.port.Read(buf)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			e.log.Warn("link: read error", "err", err)
			continue
		}
		if n == 0 {
			continue
		}
		e.onBytesRead(buf[:n])
	}
}

// OnExit drains the outbound queue and stops the timer service.
func (e *Engine) OnExit() {
	e.timers.Stop()
	if e.tx != nil {
		e.tx.Close()
	}
	e.mu.Lock()
	for _, req := range e.queue {
		req.resolve(ResultShutdown)
	}
	e.queue = nil
	e.mu.Unlock()
	e.onEvent(events.Shutdown{})
}

// --- inbound processing (spec.md §4.5) ---

func (e *Engine) onBytesRead(raw []byte) {
	// linkTimeoutHandle is set once in OnStart and never mutated, so this
	// needs no e.mu protection; Restart takes its own Service.mu, and
	// e.mu must never be held while crossing into the timer service (see
	// timer.Service.tick, which now never calls back into the Engine
	// while holding Service.mu either).
	e.timers.Restart(e.linkTimeoutHandle)

	resyncs, _ := e.acc.Feed(raw, e.onFrame, e.onBadChecksum)
	if resyncs > 0 {
		metrics.AddLinkResyncs(resyncs)
	}
}

func (e *Engine) onBadChecksum(hdr scp.Header) {
	metrics.IncLinkChecksumError()
	frame, err := scp.Compose(nil, hdr.Seq, scp.FlagAck|scp.FlagChksum)
	if err != nil {
		return
	}
	e.send(frame)
}

func (e *Engine) onFrame(f scp.Frame) {
	metrics.IncLinkRx()
	if f.Header.Flags&scp.FlagAck != 0 {
		e.handleAck(f.Header)
		return
	}

	e.sendAck(f.Header.Seq)

	e.mu.Lock()
	dup := e.haveLastSeqRx && f.Header.Seq == e.lastSeqRx
	if !dup {
		if e.haveLastSeqRx && f.Header.Seq != e.seqExpected {
			e.log.Warn("link: unexpected sequence number", "got", f.Header.Seq, "expected", e.seqExpected)
		}
		e.lastSeqRx = f.Header.Seq
		e.haveLastSeqRx = true
		e.seqExpected = f.Header.Seq + 1
	}
	// spec.md §4.5: any inbound non-ACK frame clears the deferred
	// head's busy backoff early, not just its natural tick countdown.
	if len(e.queue) > 0 {
		e.queue[0].busyTicks = 0
	}
	e.mu.Unlock()

	if dup {
		return
	}
	for _, ev := range dispatch.Dispatch(f.Payload, e.cache, e.log) {
		e.onEvent(ev)
	}
}

func (e *Engine) handleAck(hdr scp.Header) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return
	}
	head := e.queue[0]
	if hdr.Seq != head.seq {
		e.log.Warn("link: ACK for unexpected sequence", "got", hdr.Seq, "want", head.seq)
		return
	}
	switch {
	case hdr.Flags&scp.FlagChksum != 0:
		head.state = stateSent
		e.sendLocked(head.payload)
	case hdr.Flags&scp.FlagBusy != 0:
		metrics.IncLinkBusyBackoff()
		head.state = stateDeferred
		head.busyTicks = busyDelayCount
	default:
		head.resolve(ResultSuccess)
		if e.linkFailCount != 0 {
			e.linkFailCount = 0
			metrics.SetLinkFailures(0)
		}
		e.popHeadLocked()
	}
}

// --- outbound retransmission (spec.md §4.5 state machine) ---

func (e *Engine) onRetransmitTick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return
	}
	head := e.queue[0]
	switch head.state {
	case stateDeferred:
		if head.busyTicks > 0 {
			head.busyTicks--
		}
		if head.busyTicks == 0 {
			head.state = stateSent
			e.sendLocked(head.payload)
		}
	case stateSent:
		if head.retries >= maxRetries {
			metrics.IncLinkTimeout()
			head.resolve(ResultTimeout)
			e.linkFailCount++
			metrics.SetLinkFailures(e.linkFailCount)
			e.popHeadLocked()
			if e.linkFailCount > maxLinkFailures {
				e.linkAlive = false
				e.onFatal(fmt.Errorf("link: %d consecutive failures exceeds threshold", e.linkFailCount))
			}
			return
		}
		head.retries++
		metrics.IncLinkRetry()
		e.sendLocked(head.payload)
	case stateQueued:
		head.state = stateSent
		e.sendLocked(head.payload)
	}
}

func (e *Engine) onLinkTimeout() {
	e.mu.Lock()
	alive := e.linkAlive
	e.mu.Unlock()
	if !alive {
		return
	}
	payload := []byte{byte(dispatch.MsgGet), 0x18} // GET RSSI, a benign keepalive probe
	if _, err := e.Enqueue(payload); err != nil {
		e.log.Warn("link: keepalive enqueue failed", "err", err)
	}
}

// --- send helpers ---

// sendHeadLocked transitions a freshly queued head request to SENT and
// transmits its frame. Caller must hold e.mu.
func (e *Engine) sendHeadLocked() {
	head := e.queue[0]
	head.state = stateSent
	e.sendLocked(head.payload)
}

func (e *Engine) sendLocked(payload []byte) {
	head := e.queue[0]
	frame, err := scp.Compose(payload, head.seq, 0)
	if err != nil {
		head.resolve(ResultNoMemory)
		e.popHeadLocked()
		return
	}
	e.send(frame)
}

func (e *Engine) send(frame []byte) {
	escaped := scp.EscapeFrame(frame)
	if e.tx == nil {
		return
	}
	metrics.IncLinkTx()
	if err := e.tx.Send(escaped); err != nil {
		metrics.IncError(metrics.ErrLinkSend)
		e.log.Warn("link: send funnel rejected frame", "err", err)
	}
}

func (e *Engine) sendAck(seq uint8) {
	frame, err := scp.Compose(nil, seq, scp.FlagAck)
	if err != nil {
		return
	}
	e.send(frame)
}

// popHeadLocked removes the head request and, if another is queued,
// begins sending it. Caller must hold e.mu.
func (e *Engine) popHeadLocked() {
	e.queue = e.queue[1:]
	if len(e.queue) > 0 {
		e.sendHeadLocked()
	}
}
