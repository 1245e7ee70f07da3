// Package server owns the TCP listener and per-client lifecycle for the
// line-oriented command protocol (spec.md §4.10): one goroutine accepts
// connections, and each accepted client gets its own reader and writer
// goroutine. Go's scheduler gives per-connection fairness natively, the
// idiomatic substitute for the original's single-threaded select()
// round-robin loop (spec.md §9's capability-interface redesign note).
// Grounded directly on the teacher's internal/server: ServerOption
// functional options, acceptOnce/startReader/startWriter split,
// clientsMu-guarded client map, Shutdown(ctx) draining.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/sircond/internal/arbiter"
	"github.com/kstaniek/sircond/internal/bus"
	"github.com/kstaniek/sircond/internal/command"
	"github.com/kstaniek/sircond/internal/logging"
	"github.com/kstaniek/sircond/internal/metrics"
	"github.com/rs/xid"
)

const clientBufSize = 512

// Server accepts TCP clients and wires each one to the command
// processor and event bus.
type Server struct {
	mu   sync.RWMutex
	addr string

	Bus  *bus.Bus
	Arb  *arbiter.Arbiter
	Proc *command.Processor

	maxClients   int
	readDeadline time.Duration

	readyOnce sync.Once
	readyCh   chan struct{}
	errCh     chan error
	lastErrMu sync.Mutex
	lastErr   error

	listener  net.Listener
	clientsMu sync.RWMutex
	clients   map[arbiter.ClientID]net.Conn

	wg  sync.WaitGroup
	log *slog.Logger

	totalAccepted     atomic.Uint64
	totalConnected    atomic.Uint64
	totalDisconnected atomic.Uint64
	totalRejected     atomic.Uint64
}

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		readyCh: make(chan struct{}),
		errCh:   make(chan error, 1),
		clients: make(map[arbiter.ClientID]net.Conn),
		log:     logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":6114"
	}
	return s
}

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }
func WithBus(b *bus.Bus) ServerOption      { return func(s *Server) { s.Bus = b } }
func WithArbiter(a *arbiter.Arbiter) ServerOption {
	return func(s *Server) { s.Arb = a }
}
func WithProcessor(p *command.Processor) ServerOption {
	return func(s *Server) { s.Proc = p }
}
func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}
func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) { s.readDeadline = d }
}
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}
func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve accepts TCP clients until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.listener = ln
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.log.Info("tcp_listen", "addr", s.Addr())
	s.log.Info("ready")
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection, registers the client, and
// spawns its reader/writer goroutines.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	id := arbiter.ClientID(xid.New().String())
	connLogger := s.log.With("client", string(id), "remote", conn.RemoteAddr().String())

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	if s.maxClients > 0 && s.Bus.Count() >= s.maxClients {
		metrics.IncClientRejected()
		s.totalRejected.Add(1)
		connLogger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}

	bc := bus.NewClient(id, clientBufSize)
	s.Bus.Add(bc)
	s.clientsMu.Lock()
	s.clients[id] = conn
	s.clientsMu.Unlock()
	s.totalConnected.Add(1)
	connLogger.Info("client_connected")

	s.startWriter(ctx.Done(), conn, bc, connLogger)
	s.startReader(ctx.Done(), conn, bc, id, connLogger)
	return nil
}

// dropClient tears a single client connection down: closes the socket,
// detaches it from control arbitration, removes it from the bus and the
// clients map. Safe to call more than once per client (net.Conn.Close
// and bus.Remove are themselves idempotent-safe).
func (s *Server) dropClient(conn net.Conn, bc *bus.Client, id arbiter.ClientID, logger *slog.Logger) {
	_ = conn.Close()
	s.Proc.Detach(id)
	s.Bus.Remove(bc)
	s.clientsMu.Lock()
	delete(s.clients, id)
	s.clientsMu.Unlock()
	s.totalDisconnected.Add(1)
	logger.Info("client_disconnected")
}

// Shutdown closes the listener and all client connections, then waits
// for every reader/writer goroutine to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.Lock()
	for _, conn := range s.clients {
		_ = conn.Close()
	}
	s.clientsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.log.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"connected", s.totalConnected.Load(),
			"disconnected", s.totalDisconnected.Load(),
			"rejected", s.totalRejected.Load())
		return nil
	}
}
