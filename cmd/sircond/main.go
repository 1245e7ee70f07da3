package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/sircond/internal/arbiter"
	"github.com/kstaniek/sircond/internal/bus"
	"github.com/kstaniek/sircond/internal/cache"
	"github.com/kstaniek/sircond/internal/command"
	"github.com/kstaniek/sircond/internal/events"
	"github.com/kstaniek/sircond/internal/link"
	"github.com/kstaniek/sircond/internal/metrics"
	"github.com/kstaniek/sircond/internal/pidfile"
	"github.com/kstaniek/sircond/internal/server"
	"github.com/kstaniek/sircond/internal/transport"
	"github.com/kstaniek/sircond/internal/tts100"
)

// Overridable at build time via -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("sircond %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	if err := pidfile.Write(cfg.pidFile); err != nil {
		l.Error("pidfile_error", "error", err)
		os.Exit(1)
	}
	defer func() { _ = pidfile.Remove(cfg.pidFile) }()

	port, err := openRadio(ctx, cfg, l)
	if err != nil {
		l.Error("radio_init_error", "error", err)
		os.Exit(1)
	}
	defer func() { _ = port.Close() }()

	c := cache.New()
	arb := arbiter.New()
	busv := bus.New()
	switch cfg.busPolicy {
	case "kick":
		busv.Policy = bus.PolicyKick
	default:
		busv.Policy = bus.PolicyDrop
	}
	busv.OutBufSize = cfg.busBuffer

	eng := link.New(port, c,
		link.WithLogger(l),
		link.WithEventSink(func(ev events.Event) { command.FanEvent(ev, arb, busv) }),
		link.WithFatalHook(func(err error) {
			l.Error("link_fatal", "error", err)
			cancel()
		}),
	)
	proc := command.New(arb, busv, eng, l)

	if !eng.Start(ctx) {
		l.Error("link_start_failed")
		os.Exit(1)
	}
	defer eng.Stop()

	srv := server.NewServer(
		server.WithBus(busv),
		server.WithArbiter(arb),
		server.WithProcessor(proc),
		server.WithListenAddr(cfg.listenAddr),
		server.WithMaxClients(cfg.maxClients),
		server.WithReadDeadline(cfg.clientReadTO),
		server.WithLogger(l),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		addr := srv.Addr()
		var portNum int
		if _, p, err := net.SplitHostPort(addr); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if portNum == 0 {
			lastColon := strings.LastIndex(addr, ":")
			if lastColon >= 0 {
				if pn, perr := strconv.Atoi(addr[lastColon+1:]); perr == nil {
					portNum = pn
				}
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Warn("tcp_shutdown_error", "error", err)
	}
	wg.Wait()
}

// openRadio opens the serial device at the handshake baud, runs the
// TTS-100 probe and authentication (if a TTS-100 answers), and steps the
// line up to the operating baud, per spec.md §4.9.
func openRadio(ctx context.Context, cfg *appConfig, l *slog.Logger) (transport.Port, error) {
	port, err := transport.OpenSerialPort(transport.Config{
		Device:      cfg.serialDev,
		BaudRate:    tts100.ProbeBaud,
		ReadTimeout: cfg.serialReadTO,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.serialDev, err)
	}
	hctx, hcancel := context.WithTimeout(ctx, cfg.handshakeTO)
	defer hcancel()

	_, _, present, err := tts100.Probe(hctx, port, l)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("tts100 probe: %w", err)
	}
	if present {
		if err := tts100.Authenticate(hctx, port, l); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("tts100 authenticate: %w", err)
		}
		l.Info("tts100_authenticated")
	} else {
		l.Info("tts100_not_detected")
	}
	if err := port.SetBaud(cfg.baud); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("stepping to operating baud %d: %w", cfg.baud, err)
	}
	return port, nil
}
