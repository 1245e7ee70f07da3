package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/sircond/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"link_tx", snap.LinkTx,
					"link_rx", snap.LinkRx,
					"link_retries", snap.LinkRetries,
					"link_timeouts", snap.LinkTimeouts,
					"link_resyncs", snap.LinkResyncs,
					"tcp_rx", snap.TCPRx,
					"tcp_tx", snap.TCPTx,
					"bus_drops", snap.BusDrops,
					"clients", snap.Clients,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
