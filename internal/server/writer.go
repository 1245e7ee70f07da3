package server

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/kstaniek/sircond/internal/bus"
	"github.com/kstaniek/sircond/internal/metrics"
)

// startWriter launches the goroutine that drains bc's outbound line
// queue onto conn, terminating each line with \n per spec.md §6.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, bc *bus.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case line := <-bc.Out:
				if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
					wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
					metrics.IncError(mapErrToMetric(wrap))
					logger.Debug("client_write_error", "err", err)
					_ = conn.Close() // unblocks the reader goroutine, which owns dropClient
					return
				}
				metrics.AddTCPTx(1)
			case <-bc.Closed:
				return
			case <-ctxDone:
				return
			}
		}
	}()
}
