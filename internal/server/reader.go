package server

import (
	"bytes"
	"errors"
	"log/slog"
	"net"

	"github.com/kstaniek/sircond/internal/arbiter"
	"github.com/kstaniek/sircond/internal/bus"
	"github.com/kstaniek/sircond/internal/metrics"
	"github.com/kstaniek/sircond/internal/slidebuf"
)

const rxBufSize = clientBufSize

// startReader launches the goroutine that pulls newline-terminated
// command lines out of conn and hands each to the command processor,
// per spec.md §4.10's ProcessData contract: a slide-buffer accumulates
// raw bytes and compacts itself once consumed lines are marked read.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, bc *bus.Client, id arbiter.ClientID, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.dropClient(conn, bc, id, logger)

		buf := slidebuf.New(rxBufSize)
		for {
			if buf.WriteLen() == 0 {
				buf.Grow(rxBufSize)
			}
			n, err := conn.Read(buf.WritePtr())
			if n > 0 {
				metrics.IncTCPRx()
				buf.MarkWritten(n)
				for {
					line, ok := nextLine(buf)
					if !ok {
						break
					}
					if quit := s.handleLine(bc, id, line, logger); quit {
						return
					}
				}
			}
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logger.Debug("client_read_error", "err", err)
				return
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}

// nextLine extracts one newline-terminated, CR-trimmed line from buf's
// unread bytes, marking those bytes (including the newline) as read.
func nextLine(buf *slidebuf.Buffer) (string, bool) {
	unread := buf.ReadPtr()
	idx := bytes.IndexByte(unread, '\n')
	if idx < 0 {
		return "", false
	}
	line := string(bytes.TrimRight(unread[:idx], "\r"))
	buf.MarkRead(idx + 1)
	return line, true
}

func (s *Server) handleLine(bc *bus.Client, id arbiter.ClientID, line string, logger *slog.Logger) (quit bool) {
	outcome := s.Proc.Handle(id, line)
	if outcome.Reply != "" {
		select {
		case bc.Out <- outcome.Reply:
		default:
			metrics.IncBusDrop()
			logger.Warn("client_reply_dropped", "reply", outcome.Reply)
		}
	}
	return outcome.Quit
}
