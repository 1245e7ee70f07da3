// Package tts100 implements the TTS-100 hardware handshake described in
// spec.md §4.9: a version probe that determines whether a TTS-100
// interface box is present at all, followed by a challenge/response
// unlock that must succeed before SCP traffic can flow. Grounded on the
// teacher's internal/cnl.Handshake two-goroutine, context-aware
// read/write pattern, adapted from a single fixed-length exchange to the
// probe-then-retry loop spec.md describes.
package tts100

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/sircond/internal/transport"
)

const (
	maxVersionAttempts = 5
	maxAuthAttempts    = 5
	retryDelay         = 1 * time.Second
	silenceWindow      = 1 * time.Second
	challengeLen       = 15
	probeBaud          = 9600
	operatingBaud      = 57600
)

// ErrAuthFailed is returned by Authenticate when all attempts are
// exhausted without the radio accepting the challenge response.
var ErrAuthFailed = errors.New("tts100: authentication failed")

// cannedResponse stands in for the 21-byte canned authentication response
// of a TimeTrax Recast session, per spec.md §4.9 and §9's
// Open Questions. The original capture is not present anywhere in this
// corpus (original_source/timetrax.cpp is truncated to its license
// header); this is a placeholder literal satisfying the same two-byte
// XOR-index contract documented in DESIGN.md. Bytes 18 and 19 are
// overwritten per-challenge before every send.
var cannedResponse = [21]byte{
	0x3E, 0x3E, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06,
	0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E,
	0x0F, 0x10, 0x00, 0x00, 0x11,
}

// Probe sends the 'V' version query and waits for a reply containing
// "Time Trax" and "Version". It retries up to maxVersionAttempts times,
// each bounded by silenceWindow of quiet before giving up on that
// attempt. present is false (with a nil error) when no TTS-100 answered
// after all attempts — the caller should proceed directly to SCP at
// operating baud in that case.
func Probe(ctx context.Context, port transport.Port, log *slog.Logger) (major, minor int, present bool, err error) {
	if log == nil {
		log = slog.Default()
	}
	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, 0, false, err
		}
		if _, werr := port.Write([]byte{'V'}); werr != nil {
			return 0, 0, false, fmt.Errorf("tts100: probe write: %w", werr)
		}
		line, rerr := readLine(ctx, port, silenceWindow)
		if rerr != nil {
			log.Debug("tts100: probe attempt got no reply", "attempt", attempt, "err", rerr)
			continue
		}
		if !strings.Contains(line, "Time Trax") || !strings.Contains(line, "Version") {
			log.Debug("tts100: probe reply not recognized", "line", line)
			continue
		}
		maj, min, perr := parseVersion(line)
		if perr != nil {
			log.Warn("tts100: version string unparseable", "line", line, "err", perr)
			continue
		}
		return maj, min, true, nil
	}
	return 0, 0, false, nil
}

// Authenticate runs the challenge/response unlock: send 'A', read a
// 15-byte challenge, build a response from the canned buffer with two
// bytes overwritten per the XOR contract, and send it. Success is
// signalled by a reply whose first byte is 'P' (0x50) or 0x70. Retries
// up to maxAuthAttempts times with retryDelay between attempts; returns
// ErrAuthFailed if every attempt fails.
func Authenticate(ctx context.Context, port transport.Port, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	for attempt := 0; attempt < maxAuthAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := authenticateOnce(ctx, port); err == nil {
			return nil
		} else {
			log.Warn("tts100: authentication attempt failed", "attempt", attempt, "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return ErrAuthFailed
}

func authenticateOnce(ctx context.Context, port transport.Port) error {
	if _, err := port.Write([]byte{'A'}); err != nil {
		return fmt.Errorf("tts100: auth write: %w", err)
	}
	challenge, err := readExactly(ctx, port, challengeLen, silenceWindow)
	if err != nil {
		return fmt.Errorf("tts100: reading challenge: %w", err)
	}
	if len(challenge) < 5 || challenge[0] != 0x3E || challenge[1] != 0x3E {
		return fmt.Errorf("tts100: unexpected challenge header %x", challenge[:2])
	}

	resp := cannedResponse
	resp[18] = challenge[2] ^ 0xAD
	resp[19] = challenge[4] ^ 0x3A
	if _, err := port.Write(resp[:]); err != nil {
		return fmt.Errorf("tts100: response write: %w", err)
	}

	reply, err := readAtLeast(ctx, port, 3, silenceWindow)
	if err != nil {
		return fmt.Errorf("tts100: reading ack: %w", err)
	}
	if reply[0] != 'P' && reply[0] != 0x70 {
		return fmt.Errorf("tts100: radio rejected response (first byte 0x%02x)", reply[0])
	}
	return nil
}

// ProbeBaud and OperatingBaud are the two line speeds used during and
// after the handshake, per spec.md §4.9/§6.
const (
	ProbeBaud     = probeBaud
	OperatingBaud = operatingBaud
)

// readLine accumulates bytes from port until a newline is seen or no
// bytes arrive for window, returning whatever was accumulated.
func readLine(ctx context.Context, port transport.Port, window time.Duration) (string, error) {
	var buf bytes.Buffer
	deadline := time.Now().Add(window)
	tmp := make([]byte, 64)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := port.Read(tmp)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			return "", err
		}
		if n == 0 {
			continue
		}
		buf.Write(tmp[:n])
		deadline = time.Now().Add(window)
		if bytes.ContainsRune(tmp[:n], '\n') {
			break
		}
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("tts100: no reply within %s", window)
	}
	return buf.String(), nil
}

// readExactly blocks until n bytes have been read or window elapses
// with no further progress.
func readExactly(ctx context.Context, port transport.Port, n int, window time.Duration) ([]byte, error) {
	return readAtLeast(ctx, port, n, window)
}

// readAtLeast accumulates bytes until at least n are buffered or window
// elapses with no progress, whichever comes first. It never reads more
// than n bytes from port, so bytes after them stay for the next read.
func readAtLeast(ctx context.Context, port transport.Port, n int, window time.Duration) ([]byte, error) {
	var buf bytes.Buffer
	deadline := time.Now().Add(window)
	tmp := make([]byte, 64)
	for buf.Len() < n && time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		k, err := port.Read(tmp[:min(len(tmp), n-buf.Len())])
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			return nil, err
		}
		if k == 0 {
			continue
		}
		buf.Write(tmp[:k])
		deadline = time.Now().Add(window)
	}
	if buf.Len() < n {
		return nil, fmt.Errorf("tts100: short read (want %d, have %d)", n, buf.Len())
	}
	return buf.Bytes(), nil
}

// parseVersion extracts "major.minor" from a version-probe reply using
// '.', ' ', '\r', '\n' as field separators, per spec.md §4.9.
func parseVersion(line string) (major, minor int, err error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == '.' || r == ' ' || r == '\r' || r == '\n'
	})
	for i, f := range fields {
		if n, convErr := strconv.Atoi(f); convErr == nil && i+1 < len(fields) {
			if m, merr := strconv.Atoi(fields[i+1]); merr == nil {
				return n, m, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("tts100: no major.minor pair found in %q", line)
}
