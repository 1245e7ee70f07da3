// Package command implements the line-oriented control protocol spec.md
// §4.11 describes: a parser/verb-dispatch table with arity and
// authorization validators that never mutate, handlers that enqueue a
// radio request through the link engine and render the bit-exact reply
// lines of spec.md §6, and the control-arbitration wiring (CONTROL
// ACQUIRE/RELEASE) on top of internal/arbiter. Grounded on the
// teacher's option-function registration idiom (internal/server's
// ServerOption table) generalized into a static verb table, since both
// are "name maps to a typed constructor/handler, validated up front."
package command

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kstaniek/sircond/internal/arbiter"
	"github.com/kstaniek/sircond/internal/bus"
	"github.com/kstaniek/sircond/internal/dispatch"
	"github.com/kstaniek/sircond/internal/events"
	"github.com/kstaniek/sircond/internal/link"
)

// Enqueuer is the subset of *link.Engine the command layer depends on,
// kept as an interface so tests can substitute a fake without a real
// serial port.
type Enqueuer interface {
	Enqueue(payload []byte) (<-chan link.Result, error)
}

// Processor parses client command lines, authorizes them against the
// control arbiter, and enqueues the resulting SCP payload through the
// link engine.
type Processor struct {
	Arb *arbiter.Arbiter
	Bus *bus.Bus
	Eng Enqueuer
	Log *slog.Logger
}

// New builds a Processor. log may be nil (slog.Default() is used).
func New(arb *arbiter.Arbiter, b *bus.Bus, eng Enqueuer, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{Arb: arb, Bus: b, Eng: eng, Log: log}
}

// verbSpec describes one GET/SET "what" keyword: its SCP sub-opcode, the
// inclusive range of extra argument tokens it accepts beyond "GET/SET
// <what>", and how to turn those argument tokens into the bytes
// following the sub-opcode in the outbound payload.
type verbSpec struct {
	sub     uint8
	minArgs int
	maxArgs int
	encode  func(args []string) ([]byte, error)
}

func noArgs(args []string) ([]byte, error) { return nil, nil }

func u8Arg(args []string) ([]byte, error) {
	n, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("expected an 8-bit value, got %q", args[0])
	}
	return []byte{byte(n)}, nil
}

func i8Arg(args []string) ([]byte, error) {
	n, err := strconv.ParseInt(args[0], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("expected a signed 8-bit value, got %q", args[0])
	}
	return []byte{byte(int8(n))}, nil
}

func optionalChannelArg(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return u8Arg(args)
}

func tzInfoArg(args []string) ([]byte, error) {
	offset, err := strconv.ParseInt(args[0], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("expected a signed 16-bit offset in minutes, got %q", args[0])
	}
	buf := make([]byte, 2, 3)
	binary.BigEndian.PutUint16(buf, uint16(int16(offset)))
	if len(args) == 2 {
		dst, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("expected an 8-bit dst flag, got %q", args[1])
		}
		buf = append(buf, byte(dst))
	}
	return buf, nil
}

var getSpecs = map[string]verbSpec{
	"GAIN":        {sub: dispatch.GetGain, encode: noArgs},
	"MUTE":        {sub: dispatch.GetMute, encode: noArgs},
	"POWER":       {sub: dispatch.GetPower, encode: noArgs},
	"CHANNEL":     {sub: dispatch.GetChannel, encode: noArgs},
	"CHANNELINFO": {sub: dispatch.GetChannelInfo, maxArgs: 1, encode: optionalChannelArg},
	"SONGINFO":    {sub: dispatch.GetSongInfo, maxArgs: 1, encode: optionalChannelArg},
	"CHANNELMAP":  {sub: dispatch.GetChannelMap, encode: noArgs},
	"SID":         {sub: dispatch.GetSID, encode: noArgs},
	"TZINFO":      {sub: dispatch.GetTZInfo, encode: noArgs},
	"TIME":        {sub: dispatch.GetTime, encode: noArgs},
	"STATUS":      {sub: dispatch.GetStatus, encode: noArgs},
	"RSSI":        {sub: dispatch.GetRSSI, encode: noArgs},
}

var setSpecs = map[string]verbSpec{
	"GAIN":    {sub: dispatch.SetGain, minArgs: 1, maxArgs: 1, encode: i8Arg},
	"MUTE":    {sub: dispatch.SetMute, minArgs: 1, maxArgs: 1, encode: u8Arg},
	"POWER":   {sub: dispatch.SetPower, minArgs: 1, maxArgs: 1, encode: u8Arg},
	"CHANNEL": {sub: dispatch.SetChannel, minArgs: 1, maxArgs: 1, encode: u8Arg},
	"RESET":   {sub: dispatch.SetReset, encode: noArgs},
	"TZINFO":  {sub: dispatch.SetTZInfo, minArgs: 1, maxArgs: 2, encode: tzInfoArg},
}

// Outcome is what the server's reader loop does after Handle returns.
type Outcome struct {
	// Reply is the line (without trailing \n) to write back to the
	// issuing client, or "" if nothing should be written.
	Reply string
	// Quit is true if the client requested QUIT and should be dropped.
	Quit bool
}

func reply(s string) Outcome { return Outcome{Reply: s} }

// Handle parses and executes one command line from client id.
func (p *Processor) Handle(id arbiter.ClientID, line string) Outcome {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return Outcome{}
	}
	verb := strings.ToUpper(tokens[0])
	args := tokens[1:]

	switch verb {
	case "GET":
		return p.handleGet(args)
	case "SET":
		return p.handleSet(id, args)
	case "CONTROL":
		return p.handleControl(id, args)
	case "QUIT":
		if len(args) != 0 {
			return reply("ERROR")
		}
		return Outcome{Quit: true}
	default:
		p.Log.Warn("command: unrecognized verb", "verb", tokens[0])
		return Outcome{}
	}
}

func (p *Processor) handleGet(args []string) Outcome {
	if len(args) < 1 {
		return reply("ERROR")
	}
	what := strings.ToUpper(args[0])
	spec, ok := getSpecs[what]
	if !ok {
		return reply("ERROR")
	}
	extra := args[1:]
	if len(extra) < spec.minArgs || len(extra) > spec.maxArgs {
		return reply("ERROR")
	}
	body, err := spec.encode(extra)
	if err != nil {
		return reply("ERROR")
	}
	payload := append([]byte{dispatch.MsgGet, spec.sub}, body...)
	return p.enqueueAndReply(payload)
}

func (p *Processor) handleSet(id arbiter.ClientID, args []string) Outcome {
	if len(args) < 1 {
		return reply("ERROR")
	}
	what := strings.ToUpper(args[0])
	spec, ok := setSpecs[what]
	if !ok {
		return reply("ERROR")
	}
	if !p.Arb.IsHolder(id) {
		return reply("ERROR")
	}
	extra := args[1:]
	if len(extra) < spec.minArgs || len(extra) > spec.maxArgs {
		return reply("ERROR")
	}
	body, err := spec.encode(extra)
	if err != nil {
		return reply("ERROR")
	}
	payload := append([]byte{dispatch.MsgSet, spec.sub}, body...)
	return p.enqueueAndReply(payload)
}

func (p *Processor) enqueueAndReply(payload []byte) Outcome {
	ch, err := p.Eng.Enqueue(payload)
	if err != nil {
		return reply("ERROR")
	}
	res := <-ch
	switch res {
	case link.ResultSuccess:
		return reply("OK")
	case link.ResultTimeout:
		return reply("TIMEOUT")
	default: // ResultNoMemory, ResultShutdown
		return reply("ERROR")
	}
}

func (p *Processor) handleControl(id arbiter.ClientID, args []string) Outcome {
	if len(args) != 1 {
		return reply("ERROR")
	}
	switch strings.ToUpper(args[0]) {
	case "ACQUIRE":
		switch p.Arb.Acquire(id) {
		case arbiter.Acquired:
			return reply("CONTROL,ACQUIRED")
		default:
			return reply("CONTROL,PENDING")
		}
	case "RELEASE":
		next, promoted := p.Arb.Release(id)
		if promoted {
			p.notifyAcquired(next)
		}
		return reply("CONTROL,RELEASED")
	default:
		return reply("ERROR")
	}
}

// Detach removes id from control arbitration entirely (client drop) and
// notifies the promoted waiter, if any, exactly once.
func (p *Processor) Detach(id arbiter.ClientID) {
	next, promoted := p.Arb.Detach(id)
	if promoted {
		p.notifyAcquired(next)
	}
}

func (p *Processor) notifyAcquired(id arbiter.ClientID) {
	if !p.Bus.Unicast(id, "CONTROL,ACQUIRED") {
		p.Log.Warn("command: promoted waiter vanished before notification", "client", id)
	}
}

// FanEvent renders ev and routes it per spec.md §4.11: GetResult/
// SetResult go only to the current control holder (if any, since they
// correlate to that client's pending request); everything else
// broadcasts to every connected client regardless of control state.
func FanEvent(ev events.Event, arb *arbiter.Arbiter, b *bus.Bus) {
	line := ev.Render()
	switch ev.(type) {
	case events.GetResult, events.SetResult:
		if holder, ok := arb.Holder(); ok {
			b.Unicast(holder, line)
		}
	default:
		b.Broadcast(line)
	}
}
