// Package dispatch is the pure function that turns a decoded SCP payload
// into zero or more radio events, updating the radio cache along the way.
// Grounded on the teacher's internal/cnl codec's "one payload, one decode
// function" shape, with the opcode table taken from the original SCP
// headers (scp.h: SCP_MSG_ID / SCP_GET_IDS / SCP_SET_IDS / SCP_ASYNC_IDS).
package dispatch

import (
	"log/slog"

	"github.com/kstaniek/sircond/internal/cache"
	"github.com/kstaniek/sircond/internal/events"
)

// Message IDs, the first byte of every SCP payload.
const (
	MsgSet     = 0x00
	MsgSetResp = 0x20
	MsgGet     = 0x40
	MsgGetResp = 0x60
	MsgAsync   = 0x80
)

// GET sub-opcodes.
const (
	GetGain        = 0x02
	GetMute        = 0x03
	GetPower       = 0x07
	GetChannelInfo = 0x08
	GetChannel     = 0x0a
	GetSongInfo    = 0x0d
	GetChannelMap  = 0x10
	GetSID         = 0x11
	GetTZInfo      = 0x12
	GetTime        = 0x13
	GetStatus      = 0x16
	GetRSSI        = 0x18
)

// SET sub-opcodes.
const (
	SetGain    = 0x02
	SetMute    = 0x03
	SetPower   = 0x08
	SetReset   = 0x09
	SetChannel = 0x0a
	SetTZInfo  = 0x0c
)

// ASYNC sub-opcodes.
const (
	AsyncReset    = 0x00
	AsyncSongInfo = 0x01
	AsyncSongID   = 0x02
	AsyncTime     = 0x03
	AsyncStatus   = 0x04
	AsyncSignal   = 0x05
)

// Dispatch decodes one SCP payload into zero or more events, consulting
// and updating c for anything cache-relevant (channel map, current
// channel) before returning so any later cache read is consistent with
// the emitted event. log receives structured warnings for malformed or
// unrecognized payloads; it may be nil only in tests.
func Dispatch(payload []byte, c *cache.Cache, log *slog.Logger) []events.Event {
	if log == nil {
		log = slog.Default()
	}
	if len(payload) < 1 {
		log.Warn("dispatch: empty payload")
		return nil
	}
	switch payload[0] {
	case MsgGetResp:
		return dispatchResp(payload, c, log, true)
	case MsgSetResp:
		return dispatchResp(payload, c, log, false)
	case MsgAsync:
		return dispatchAsync(payload, c, log)
	default:
		log.Warn("dispatch: unrecognized message class", "byte", payload[0])
		return nil
	}
}

func dispatchResp(payload []byte, c *cache.Cache, log *slog.Logger, isGet bool) []events.Event {
	if len(payload) < 2 {
		log.Warn("dispatch: response payload missing sub-opcode")
		return nil
	}
	sub := payload[1]
	body := payload[2:]

	if isGet {
		res, err := events.DecodeGetResult(body)
		if err != nil {
			log.Warn("dispatch: GetResult decode failed", "err", err)
			return nil
		}
		out := []events.Event{res}
		if res.Result != 0 {
			return out
		}
		return append(out, decodeGetBody(sub, body[2:], c, log)...)
	}

	res, err := events.DecodeSetResult(body)
	if err != nil {
		log.Warn("dispatch: SetResult decode failed", "err", err)
		return nil
	}
	out := []events.Event{res}
	if res.Result != 0 {
		return out
	}
	return append(out, decodeSetBody(sub, body[2:], c, log)...)
}

func decodeGetBody(sub uint8, body []byte, c *cache.Cache, log *slog.Logger) []events.Event {
	switch sub {
	case GetGain:
		return decodeOrWarn(log, "Gain", func() (events.Event, error) { return events.DecodeGain(body) })
	case GetMute:
		return decodeOrWarn(log, "Mute", func() (events.Event, error) { return events.DecodeMute(body) })
	case GetPower:
		return decodeOrWarn(log, "Power", func() (events.Event, error) { return events.DecodePower(body) })
	case GetChannelInfo:
		return decodeChannelInfoWithSongInfo(body, log)
	case GetChannel:
		ev, err := events.DecodeChannel(body)
		if err != nil {
			log.Warn("dispatch: Channel decode failed", "err", err)
			return nil
		}
		c.SetCurrentChannel(ev.Channel)
		return []events.Event{ev}
	case GetSongInfo:
		ev, err := events.DecodeSongInfo(body, unknownTagLogger(log))
		if err != nil {
			log.Warn("dispatch: SongInfo decode failed", "err", err)
			return nil
		}
		return []events.Event{ev}
	case GetChannelMap:
		ev, err := events.DecodeChannelMap(body)
		if err != nil {
			log.Warn("dispatch: ChannelMap decode failed", "err", err)
			return nil
		}
		c.SetChannelMap(ev.Bitmap)
		return []events.Event{ev}
	case GetSID:
		return decodeOrWarn(log, "SiriusID", func() (events.Event, error) { return events.DecodeSiriusID(body) })
	case GetTZInfo:
		return decodeOrWarn(log, "TimeZoneInfo", func() (events.Event, error) { return events.DecodeTimeZoneInfo(body) })
	case GetTime:
		return decodeOrWarn(log, "Time", func() (events.Event, error) { return events.DecodeTime(body) })
	case GetStatus:
		return decodeStatusProjection(body, log)
	case GetRSSI:
		return decodeOrWarn(log, "RSSI", func() (events.Event, error) { return events.DecodeRSSI(body) })
	default:
		log.Warn("dispatch: unrecognized GET sub-opcode", "sub", sub)
		return nil
	}
}

func decodeSetBody(sub uint8, body []byte, c *cache.Cache, log *slog.Logger) []events.Event {
	switch sub {
	case SetChannel:
		if len(body) > 4 {
			return decodeChannelInfoWithSongInfo(body, log)
		}
		ev, err := events.DecodeChannel(body)
		if err != nil {
			log.Warn("dispatch: Channel decode failed", "err", err)
			return nil
		}
		c.SetCurrentChannel(ev.Channel)
		return []events.Event{ev}
	case SetGain:
		return decodeOrWarn(log, "Gain", func() (events.Event, error) { return events.DecodeGain(body) })
	case SetMute:
		return decodeOrWarn(log, "Mute", func() (events.Event, error) { return events.DecodeMute(body) })
	case SetPower:
		return decodeOrWarn(log, "Power", func() (events.Event, error) { return events.DecodePower(body) })
	case SetReset:
		return []events.Event{events.Reset{}}
	case SetTZInfo:
		return decodeOrWarn(log, "TimeZoneInfo", func() (events.Event, error) { return events.DecodeTimeZoneInfo(body) })
	default:
		log.Warn("dispatch: unrecognized SET sub-opcode", "sub", sub)
		return nil
	}
}

func dispatchAsync(payload []byte, c *cache.Cache, log *slog.Logger) []events.Event {
	if len(payload) < 2 {
		log.Warn("dispatch: async payload missing sub-opcode")
		return nil
	}
	sub := payload[1]
	body := payload[2:]
	switch sub {
	case AsyncReset:
		return []events.Event{events.Reset{}}
	case AsyncSongInfo:
		return decodeOrWarn(log, "SongInfo", func() (events.Event, error) {
			return events.DecodeSongInfo(body, unknownTagLogger(log))
		})
	case AsyncSongID:
		return decodeOrWarn(log, "SongID", func() (events.Event, error) { return events.DecodeSongID(body) })
	case AsyncTime:
		return decodeOrWarn(log, "Time", func() (events.Event, error) { return events.DecodeTime(body) })
	case AsyncStatus:
		return decodeStatusProjection(body, log)
	case AsyncSignal:
		return decodeOrWarn(log, "Signal", func() (events.Event, error) { return events.DecodeSignal(body) })
	default:
		log.Warn("dispatch: unrecognized ASYNC sub-opcode", "sub", sub)
		return nil
	}
}

// decodeChannelInfoWithSongInfo decodes a ChannelInfo followed immediately
// by a SongInfo against the remainder, per the GET_RESP CHANNELINFO /
// SET_RESP CHANNEL (len>4) framing.
func decodeChannelInfoWithSongInfo(body []byte, log *slog.Logger) []events.Event {
	ci, n, err := events.DecodeChannelInfo(body)
	if err != nil {
		log.Warn("dispatch: ChannelInfo decode failed", "err", err)
		return nil
	}
	out := []events.Event{ci}
	if n >= len(body) {
		return out
	}
	si, err := events.DecodeSongInfo(body[n:], unknownTagLogger(log))
	if err != nil {
		log.Warn("dispatch: trailing SongInfo decode failed", "err", err)
		return out
	}
	si.Channel = ci.Channel
	return append(out, si)
}

// decodeStatusProjection decodes a Status payload and, per its type field,
// re-projects it into a dedicated Signal or Antenna event alongside the
// raw Status event.
func decodeStatusProjection(body []byte, log *slog.Logger) []events.Event {
	st, err := events.DecodeStatus(body)
	if err != nil {
		log.Warn("dispatch: Status decode failed", "err", err)
		return nil
	}
	out := []events.Event{st}
	const (
		stTune    = 0x00
		stSignal  = 0x01
		stAntenna = 0x02
	)
	switch st.Type {
	case stSignal:
		out = append(out, events.Signal{Signal: st.Status1})
	case stAntenna:
		out = append(out, events.Antenna{Antenna: st.Status1})
	case stTune:
		// tune-complete carries no dedicated projection
	}
	return out
}

func decodeOrWarn(log *slog.Logger, name string, decode func() (events.Event, error)) []events.Event {
	ev, err := decode()
	if err != nil {
		log.Warn("dispatch: decode failed", "event", name, "err", err)
		return nil
	}
	return []events.Event{ev}
}

func unknownTagLogger(log *slog.Logger) func(tag uint8) {
	return func(tag uint8) {
		log.Warn("dispatch: unrecognized SongInfo tag", "tag", tag)
	}
}
