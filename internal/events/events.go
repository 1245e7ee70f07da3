// Package events defines the closed set of typed radio events the link
// engine's dispatcher produces, each with a wire decoder and a bit-exact
// text rendering for the TCP command protocol. Grounded on the teacher's
// internal/cnl message types for the decode shape and on the original
// scevents.h struct layouts for field order and rendering.
package events

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Event is implemented by every radio event variant. Render produces the
// exact text line (without trailing newline) the command layer writes to
// subscribed clients.
type Event interface {
	Render() string
}

// pascalString reads a leading u8 length followed by that many bytes and
// returns the string plus the number of bytes consumed.
func pascalString(data []byte) (string, int, error) {
	if len(data) < 1 {
		return "", 0, fmt.Errorf("events: truncated pascal-string length")
	}
	n := int(data[0])
	if len(data) < 1+n {
		return "", 0, fmt.Errorf("events: truncated pascal-string body (want %d, have %d)", n, len(data)-1)
	}
	return string(data[1 : 1+n]), 1 + n, nil
}

// Startup is emitted once the link engine completes its handshake.
type Startup struct{}

func (Startup) Render() string { return "STARTUP" }

// Shutdown is emitted when the link engine tears itself down.
type Shutdown struct{}

func (Shutdown) Render() string { return "SHUTDOWN" }

// Reset is emitted when the radio reports a reset.
type Reset struct{}

func (Reset) Render() string { return "RESET" }

// GetResult carries the outcome of a GET request.
type GetResult struct {
	Result uint16
}

// DecodeGetResult decodes a GetResult payload: result:u16 big-endian.
func DecodeGetResult(data []byte) (GetResult, error) {
	if len(data) < 2 {
		return GetResult{}, fmt.Errorf("events: GetResult payload too short")
	}
	return GetResult{Result: binary.BigEndian.Uint16(data)}, nil
}

func (e GetResult) Render() string { return fmt.Sprintf("GET,%d", e.Result) }

// SetResult carries the outcome of a SET request.
type SetResult struct {
	Result uint16
}

// DecodeSetResult decodes a SetResult payload: result:u16 big-endian.
func DecodeSetResult(data []byte) (SetResult, error) {
	if len(data) < 2 {
		return SetResult{}, fmt.Errorf("events: SetResult payload too short")
	}
	return SetResult{Result: binary.BigEndian.Uint16(data)}, nil
}

func (e SetResult) Render() string { return fmt.Sprintf("SET,%d", e.Result) }

// SiriusID carries the radio's subscription identifier.
type SiriusID struct {
	SID string
}

// DecodeSiriusID decodes a pascal-string payload.
func DecodeSiriusID(data []byte) (SiriusID, error) {
	s, _, err := pascalString(data)
	if err != nil {
		return SiriusID{}, err
	}
	return SiriusID{SID: s}, nil
}

func (e SiriusID) Render() string { return fmt.Sprintf("SID,%s", e.SID) }

// Gain carries the signed dB gain setting.
type Gain struct {
	Gain int8
}

// DecodeGain decodes a single signed byte payload.
func DecodeGain(data []byte) (Gain, error) {
	if len(data) < 1 {
		return Gain{}, fmt.Errorf("events: Gain payload too short")
	}
	return Gain{Gain: int8(data[0])}, nil
}

func (e Gain) Render() string { return fmt.Sprintf("GAIN,%d", e.Gain) }

// Mute carries the mute flag.
type Mute struct {
	Mute uint8
}

// DecodeMute decodes a single byte payload.
func DecodeMute(data []byte) (Mute, error) {
	if len(data) < 1 {
		return Mute{}, fmt.Errorf("events: Mute payload too short")
	}
	return Mute{Mute: data[0]}, nil
}

func (e Mute) Render() string { return fmt.Sprintf("MUTE,%d", e.Mute) }

// SongID carries the current song's Sirius song identifier string.
type SongID struct {
	SongID string
}

// DecodeSongID decodes a pascal-string payload.
func DecodeSongID(data []byte) (SongID, error) {
	s, _, err := pascalString(data)
	if err != nil {
		return SongID{}, err
	}
	return SongID{SongID: s}, nil
}

func (e SongID) Render() string { return fmt.Sprintf("SONGID,%q", e.SongID) }

// Channel carries the channel the radio is now tuned to.
type Channel struct {
	Channel uint8
}

// DecodeChannel decodes a single byte payload.
func DecodeChannel(data []byte) (Channel, error) {
	if len(data) < 1 {
		return Channel{}, fmt.Errorf("events: Channel payload too short")
	}
	return Channel{Channel: data[0]}, nil
}

func (e Channel) Render() string { return fmt.Sprintf("CHANNEL,%d", e.Channel) }

// ChannelInfo describes one channel's genre and display names.
type ChannelInfo struct {
	Channel uint8
	Genre   uint8
	SName   string
	LName   string
	SGenre  string
	LGenre  string
}

// DecodeChannelInfo decodes: channel:u8, genre:u8, 3 reserved bytes, then
// sname, lname, sgenre, lgenre as pascal-strings in that order. It returns
// the number of bytes consumed so callers can decode a trailing SongInfo
// from the remainder (GET_RESP CHANNELINFO / SET_RESP CHANNEL framing).
func DecodeChannelInfo(data []byte) (ChannelInfo, int, error) {
	if len(data) < 5 {
		return ChannelInfo{}, 0, fmt.Errorf("events: ChannelInfo payload too short")
	}
	ci := ChannelInfo{Channel: data[0], Genre: data[1]}
	off := 5 // channel + genre + 3 reserved
	var err error
	if ci.SName, off, err = advancePascal(data, off); err != nil {
		return ChannelInfo{}, 0, err
	}
	if ci.LName, off, err = advancePascal(data, off); err != nil {
		return ChannelInfo{}, 0, err
	}
	if ci.SGenre, off, err = advancePascal(data, off); err != nil {
		return ChannelInfo{}, 0, err
	}
	if ci.LGenre, off, err = advancePascal(data, off); err != nil {
		return ChannelInfo{}, 0, err
	}
	return ci, off, nil
}

// advancePascal reads a pascal-string starting at data[off] and returns
// the decoded string along with the new offset.
func advancePascal(data []byte, off int) (string, int, error) {
	if off > len(data) {
		return "", off, fmt.Errorf("events: offset %d past payload end (%d)", off, len(data))
	}
	s, n, err := pascalString(data[off:])
	if err != nil {
		return "", off, err
	}
	return s, off + n, nil
}

func (e ChannelInfo) Render() string {
	return fmt.Sprintf("CHANNELINFO,%d,%d,%q,%q,%q,%q", e.Channel, e.Genre, e.LName, e.SName, e.LGenre, e.SGenre)
}

// ChannelMap is the 224-channel validity bitmap, copied verbatim into the
// radio cache under its lock before this event is emitted.
type ChannelMap struct {
	Bitmap [28]byte
}

// DecodeChannelMap decodes the fixed 28-byte bitmap.
func DecodeChannelMap(data []byte) (ChannelMap, error) {
	if len(data) < 28 {
		return ChannelMap{}, fmt.Errorf("events: ChannelMap payload too short")
	}
	var m ChannelMap
	copy(m.Bitmap[:], data[:28])
	return m, nil
}

func (ChannelMap) Render() string { return "CHANNELMAP" }

// Status reports a tune/signal/antenna status code pair.
type Status struct {
	Type    uint8
	Status1 uint8
	Status2 uint8
}

// DecodeStatus decodes: type:u8, status1:u8, status2:u8.
func DecodeStatus(data []byte) (Status, error) {
	if len(data) < 3 {
		return Status{}, fmt.Errorf("events: Status payload too short")
	}
	return Status{Type: data[0], Status1: data[1], Status2: data[2]}, nil
}

func (e Status) Render() string {
	return fmt.Sprintf("STATUS,%d,%d,%d", e.Type, e.Status1, e.Status2)
}

// RSSI carries the composite, satellite, and terrestrial signal strengths.
type RSSI struct {
	Composite   uint8
	Satellite   uint8
	Terrestrial uint8
}

// DecodeRSSI decodes: composite:u8, satellite:u8, terrestrial:u8.
func DecodeRSSI(data []byte) (RSSI, error) {
	if len(data) < 3 {
		return RSSI{}, fmt.Errorf("events: RSSI payload too short")
	}
	return RSSI{Composite: data[0], Satellite: data[1], Terrestrial: data[2]}, nil
}

func (e RSSI) Render() string {
	return fmt.Sprintf("RSSI,%d,%d,%d", e.Composite, e.Satellite, e.Terrestrial)
}

// Signal reports whether satellite signal has been acquired or lost.
type Signal struct {
	Signal uint8
}

// DecodeSignal decodes a single byte payload.
func DecodeSignal(data []byte) (Signal, error) {
	if len(data) < 1 {
		return Signal{}, fmt.Errorf("events: Signal payload too short")
	}
	return Signal{Signal: data[0]}, nil
}

func (e Signal) Render() string { return fmt.Sprintf("SIGNAL,%d", e.Signal) }

// Antenna reports whether the antenna is connected or disconnected.
type Antenna struct {
	Antenna uint8
}

// DecodeAntenna decodes a single byte payload.
func DecodeAntenna(data []byte) (Antenna, error) {
	if len(data) < 1 {
		return Antenna{}, fmt.Errorf("events: Antenna payload too short")
	}
	return Antenna{Antenna: data[0]}, nil
}

func (e Antenna) Render() string { return fmt.Sprintf("ANTENNA,%d", e.Antenna) }

// Power carries the current power state.
type Power struct {
	Power uint8
}

// DecodePower decodes a single byte payload.
func DecodePower(data []byte) (Power, error) {
	if len(data) < 1 {
		return Power{}, fmt.Errorf("events: Power payload too short")
	}
	return Power{Power: data[0]}, nil
}

func (e Power) Render() string { return fmt.Sprintf("POWER,%d", e.Power) }

// TimeZoneInfo carries the configured UTC offset and DST flag.
type TimeZoneInfo struct {
	OffsetMinutes int16
	DST           uint8
}

// DecodeTimeZoneInfo decodes: offset_minutes:i16 big-endian, dst:u8.
func DecodeTimeZoneInfo(data []byte) (TimeZoneInfo, error) {
	if len(data) < 3 {
		return TimeZoneInfo{}, fmt.Errorf("events: TimeZoneInfo payload too short")
	}
	return TimeZoneInfo{
		OffsetMinutes: int16(binary.BigEndian.Uint16(data)),
		DST:           data[2],
	}, nil
}

func (e TimeZoneInfo) Render() string {
	return fmt.Sprintf("TZINFO,%d,%d", e.OffsetMinutes, e.DST)
}

// Time carries the radio's current date and time.
type Time struct {
	Year uint16
	Mon  uint8
	Day  uint8
	Hour uint8
	Min  uint8
	Sec  uint8
	DOW  uint8 // 0 == Sunday
	DST  uint8
}

// DecodeTime decodes: year:u16 big-endian, mon,day,hour,min,sec,dow,dst each u8.
func DecodeTime(data []byte) (Time, error) {
	if len(data) < 9 {
		return Time{}, fmt.Errorf("events: Time payload too short")
	}
	return Time{
		Year: binary.BigEndian.Uint16(data),
		Mon:  data[2],
		Day:  data[3],
		Hour: data[4],
		Min:  data[5],
		Sec:  data[6],
		DOW:  data[7],
		DST:  data[8],
	}, nil
}

func (e Time) Render() string {
	return fmt.Sprintf("TIME,%d,%d,%d,%d,%d,%d,%d,%d", e.Year, e.Mon, e.Day, e.Hour, e.Min, e.Sec, e.DOW, e.DST)
}

// SongInfo tag identifiers, per the original protocol's SONGINFOTAG enum.
const (
	tagArtist   = 0x01
	tagTitle    = 0x02
	tagAlbum    = 0x03
	tagComposer = 0x06
	tagSongID   = 0x86
	tagArtistID = 0x88
	tagErase    = 0xE0
)

// SongInfo describes the track currently playing on a channel. Channel is
// filled in by the dispatcher from the enclosing ChannelInfo/Channel event
// when the two are decoded back to back against the same payload.
type SongInfo struct {
	Channel  uint8
	Title    string
	Artist   string
	Album    string
	Composer string
	SongID   string
	ArtistID string
}

// DecodeSongInfo decodes: n:u8 then n {tag:u8, pascal-string} fields.
// Tags not in the known set are logged by the caller and skipped (their
// pascal-string body is still consumed so decoding stays in sync); ERASE
// carries no body.
func DecodeSongInfo(data []byte, onUnknownTag func(tag uint8)) (SongInfo, error) {
	if len(data) < 1 {
		return SongInfo{}, fmt.Errorf("events: SongInfo payload too short")
	}
	n := int(data[0])
	off := 1
	var si SongInfo
	for i := 0; i < n; i++ {
		if off >= len(data) {
			return SongInfo{}, fmt.Errorf("events: SongInfo truncated at field %d", i)
		}
		tag := data[off]
		off++
		if tag == tagErase {
			continue
		}
		var s string
		var err error
		s, off, err = advancePascal(data, off)
		if err != nil {
			return SongInfo{}, err
		}
		switch tag {
		case tagArtist:
			si.Artist = s
		case tagTitle:
			si.Title = s
		case tagAlbum:
			si.Album = s
		case tagComposer:
			si.Composer = s
		case tagSongID:
			si.SongID = s
		case tagArtistID:
			si.ArtistID = s
		default:
			if onUnknownTag != nil {
				onUnknownTag(tag)
			}
		}
	}
	return si, nil
}

func (e SongInfo) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "SONGINFO,%d,%q,%q,%q,%q,%q", e.Channel, e.SongID, e.ArtistID, e.Title, e.Artist, e.Composer)
	return b.String()
}
