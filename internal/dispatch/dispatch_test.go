package dispatch

import (
	"testing"

	"github.com/kstaniek/sircond/internal/cache"
	"github.com/kstaniek/sircond/internal/events"
)

func TestDispatch_GetRespChannel_UpdatesCache(t *testing.T) {
	c := cache.New()
	payload := []byte{MsgGetResp, GetChannel, 0x00, 0x00, 42}
	evs := Dispatch(payload, c, nil)

	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2 (GetResult, Channel)", len(evs))
	}
	ch, ok := evs[1].(events.Channel)
	if !ok || ch.Channel != 42 {
		t.Fatalf("events[1] = %+v, want Channel{42}", evs[1])
	}
	got, ok := c.CurrentChannel()
	if !ok || got != 42 {
		t.Fatalf("cache current channel = (%d,%v), want (42,true)", got, ok)
	}
}

func TestDispatch_GetRespNonZeroResult_StopsAtResult(t *testing.T) {
	c := cache.New()
	payload := []byte{MsgGetResp, GetChannel, 0x00, 0x01, 42}
	evs := Dispatch(payload, c, nil)
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1 (GetResult only)", len(evs))
	}
	res, ok := evs[0].(events.GetResult)
	if !ok || res.Result != 1 {
		t.Fatalf("events[0] = %+v, want GetResult{1}", evs[0])
	}
}

func TestDispatch_GetRespChannelMap_UpdatesCache(t *testing.T) {
	c := cache.New()
	var bitmap [28]byte
	bitmap[0] = 0x80
	payload := append([]byte{MsgGetResp, GetChannelMap, 0x00, 0x00}, bitmap[:]...)
	evs := Dispatch(payload, c, nil)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	if !c.IsValidChannel(223) {
		t.Fatalf("channel 223 should be marked valid from the decoded bitmap")
	}
}

func TestDispatch_GetRespChannelInfo_WithTrailingSongInfo(t *testing.T) {
	c := cache.New()
	ci := []byte{7, 1, 0, 0, 0}              // channel, genre, reserved x3
	ci = append(ci, 1, 'S')                  // sname
	ci = append(ci, 1, 'L')                  // lname
	ci = append(ci, 1, 'g')                  // sgenre
	ci = append(ci, 1, 'G')                  // lgenre
	si := []byte{1, 0x02, 3, 'F', 'o', 'o'}  // n=1, title="Foo"
	body := append(ci, si...)
	payload := append([]byte{MsgGetResp, GetChannelInfo, 0x00, 0x00}, body...)

	evs := Dispatch(payload, c, nil)
	if len(evs) != 3 {
		t.Fatalf("got %d events, want 3 (GetResult, ChannelInfo, SongInfo)", len(evs))
	}
	si2, ok := evs[2].(events.SongInfo)
	if !ok || si2.Title != "Foo" || si2.Channel != 7 {
		t.Fatalf("events[2] = %+v, want SongInfo{Channel:7, Title:Foo}", evs[2])
	}
}

func TestDispatch_Async_Status_ProjectsSignal(t *testing.T) {
	c := cache.New()
	payload := []byte{MsgAsync, AsyncStatus, 0x01, 0x01, 0x00} // type=signal, status1=1
	evs := Dispatch(payload, c, nil)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2 (Status, Signal)", len(evs))
	}
	sig, ok := evs[1].(events.Signal)
	if !ok || sig.Signal != 1 {
		t.Fatalf("events[1] = %+v, want Signal{1}", evs[1])
	}
}

func TestDispatch_Async_Reset(t *testing.T) {
	c := cache.New()
	evs := Dispatch([]byte{MsgAsync, AsyncReset}, c, nil)
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	if _, ok := evs[0].(events.Reset); !ok {
		t.Fatalf("events[0] = %+v, want Reset", evs[0])
	}
}

func TestDispatch_UnrecognizedMessageClass(t *testing.T) {
	c := cache.New()
	evs := Dispatch([]byte{0xFF}, c, nil)
	if evs != nil {
		t.Fatalf("got %+v, want nil", evs)
	}
}

func TestDispatch_SetRespChannel_LongPayloadDecodesChannelInfo(t *testing.T) {
	c := cache.New()
	ci := []byte{3, 2, 0, 0, 0}
	ci = append(ci, 1, 'A', 1, 'B', 1, 'C', 1, 'D')
	payload := append([]byte{MsgSetResp, SetChannel, 0x00, 0x00}, ci...)

	evs := Dispatch(payload, c, nil)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2 (SetResult, ChannelInfo)", len(evs))
	}
	if _, ok := evs[1].(events.ChannelInfo); !ok {
		t.Fatalf("events[1] = %+v, want ChannelInfo", evs[1])
	}
}
