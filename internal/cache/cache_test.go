package cache

import "testing"

func TestCache_IsValidChannel(t *testing.T) {
	c := New()
	var bitmap [BitmapSize]byte
	bitmap[BitmapSize-1] = 0x01 // channel 0 bit set
	bitmap[0] = 0x80            // channel 223 bit set
	c.SetChannelMap(bitmap)

	if !c.IsValidChannel(0) {
		t.Fatalf("channel 0 should be valid")
	}
	if !c.IsValidChannel(223) {
		t.Fatalf("channel 223 should be valid")
	}
	if c.IsValidChannel(1) {
		t.Fatalf("channel 1 should not be valid")
	}
}

func TestCache_IsValidChannel_OutOfRange(t *testing.T) {
	c := New()
	if c.IsValidChannel(224) {
		t.Fatalf("channel 224 is out of range and must be invalid")
	}
	if c.IsValidChannel(255) {
		t.Fatalf("channel 255 (SCP_INVALID_CHANNEL) must be invalid")
	}
}

func TestCache_CurrentChannel_UnsetUntilObserved(t *testing.T) {
	c := New()
	if _, ok := c.CurrentChannel(); ok {
		t.Fatalf("current channel should be unset before any SetCurrentChannel call")
	}
	c.SetCurrentChannel(12)
	ch, ok := c.CurrentChannel()
	if !ok || ch != 12 {
		t.Fatalf("CurrentChannel() = (%d, %v), want (12, true)", ch, ok)
	}
}

func TestCache_ChannelMap_ReturnsCopy(t *testing.T) {
	c := New()
	var bitmap [BitmapSize]byte
	bitmap[0] = 0xFF
	c.SetChannelMap(bitmap)

	got := c.ChannelMap()
	got[0] = 0x00 // mutate the copy

	if c.ChannelMap()[0] != 0xFF {
		t.Fatalf("mutating the returned copy affected the cache's internal state")
	}
}
