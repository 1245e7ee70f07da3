package scp

import (
	"bytes"
	"testing"
)

func BenchmarkCompose(b *testing.B) {
	payload := bytes.Repeat([]byte{0x42}, 64)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Compose(payload, uint8(i), 0)
	}
}

func BenchmarkDecode(b *testing.B) {
	frame, _ := Compose(bytes.Repeat([]byte{0x7E}, 64), 3, 0)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := newFilledBuffer(frame)
		Decode(buf, func(Frame) {}, func(Header) {})
	}
}
