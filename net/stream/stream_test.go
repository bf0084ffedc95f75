package stream_test

import (
	"bytes"
	"testing"

	"example.com/device-time/net/stream"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	frames := [][]byte{
		{},
		{0x01},
		[]byte("probe"),
		bytes.Repeat([]byte{0xab}, stream.MaxFrameLen),
	}
	for _, f := range frames {
		if err := stream.WriteFrame(&buf, f); err != nil {
			t.Fatal(err)
		}
	}
	b := make([]byte, stream.MaxFrameLen)
	for _, f := range frames {
		n, err := stream.ReadFrame(&buf, b)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(b[:n], f) {
			t.Errorf("frame round trip: got %x, want %x", b[:n], f)
		}
	}
	if buf.Len() != 0 {
		t.Errorf("%d trailing bytes after reading all frames", buf.Len())
	}
}

func TestWriteFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := stream.WriteFrame(&buf, make([]byte, stream.MaxFrameLen+1))
	if err == nil {
		t.Error("oversized frame accepted")
	}
	if buf.Len() != 0 {
		t.Error("oversized frame partially written")
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	if err := stream.WriteFrame(&buf, make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	_, err := stream.ReadFrame(&buf, make([]byte, 99))
	if err == nil {
		t.Error("frame larger than the read buffer accepted")
	}
}

func TestReadFrameTruncated(t *testing.T) {
	r := bytes.NewReader([]byte{0x00, 0x05, 0x01, 0x02})
	_, err := stream.ReadFrame(r, make([]byte, 16))
	if err == nil {
		t.Error("truncated frame accepted")
	}
}
