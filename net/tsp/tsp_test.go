package tsp_test

import (
	"bytes"
	"math"
	"testing"

	"example.com/device-time/net/tsp"
)

func TestQueryRoundTrip(t *testing.T) {
	vs := []int64{0, 1, -1, 1_234_567_890, math.MaxInt64, math.MinInt64}
	for _, v := range vs {
		var b []byte
		q0 := tsp.Query{Query: v}
		tsp.EncodeQuery(&b, &q0)
		if len(b) != tsp.QueryLen {
			t.Fatalf("encoded query length: got %d, want %d", len(b), tsp.QueryLen)
		}
		var q1 tsp.Query
		err := tsp.DecodeQuery(&q1, b)
		if err != nil {
			t.Fatal(err)
		}
		if q1.Query != v {
			t.Fail()
		}
	}
}

func TestReplyRoundTrip(t *testing.T) {
	r0 := tsp.Reply{Query: 77_000_000, Response: -3}
	var b []byte
	tsp.EncodeReply(&b, &r0)
	if len(b) != tsp.ReplyLen {
		t.Fatalf("encoded reply length: got %d, want %d", len(b), tsp.ReplyLen)
	}
	var r1 tsp.Reply
	err := tsp.DecodeReply(&r1, b)
	if err != nil {
		t.Fatal(err)
	}
	if r1 != r0 {
		t.Fail()
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	var q tsp.Query
	var r tsp.Reply

	if err := tsp.DecodeQuery(&q, make([]byte, tsp.QueryLen-1)); err == nil {
		t.Error("short query accepted")
	}
	if err := tsp.DecodeReply(&r, make([]byte, tsp.ReplyLen+1)); err == nil {
		t.Error("long reply accepted")
	}

	var b []byte
	tsp.EncodeReply(&b, &tsp.Reply{Query: 1, Response: 2})
	b[0] = tsp.MsgTypeQuery
	if err := tsp.DecodeReply(&r, b); err == nil {
		t.Error("wrong message type accepted")
	}
	b[0] = tsp.MsgTypeReply
	b[1] = tsp.Version + 1
	if err := tsp.DecodeReply(&r, b); err == nil {
		t.Error("wrong version accepted")
	}
}

func TestSealedQueryRoundTrip(t *testing.T) {
	aead, err := tsp.NewAEAD(tsp.GenerateKey())
	if err != nil {
		t.Fatal(err)
	}
	q0 := tsp.Query{Query: 42_000_000}
	var b0, b1 []byte
	if err = tsp.EncodeSealedQuery(&b0, aead, &q0); err != nil {
		t.Fatal(err)
	}
	if len(b0) != tsp.SealedQueryLen {
		t.Fatalf("sealed query length: got %d, want %d", len(b0), tsp.SealedQueryLen)
	}
	if err = tsp.EncodeSealedQuery(&b1, aead, &q0); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(b0, b1) {
		t.Error("sealed frames do not differ between encodings")
	}
	var q1 tsp.Query
	if err = tsp.DecodeSealedQuery(&q1, aead, b0); err != nil {
		t.Fatal(err)
	}
	if q1 != q0 {
		t.Fail()
	}
}

func TestSealedReplyRejectsTampering(t *testing.T) {
	aead, err := tsp.NewAEAD(tsp.GenerateKey())
	if err != nil {
		t.Fatal(err)
	}
	r0 := tsp.Reply{Query: 7, Response: 9}
	var b []byte
	if err = tsp.EncodeSealedReply(&b, aead, &r0); err != nil {
		t.Fatal(err)
	}

	var r1 tsp.Reply
	b[len(b)-1] ^= 0x01
	if err = tsp.DecodeSealedReply(&r1, aead, b); err == nil {
		t.Error("tampered ciphertext accepted")
	}
	b[len(b)-1] ^= 0x01

	b[2] ^= 0x01
	if err = tsp.DecodeSealedReply(&r1, aead, b); err == nil {
		t.Error("tampered header accepted")
	}
	b[2] ^= 0x01

	if err = tsp.DecodeSealedReply(&r1, aead, b); err != nil {
		t.Fatal(err)
	}
	if r1 != r0 {
		t.Fail()
	}

	other, err := tsp.NewAEAD(tsp.GenerateKey())
	if err != nil {
		t.Fatal(err)
	}
	if err = tsp.DecodeSealedReply(&r1, other, b); err == nil {
		t.Error("frame sealed with a different key accepted")
	}
}
