package frame

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

// TestRapidRoundTrip is the property from §8: for any payload P <= 253
// bytes and any seq s, decode(encode(s, P)) == (s, P, err=false).
func TestRapidRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		seq := uint8(rapid.IntRange(0, 255).Draw(rt, "seq"))
		payload := rapid.SliceOfN(rapid.Byte(), 1, MaxPayloadSize).Draw(rt, "payload")

		var out bytes.Buffer
		w := NewWriter(func(b byte) error {
			out.WriteByte(b)
			return nil
		})
		if err := w.Encode(seq, payload); err != nil {
			rt.Fatalf("Encode: %v", err)
		}

		var gotSeq uint8
		var gotPayload []byte
		var gotErr bool
		var n int
		r := NewReader()
		for _, b := range out.Bytes() {
			r.Feed(b, func(s uint8, p []byte, e bool) {
				n++
				gotSeq, gotPayload, gotErr = s, append([]byte(nil), p...), e
			})
		}
		if n != 1 {
			rt.Fatalf("expected exactly one decoded frame, got %d", n)
		}
		if gotSeq != seq || gotErr || !bytes.Equal(gotPayload, payload) {
			rt.Fatalf("round trip mismatch: seq=%d payload=%x err=%v, want seq=%d payload=%x err=false",
				gotSeq, gotPayload, gotErr, seq, payload)
		}
	})
}

// TestRapidStuffedCharset is the invariant from §8: after stripping the
// bracketing flag bytes, the stuffed stream only ever contains bytes in
// {0x00..0x7C, 0x7D x, 0x7F..0xFF} with x in {0x5D, 0x5E}.
func TestRapidStuffedCharset(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		seq := uint8(rapid.IntRange(0, 255).Draw(rt, "seq"))
		payload := rapid.SliceOfN(rapid.Byte(), 1, MaxPayloadSize).Draw(rt, "payload")

		var out bytes.Buffer
		w := NewWriter(func(b byte) error {
			out.WriteByte(b)
			return nil
		})
		if err := w.Encode(seq, payload); err != nil {
			rt.Fatalf("Encode: %v", err)
		}
		stuffed := out.Bytes()
		if stuffed[0] != Sep || stuffed[len(stuffed)-1] != Sep {
			rt.Fatalf("frame not bracketed by Sep: %x", stuffed)
		}
		body := stuffed[1 : len(stuffed)-1]
		for i := 0; i < len(body); i++ {
			b := body[i]
			if b == Sep {
				rt.Fatalf("unescaped Sep inside frame body at %d: %x", i, body)
			}
			if b == Esc {
				i++
				if i >= len(body) || (body[i] != Esc^Flip && body[i] != Sep^Flip) {
					rt.Fatalf("escape byte not followed by a valid escaped value at %d: %x", i, body)
				}
			}
		}
	})
}

// TestRapidCRCBitFlip is the invariant from §8: flipping any single bit
// in the stuffed byte stream (excluding flag bytes) yields err=true on
// decode, unless the flip lands on an escape-structure byte and changes
// framing rather than payload content (in which case the frame may fail
// to decode at all, which also satisfies "not a clean success").
func TestRapidCRCBitFlip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		seq := uint8(rapid.IntRange(0, 255).Draw(rt, "seq"))
		payload := rapid.SliceOfN(rapid.Byte(), 1, 16).Draw(rt, "payload")

		var out bytes.Buffer
		w := NewWriter(func(b byte) error {
			out.WriteByte(b)
			return nil
		})
		if err := w.Encode(seq, payload); err != nil {
			rt.Fatalf("Encode: %v", err)
		}
		stuffed := out.Bytes()
		body := stuffed[1 : len(stuffed)-1]
		if len(body) == 0 {
			return
		}
		bitPos := rapid.IntRange(0, len(body)*8-1).Draw(rt, "bitPos")
		byteIdx, bit := bitPos/8, uint(bitPos%8)

		corrupted := append([]byte(nil), stuffed...)
		corrupted[1+byteIdx] ^= 1 << bit

		var sawClean bool
		r := NewReader()
		for _, b := range corrupted {
			r.Feed(b, func(_ uint8, _ []byte, e bool) {
				if !e {
					sawClean = true
				}
			})
		}
		if sawClean {
			rt.Fatalf("single bit flip at byte %d bit %d produced a clean decode", byteIdx, bit)
		}
	})
}
