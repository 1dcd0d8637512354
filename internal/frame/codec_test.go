package frame

import (
	"bytes"
	"testing"
)

func encode(t *testing.T, seq uint8, payload []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	w := NewWriter(func(b byte) error {
		out.WriteByte(b)
		return nil
	})
	if err := w.Encode(seq, payload); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return out.Bytes()
}

func decodeAll(stuffed []byte) []struct {
	seq     uint8
	payload []byte
	err     bool
} {
	var got []struct {
		seq     uint8
		payload []byte
		err     bool
	}
	r := NewReader()
	for _, b := range stuffed {
		r.Feed(b, func(seq uint8, payload []byte, err bool) {
			got = append(got, struct {
				seq     uint8
				payload []byte
				err     bool
			}{seq, append([]byte(nil), payload...), err})
		})
	}
	return got
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		seq     uint8
		payload []byte
	}{
		{1, []byte{0x00}},                         // GET_PROTOCOL_VERSION request
		{1, []byte{0x00, 0x01, 0x00}},              // S_OK + version 0x0100
		{0, []byte{0x41, 0x02}},                    // I_LED_UPDATE, caps lock
		{7, []byte{0x04, 0x7E, 0x7D, 0x05}},        // payload containing flag/escape bytes
		{255, bytes.Repeat([]byte{0xAA}, 253)},     // max payload size
	}
	for _, c := range cases {
		stuffed := encode(t, c.seq, c.payload)
		frames := decodeAll(stuffed)
		if len(frames) != 1 {
			t.Fatalf("seq=%d: got %d frames, want 1", c.seq, len(frames))
		}
		got := frames[0]
		if got.seq != c.seq || got.err || !bytes.Equal(got.payload, c.payload) {
			t.Fatalf("seq=%d: got (seq=%d, payload=%x, err=%v), want (seq=%d, payload=%x, err=false)",
				c.seq, got.seq, got.payload, got.err, c.seq, c.payload)
		}
	}
}

func TestStuffedStreamOnlyUsesFlagAndEscapeBytes(t *testing.T) {
	payload := []byte{0x7E, 0x7D, 0x00, 0xFF, 0x20, 0x5D, 0x5E}
	stuffed := encode(t, 3, payload)
	if stuffed[0] != Sep || stuffed[len(stuffed)-1] != Sep {
		t.Fatalf("frame must be bracketed by Sep bytes: %x", stuffed)
	}
	body := stuffed[1 : len(stuffed)-1]
	for i := 0; i < len(body); i++ {
		b := body[i]
		switch {
		case b == Esc:
			i++
			if i >= len(body) {
				t.Fatalf("trailing escape byte with nothing to escape")
			}
			if body[i] != Flip^Sep && body[i] != Flip^Esc {
				t.Fatalf("escaped byte %#x is not one of the two allowed escape targets", body[i])
			}
		case b == Sep:
			t.Fatalf("unescaped separator inside frame body: %x", body)
		}
	}
}

func TestCRCBitFlipDetected(t *testing.T) {
	stuffed := encode(t, 5, []byte{0x02, 0x03, 0x04})
	body := stuffed[1 : len(stuffed)-1]
	for bitPos := 0; bitPos < len(body)*8; bitPos++ {
		byteIdx, bit := bitPos/8, uint(bitPos%8)
		if body[byteIdx] == Esc {
			// Flipping the escape marker itself changes framing, not
			// just payload content; skip those positions.
			continue
		}
		corrupted := append([]byte(nil), stuffed...)
		corrupted[1+byteIdx] ^= 1 << bit
		frames := decodeAll(corrupted)
		if len(frames) == 0 {
			continue // flipped into a separator/escape structural byte; framing itself changed
		}
		if !frames[0].err {
			t.Fatalf("bit %d: expected CRC mismatch to be detected, got clean decode %x", bitPos, frames[0].payload)
		}
	}
}

func TestEmptyFramesCollapseSilently(t *testing.T) {
	stuffed := encode(t, 1, []byte{0x00})
	// Duplicate the closing/opening separator to simulate consecutive flags.
	doubled := append(append([]byte{}, stuffed[:len(stuffed)-1]...), Sep, Sep)
	frames := decodeAll(doubled)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 (empty frame must be discarded silently)", len(frames))
	}
}

func TestShortFrameIsFramingError(t *testing.T) {
	r := NewReader()
	var calledErr bool
	var fed bool
	r.Feed(Sep, func(uint8, []byte, bool) { fed = true })
	ok := r.Feed(0x01, func(uint8, []byte, bool) { fed = true })
	if !ok {
		t.Fatal("unexpected overrun")
	}
	ok = r.Feed(Sep, func(seq uint8, payload []byte, err bool) { calledErr = true })
	if ok {
		t.Fatal("expected Feed to report framing error for a too-short frame")
	}
	if fed && calledErr {
		t.Fatal("on_frame must not be invoked for an incomplete frame")
	}
}

func TestConsecutiveFramesShareOneFlag(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(func(b byte) error {
		out.WriteByte(b)
		return nil
	})
	if err := w.Encode(1, []byte{0x00}); err != nil {
		t.Fatal(err)
	}
	if err := w.Encode(2, []byte{0x01}); err != nil {
		t.Fatal(err)
	}
	stuffed := out.Bytes()
	if bytes.Count(stuffed, []byte{Sep}) != 3 {
		t.Fatalf("expected 3 separators total (shared middle flag), got %d in %x", bytes.Count(stuffed, []byte{Sep}), stuffed)
	}
	frames := decodeAll(stuffed)
	if len(frames) != 2 || frames[0].seq != 1 || frames[1].seq != 2 {
		t.Fatalf("unexpected decode: %+v", frames)
	}
}

func TestPayloadTooLarge(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(func(b byte) error {
		out.WriteByte(b)
		return nil
	})
	if err := w.Encode(1, make([]byte, MaxPayloadSize+1)); err == nil {
		t.Fatal("expected ErrPayloadTooLarge")
	}
}
