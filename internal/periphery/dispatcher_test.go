package periphery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vkvmbridge/host/internal/frame"
	"github.com/vkvmbridge/host/internal/protocol"
)

func TestKeyboardDownWritesReport(t *testing.T) {
	hid := &FakeHID{}
	var out []byte
	d := NewDispatcher(hid, func(b byte) error { out = append(out, b); return nil })

	in := frame.NewReader()
	reqBytes := encodeFrame(t, 1, append([]byte{byte(protocol.SetKeyboardDown)}, 0x04, 0x05))
	for _, b := range reqBytes {
		in.Feed(b, d.HandleFrame)
	}

	require.Equal(t, uint8(0x04), hid.Keys[0])
	require.Equal(t, uint8(0x05), hid.Keys[1])

	respSeq, respPayload := decodeFrame(t, out)
	require.Equal(t, uint8(1), respSeq)
	require.Equal(t, byte(protocol.SOk), respPayload[0])
	require.Equal(t, uint8(0x03), respPayload[1]) // both keys accepted: bits 0,1
}

func TestKeyboardUpClearsHeldKey(t *testing.T) {
	hid := &FakeHID{}
	var out []byte
	d := NewDispatcher(hid, func(b byte) error { out = append(out, b); return nil })

	in := frame.NewReader()
	for _, b := range encodeFrame(t, 1, append([]byte{byte(protocol.SetKeyboardDown)}, 0x04)) {
		in.Feed(b, d.HandleFrame)
	}
	out = nil
	for _, b := range encodeFrame(t, 2, append([]byte{byte(protocol.SetKeyboardUp)}, 0x04)) {
		in.Feed(b, d.HandleFrame)
	}

	require.Equal(t, uint8(0), hid.Keys[0])
	_, payload := decodeFrame(t, out)
	require.Equal(t, byte(protocol.SOk), payload[0])
	require.Equal(t, uint8(0x01), payload[1])
}

func TestKeyboardDownInvalidFieldCount(t *testing.T) {
	hid := &FakeHID{}
	var out []byte
	d := NewDispatcher(hid, func(b byte) error { out = append(out, b); return nil })

	in := frame.NewReader()
	for _, b := range encodeFrame(t, 1, []byte{byte(protocol.SetKeyboardDown)}) { // zero keys
		in.Feed(b, d.HandleFrame)
	}

	_, payload := decodeFrame(t, out)
	require.Equal(t, byte(protocol.EInvalidFieldValue), payload[0])
}

func TestMouseMoveAbsOutOfRangeRejected(t *testing.T) {
	hid := &FakeHID{}
	var out []byte
	d := NewDispatcher(hid, func(b byte) error { out = append(out, b); return nil })

	fields := []byte{byte(protocol.SetMouseMoveAbs), 0xFF, 0xFF, 0x00, 0x00} // x=65535 > 32767
	in := frame.NewReader()
	for _, b := range encodeFrame(t, 1, fields) {
		in.Feed(b, d.HandleFrame)
	}
	_, payload := decodeFrame(t, out)
	require.Equal(t, byte(protocol.EInvalidFieldValue), payload[0])
}

func TestUnknownRequestKindIsInvalid(t *testing.T) {
	hid := &FakeHID{}
	var out []byte
	d := NewDispatcher(hid, func(b byte) error { out = append(out, b); return nil })

	in := frame.NewReader()
	for _, b := range encodeFrame(t, 1, []byte{0xFE}) {
		in.Feed(b, d.HandleFrame)
	}
	_, payload := decodeFrame(t, out)
	require.Equal(t, byte(protocol.EInvalidReqType), payload[0])
}

func TestHostWriteErrorMapsToEHostWriteError(t *testing.T) {
	hid := &FakeHID{FailWrites: true}
	var out []byte
	d := NewDispatcher(hid, func(b byte) error { out = append(out, b); return nil })

	in := frame.NewReader()
	for _, b := range encodeFrame(t, 1, append([]byte{byte(protocol.SetKeyboardDown)}, 0x04)) {
		in.Feed(b, d.HandleFrame)
	}
	_, payload := decodeFrame(t, out)
	require.Equal(t, byte(protocol.EHostWriteError), payload[0])
}

func TestInterruptsFireOnStateChange(t *testing.T) {
	hid := &FakeHID{State: protocol.USBStateConfigured}
	var out []byte
	d := NewDispatcher(hid, func(b byte) error { out = append(out, b); return nil })

	d.checkInterrupts() // baseline: first observation always looks like a change from zero value
	out = nil
	hid.LEDs = protocol.LEDCapsLock
	d.checkInterrupts()

	seq, payload := decodeFrame(t, out)
	require.Equal(t, uint8(0), seq)
	require.Equal(t, byte(protocol.ILEDUpdate), payload[0])
}

func encodeFrame(t *testing.T, seq uint8, payload []byte) []byte {
	t.Helper()
	var out []byte
	w := frame.NewWriter(func(b byte) error {
		out = append(out, b)
		return nil
	})
	require.NoError(t, w.Encode(seq, payload))
	return out
}

func decodeFrame(t *testing.T, stuffed []byte) (uint8, []byte) {
	t.Helper()
	r := frame.NewReader()
	var seq uint8
	var payload []byte
	var found bool
	for _, b := range stuffed {
		r.Feed(b, func(s uint8, p []byte, crcErr bool) {
			seq, payload, found = s, p, !crcErr
		})
	}
	require.True(t, found, "no clean frame decoded from %x", stuffed)
	return seq, payload
}
