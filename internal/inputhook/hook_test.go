package inputhook

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vkvmbridge/host/internal/protocol"
)

type fakeSender struct {
	downKeys   []uint8
	upKeys     []uint8
	downBtns   []uint8
	upBtns     []uint8
	moveDX     []int8
	moveDY     []int8
	scrolls    []int8
}

func (f *fakeSender) KeyboardDown(keys []uint8, done func(error, uint8)) error {
	f.downKeys = append(f.downKeys, keys...)
	return nil
}
func (f *fakeSender) KeyboardUp(keys []uint8, done func(error, uint8)) error {
	f.upKeys = append(f.upKeys, keys...)
	return nil
}
func (f *fakeSender) MouseButtonDown(buttons []uint8, done func(error, uint8)) error {
	f.downBtns = append(f.downBtns, buttons...)
	return nil
}
func (f *fakeSender) MouseButtonUp(buttons []uint8, done func(error, uint8)) error {
	f.upBtns = append(f.upBtns, buttons...)
	return nil
}
func (f *fakeSender) MouseMoveRel(dx, dy int8, done func(error)) error {
	f.moveDX = append(f.moveDX, dx)
	f.moveDY = append(f.moveDY, dy)
	return nil
}
func (f *fakeSender) MouseScroll(wheel int8, done func(error)) error {
	f.scrolls = append(f.scrolls, wheel)
	return nil
}

type fakeRemapper struct {
	keyOverride func(key uint8, osKey int, action protocol.RemapAction) uint8
}

func (r *fakeRemapper) OnRemapKey(key uint8, osKey int, action protocol.RemapAction) uint8 {
	if r.keyOverride != nil {
		return r.keyOverride(key, osKey, action)
	}
	return key
}

func (r *fakeRemapper) OnRemapButton(button uint8, action protocol.RemapAction) uint8 {
	return button
}

func TestTranslateKeyUnknownIsNoEvent(t *testing.T) {
	require.Equal(t, protocol.NoEvent, TranslateKey(9999, DefaultLinuxEvdevKeyTable))
	require.Equal(t, uint8(0x04), TranslateKey(30, DefaultLinuxEvdevKeyTable))
}

func TestClampDeltaSaturatesAndCarries(t *testing.T) {
	sent, carry := ClampDelta(200, 0)
	require.Equal(t, int8(127), sent)
	require.Equal(t, 73, carry)

	sent2, carry2 := ClampDelta(10, carry)
	require.Equal(t, int8(83), sent2)
	require.Equal(t, 0, carry2)
}

func TestScaleAbsoluteClampsToRange(t *testing.T) {
	require.Equal(t, int16(0), ScaleAbsolute(-5, 1920))
	require.Equal(t, int16(32767), ScaleAbsolute(5000, 1920))
	require.Equal(t, int16(16383), ScaleAbsolute(960, 1920))
}

func TestHookDropsEventsWhileDisabled(t *testing.T) {
	s := &fakeSender{}
	h := New(s, nil, DefaultLinuxEvdevKeyTable, DefaultLinuxEvdevButtonTable)
	h.OnKey(KeyEvent{OSCode: 30, Down: true})
	require.Empty(t, s.downKeys)

	h.Enable()
	h.OnKey(KeyEvent{OSCode: 30, Down: true})
	require.Equal(t, []uint8{0x04}, s.downKeys)
}

func TestHookUnknownKeyIsDropped(t *testing.T) {
	s := &fakeSender{}
	h := New(s, nil, DefaultLinuxEvdevKeyTable, DefaultLinuxEvdevButtonTable)
	h.Enable()
	h.OnKey(KeyEvent{OSCode: 99999, Down: true})
	require.Empty(t, s.downKeys)
}

func TestHookMouseMoveCoalescesCarry(t *testing.T) {
	s := &fakeSender{}
	h := New(s, nil, DefaultLinuxEvdevKeyTable, DefaultLinuxEvdevButtonTable)
	h.Enable()
	h.OnMouseMove(200, -5)
	h.OnMouseMove(10, 0)

	require.Equal(t, []int8{127, 73, 10}, s.moveDX)
	require.Equal(t, []int8{-5, 0, 0}, s.moveDY)
}

func TestHookMouseButtonTranslation(t *testing.T) {
	s := &fakeSender{}
	h := New(s, nil, DefaultLinuxEvdevKeyTable, DefaultLinuxEvdevButtonTable)
	h.Enable()
	h.OnMouseButton(MouseButtonEvent{OSButton: 0x110, Down: true})
	require.Equal(t, []uint8{protocol.ButtonLeft}, s.downBtns)
}

func TestHookRemapSuppressesEvent(t *testing.T) {
	s := &fakeSender{}
	remap := &fakeRemapper{keyOverride: func(uint8, int, protocol.RemapAction) uint8 { return protocol.NoEvent }}
	h := New(s, remap, DefaultLinuxEvdevKeyTable, DefaultLinuxEvdevButtonTable)
	h.Enable()
	h.OnKey(KeyEvent{OSCode: 30, Down: true})
	require.Empty(t, s.downKeys)
}

func TestHookRemapSubstitutesKey(t *testing.T) {
	s := &fakeSender{}
	remap := &fakeRemapper{keyOverride: func(uint8, int, protocol.RemapAction) uint8 { return 0x05 }}
	h := New(s, remap, DefaultLinuxEvdevKeyTable, DefaultLinuxEvdevButtonTable)
	h.Enable()
	h.OnKey(KeyEvent{OSCode: 30, Down: true})
	require.Equal(t, []uint8{0x05}, s.downKeys)
}
