package driver

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vkvmbridge/host/internal/frame"
	"github.com/vkvmbridge/host/internal/protocol"
	"github.com/vkvmbridge/host/internal/transport"
)

// pipeTransport adapts a net.Conn (from net.Pipe) to transport.Transport,
// standing in for a real serial link in these tests (§4.4, §8).
type pipeTransport struct {
	conn net.Conn
}

func (p *pipeTransport) Read(ctx context.Context) ([]byte, error) {
	type result struct {
		n   int
		err error
	}
	buf := make([]byte, 256)
	done := make(chan result, 1)
	go func() {
		n, err := p.conn.Read(buf)
		done <- result{n, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return append([]byte(nil), buf[:r.n]...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(100 * time.Millisecond):
		return nil, transport.ErrTimeout
	}
}

func (p *pipeTransport) Write(ctx context.Context, data []byte) error {
	_, err := p.conn.Write(data)
	return err
}

func (p *pipeTransport) Close() error { return p.conn.Close() }

// fakePeriphery drives the "other end" of the pipe: it decodes frames
// sent by the driver and replies per the test scenario.
type fakePeriphery struct {
	conn    net.Conn
	decoder *frame.Reader
	writer  *frame.Writer
}

func newFakePeriphery(conn net.Conn) *fakePeriphery {
	p := &fakePeriphery{conn: conn, decoder: frame.NewReader()}
	p.writer = frame.NewWriter(func(b byte) error {
		_, err := conn.Write([]byte{b})
		return err
	})
	return p
}

func (p *fakePeriphery) reply(seq uint8, kind protocol.ResponseKind, fields []byte) error {
	payload := append([]byte{byte(kind)}, fields...)
	return p.writer.Encode(seq, payload)
}

func (p *fakePeriphery) readFrame(t *testing.T) (seq uint8, kind protocol.RequestKind, fields []byte) {
	t.Helper()
	buf := make([]byte, 1)
	for {
		n, err := p.conn.Read(buf)
		require.NoError(t, err)
		if n == 0 {
			continue
		}
		var gotSeq uint8
		var gotPayload []byte
		var delivered bool
		p.decoder.Feed(buf[0], func(s uint8, payload []byte, crcErr bool) {
			if crcErr {
				return
			}
			gotSeq, gotPayload = s, append([]byte(nil), payload...)
			delivered = true
		})
		if delivered {
			return gotSeq, protocol.RequestKind(gotPayload[0]), gotPayload[1:]
		}
	}
}

func newTestPair(t *testing.T) (*Driver, *fakePeriphery) {
	t.Helper()
	return newTestPairWithCallback(t, nil)
}

func newTestPairWithCallback(t *testing.T, cb Callback) (*Driver, *fakePeriphery) {
	t.Helper()
	a, b := net.Pipe()
	d := New(cb, Options{Timeout: 200 * time.Millisecond})
	require.NoError(t, d.OpenForTesting(&pipeTransport{conn: a}))
	return d, newFakePeriphery(b)
}

// recordingCallback captures disconnects and broken-frame notifications
// for assertions, embedding NoopCallback for the rest of the surface.
type recordingCallback struct {
	NoopCallback
	mu          sync.Mutex
	disconnects []error
	brokenFrame int
}

func (c *recordingCallback) OnDisconnected(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects = append(c.disconnects, err)
}

func (c *recordingCallback) OnBrokenFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.brokenFrame++
}

func (c *recordingCallback) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.disconnects)
}

func (c *recordingCallback) brokenFrameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.brokenFrame
}

func (c *recordingCallback) lastDisconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.disconnects) == 0 {
		return nil
	}
	return c.disconnects[len(c.disconnects)-1]
}

// connectPair drives a fakePeriphery through the handshake and the two
// auto-issued state queries, leaving d connected and fp with no frames
// buffered.
func connectPair(t *testing.T, fp *fakePeriphery, d *Driver) {
	t.Helper()
	seq, _, _ := fp.readFrame(t)
	require.NoError(t, fp.reply(seq, protocol.SOk, []byte{byte(protocol.Version >> 8), byte(protocol.Version)}))
	require.Eventually(t, d.IsConnected, time.Second, 10*time.Millisecond)
	for i := 0; i < 2; i++ {
		s, _, _ := fp.readFrame(t)
		require.NoError(t, fp.reply(s, protocol.SOk, []byte{0x00}))
	}
}

func TestHandshakeSuccess(t *testing.T) {
	d, fp := newTestPair(t)
	defer d.Close()

	seq, kind, _ := fp.readFrame(t)
	require.Equal(t, uint8(1), seq)
	require.Equal(t, protocol.GetProtocolVersion, kind)

	verBytes := []byte{byte(protocol.Version >> 8), byte(protocol.Version)}
	require.NoError(t, fp.reply(seq, protocol.SOk, verBytes))

	require.Eventually(t, d.IsConnected, time.Second, 10*time.Millisecond)
}

func TestHandshakeVersionMismatchDisconnects(t *testing.T) {
	d, fp := newTestPair(t)
	defer d.Close()

	seq, _, _ := fp.readFrame(t)
	require.NoError(t, fp.reply(seq, protocol.SOk, []byte{0x02, 0x00}))

	require.Eventually(t, func() bool { return !d.IsOpen() }, time.Second, 10*time.Millisecond)
}

func TestKeyboardPushRoundTrip(t *testing.T) {
	d, fp := newTestPair(t)
	defer d.Close()

	seq, _, _ := fp.readFrame(t)
	require.NoError(t, fp.reply(seq, protocol.SOk, []byte{byte(protocol.Version >> 8), byte(protocol.Version)}))
	require.Eventually(t, d.IsConnected, time.Second, 10*time.Millisecond)

	// drain the two auto-queries issued after connect
	for i := 0; i < 2; i++ {
		s, _, _ := fp.readFrame(t)
		require.NoError(t, fp.reply(s, protocol.SOk, []byte{0x00}))
	}

	done := make(chan uint8, 1)
	require.NoError(t, d.KeyboardPush([]uint8{0x04, 0x05}, func(err error, bitmap uint8) {
		require.NoError(t, err)
		done <- bitmap
	}))

	s, kind, fields := fp.readFrame(t)
	require.Equal(t, protocol.SetKeyboardPush, kind)
	require.True(t, bytes.Equal(fields, []byte{0x04, 0x05}))
	require.NoError(t, fp.reply(s, protocol.SOk, []byte{0x03}))

	select {
	case bm := <-done:
		require.Equal(t, uint8(0x03), bm)
	case <-time.After(time.Second):
		t.Fatal("keyboard push callback never fired")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	d, _ := newTestPair(t)
	require.True(t, d.Close())
	require.False(t, d.Close())
	d.WaitClosed()
}

// TestKeepAliveEmittedWhenIdle asserts a GET_ALIVE request goes out once
// the link has carried no traffic for Timeout, per onIdleTick.
func TestKeepAliveEmittedWhenIdle(t *testing.T) {
	d, fp := newTestPair(t)
	defer d.Close()
	connectPair(t, fp, d)

	seq, kind, _ := fp.readFrame(t)
	require.Equal(t, protocol.GetAlive, kind)
	require.NoError(t, fp.reply(seq, protocol.SOk, nil))
}

// TestTimeoutTriggersDisconnect asserts a request left unanswered for
// Timeout disconnects the driver with a DisconnectError wrapping
// protocol.DisconnectTimeout.
func TestTimeoutTriggersDisconnect(t *testing.T) {
	cb := &recordingCallback{}
	d, fp := newTestPairWithCallback(t, cb)
	defer d.Close()
	connectPair(t, fp, d)

	require.NoError(t, d.KeyboardAllUp(func(error) {}))
	_, _, _ = fp.readFrame(t) // consume the request, never reply

	require.Eventually(t, func() bool { return cb.disconnectCount() > 0 }, 2*time.Second, 10*time.Millisecond)

	var de *DisconnectError
	require.ErrorAs(t, cb.lastDisconnect(), &de)
	require.Equal(t, protocol.DisconnectTimeout, de.Reason)
}

// TestBrokenFrameDoesNotDisconnect asserts a CRC-corrupted frame is
// reported via OnBrokenFrame but does not tear down the link: a single
// glitched byte on a noisy serial cable shouldn't cost the connection.
func TestBrokenFrameDoesNotDisconnect(t *testing.T) {
	cb := &recordingCallback{}
	d, fp := newTestPairWithCallback(t, cb)
	defer d.Close()
	connectPair(t, fp, d)

	garbled := []byte{frame.Sep, 0x01, byte(protocol.SOk), 0xAB, 0xCD, frame.Sep}
	_, err := fp.conn.Write(garbled)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return cb.brokenFrameCount() > 0 }, time.Second, 10*time.Millisecond)
	require.Equal(t, 0, cb.disconnectCount())
	require.True(t, d.IsConnected())
}
