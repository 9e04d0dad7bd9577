package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retranslator-svr/internal/codec/retranslator"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type resolver map[string]string

func (r resolver) Resolve(_ context.Context, id string, _ net.Addr) (string, bool, error) {
	k, ok := r[id]
	return k, ok, nil
}

// decodeHandler runs the decoder on every frame and records the outcome.
type decodeHandler struct {
	dec *retranslator.Decoder

	mu        sync.Mutex
	positions []*retranslator.Position
	errs      []error
	closed    int
}

func (h *decodeHandler) HandleFrame(ctx context.Context, conn net.Conn, frame []byte) {
	p, err := h.dec.Decode(ctx, conn, conn.RemoteAddr(), frame)
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.errs = append(h.errs, err)
		return
	}
	if p != nil {
		h.positions = append(h.positions, p)
	}
}

func (h *decodeHandler) ConnClosed(net.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
}

func (h *decodeHandler) snapshot() (int, int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.positions), len(h.errs), h.closed
}

func startServer(t *testing.T, opts Options) (*decodeHandler, string, context.CancelFunc) {
	t.Helper()
	h := &decodeHandler{dec: retranslator.NewDecoder(resolver{"353173064251404": "s1"}, nil, discard)}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(h, opts, discard).Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return h, lis.Addr().String(), cancel
}

func TestServerAcksEveryFrame(t *testing.T) {
	h, addr, _ := startServer(t, Options{})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	good := retranslator.NewFrameBuilder("353173064251404").
		Time(time.Unix(1700000000, 0)).
		PosInfo(30.5, 50.4, 120, 10, 45, 6).
		Bytes()
	unknown := retranslator.NewFrameBuilder("111").Time(time.Unix(1700000000, 0)).Bytes()
	// well framed, but the device id has no terminator
	broken := []byte{0x03, 0x00, 0x00, 0x00, 'a', 'b', 'c'}

	var stream []byte
	stream = append(stream, good...)
	stream = append(stream, unknown...)
	stream = append(stream, broken...)
	_, err = conn.Write(stream)
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	acks := make([]byte, 3)
	_, err = io.ReadFull(conn, acks)
	require.NoError(t, err)
	assert.Equal(t, []byte{retranslator.Ack, retranslator.Ack, retranslator.Ack}, acks)

	require.Eventually(t, func() bool {
		n, e, _ := h.snapshot()
		return n == 1 && e == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.mu.Lock()
	assert.Equal(t, 50.4, h.positions[0].Latitude)
	assert.ErrorIs(t, h.errs[0], retranslator.ErrMalformedFrame)
	h.mu.Unlock()

	// no stray ack bytes
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err = conn.Read(make([]byte, 1))
	var netErr net.Error
	assert.True(t, errors.As(err, &netErr) && netErr.Timeout())
}

func TestServerClosesOversizedFrame(t *testing.T) {
	h, addr, _ := startServer(t, Options{MaxFrameSize: 16})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0xff, 0x00, 0x00, 0x00})
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)

	require.Eventually(t, func() bool {
		_, _, closed := h.snapshot()
		return closed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerClosesIdleConnection(t *testing.T) {
	h, addr, _ := startServer(t, Options{ReadTimeout: 50 * time.Millisecond})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		_, _, closed := h.snapshot()
		return closed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReadFrame(t *testing.T) {
	body := []byte("hello")
	var in bytes.Buffer
	_ = binary.Write(&in, binary.LittleEndian, uint32(len(body)))
	in.Write(body)
	in.Write([]byte{0x00, 0x00, 0x00, 0x00})

	frame, err := ReadFrame(&in, 64)
	require.NoError(t, err)
	assert.Equal(t, append([]byte{5, 0, 0, 0}, body...), frame)

	_, err = ReadFrame(&in, 64)
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, err = ReadFrame(&in, 64)
	assert.ErrorIs(t, err, io.EOF)

	_, err = ReadFrame(bytes.NewReader([]byte{9, 0, 0, 0, 1, 2}), 64)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadFrame(bytes.NewReader([]byte{0, 1, 0, 0}), 64)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}
