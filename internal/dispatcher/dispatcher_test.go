package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retranslator-svr/internal/codec/retranslator"
	"retranslator-svr/internal/link"
	"retranslator-svr/internal/observability"
	"retranslator-svr/internal/pipeline"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeConn struct {
	net.Conn
	mu   sync.Mutex
	out  bytes.Buffer
	addr net.Addr
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func (c *fakeConn) RemoteAddr() net.Addr { return c.addr }

func newConn() *fakeConn {
	return &fakeConn{addr: &net.TCPAddr{IP: net.IPv4(203, 0, 113, 9), Port: 41000}}
}

type resolver map[string]string

func (r resolver) Resolve(_ context.Context, id string, _ net.Addr) (string, bool, error) {
	k, ok := r[id]
	return k, ok, nil
}

type recordingSink struct {
	name string
	err  error
	got  []*pipeline.TrackingObject
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, tr *pipeline.TrackingObject) error {
	s.got = append(s.got, tr)
	return s.err
}

type recordingLast struct{ saved []*retranslator.Position }

func (l *recordingLast) SaveLast(_ context.Context, p *retranslator.Position) error {
	l.saved = append(l.saved, p)
	return nil
}

type recordingNotifier struct{ events []link.DeviceInfo }

func (n *recordingNotifier) SendDeviceEvent(info link.DeviceInfo) {
	n.events = append(n.events, info)
}

func newTestDispatcher(sinks ...Sink) (*Dispatcher, *recordingLast, *recordingNotifier) {
	dec := retranslator.NewDecoder(resolver{"353173064251404": "session-1"}, nil, discard)
	last := &recordingLast{}
	notifier := &recordingNotifier{}
	d := New(dec, Options{Last: last, Notifier: notifier, Sinks: sinks}, discard)
	d.now = func() time.Time { return time.Unix(1700000060, 0) }
	return d, last, notifier
}

func validFrame() []byte {
	return retranslator.NewFrameBuilder("353173064251404").
		Time(time.Unix(1700000000, 0)).
		PosInfo(-99.13, 19.43, 2240, 40, 90, 8).
		Int32("in1", 1).
		Bytes()
}

func TestHandleFrameFansOut(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	failing := &recordingSink{name: "failing", err: errors.New("down")}
	d, last, notifier := newTestDispatcher(failing, ok)
	conn := newConn()

	validBefore := testutil.ToFloat64(observability.Positions.WithLabelValues("true"))
	sinkErrBefore := testutil.ToFloat64(observability.SinkErrors.WithLabelValues("failing"))
	acksBefore := testutil.ToFloat64(observability.AcksSent)

	d.HandleFrame(context.Background(), conn, validFrame())
	d.HandleFrame(context.Background(), conn, validFrame())

	assert.Equal(t, []byte{retranslator.Ack, retranslator.Ack}, conn.out.Bytes())
	assert.Equal(t, acksBefore+2, testutil.ToFloat64(observability.AcksSent))
	assert.Equal(t, validBefore+2, testutil.ToFloat64(observability.Positions.WithLabelValues("true")))
	assert.Equal(t, sinkErrBefore+2, testutil.ToFloat64(observability.SinkErrors.WithLabelValues("failing")))

	require.Len(t, ok.got, 2)
	assert.Equal(t, "session-1", ok.got[0].DeviceID)
	assert.Equal(t, 19.43, ok.got[0].Lat)
	assert.Equal(t, 1, ok.got[0].MsgType)
	assert.Len(t, failing.got, 2)
	assert.Len(t, last.saved, 2)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, link.DeviceStateConnect, notifier.events[0].State)
	assert.Equal(t, "203.0.113.9", notifier.events[0].RemoteIP)

	d.ConnClosed(conn)
	require.Len(t, notifier.events, 2)
	assert.Equal(t, link.DeviceStateDisconnect, notifier.events[1].State)
	assert.Equal(t, "session-1", notifier.events[1].DeviceID)

	d.ConnClosed(conn)
	assert.Len(t, notifier.events, 2)
}

func TestHandleFrameUnknownDevice(t *testing.T) {
	sink := &recordingSink{name: "s"}
	d, last, notifier := newTestDispatcher(sink)
	conn := newConn()
	before := testutil.ToFloat64(observability.UnknownDevices)

	frame := retranslator.NewFrameBuilder("999").Time(time.Unix(1700000000, 0)).PosInfo(1, 1, 0, 0, 0, 5).Bytes()
	d.HandleFrame(context.Background(), conn, frame)

	assert.Equal(t, []byte{retranslator.Ack}, conn.out.Bytes())
	assert.Equal(t, before+1, testutil.ToFloat64(observability.UnknownDevices))
	assert.Empty(t, sink.got)
	assert.Empty(t, last.saved)
	assert.Empty(t, notifier.events)
}

func TestHandleFrameMalformed(t *testing.T) {
	sink := &recordingSink{name: "s"}
	d, _, _ := newTestDispatcher(sink)
	conn := newConn()
	before := testutil.ToFloat64(observability.ParseErrors)

	frame := validFrame()
	d.HandleFrame(context.Background(), conn, frame[:len(frame)-3])

	assert.Equal(t, []byte{retranslator.Ack}, conn.out.Bytes())
	assert.Equal(t, before+1, testutil.ToFloat64(observability.ParseErrors))
	assert.Empty(t, sink.got)
}

func TestHandleFrameInvalidPositionNotSaved(t *testing.T) {
	sink := &recordingSink{name: "s"}
	d, last, _ := newTestDispatcher(sink)

	frame := retranslator.NewFrameBuilder("353173064251404").
		Time(time.Unix(1700000000, 0)).
		String("event", "ping").
		Bytes()
	d.HandleFrame(context.Background(), newConn(), frame)

	require.Len(t, sink.got, 1)
	assert.False(t, sink.got[0].Valid)
	assert.Empty(t, last.saved)
}
