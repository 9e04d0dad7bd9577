package link

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"retranslator-svr/internal/pipeline"
)

var ErrNotConnected = errors.New("link: not connected")

// Link is a TCP client towards the socket proxy. Payloads are sent as
// NDJSON, one object per line.
type Link struct {
	addr   string
	logger *slog.Logger

	retryDelay     time.Duration
	reconnectDelay time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func New(addr string, lg *slog.Logger) *Link {
	return &Link{
		addr:           addr,
		logger:         lg.With("component", "link"),
		retryDelay:     5 * time.Second,
		reconnectDelay: 2 * time.Second,
	}
}

// -------------------------------------------------------------------
//                        CONNECTION LOOP
// -------------------------------------------------------------------

// Run keeps the link connected until ctx is done.
func (l *Link) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		if c := l.getConn(); c != nil {
			_ = c.Close()
		}
	}()

	var d net.Dialer
	for ctx.Err() == nil {
		c, err := d.DialContext(ctx, "tcp", l.addr)
		if err != nil {
			l.logger.Error("link: dial failed", "addr", l.addr, "err", err)
			sleep(ctx, l.retryDelay)
			continue
		}

		l.setConn(c)
		l.logger.Info("link: connected", "remote", c.RemoteAddr().String())

		l.readLoop(c)

		l.clearConn(c)
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("link: connection closed, reconnecting...")
		sleep(ctx, l.reconnectDelay)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (l *Link) setConn(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = c
}

func (l *Link) clearConn(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == c {
		_ = l.conn.Close()
		l.conn = nil
	}
}

func (l *Link) getConn() net.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// Connected reports whether the link currently has a connection.
func (l *Link) Connected() bool {
	return l.getConn() != nil
}

// -------------------------------------------------------------------
//                           READING
// -------------------------------------------------------------------

func (l *Link) readLoop(c net.Conn) {
	r := bufio.NewScanner(c)
	for r.Scan() {
		l.handleIncomingLine(r.Bytes())
	}
	if err := r.Err(); err != nil && err != io.EOF {
		l.logger.Warn("link: read error", "err", err)
	}
}

// The proxy does not send commands to this server yet; lines are only logged.
func (l *Link) handleIncomingLine(line []byte) {
	l.logger.Info("link: incoming line", "line", string(line))
}

// -------------------------------------------------------------------
//                          NDJSON OUTPUT
// -------------------------------------------------------------------

func (l *Link) sendNDJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotConnected
	}
	_, err = l.conn.Write(append(b, '\n'))
	return err
}

type deviceEventPayload struct {
	DeviceConnect    bool   `json:"device_connect,omitempty"`
	DeviceDisconnect bool   `json:"device_disconnect,omitempty"`
	DeviceID         string `json:"device_id"`
	RemoteIP         string `json:"remote_ip,omitempty"`
	RemotePort       int    `json:"remote_port,omitempty"`
}

type trackingPayload struct {
	Tracking *pipeline.TrackingObject `json:"tracking"`
}

// -------------------------------------------------------------------
//                      PUBLIC API
// -------------------------------------------------------------------

// SendDeviceEvent reports a device connecting to or leaving the server.
func (l *Link) SendDeviceEvent(info DeviceInfo) {
	pl := deviceEventPayload{
		DeviceConnect:    info.State == DeviceStateConnect,
		DeviceDisconnect: info.State == DeviceStateDisconnect,
		DeviceID:         info.DeviceID,
		RemoteIP:         info.RemoteIP,
		RemotePort:       info.RemotePort,
	}
	if err := l.sendNDJSON(pl); err != nil {
		l.logger.Warn("link: send device event failed", "device_id", info.DeviceID, "state", info.State.String(), "err", err)
	}
}

func (l *Link) Name() string { return "link" }

// Send writes the tracking object as one NDJSON line.
func (l *Link) Send(_ context.Context, tr *pipeline.TrackingObject) error {
	if tr == nil {
		return nil
	}
	if err := l.sendNDJSON(trackingPayload{Tracking: tr}); err != nil {
		return fmt.Errorf("link: send tracking %s: %w", tr.DeviceID, err)
	}
	return nil
}
