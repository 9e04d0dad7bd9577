package dispatcher

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"retranslator-svr/internal/codec/retranslator"
	"retranslator-svr/internal/link"
	"retranslator-svr/internal/observability"
	"retranslator-svr/internal/pipeline"
	"retranslator-svr/internal/utilities"
)

// Sink receives every decoded position.
type Sink interface {
	Name() string
	Send(ctx context.Context, tr *pipeline.TrackingObject) error
}

// LastSaver records the latest valid fix of a device.
type LastSaver interface {
	SaveLast(ctx context.Context, p *retranslator.Position) error
}

// DeviceNotifier is told when a connection first yields a position and when
// it closes.
type DeviceNotifier interface {
	SendDeviceEvent(info link.DeviceInfo)
}

type Options struct {
	Last     LastSaver      // optional
	Notifier DeviceNotifier // optional
	RawLog   *utilities.RawLog
	Sinks    []Sink
}

// Dispatcher decodes frames from device connections and fans the resulting
// positions out to the configured sinks.
type Dispatcher struct {
	decoder  *retranslator.Decoder
	last     LastSaver
	notifier DeviceNotifier
	rawLog   *utilities.RawLog
	sinks    []Sink
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	conns map[net.Conn]string
}

func New(dec *retranslator.Decoder, opts Options, lg *slog.Logger) *Dispatcher {
	return &Dispatcher{
		decoder:  dec,
		last:     opts.Last,
		notifier: opts.Notifier,
		rawLog:   opts.RawLog,
		sinks:    opts.Sinks,
		logger:   lg.With("component", "dispatcher"),
		now:      time.Now,
		conns:    make(map[net.Conn]string),
	}
}

// HandleFrame processes one frame received on conn. Decode failures are
// logged and counted, never returned: the connection stays up.
func (d *Dispatcher) HandleFrame(ctx context.Context, conn net.Conn, frame []byte) {
	origin := conn.RemoteAddr()
	observability.PacketsRecv.Inc()

	if d.logger.Enabled(ctx, slog.LevelDebug) {
		d.logger.Debug("raw frame", "origin", origin.String(), "len", len(frame), "hex", hex.EncodeToString(frame))
	}
	if err := d.rawLog.Frame(origin.String(), frame); err != nil {
		d.logger.Warn("raw log failed", "err", err)
	}

	start := time.Now()
	pos, err := d.decoder.Decode(ctx, observability.AckCounter{W: conn}, origin, frame)
	observability.ObserveParseLatency(start)

	switch {
	case err != nil:
		observability.ParseErrors.Inc()
		d.logger.Warn("decode failed", "origin", origin.String(), "len", len(frame), "err", err)
		return
	case pos == nil:
		observability.UnknownDevices.Inc()
		d.logger.Debug("unknown device, frame dropped", "origin", origin.String())
		return
	}

	observability.Positions.WithLabelValues(strconv.FormatBool(pos.Valid)).Inc()
	d.trackConn(conn, pos.DeviceID)

	if d.last != nil && pos.Valid {
		if err := d.last.SaveLast(ctx, pos); err != nil {
			d.logger.Warn("save last position failed", "device_id", pos.DeviceID, "err", err)
		}
	}

	tr := pipeline.BuildTracking(pos, d.now())
	d.logger.Info("position decoded",
		"device_id", pos.DeviceID,
		"dt", tr.Datetime,
		"lat", tr.Lat,
		"lon", tr.Lon,
		"valid", tr.Valid,
		"attrs", pos.Attributes.Len(),
	)

	for _, s := range d.sinks {
		if err := s.Send(ctx, tr); err != nil {
			observability.SinkErrors.WithLabelValues(s.Name()).Inc()
			d.logger.Warn("sink send failed", "sink", s.Name(), "device_id", pos.DeviceID, "err", err)
		}
	}
}

// ConnClosed forgets conn and reports the disconnect of its device.
func (d *Dispatcher) ConnClosed(conn net.Conn) {
	d.mu.Lock()
	deviceID, ok := d.conns[conn]
	delete(d.conns, conn)
	d.mu.Unlock()

	if ok && d.notifier != nil {
		d.notifier.SendDeviceEvent(link.NewDeviceInfo(deviceID, conn.RemoteAddr(), link.DeviceStateDisconnect))
	}
	if ok {
		d.logger.Info("device disconnected", "device_id", deviceID)
	}
}

func (d *Dispatcher) trackConn(conn net.Conn, deviceID string) {
	d.mu.Lock()
	prev, seen := d.conns[conn]
	d.conns[conn] = deviceID
	d.mu.Unlock()

	if seen && prev == deviceID {
		return
	}
	d.logger.Info("device connected", "device_id", deviceID, "remote", conn.RemoteAddr().String())
	if d.notifier != nil {
		d.notifier.SendDeviceEvent(link.NewDeviceInfo(deviceID, conn.RemoteAddr(), link.DeviceStateConnect))
	}
}
