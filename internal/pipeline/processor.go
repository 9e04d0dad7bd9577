package pipeline

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"retranslator-svr/internal/codec/retranslator"
)

const liveWindow = 120 * time.Second

func coordsValid(lat, lon float64) bool {
	if (lat == 0 && lon == 0) || math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	return true
}

func CalcFix(sats int, lat, lon float64) int {
	if sats > 3 && coordsValid(lat, lon) {
		return 1
	}
	return 0
}

// DecideMsgType reports 1 for live data and 0 for data the device buffered
// and sent late.
func DecideMsgType(ts, now time.Time) int {
	if !ts.IsZero() && now.Sub(ts) > liveWindow {
		return 0
	}
	return 1
}

func BuildTracking(p *retranslator.Position, now time.Time) *TrackingObject {
	tr := &TrackingObject{
		DeviceID: p.DeviceID,
		Protocol: p.Protocol,
		Datetime: p.DeviceTime.UTC().Format(time.RFC3339),
		Lat:      p.Latitude,
		Lon:      p.Longitude,
		Alt:      p.Altitude,
		Spd:      int(p.Speed),
		Crs:      int(p.Course),
		Sats:     int(p.Satellites),
		Valid:    p.Valid,
		Outdated: p.Outdated,
		Attrs:    &p.Attributes,
		MsgType:  DecideMsgType(p.DeviceTime, now),
	}
	if !p.FixTime.IsZero() {
		tr.FixTime = p.FixTime.UTC().Format(time.RFC3339)
	}
	if p.Valid {
		tr.Fix = CalcFix(tr.Sats, tr.Lat, tr.Lon)
	}
	return tr
}

// ToStruct converts a tracking object into the protobuf Struct sent to the
// forwarder.
func ToStruct(tr *TrackingObject) (*structpb.Struct, error) {
	attrs := map[string]any{}
	if tr.Attrs != nil {
		tr.Attrs.Each(func(name string, v retranslator.Value) bool {
			switch n := v.Interface().(type) {
			case int32:
				attrs[name] = float64(n)
			case int64:
				// int64 does not fit a JSON number without loss
				attrs[name] = v.String()
			default:
				attrs[name] = n
			}
			return true
		})
	}
	s, err := structpb.NewStruct(map[string]any{
		"device_id": tr.DeviceID,
		"protocol":  tr.Protocol,
		"dt":        tr.Datetime,
		"fix_dt":    tr.FixTime,
		"lat":       tr.Lat,
		"lon":       tr.Lon,
		"alt":       tr.Alt,
		"spd":       tr.Spd,
		"crs":       tr.Crs,
		"sats":      tr.Sats,
		"valid":     tr.Valid,
		"outdated":  tr.Outdated,
		"msg_type":  tr.MsgType,
		"fix":       tr.Fix,
		"attrs":     attrs,
	})
	if err != nil {
		return nil, fmt.Errorf("tracking %s to struct: %w", tr.DeviceID, err)
	}
	return s, nil
}
