package pipeline

import (
	"encoding/json"
	"math"
	"strconv"

	"retranslator-svr/internal/codec/retranslator"
)

type TrackingObject struct {
	DeviceID string `json:"device_id"`
	Protocol string `json:"protocol"`
	Datetime string `json:"dt"`
	FixTime  string `json:"fix_dt,omitempty"`

	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Alt  float64 `json:"alt"`
	Spd  int     `json:"spd"`
	Crs  int     `json:"crs"`
	Sats int     `json:"sats"`

	Valid    bool `json:"valid"`
	Outdated bool `json:"outdated,omitempty"`

	Attrs *retranslator.Attributes `json:"attrs"`

	MsgType int `json:"msg_type"` // 1=live, 0=buffer
	Fix     int `json:"fix"`      // 1 if sats>3 and coords are valid
}

// MarshalJSON writes non-finite coordinates as strings so one bad double
// does not lose the whole record.
func (t TrackingObject) MarshalJSON() ([]byte, error) {
	type plain TrackingObject
	return json.Marshal(struct {
		plain
		Lat any `json:"lat"`
		Lon any `json:"lon"`
		Alt any `json:"alt"`
	}{plain(t), jsonFloat(t.Lat), jsonFloat(t.Lon), jsonFloat(t.Alt)})
}

func jsonFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}
