package retranslator

import "time"

const ProtocolName = "retranslator"

// Position is the record produced from one frame. It is owned by the caller
// once Decode returns.
type Position struct {
	Protocol string
	DeviceID string // session key from the resolver, not the raw device id

	DeviceTime time.Time
	FixTime    time.Time

	Valid    bool
	Outdated bool

	Latitude   float64
	Longitude  float64
	Altitude   float64
	Speed      int16
	Course     int16
	Satellites uint8

	Attributes Attributes
}

func newPosition(deviceID string) *Position {
	return &Position{Protocol: ProtocolName, DeviceID: deviceID}
}

// HasLocation reports whether the position carries a non-zero coordinate pair.
func (p *Position) HasLocation() bool {
	return p.Latitude != 0 || p.Longitude != 0
}
