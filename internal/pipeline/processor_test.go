package pipeline

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retranslator-svr/internal/codec/retranslator"
)

func samplePosition(ts time.Time) *retranslator.Position {
	p := &retranslator.Position{
		Protocol:   retranslator.ProtocolName,
		DeviceID:   "session-1",
		DeviceTime: ts,
		FixTime:    ts,
		Valid:      true,
		Latitude:   19.4326,
		Longitude:  -99.1332,
		Altitude:   2240,
		Speed:      54,
		Course:     180,
		Satellites: 9,
	}
	p.Attributes.Set("pwr_ext", retranslator.Float64Value(13.8))
	p.Attributes.Set("odometer", retranslator.Int64Value(9007199254740993))
	p.Attributes.Set("in1", retranslator.Int32Value(1))
	return p
}

func TestCalcFix(t *testing.T) {
	assert.Equal(t, 1, CalcFix(4, 10, 10))
	assert.Equal(t, 0, CalcFix(3, 10, 10))
	assert.Equal(t, 0, CalcFix(8, 0, 0))
	assert.Equal(t, 0, CalcFix(8, 91, 10))
	assert.Equal(t, 0, CalcFix(8, 10, -181))
	assert.Equal(t, 0, CalcFix(8, math.NaN(), 10))
}

func TestDecideMsgType(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, DecideMsgType(now.Add(-time.Minute), now))
	assert.Equal(t, 0, DecideMsgType(now.Add(-3*time.Minute), now))
	assert.Equal(t, 1, DecideMsgType(time.Time{}, now))
}

func TestBuildTracking(t *testing.T) {
	ts := time.Date(2025, 1, 1, 11, 59, 30, 0, time.UTC)
	tr := BuildTracking(samplePosition(ts), ts.Add(30*time.Second))

	assert.Equal(t, "session-1", tr.DeviceID)
	assert.Equal(t, "2025-01-01T11:59:30Z", tr.Datetime)
	assert.Equal(t, 54, tr.Spd)
	assert.Equal(t, 180, tr.Crs)
	assert.Equal(t, 9, tr.Sats)
	assert.Equal(t, 1, tr.MsgType)
	assert.Equal(t, 1, tr.Fix)

	b, err := json.Marshal(tr)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"attrs":{"pwr_ext":13.8,"odometer":9007199254740993,"in1":1}`)
}

func TestTrackingJSONNonFiniteFloats(t *testing.T) {
	p := samplePosition(time.Unix(1700000000, 0))
	p.Latitude = math.NaN()
	p.Altitude = math.Inf(-1)
	p.Attributes.Set("pwr", retranslator.Float64Value(math.NaN()))

	b, err := json.Marshal(BuildTracking(p, time.Unix(1700000000, 0)))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "NaN", got["lat"])
	assert.Equal(t, -99.1332, got["lon"])
	assert.Equal(t, "-Inf", got["alt"])
	assert.Equal(t, "session-1", got["device_id"])
	assert.Equal(t, float64(0), got["fix"])
	assert.Equal(t, "NaN", got["attrs"].(map[string]any)["pwr"])
}

func TestBuildTrackingOutdatedHasNoFix(t *testing.T) {
	p := samplePosition(time.Unix(1700000000, 0))
	p.Valid = false
	p.Outdated = true

	tr := BuildTracking(p, time.Unix(1700000000, 0))
	assert.Equal(t, 0, tr.Fix)
	assert.True(t, tr.Outdated)
}

func TestToStruct(t *testing.T) {
	ts := time.Date(2025, 1, 1, 11, 59, 30, 0, time.UTC)
	s, err := ToStruct(BuildTracking(samplePosition(ts), ts))
	require.NoError(t, err)

	f := s.GetFields()
	assert.Equal(t, "session-1", f["device_id"].GetStringValue())
	assert.Equal(t, 19.4326, f["lat"].GetNumberValue())
	assert.Equal(t, float64(9), f["sats"].GetNumberValue())
	assert.True(t, f["valid"].GetBoolValue())

	attrs := f["attrs"].GetStructValue().GetFields()
	assert.Equal(t, 13.8, attrs["pwr_ext"].GetNumberValue())
	assert.Equal(t, "9007199254740993", attrs["odometer"].GetStringValue())
	assert.Equal(t, float64(1), attrs["in1"].GetNumberValue())
}
