package retranslator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

// Ack is written back to the device for every frame received.
const Ack byte = 0x11

const posInfoName = "posinfo"

var (
	ErrMalformedFrame = errors.New("retranslator: malformed frame")
	ErrNoResolver     = errors.New("retranslator: decoder has no device resolver")
)

// DeviceResolver maps the textual device id from a frame to a session key.
// found=false means the device is unknown and the frame must be dropped.
type DeviceResolver interface {
	Resolve(ctx context.Context, uniqueID string, origin net.Addr) (key string, found bool, err error)
}

// LastLocationProvider fills location fields of p from the most recent
// known fix of the same device.
type LastLocationProvider interface {
	FillLastKnown(ctx context.Context, p *Position, asOf time.Time) error
}

// Decoder turns one Retranslator frame into a Position. It holds no state
// between frames and is safe for concurrent use. Resolver is required;
// without it every frame is acked and fails with ErrNoResolver.
type Decoder struct {
	Resolver  DeviceResolver
	LastKnown LastLocationProvider // optional
	Logger    *slog.Logger         // optional, ack failures only
}

func NewDecoder(resolver DeviceResolver, lastKnown LastLocationProvider, lg *slog.Logger) *Decoder {
	return &Decoder{Resolver: resolver, LastKnown: lastKnown, Logger: lg}
}

// Decode acknowledges the frame on ack, then parses it.
//
// It returns (nil, nil) when the device id cannot be resolved. Truncated or
// inconsistent frames yield an error wrapping ErrMalformedFrame and no
// position.
func (d *Decoder) Decode(ctx context.Context, ack io.Writer, origin net.Addr, frame []byte) (*Position, error) {
	// The device expects the ack regardless of what follows.
	if ack != nil {
		if _, err := ack.Write([]byte{Ack}); err != nil && d.Logger != nil {
			d.Logger.Warn("ack write failed", "origin", addrString(origin), "err", err)
		}
	}

	if d.Resolver == nil {
		return nil, ErrNoResolver
	}

	c := &cursor{buf: frame}

	if err := c.skip(4, "length"); err != nil {
		return nil, err
	}
	uniqueID, err := c.cstring("device id")
	if err != nil {
		return nil, err
	}

	key, found, err := d.Resolver.Resolve(ctx, uniqueID, origin)
	if err != nil {
		return nil, fmt.Errorf("resolve device %q: %w", uniqueID, err)
	}
	if !found {
		return nil, nil
	}

	pos := newPosition(key)

	ts, err := c.u32("timestamp")
	if err != nil {
		return nil, err
	}
	pos.DeviceTime = time.Unix(int64(ts), 0).UTC()

	if err := c.skip(4, "flags"); err != nil {
		return nil, err
	}

	for c.remaining() > 0 {
		if err := decodeBlock(c, pos); err != nil {
			return nil, err
		}
	}

	if !pos.HasLocation() && d.LastKnown != nil {
		if err := d.LastKnown.FillLastKnown(ctx, pos, pos.DeviceTime); err != nil {
			return nil, fmt.Errorf("last known location: %w", err)
		}
	}

	return pos, nil
}

// decodeBlock reads one block and leaves the cursor at the end the block
// declares, whatever the payload decode consumed.
func decodeBlock(c *cursor, pos *Position) error {
	if err := c.skip(2, "block type"); err != nil {
		return err
	}
	length, err := c.i32("block length")
	if err != nil {
		return err
	}
	if length < 0 {
		return fmt.Errorf("%w: negative block length %d at offset %d", ErrMalformedFrame, length, c.off-4)
	}
	blockEnd := c.off + int(length)

	if err := c.skip(1, "security attribute"); err != nil {
		return err
	}
	tag, err := c.u8("data type")
	if err != nil {
		return err
	}
	name, err := c.cstring("block name")
	if err != nil {
		return err
	}

	if name == posInfoName {
		err = decodePosInfo(c, pos)
	} else {
		err = decodeAttribute(c, pos, name, Kind(tag))
	}
	if err != nil {
		return err
	}

	return c.seek(blockEnd)
}

// decodePosInfo applies the fixed posinfo layout. The block's data-type tag
// is ignored.
func decodePosInfo(c *cursor, pos *Position) error {
	var err error
	if pos.Longitude, err = c.f64le("posinfo longitude"); err != nil {
		return err
	}
	if pos.Latitude, err = c.f64le("posinfo latitude"); err != nil {
		return err
	}
	if pos.Altitude, err = c.f64le("posinfo altitude"); err != nil {
		return err
	}
	if pos.Speed, err = c.i16("posinfo speed"); err != nil {
		return err
	}
	if pos.Course, err = c.i16("posinfo course"); err != nil {
		return err
	}
	if pos.Satellites, err = c.u8("posinfo satellites"); err != nil {
		return err
	}
	pos.Valid = true
	pos.FixTime = pos.DeviceTime
	return nil
}

func decodeAttribute(c *cursor, pos *Position, name string, kind Kind) error {
	switch kind {
	case KindString:
		s, err := c.cstring(name)
		if err != nil {
			return err
		}
		pos.Attributes.Set(name, StringValue(s))
	case KindInt32:
		n, err := c.i32(name)
		if err != nil {
			return err
		}
		pos.Attributes.Set(name, Int32Value(n))
	case KindFloat64:
		f, err := c.f64le(name)
		if err != nil {
			return err
		}
		pos.Attributes.Set(name, Float64Value(f))
	case KindInt64:
		n, err := c.i64(name)
		if err != nil {
			return err
		}
		pos.Attributes.Set(name, Int64Value(n))
	default:
		// binary and unknown tags are skipped by the block-end seek
	}
	return nil
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
