package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"retranslator-svr/internal/codec/retranslator"
	"retranslator-svr/internal/observability"
)

// LastPositions keeps the most recent valid fix per device session.
type LastPositions struct {
	rdb *redis.Client
	now func() time.Time
}

func NewLastPositions(rdb *redis.Client) *LastPositions {
	return &LastPositions{rdb: rdb, now: time.Now}
}

// SaveLast stores p if it is a valid fix with coordinates.
func (l *LastPositions) SaveLast(ctx context.Context, p *retranslator.Position) error {
	if p == nil || !p.Valid || !p.HasLocation() {
		return nil
	}
	err := l.rdb.HSet(ctx, lastKey(p.DeviceID), map[string]any{
		"lat":      strconv.FormatFloat(p.Latitude, 'g', -1, 64),
		"lon":      strconv.FormatFloat(p.Longitude, 'g', -1, 64),
		"alt":      strconv.FormatFloat(p.Altitude, 'g', -1, 64),
		"speed":    int(p.Speed),
		"course":   int(p.Course),
		"fix_time": p.FixTime.Unix(),
		"valid":    p.Valid,
	}).Err()
	if err != nil {
		observability.RedisErrors.Inc()
		return fmt.Errorf("save last %s: %w", p.DeviceID, err)
	}
	return nil
}

// FillLastKnown implements retranslator.LastLocationProvider. The position
// is marked outdated. Location fields and validity come from the stored fix
// if there is one, otherwise the fix time is the epoch and validity is left
// as decoded. Attributes are not touched.
func (l *LastPositions) FillLastKnown(ctx context.Context, p *retranslator.Position, asOf time.Time) error {
	p.Outdated = true
	if asOf.IsZero() {
		asOf = l.now().UTC()
	}
	p.DeviceTime = asOf

	vals, err := l.rdb.HGetAll(ctx, lastKey(p.DeviceID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		observability.RedisErrors.Inc()
		return fmt.Errorf("load last %s: %w", p.DeviceID, err)
	}
	if len(vals) == 0 {
		p.FixTime = time.Unix(0, 0).UTC()
		return nil
	}

	var fixTime int64
	valid := true
	if err := parseFields(vals, map[string]any{
		"lat":      &p.Latitude,
		"lon":      &p.Longitude,
		"alt":      &p.Altitude,
		"speed":    &p.Speed,
		"course":   &p.Course,
		"fix_time": &fixTime,
		"valid":    &valid,
	}); err != nil {
		return fmt.Errorf("load last %s: %w", p.DeviceID, err)
	}
	p.FixTime = time.Unix(fixTime, 0).UTC()
	p.Valid = valid
	return nil
}

func parseFields(vals map[string]string, dst map[string]any) error {
	for name, out := range dst {
		raw, ok := vals[name]
		if !ok {
			continue
		}
		switch v := out.(type) {
		case *float64:
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
			*v = f
		case *int16:
			n, err := strconv.ParseInt(raw, 10, 16)
			if err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
			*v = int16(n)
		case *bool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
			*v = b
		case *int64:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
			*v = n
		}
	}
	return nil
}
