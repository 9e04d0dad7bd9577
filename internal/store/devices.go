package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"retranslator-svr/internal/observability"
)

const originTTL = 24 * time.Hour

// Devices is the device session registry. It maps the textual id a device
// sends to a session key.
type Devices struct {
	rdb             *redis.Client
	registerUnknown bool
	logger          *slog.Logger
}

func NewDevices(rdb *redis.Client, registerUnknown bool, lg *slog.Logger) *Devices {
	return &Devices{rdb: rdb, registerUnknown: registerUnknown, logger: lg.With("component", "devices")}
}

// Register returns the session key of uniqueID, creating one if needed.
func (d *Devices) Register(ctx context.Context, uniqueID string) (string, error) {
	key := uuid.NewString()
	ok, err := d.rdb.SetNX(ctx, sessionKey(uniqueID), key, 0).Result()
	if err != nil {
		observability.RedisErrors.Inc()
		return "", fmt.Errorf("register %s: %w", uniqueID, err)
	}
	if ok {
		d.logger.Info("device registered", "unique_id", uniqueID, "session", key)
		return key, nil
	}
	existing, err := d.rdb.Get(ctx, sessionKey(uniqueID)).Result()
	if err != nil {
		observability.RedisErrors.Inc()
		return "", fmt.Errorf("register %s: %w", uniqueID, err)
	}
	return existing, nil
}

func (d *Devices) Forget(ctx context.Context, uniqueID string) error {
	if err := d.rdb.Del(ctx, sessionKey(uniqueID), originKey(uniqueID)).Err(); err != nil {
		observability.RedisErrors.Inc()
		return fmt.Errorf("forget %s: %w", uniqueID, err)
	}
	return nil
}

// Resolve implements retranslator.DeviceResolver.
func (d *Devices) Resolve(ctx context.Context, uniqueID string, origin net.Addr) (string, bool, error) {
	if uniqueID == "" {
		return "", false, nil
	}
	key, err := d.rdb.Get(ctx, sessionKey(uniqueID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		if !d.registerUnknown {
			return "", false, nil
		}
		if key, err = d.Register(ctx, uniqueID); err != nil {
			return "", false, err
		}
	case err != nil:
		observability.RedisErrors.Inc()
		return "", false, fmt.Errorf("resolve %s: %w", uniqueID, err)
	}

	if origin != nil {
		if err := d.rdb.Set(ctx, originKey(uniqueID), origin.String(), originTTL).Err(); err != nil {
			observability.RedisErrors.Inc()
			d.logger.Warn("origin update failed", "unique_id", uniqueID, "err", err)
		}
	}
	return key, true, nil
}

// Origin returns the last transport address seen for uniqueID.
func (d *Devices) Origin(ctx context.Context, uniqueID string) (string, bool) {
	v, err := d.rdb.Get(ctx, originKey(uniqueID)).Result()
	if err != nil {
		return "", false
	}
	return v, true
}
