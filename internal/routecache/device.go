// Package routecache implements the two spec-specific cache tables
// (device cache, device-route cache) over the generic cache.Cache
// interface: key composition, positive/negative markers, and the
// device-route cache's three sub-tables (uldata, dldata, dldata_pub).
package routecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sylvia-iot/controlplane/internal/cache"
	"github.com/sylvia-iot/controlplane/internal/models"
)

// ErrNegative distinguishes "definitely does not exist" (a negative
// marker hit) from a plain cache miss, so callers skip the store
// lookup instead of treating it as an unknown.
var ErrNegative = errors.New("routecache: negative marker")

// DeviceCache resolves a device by (unit_code-or-empty, network_code,
// network_addr), per spec §4.6 uplink step 1.
type DeviceCache struct {
	c   cache.Cache
	ttl time.Duration
}

func NewDeviceCache(c cache.Cache, ttl time.Duration) *DeviceCache {
	return &DeviceCache{c: c, ttl: ttl}
}

func deviceKey(unitCode, networkCode, networkAddr string) string {
	return fmt.Sprintf("devaddr:%s:%s:%s", unitCode, networkCode, networkAddr)
}

// Get returns the cached device, ErrNegative on a negative marker, or
// cache.ErrCacheMiss if neither is present.
func (d *DeviceCache) Get(ctx context.Context, unitCode, networkCode, networkAddr string) (*models.Device, error) {
	var stored struct {
		Negative bool           `json:"negative,omitempty"`
		Device   *models.Device `json:"device,omitempty"`
	}
	if err := d.c.Get(ctx, deviceKey(unitCode, networkCode, networkAddr), &stored); err != nil {
		return nil, err
	}
	if stored.Negative {
		return nil, ErrNegative
	}
	return stored.Device, nil
}

func (d *DeviceCache) SetPositive(ctx context.Context, unitCode, networkCode, networkAddr string, dev *models.Device) error {
	return d.c.Set(ctx, deviceKey(unitCode, networkCode, networkAddr),
		struct {
			Negative bool           `json:"negative,omitempty"`
			Device   *models.Device `json:"device,omitempty"`
		}{Device: dev}, d.ttl)
}

func (d *DeviceCache) SetNegative(ctx context.Context, unitCode, networkCode, networkAddr string) error {
	return d.c.Set(ctx, deviceKey(unitCode, networkCode, networkAddr),
		struct {
			Negative bool           `json:"negative,omitempty"`
			Device   *models.Device `json:"device,omitempty"`
		}{Negative: true}, d.ttl)
}

// Invalidate clears both the positive and negative entry for a key —
// the state after a control-bus del-device message must have neither,
// per spec §8 scenario 4.
func (d *DeviceCache) Invalidate(ctx context.Context, unitCode, networkCode, networkAddr string) error {
	return d.c.Delete(ctx, deviceKey(unitCode, networkCode, networkAddr))
}
