package routecache

import (
	"context"
	"fmt"
	"time"

	"github.com/sylvia-iot/controlplane/internal/cache"
)

// Target is one (application_id, host_uri) binding a cached route
// resolves to.
type Target struct {
	ApplicationID string `json:"applicationId"`
	HostURI       string `json:"hostUri"`
}

type targetEntry struct {
	Negative bool     `json:"negative,omitempty"`
	Targets  []Target `json:"targets,omitempty"`
}

// DeviceRouteCache implements the three sub-tables of spec §3/§4.6:
// uldata (device_id → targets), dldata ((unit_code,network_code,
// network_addr) → targets), dldata_pub ((unit_id,device_id) → targets).
type DeviceRouteCache struct {
	c   cache.Cache
	ttl time.Duration
}

func NewDeviceRouteCache(c cache.Cache, ttl time.Duration) *DeviceRouteCache {
	return &DeviceRouteCache{c: c, ttl: ttl}
}

func uldataKey(deviceID string) string { return "uldata:" + deviceID }

func dldataKey(unitCode, networkCode, networkAddr string) string {
	return fmt.Sprintf("dldata:%s:%s:%s", unitCode, networkCode, networkAddr)
}

func dldataPubKey(unitID, deviceID string) string {
	return fmt.Sprintf("dldatapub:%s:%s", unitID, deviceID)
}

func (d *DeviceRouteCache) getEntry(ctx context.Context, key string) ([]Target, error) {
	var e targetEntry
	if err := d.c.Get(ctx, key, &e); err != nil {
		return nil, err
	}
	if e.Negative {
		return nil, ErrNegative
	}
	return e.Targets, nil
}

func (d *DeviceRouteCache) setEntry(ctx context.Context, key string, targets []Target) error {
	return d.c.Set(ctx, key, targetEntry{Targets: targets}, d.ttl)
}

func (d *DeviceRouteCache) setNegative(ctx context.Context, key string) error {
	return d.c.Set(ctx, key, targetEntry{Negative: true}, d.ttl)
}

// GetUplinkTargets resolves the uldata sub-table: the deduplicated
// application fan-out for a device's uplink traffic (spec §4.6 step 2).
func (d *DeviceRouteCache) GetUplinkTargets(ctx context.Context, deviceID string) ([]Target, error) {
	return d.getEntry(ctx, uldataKey(deviceID))
}

func (d *DeviceRouteCache) SetUplinkTargets(ctx context.Context, deviceID string, targets []Target) error {
	return d.setEntry(ctx, uldataKey(deviceID), targets)
}

func (d *DeviceRouteCache) SetUplinkTargetsNegative(ctx context.Context, deviceID string) error {
	return d.setNegative(ctx, uldataKey(deviceID))
}

func (d *DeviceRouteCache) InvalidateUplinkTargets(ctx context.Context, deviceID string) error {
	return d.c.Delete(ctx, uldataKey(deviceID))
}

// GetByAddr resolves the dldata sub-table: downlink addressed by
// (network_code, network_addr) rather than device_id (spec §4.6
// downlink step 1).
func (d *DeviceRouteCache) GetByAddr(ctx context.Context, unitCode, networkCode, networkAddr string) ([]Target, error) {
	return d.getEntry(ctx, dldataKey(unitCode, networkCode, networkAddr))
}

func (d *DeviceRouteCache) SetByAddr(ctx context.Context, unitCode, networkCode, networkAddr string, targets []Target) error {
	return d.setEntry(ctx, dldataKey(unitCode, networkCode, networkAddr), targets)
}

func (d *DeviceRouteCache) InvalidateByAddr(ctx context.Context, unitCode, networkCode, networkAddr string) error {
	return d.c.Delete(ctx, dldataKey(unitCode, networkCode, networkAddr))
}

// GetByDeviceID resolves the dldata_pub sub-table: downlink addressed
// directly by device_id, scoped by the requesting unit.
func (d *DeviceRouteCache) GetByDeviceID(ctx context.Context, unitID, deviceID string) ([]Target, error) {
	return d.getEntry(ctx, dldataPubKey(unitID, deviceID))
}

func (d *DeviceRouteCache) SetByDeviceID(ctx context.Context, unitID, deviceID string, targets []Target) error {
	return d.setEntry(ctx, dldataPubKey(unitID, deviceID), targets)
}

func (d *DeviceRouteCache) InvalidateByDeviceID(ctx context.Context, unitID, deviceID string) error {
	return d.c.Delete(ctx, dldataPubKey(unitID, deviceID))
}

// InvalidateAllForDevice clears every sub-table entry that could hold
// a binding for deviceID — used on single and bulk device deletion,
// per spec §8 scenario 4's "contains no entry matching any key".
func (d *DeviceRouteCache) InvalidateAllForDevice(ctx context.Context, unitID, unitCode, networkCode, networkAddr, deviceID string) error {
	if err := d.InvalidateUplinkTargets(ctx, deviceID); err != nil {
		return err
	}
	if err := d.InvalidateByAddr(ctx, unitCode, networkCode, networkAddr); err != nil {
		return err
	}
	return d.InvalidateByDeviceID(ctx, unitID, deviceID)
}
