package resourcemgr

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/routing"
	"github.com/sylvia-iot/controlplane/internal/store"
)

// bulkMax bounds every bulk/range device operation, grounded on the
// original implementation's fixed cap on how many devices one request
// may touch.
const bulkMax = 1024

func (m *Manager) requireNetworkManage(ctx context.Context, p Principal, networkID string) (*models.Network, *models.Unit, error) {
	n, err := m.stores.Networks.Get(ctx, networkID)
	if err != nil {
		return nil, nil, err
	}
	unit, err := m.requireManageNetwork(ctx, p, n.UnitID)
	if err != nil {
		return nil, nil, err
	}
	return n, unit, nil
}

func (m *Manager) CreateDevice(ctx context.Context, p Principal, networkID, networkAddr, profile, name string, info models.Info) (*models.Device, error) {
	n, unit, err := m.requireNetworkManage(ctx, p, networkID)
	if err != nil {
		return nil, err
	}
	if networkAddr == "" {
		return nil, apperr.Parameter(apperr.CodeParam, "network_addr must not be empty")
	}

	unitID := ""
	if unit != nil {
		unitID = unit.UnitID
	}
	now := time.Now()
	d := &models.Device{
		DeviceID:    uuid.New().String(),
		UnitID:      unitID,
		NetworkID:   n.NetworkID,
		NetworkAddr: strings.ToLower(networkAddr),
		Profile:     profile,
		Name:        name,
		Info:        info,
		Timestamps:  models.Timestamps{CreatedAt: now, ModifiedAt: now},
	}
	if err := m.stores.Devices.Add(ctx, d); err != nil {
		return nil, err
	}
	return m.stores.Devices.Get(ctx, d.DeviceID)
}

func (m *Manager) GetDevice(ctx context.Context, p Principal, deviceID string) (*models.Device, error) {
	d, err := m.stores.Devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if _, err := m.requireManageNetwork(ctx, p, networkUnitID(d)); err != nil {
		return nil, err
	}
	return d, nil
}

// networkUnitID converts a device's own unit_id into the *string form
// requireManageNetwork takes (nil when empty); it does not load the
// network row. GetDevice/UpdateDevice/DeleteDevice use it to reuse
// requireManageNetwork.
func networkUnitID(d *models.Device) *string {
	if d.UnitID == "" {
		return nil
	}
	unitID := d.UnitID
	return &unitID
}

func (m *Manager) ListDevices(ctx context.Context, p Principal, unitID, networkID, contains string, opts store.ListOptions, cur *store.Cursor) ([]*models.Device, *store.Cursor, error) {
	if networkID != "" {
		n, err := m.stores.Networks.Get(ctx, networkID)
		if err != nil {
			return nil, nil, err
		}
		if _, err := m.requireManageNetwork(ctx, p, n.UnitID); err != nil {
			return nil, nil, err
		}
	} else if unitID != "" {
		unit, err := m.stores.Units.Get(ctx, unitID)
		if err != nil {
			return nil, nil, err
		}
		if err := p.requireView(unit); err != nil {
			return nil, nil, err
		}
	} else if !p.IsAdmin() && !p.IsManager() {
		return nil, nil, apperr.Parameter(apperr.CodeParam, "unit_id or network_id is required for this principal")
	}
	return m.stores.Devices.List(ctx, unitID, networkID, contains, opts, cur)
}

// CountDevices applies ListDevices' same scoping rule before
// delegating to the store, backing spec §6's /device/count.
func (m *Manager) CountDevices(ctx context.Context, p Principal, unitID, networkID, contains string) (int, error) {
	if networkID != "" {
		n, err := m.stores.Networks.Get(ctx, networkID)
		if err != nil {
			return 0, err
		}
		if _, err := m.requireManageNetwork(ctx, p, n.UnitID); err != nil {
			return 0, err
		}
	} else if unitID != "" {
		unit, err := m.stores.Units.Get(ctx, unitID)
		if err != nil {
			return 0, err
		}
		if err := p.requireView(unit); err != nil {
			return 0, err
		}
	} else if !p.IsAdmin() && !p.IsManager() {
		return 0, apperr.Parameter(apperr.CodeParam, "unit_id or network_id is required for this principal")
	}
	return m.stores.Devices.Count(ctx, unitID, networkID, contains)
}

func (m *Manager) UpdateDevice(ctx context.Context, p Principal, deviceID string, profile *string, name *string, info models.Info) (*models.Device, error) {
	d, err := m.stores.Devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if _, err := m.requireManageNetwork(ctx, p, networkUnitID(d)); err != nil {
		return nil, err
	}

	if profile != nil {
		d.Profile = *profile
	}
	if name != nil {
		d.Name = *name
	}
	if info != nil {
		d.Info = info
	}
	d.ModifiedAt = time.Now()

	if err := m.stores.Devices.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// DeleteDevice drops the row and every cache entry that could still
// resolve it, and notifies the owning network's gateway so its local
// address table converges too.
func (m *Manager) DeleteDevice(ctx context.Context, p Principal, deviceID string) error {
	d, err := m.stores.Devices.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if _, err := m.requireManageNetwork(ctx, p, networkUnitID(d)); err != nil {
		return err
	}

	if err := m.stores.Devices.Del(ctx, deviceID); err != nil {
		return err
	}
	m.invalidateDevice(ctx, d)

	if n, err := m.stores.Networks.Get(ctx, d.NetworkID); err == nil {
		if err := m.engine.NotifyDeviceBulk(ctx, n, routing.OpDelDeviceBulk, []string{d.NetworkAddr}); err != nil {
			m.logger.Error("resourcemgr: failed to notify gateway of device delete", zap.Error(err))
		}
	}
	return nil
}

// AddDeviceBulk implements spec §8's add_bulk idempotence law at the
// resource-manager level: the store already treats a colliding
// (network_id, network_addr) as a no-op, so this only needs to build
// the rows, insert them in one transaction, and invalidate/notify
// exactly the addresses given — including the ones that already
// existed, since a prior negative cache entry for them must still
// clear.
func (m *Manager) AddDeviceBulk(ctx context.Context, p Principal, networkID string, addrs []string, profile string) ([]string, error) {
	n, unit, err := m.requireNetworkManage(ctx, p, networkID)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, apperr.Parameter(apperr.CodeParam, "network_addrs must not be empty")
	}
	if len(addrs) > bulkMax {
		return nil, apperr.Parameter(apperr.CodeParam, fmt.Sprintf("network_addrs must not exceed %d entries", bulkMax))
	}

	unitID := ""
	if unit != nil {
		unitID = unit.UnitID
	}
	now := time.Now()
	devices := make([]*models.Device, 0, len(addrs))
	for _, addr := range addrs {
		if addr == "" {
			return nil, apperr.Parameter(apperr.CodeParam, "network_addrs must be non-empty addresses")
		}
		addr = strings.ToLower(addr)
		devices = append(devices, &models.Device{
			DeviceID:    uuid.New().String(),
			UnitID:      unitID,
			NetworkID:   n.NetworkID,
			NetworkAddr: addr,
			Profile:     profile,
			Name:        addr,
			Info:        models.Info{},
			Timestamps:  models.Timestamps{CreatedAt: now, ModifiedAt: now},
		})
	}
	if err := m.stores.Devices.AddBulk(ctx, devices); err != nil {
		return nil, err
	}

	unitCode := ""
	if unit != nil {
		unitCode = unit.Code
	}
	lowerAddrs := make([]string, len(addrs))
	for i, a := range addrs {
		lowerAddrs[i] = strings.ToLower(a)
	}
	m.invalidateDeviceBulk(ctx, unitID, unitCode, n.NetworkID, n.Code, lowerAddrs, nil)
	if err := m.engine.NotifyDeviceBulk(ctx, n, routing.OpAddDeviceBulk, lowerAddrs); err != nil {
		m.logger.Error("resourcemgr: failed to notify gateway of device add-bulk", zap.Error(err))
	}
	return lowerAddrs, nil
}

// DeleteDeviceBulk resolves each address to its row so the route
// cache can be invalidated by device id too, tolerating addresses
// that don't currently exist (deleting something already gone is a
// no-op, not an error).
func (m *Manager) DeleteDeviceBulk(ctx context.Context, p Principal, networkID string, addrs []string) error {
	n, unit, err := m.requireNetworkManage(ctx, p, networkID)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return apperr.Parameter(apperr.CodeParam, "network_addrs must not be empty")
	}
	if len(addrs) > bulkMax {
		return apperr.Parameter(apperr.CodeParam, fmt.Sprintf("network_addrs must not exceed %d entries", bulkMax))
	}

	unitID, unitCode := "", ""
	if unit != nil {
		unitID, unitCode = unit.UnitID, unit.Code
	}

	var deviceIDs []string
	for _, addr := range addrs {
		addr = strings.ToLower(addr)
		d, err := m.stores.Devices.GetByNetworkAddr(ctx, networkID, addr)
		if apperr.Is(err, apperr.KindNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := m.stores.Devices.Del(ctx, d.DeviceID); err != nil {
			return err
		}
		deviceIDs = append(deviceIDs, d.DeviceID)
	}

	lowerAddrs := make([]string, len(addrs))
	for i, a := range addrs {
		lowerAddrs[i] = strings.ToLower(a)
	}
	m.invalidateDeviceBulk(ctx, unitID, unitCode, n.NetworkID, n.Code, lowerAddrs, deviceIDs)
	if err := m.engine.NotifyDeviceBulk(ctx, n, routing.OpDelDeviceBulk, lowerAddrs); err != nil {
		m.logger.Error("resourcemgr: failed to notify gateway of device del-bulk", zap.Error(err))
	}
	return nil
}

// hexAddrRange parses a fixed-width hex address pair into the
// inclusive sequence of addresses between them, grounded on the
// original range-provisioning endpoint's start/end expansion: both
// addresses must share the same digit width (the width is preserved
// on every generated address) and the span may not exceed bulkMax.
func hexAddrRange(startAddr, endAddr string) ([]string, error) {
	if len(startAddr) != len(endAddr) {
		return nil, apperr.Parameter(apperr.CodeParam, "start_addr and end_addr must be the same length")
	}
	start, ok := new(big.Int).SetString(startAddr, 16)
	if !ok {
		return nil, apperr.Parameter(apperr.CodeParam, "start_addr is not a valid hex address")
	}
	end, ok := new(big.Int).SetString(endAddr, 16)
	if !ok {
		return nil, apperr.Parameter(apperr.CodeParam, "end_addr is not a valid hex address")
	}
	if start.Cmp(end) > 0 {
		return nil, apperr.Parameter(apperr.CodeParam, "start_addr must not be greater than end_addr")
	}
	span := new(big.Int).Sub(end, start)
	if !span.IsInt64() || span.Int64() >= bulkMax {
		return nil, apperr.Parameter(apperr.CodeParam, fmt.Sprintf("address range must not exceed %d entries", bulkMax))
	}

	width := len(startAddr)
	addrs := make([]string, 0, span.Int64()+1)
	cur := new(big.Int).Set(start)
	one := big.NewInt(1)
	for cur.Cmp(end) <= 0 {
		addrs = append(addrs, fmt.Sprintf("%0*x", width, cur))
		cur.Add(cur, one)
	}
	return addrs, nil
}

// AddDeviceRange expands a hex address range into concrete device
// rows, then notifies the gateway with the range's bounds rather than
// the materialized list, per spec §4.6's range-variant notification.
func (m *Manager) AddDeviceRange(ctx context.Context, p Principal, networkID, startAddr, endAddr, profile string) ([]string, error) {
	n, unit, err := m.requireNetworkManage(ctx, p, networkID)
	if err != nil {
		return nil, err
	}
	addrs, err := hexAddrRange(startAddr, endAddr)
	if err != nil {
		return nil, err
	}

	unitID, unitCode := "", ""
	if unit != nil {
		unitID, unitCode = unit.UnitID, unit.Code
	}
	now := time.Now()
	devices := make([]*models.Device, 0, len(addrs))
	for _, addr := range addrs {
		devices = append(devices, &models.Device{
			DeviceID:    uuid.New().String(),
			UnitID:      unitID,
			NetworkID:   n.NetworkID,
			NetworkAddr: addr,
			Profile:     profile,
			Name:        addr,
			Info:        models.Info{},
			Timestamps:  models.Timestamps{CreatedAt: now, ModifiedAt: now},
		})
	}
	if err := m.stores.Devices.AddBulk(ctx, devices); err != nil {
		return nil, err
	}

	m.invalidateDeviceBulk(ctx, unitID, unitCode, n.NetworkID, n.Code, addrs, nil)
	if err := m.engine.NotifyDeviceBulkRange(ctx, n, routing.OpAddDeviceBulkRange, strings.ToLower(startAddr), strings.ToLower(endAddr)); err != nil {
		m.logger.Error("resourcemgr: failed to notify gateway of device add-range", zap.Error(err))
	}
	return addrs, nil
}

func (m *Manager) DeleteDeviceRange(ctx context.Context, p Principal, networkID, startAddr, endAddr string) error {
	n, unit, err := m.requireNetworkManage(ctx, p, networkID)
	if err != nil {
		return err
	}
	addrs, err := hexAddrRange(startAddr, endAddr)
	if err != nil {
		return err
	}

	unitID, unitCode := "", ""
	if unit != nil {
		unitID, unitCode = unit.UnitID, unit.Code
	}

	var deviceIDs []string
	for _, addr := range addrs {
		d, err := m.stores.Devices.GetByNetworkAddr(ctx, networkID, addr)
		if apperr.Is(err, apperr.KindNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := m.stores.Devices.Del(ctx, d.DeviceID); err != nil {
			return err
		}
		deviceIDs = append(deviceIDs, d.DeviceID)
	}

	m.invalidateDeviceBulk(ctx, unitID, unitCode, n.NetworkID, n.Code, addrs, deviceIDs)
	if err := m.engine.NotifyDeviceBulkRange(ctx, n, routing.OpDelDeviceBulkRange, strings.ToLower(startAddr), strings.ToLower(endAddr)); err != nil {
		m.logger.Error("resourcemgr: failed to notify gateway of device del-range", zap.Error(err))
	}
	return nil
}
