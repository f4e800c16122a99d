package routing

import (
	"context"
	"errors"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/broker"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/routecache"
)

// applicationEndpoint rebuilds the full broker.Endpoint for an
// application id — needed whenever a pipeline learns an application's
// identity from a buffered row rather than from the inbound message's
// own endpoint, since Username()/dial both need the owning unit's
// code.
func (e *Engine) applicationEndpoint(ctx context.Context, applicationID string) (broker.Endpoint, error) {
	app, err := e.stores.Applications.Get(ctx, applicationID)
	if err != nil {
		return broker.Endpoint{}, err
	}
	unit, err := e.stores.Units.Get(ctx, app.UnitID)
	if err != nil {
		return broker.Endpoint{}, err
	}
	return broker.Endpoint{
		Kind:         broker.KindApplication,
		EndpointID:   app.ApplicationID,
		EndpointCode: app.Code,
		UnitCode:     unit.Code,
		HostURI:      app.HostURI,
		Scheme:       app.Scheme,
	}, nil
}

// networkEndpoint rebuilds the full broker.Endpoint for a network id,
// resolving its owning unit's code when the network is not public.
func (e *Engine) networkEndpoint(ctx context.Context, networkID string) (broker.Endpoint, error) {
	net, err := e.stores.Networks.Get(ctx, networkID)
	if err != nil {
		return broker.Endpoint{}, err
	}
	var unitCode string
	if net.UnitID != nil {
		unit, err := e.stores.Units.Get(ctx, *net.UnitID)
		if err != nil {
			return broker.Endpoint{}, err
		}
		unitCode = unit.Code
	}
	return broker.Endpoint{
		Kind:         broker.KindNetwork,
		EndpointID:   net.NetworkID,
		EndpointCode: net.Code,
		UnitCode:     unitCode,
		HostURI:      net.HostURI,
		Scheme:       net.Scheme,
	}, nil
}

// resolveDevice implements spec §4.6 uplink step 1: resolve a device
// by its (unit_code-or-empty, network_code, network_addr) triple
// through the device cache, falling back to the store on a miss and
// populating either a positive or a negative marker so the next
// lookup for the same key never reaches the database.
func (e *Engine) resolveDevice(ctx context.Context, unitCode, networkCode, networkAddr string) (*models.Device, error) {
	dev, err := e.deviceCache.Get(ctx, unitCode, networkCode, networkAddr)
	switch {
	case err == nil:
		return dev, nil
	case errors.Is(err, routecache.ErrNegative):
		return nil, apperr.NotFound(apperr.CodeNotFound, "device does not exist")
	}

	var unitID *string
	if unitCode != "" {
		unit, uerr := e.stores.Units.GetByCode(ctx, unitCode)
		if uerr != nil {
			if apperr.Is(uerr, apperr.KindNotFound) {
				_ = e.deviceCache.SetNegative(ctx, unitCode, networkCode, networkAddr)
				return nil, apperr.NotFound(apperr.CodeNotFound, "device does not exist")
			}
			return nil, uerr
		}
		unitID = &unit.UnitID
	}

	network, nerr := e.stores.Networks.GetByUnitCode(ctx, unitID, networkCode)
	if nerr != nil {
		if apperr.Is(nerr, apperr.KindNotFound) {
			_ = e.deviceCache.SetNegative(ctx, unitCode, networkCode, networkAddr)
			return nil, apperr.NotFound(apperr.CodeNotFound, "device does not exist")
		}
		return nil, nerr
	}

	dev, derr := e.stores.Devices.GetByNetworkAddr(ctx, network.NetworkID, networkAddr)
	if derr != nil {
		if apperr.Is(derr, apperr.KindNotFound) {
			_ = e.deviceCache.SetNegative(ctx, unitCode, networkCode, networkAddr)
			return nil, apperr.NotFound(apperr.CodeNotFound, "device does not exist")
		}
		return nil, derr
	}

	_ = e.deviceCache.SetPositive(ctx, unitCode, networkCode, networkAddr, dev)
	return dev, nil
}

// uplinkTargets resolves spec §4.6 uplink step 2: the deduplicated
// union of every application bound to the device's network (via
// network-routes) or to the device itself (via device-routes),
// collapsed to (application_id, host_uri) pairs and cached under the
// uldata sub-table.
func (e *Engine) uplinkTargets(ctx context.Context, dev *models.Device) ([]routecache.Target, error) {
	if cached, err := e.routeCache.GetUplinkTargets(ctx, dev.DeviceID); err == nil {
		return cached, nil
	}

	seen := make(map[string]struct{})
	var targets []routecache.Target

	addTarget := func(applicationID string) error {
		if _, ok := seen[applicationID]; ok {
			return nil
		}
		app, err := e.stores.Applications.Get(ctx, applicationID)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return nil
			}
			return err
		}
		seen[applicationID] = struct{}{}
		targets = append(targets, routecache.Target{ApplicationID: app.ApplicationID, HostURI: app.HostURI})
		return nil
	}

	netRoutes, err := e.stores.NetworkRoutes.ListByNetwork(ctx, dev.NetworkID)
	if err != nil {
		return nil, err
	}
	for _, r := range netRoutes {
		if err := addTarget(r.ApplicationID); err != nil {
			return nil, err
		}
	}

	devRoutes, err := e.stores.DeviceRoutes.ListByDevice(ctx, dev.DeviceID)
	if err != nil {
		return nil, err
	}
	for _, r := range devRoutes {
		if err := addTarget(r.ApplicationID); err != nil {
			return nil, err
		}
	}

	if targets == nil {
		targets = []routecache.Target{}
	}
	_ = e.routeCache.SetUplinkTargets(ctx, dev.DeviceID, targets)
	return targets, nil
}
