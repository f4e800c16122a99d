package resourcemgr

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/controlbus"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store"
)

var unitCodePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,63}$`)

func validEntityCode(code string) bool { return unitCodePattern.MatchString(code) }

// CreateUnit implements spec §4.7's algorithm for the one entity that
// has no parent to validate ownership against: the caller becomes the
// owner.
func (m *Manager) CreateUnit(ctx context.Context, p Principal, code, name string, info models.Info) (*models.Unit, error) {
	if p.UserID == nil {
		return nil, apperr.Parameter(apperr.CodeParam, "unit creation requires a user principal")
	}
	if !validEntityCode(code) {
		return nil, apperr.Parameter(apperr.CodeParam, "invalid unit code")
	}

	now := time.Now()
	u := &models.Unit{
		UnitID:    uuid.New().String(),
		Code:      code,
		OwnerID:   *p.UserID,
		Name:      name,
		Info:      info,
		Timestamps: models.Timestamps{CreatedAt: now, ModifiedAt: now},
	}
	if err := m.stores.Units.Add(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (m *Manager) GetUnit(ctx context.Context, p Principal, unitID string) (*models.Unit, error) {
	u, err := m.stores.Units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if err := p.requireView(u); err != nil {
		return nil, err
	}
	return u, nil
}

// ListUnits scopes the listing to what the principal is allowed to
// see: admin/manager get every unit (ownerOrMember=""), everyone else
// is restricted to units they own or are a member of.
func (m *Manager) ListUnits(ctx context.Context, p Principal, contains string, opts store.ListOptions, cur *store.Cursor) ([]*models.Unit, *store.Cursor, error) {
	scope := ""
	if !p.IsAdmin() && !p.IsManager() {
		if p.UserID == nil {
			return nil, nil, apperr.Forbidden(apperr.CodePerm, "no visible units")
		}
		scope = *p.UserID
	}
	return m.stores.Units.List(ctx, scope, contains, opts, cur)
}

// UpdateUnit applies name/info/member-list changes; owner_id is
// deliberately excluded from the general update path (spec §4.8:
// "manager ... cannot manage unit ownership except reassignment") —
// use ReassignUnitOwner for that.
func (m *Manager) UpdateUnit(ctx context.Context, p Principal, unitID string, name *string, info models.Info, memberIDs []string) (*models.Unit, error) {
	u, err := m.stores.Units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if err := p.requireManage(u); err != nil {
		return nil, err
	}

	if name != nil {
		u.Name = *name
	}
	if info != nil {
		u.Info = info
	}
	if memberIDs != nil {
		u.MemberIDs = memberIDs
	}
	u.ModifiedAt = time.Now()

	if err := m.stores.Units.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ReassignUnitOwner is the one ownership-mutating operation spec
// §4.8 carves out of the general update path; only admin/manager may
// call it.
func (m *Manager) ReassignUnitOwner(ctx context.Context, p Principal, unitID, newOwnerID string) (*models.Unit, error) {
	if !p.IsAdmin() && !p.IsManager() {
		return nil, apperr.Forbidden(apperr.CodePerm, "only admin or manager may reassign unit ownership")
	}
	u, err := m.stores.Units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	u.OwnerID = newOwnerID
	u.ModifiedAt = time.Now()
	if err := m.stores.Units.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (m *Manager) AddUnitMember(ctx context.Context, p Principal, unitID, userID string) (*models.Unit, error) {
	u, err := m.stores.Units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if err := p.requireManage(u); err != nil {
		return nil, err
	}
	if u.IsMember(userID) {
		return u, nil
	}
	u.MemberIDs = append(u.MemberIDs, userID)
	u.ModifiedAt = time.Now()
	if err := m.stores.Units.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (m *Manager) RemoveUnitMember(ctx context.Context, p Principal, unitID, userID string) (*models.Unit, error) {
	u, err := m.stores.Units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if err := p.requireManage(u); err != nil {
		return nil, err
	}
	kept := u.MemberIDs[:0]
	for _, id := range u.MemberIDs {
		if id != userID {
			kept = append(kept, id)
		}
	}
	u.MemberIDs = kept
	u.ModifiedAt = time.Now()
	if err := m.stores.Units.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteUnit implements spec §4.7 step 3's cascade for the
// parent-most entity: every device-route, network-route,
// downlink-buffer, device, network, and application under the unit is
// removed by the database's ON DELETE CASCADE once the unit row is
// deleted, but the broker deprovisioning (step 4) and cache
// invalidation (step 5) must happen against the still-live rows first
// — afterwards there is nothing left to query.
func (m *Manager) DeleteUnit(ctx context.Context, p Principal, unitID string) error {
	u, err := m.stores.Units.Get(ctx, unitID)
	if err != nil {
		return err
	}
	if err := p.requireManage(u); err != nil {
		return err
	}

	networks, _, err := m.stores.Networks.List(ctx, &unitID, false, "", store.ListOptions{}, nil)
	if err != nil {
		return err
	}
	applications, _, err := m.stores.Applications.List(ctx, unitID, "", store.ListOptions{}, nil)
	if err != nil {
		return err
	}

	var devices []*models.Device
	for _, n := range networks {
		ds, _, err := m.stores.Devices.List(ctx, unitID, n.NetworkID, "", store.ListOptions{}, nil)
		if err != nil {
			return err
		}
		devices = append(devices, ds...)
	}

	for _, n := range networks {
		if err := m.deprovisionNetwork(ctx, n); err != nil {
			m.logger.Error("resourcemgr: failed to deprovision network during unit delete",
				zap.String("network_id", n.NetworkID), zap.Error(err))
		}
	}
	for _, a := range applications {
		if err := m.deprovisionApplication(ctx, a); err != nil {
			m.logger.Error("resourcemgr: failed to deprovision application during unit delete",
				zap.String("application_id", a.ApplicationID), zap.Error(err))
		}
	}

	if err := m.stores.Units.Del(ctx, unitID); err != nil {
		return err
	}

	for _, d := range devices {
		m.invalidateDevice(ctx, d)
	}
	m.publishResource(ctx, controlbus.KindUnit, controlbus.OpDelUnit, controlbus.ResourceKeys{
		UnitID: u.UnitID, UnitCode: u.Code,
	})
	for _, a := range applications {
		m.publishResource(ctx, controlbus.KindApplication, controlbus.OpDelApplication, controlbus.ResourceKeys{
			UnitID: u.UnitID, UnitCode: u.Code, ApplicationID: a.ApplicationID,
		})
	}
	for _, n := range networks {
		m.publishResource(ctx, controlbus.KindNetwork, controlbus.OpDelNetwork, controlbus.ResourceKeys{
			UnitID: u.UnitID, UnitCode: u.Code, NetworkID: n.NetworkID, NetworkCode: n.Code,
		})
	}

	m.logger.Info("resourcemgr: unit deleted", zap.String("unit_id", unitID), zap.String("code", u.Code))
	return nil
}
