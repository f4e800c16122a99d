package postgres

import (
	"context"
	"database/sql"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store"
)

// DeviceStore implements the device CRUD surface of spec §4.2/§3,
// including add_bulk for gateway-driven provisioning.
//
// Device.NetworkCode/UnitCode are not stored columns — they're carried
// by the unit/network a device belongs to, so every read joins those
// two tables to populate them the way the cache (C4) keys expect.
type DeviceStore struct{ db *DB }

func NewDeviceStore(db *DB) *DeviceStore { return &DeviceStore{db: db} }

var deviceSortKeys = map[string]bool{"network_addr": true, "name": true, "created_at": true, "modified_at": true}

const deviceSelect = `
	SELECT d.device_id, d.unit_id, u.code, d.network_id, n.code, d.network_addr,
		d.profile, d.name, d.info, d.created_at, d.modified_at
	FROM devices d
	JOIN units u ON u.unit_id = d.unit_id
	JOIN networks n ON n.network_id = d.network_id
`

func (s *DeviceStore) Add(ctx context.Context, d *models.Device) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO devices (device_id, unit_id, network_id, network_addr, profile, name, info, created_at, modified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.DeviceID, d.UnitID, d.NetworkID, d.NetworkAddr, d.Profile, d.Name,
		marshalJSON(d.Info), d.CreatedAt, d.ModifiedAt)
	if err != nil {
		return translate(err, apperr.CodeBrokerUnitNotExist, apperr.CodeBrokerNetAddrExist, "failed to add device")
	}
	return nil
}

// AddBulk inserts many devices in one transaction. Per spec §8's
// add_bulk idempotence law, a row whose (network_id, network_addr)
// already exists is left untouched rather than aborting the whole
// batch — only genuinely new addresses are inserted.
func (s *DeviceStore) AddBulk(ctx context.Context, devices []*models.Device) error {
	if len(devices) == 0 {
		return nil
	}
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, d := range devices {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO devices (device_id, unit_id, network_id, network_addr, profile, name, info, created_at, modified_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
				ON CONFLICT (network_id, lower(network_addr)) DO NOTHING`,
				d.DeviceID, d.UnitID, d.NetworkID, d.NetworkAddr, d.Profile, d.Name,
				marshalJSON(d.Info), d.CreatedAt, d.ModifiedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return translate(err, apperr.CodeBrokerUnitNotExist, apperr.CodeBrokerNetAddrExist, "failed to add devices")
	}
	return nil
}

func scanDevice(row scanner) (*models.Device, error) {
	var d models.Device
	var info []byte
	if err := row.Scan(&d.DeviceID, &d.UnitID, &d.UnitCode, &d.NetworkID, &d.NetworkCode,
		&d.NetworkAddr, &d.Profile, &d.Name, &info, &d.CreatedAt, &d.ModifiedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(info, &d.Info); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DeviceStore) Get(ctx context.Context, deviceID string) (*models.Device, error) {
	row := s.db.Conn.QueryRowContext(ctx, deviceSelect+" WHERE d.device_id=$1", deviceID)
	d, err := scanDevice(row)
	if err != nil {
		return nil, translate(err, apperr.CodeBrokerDeviceNotExist, "", "failed to get device")
	}
	return d, nil
}

func (s *DeviceStore) GetByNetworkAddr(ctx context.Context, networkID, networkAddr string) (*models.Device, error) {
	row := s.db.Conn.QueryRowContext(ctx,
		deviceSelect+" WHERE d.network_id=$1 AND lower(d.network_addr)=lower($2)", networkID, networkAddr)
	d, err := scanDevice(row)
	if err != nil {
		return nil, translate(err, apperr.CodeBrokerDeviceNotExist, "", "failed to get device")
	}
	return d, nil
}

func (s *DeviceStore) List(ctx context.Context, unitID, networkID, contains string, opts store.ListOptions, cur *store.Cursor) ([]*models.Device, *store.Cursor, error) {
	if err := store.AllowedSortKeys(opts.Sort, deviceSortKeys); err != nil {
		return nil, nil, apperr.Parameter(apperr.CodeParam, err.Error())
	}
	offset, limit := store.NextWindow(opts, cur)

	var clauses []store.Clause
	if unitID != "" {
		clauses = append(clauses, store.Clause{SQL: "d.unit_id = $%d", Arg: unitID})
	}
	if networkID != "" {
		clauses = append(clauses, store.Clause{SQL: "d.network_id = $%d", Arg: networkID})
	}
	if contains != "" {
		clauses = append(clauses, store.Clause{SQL: "d.network_addr ILIKE $%d", Arg: store.ContainsPattern(contains)})
	}
	where, args := store.BuildWhere(clauses, 1)

	q := deviceSelect + " WHERE " + where + orderByClause(opts.Sort, "d.created_at")
	var suffix string
	suffix, args = limitOffset(args, limit, offset)
	q += suffix

	rows, err := s.db.Conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, translate(err, "", "", "failed to list devices")
	}
	defer rows.Close()

	var out []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, nil, apperr.Internal("err_internal", "failed to scan device", err)
		}
		out = append(out, d)
	}
	return out, store.AdvanceCursor(opts, cur, offset, limit, len(out)), nil
}

func (s *DeviceStore) Count(ctx context.Context, unitID, networkID, contains string) (int, error) {
	var clauses []store.Clause
	if unitID != "" {
		clauses = append(clauses, store.Clause{SQL: "unit_id = $%d", Arg: unitID})
	}
	if networkID != "" {
		clauses = append(clauses, store.Clause{SQL: "network_id = $%d", Arg: networkID})
	}
	if contains != "" {
		clauses = append(clauses, store.Clause{SQL: "network_addr ILIKE $%d", Arg: store.ContainsPattern(contains)})
	}
	where, args := store.BuildWhere(clauses, 1)
	var n int
	err := s.db.Conn.QueryRowContext(ctx, "SELECT count(*) FROM devices WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, translate(err, "", "", "failed to count devices")
	}
	return n, nil
}

func (s *DeviceStore) Update(ctx context.Context, d *models.Device) error {
	res, err := s.db.Conn.ExecContext(ctx, `
		UPDATE devices SET profile=$2, name=$3, info=$4, modified_at=$5
		WHERE device_id=$1`,
		d.DeviceID, d.Profile, d.Name, marshalJSON(d.Info), d.ModifiedAt)
	if err != nil {
		return translate(err, apperr.CodeBrokerDeviceNotExist, "", "failed to update device")
	}
	return checkAffected(res, apperr.CodeBrokerDeviceNotExist, "device not found")
}

func (s *DeviceStore) Del(ctx context.Context, deviceID string) error {
	_, err := s.db.Conn.ExecContext(ctx, "DELETE FROM devices WHERE device_id=$1", deviceID)
	if err != nil {
		return translate(err, "", "", "failed to delete device")
	}
	return nil
}
