package storage

import (
	"context"
	"time"

	"github.com/bbu-fleet/bbu-server/internal/models"
)

// ========== Device Methods ==========

const deviceColumns = `ip, state, temp, mode, ch, band, mcc, mnc, arfcn, ul_freq, dl_freq,
	sniff_status, sniff_scan, last_seen, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	d := &models.Device{}
	err := row.Scan(
		&d.IP, &d.State, &d.Temp, &d.Mode, &d.Channel, &d.Band,
		&d.MCC, &d.MNC, &d.ARFCN, &d.ULFreq, &d.DLFreq,
		&d.SniffStatus, &d.SniffScan, &d.LastSeen, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return d, nil
}

// UpsertDeviceHeartbeat 按 IP 插入或刷新设备，last_seen 只增不减
func (s *PostgresStore) UpsertDeviceHeartbeat(ctx context.Context, ip string, hb models.HeartbeatUpdate) (*models.Device, error) {
	now := time.Now()
	query := `
        INSERT INTO devices (
            ip, state, temp, mode, ch, band, last_seen, created_at, updated_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $8
        )
        ON CONFLICT (ip) DO UPDATE SET
            state      = EXCLUDED.state,
            temp       = EXCLUDED.temp,
            mode       = EXCLUDED.mode,
            ch         = EXCLUDED.ch,
            band       = CASE WHEN EXCLUDED.band = '' THEN devices.band ELSE EXCLUDED.band END,
            last_seen  = GREATEST(devices.last_seen, EXCLUDED.last_seen),
            updated_at = EXCLUDED.updated_at
        RETURNING ` + deviceColumns

	row := s.getDB().QueryRowContext(ctx, query,
		ip, hb.State, hb.Temp, hb.Mode, hb.Channel, hb.Band, hb.Seen, now,
	)
	return scanDevice(row)
}

// GetDevice gets a device by IP
func (s *PostgresStore) GetDevice(ctx context.Context, ip string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE ip = $1`
	return scanDevice(s.getDB().QueryRowContext(ctx, query, ip))
}

// ListDevices lists all devices ordered by IP
func (s *PostgresStore) ListDevices(ctx context.Context) ([]*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY ip`

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpdateDeviceConfig 配置读取响应刷新网络标识与频点
func (s *PostgresStore) UpdateDeviceConfig(ctx context.Context, ip string, cfg models.ConfigUpdate) (*models.Device, error) {
	query := `
        UPDATE devices SET
            mcc = $2, mnc = $3, band = $4, arfcn = $5, ul_freq = $6, dl_freq = $7,
            updated_at = $8
        WHERE ip = $1
        RETURNING ` + deviceColumns

	row := s.getDB().QueryRowContext(ctx, query,
		ip, cfg.MCC, cfg.MNC, cfg.Band, cfg.ARFCN, cfg.ULFreq, cfg.DLFreq, time.Now(),
	)
	return scanDevice(row)
}

// UpdateDeviceState 只改状态，不动 last_seen
func (s *PostgresStore) UpdateDeviceState(ctx context.Context, ip string, state models.DeviceState) error {
	res, err := s.getDB().ExecContext(ctx,
		`UPDATE devices SET state = $2, updated_at = $3 WHERE ip = $1`,
		ip, state, time.Now(),
	)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// MarkDeviceOffline 以扫描时读到的 last_seen 作条件，期间到达的心跳不会被覆盖
func (s *PostgresStore) MarkDeviceOffline(ctx context.Context, ip string, seen time.Time) (bool, error) {
	res, err := s.getDB().ExecContext(ctx,
		`UPDATE devices SET state = $2, updated_at = $4
         WHERE ip = $1 AND last_seen = $3 AND state <> $2`,
		ip, models.StateOffline, seen, time.Now(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateDeviceSniffer 写入扫频模块状态
func (s *PostgresStore) UpdateDeviceSniffer(ctx context.Context, ip string, status, scan int) (*models.Device, error) {
	query := `
        UPDATE devices SET sniff_status = $2, sniff_scan = $3, updated_at = $4
        WHERE ip = $1
        RETURNING ` + deviceColumns

	return scanDevice(s.getDB().QueryRowContext(ctx, query, ip, status, scan, time.Now()))
}
