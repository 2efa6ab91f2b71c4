package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/bbu-fleet/bbu-server/internal/models"
)

// ========== Campaign Methods ==========

const campaignColumns = `id, name, imsi, provider, mode, status, duration_seconds,
	start_scan, stop_scan, target_info, created_at`

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	c := &models.Campaign{}
	var (
		seconds   int64
		startScan sql.NullTime
		stopScan  sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.IMSIs, &c.Provider, &c.Mode, &c.Status, &seconds,
		&startScan, &stopScan, &c.TargetInfo, &c.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}

	c.Duration = time.Duration(seconds) * time.Second
	if startScan.Valid {
		t := startScan.Time
		c.StartScan = &t
	}
	if stopScan.Valid {
		t := stopScan.Time
		c.StopScan = &t
	}
	return c, nil
}

// CreateCampaign creates a new campaign and fills its ID
func (s *PostgresStore) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO campaigns (
            name, imsi, provider, mode, status, duration_seconds,
            start_scan, stop_scan, target_info, created_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
        )
        RETURNING id`

	err := s.getDB().QueryRowContext(ctx, query,
		c.Name, c.IMSIs, c.Provider, c.Mode, c.Status, int64(c.Duration/time.Second),
		c.StartScan, c.StopScan, c.TargetInfo, c.CreatedAt,
	).Scan(&c.ID)
	return mapError(err)
}

// GetCampaign gets a campaign by ID
func (s *PostgresStore) GetCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	return scanCampaign(s.getDB().QueryRowContext(ctx, query, id))
}

// UpdateCampaign updates a campaign
func (s *PostgresStore) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	query := `
        UPDATE campaigns SET
            name = $2, imsi = $3, provider = $4, mode = $5, status = $6,
            duration_seconds = $7, start_scan = $8, stop_scan = $9, target_info = $10
        WHERE id = $1`

	res, err := s.getDB().ExecContext(ctx, query,
		c.ID, c.Name, c.IMSIs, c.Provider, c.Mode, c.Status,
		int64(c.Duration/time.Second), c.StartScan, c.StopScan, c.TargetInfo,
	)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// ListCampaignsByStatus lists campaigns with the given status
func (s *PostgresStore) ListCampaignsByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status = $1 ORDER BY id`

	rows, err := s.getDB().QueryContext(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetActiveCampaign 最近创建的 started 任务
func (s *PostgresStore) GetActiveCampaign(ctx context.Context) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status = $1 ORDER BY id DESC LIMIT 1`
	return scanCampaign(s.getDB().QueryRowContext(ctx, query, models.CampaignStarted))
}

// ========== Target Methods ==========

// CreateTarget creates a new target
func (s *PostgresStore) CreateTarget(ctx context.Context, t *models.Target) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	query := `
        INSERT INTO targets (name, imsi, alert_status, target_status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id`

	err := s.getDB().QueryRowContext(ctx, query,
		t.Name, t.IMSI, t.AlertStatus, t.TargetStatus, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.ID)
	return mapError(err)
}

// ListTargets lists all targets
func (s *PostgresStore) ListTargets(ctx context.Context) ([]*models.Target, error) {
	rows, err := s.getDB().QueryContext(ctx, `
        SELECT id, name, imsi, alert_status, target_status, created_at, updated_at
        FROM targets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Target
	for rows.Next() {
		t := &models.Target{}
		if err := rows.Scan(&t.ID, &t.Name, &t.IMSI, &t.AlertStatus, &t.TargetStatus, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
