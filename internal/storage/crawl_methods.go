package storage

import (
	"context"
	"database/sql"

	"github.com/bbu-fleet/bbu-server/internal/models"
)

// ========== Crawl Methods ==========

const crawlColumns = `id, campaign_id, imsi, ip, timestamp, rsrp, ta_type, ul_cqi, ul_rssi,
	ch, provider, lat, long, count, imei, msisdn`

func scanCrawl(row rowScanner) (*models.CrawlRecord, error) {
	r := &models.CrawlRecord{}
	var campaignID sql.NullInt64
	err := row.Scan(
		&r.ID, &campaignID, &r.IMSI, &r.IP, &r.Timestamp, &r.RSRP, &r.TAType, &r.ULCqi, &r.ULRssi,
		&r.Channel, &r.Provider, &r.Lat, &r.Long, &r.Count, &r.IMEI, &r.MSISDN,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if campaignID.Valid {
		id := campaignID.Int64
		r.CampaignID = &id
	}
	return r, nil
}

// UpsertCrawl 每个 (campaign_id, imsi) 一行：重复观测 count+1 并覆盖测量字段。
// 空的 imei/msisdn 不会覆盖已有值。
func (s *PostgresStore) UpsertCrawl(ctx context.Context, rec *models.CrawlRecord) (*models.CrawlRecord, error) {
	query := `
        INSERT INTO crawls (
            campaign_id, imsi, ip, timestamp, rsrp, ta_type, ul_cqi, ul_rssi,
            ch, provider, lat, long, count, imei, msisdn
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14
        )
        ON CONFLICT ((COALESCE(campaign_id, 0)), imsi) DO UPDATE SET
            ip        = EXCLUDED.ip,
            timestamp = EXCLUDED.timestamp,
            rsrp      = EXCLUDED.rsrp,
            ta_type   = EXCLUDED.ta_type,
            ul_cqi    = EXCLUDED.ul_cqi,
            ul_rssi   = EXCLUDED.ul_rssi,
            ch        = EXCLUDED.ch,
            provider  = EXCLUDED.provider,
            lat       = EXCLUDED.lat,
            long      = EXCLUDED.long,
            count     = crawls.count + 1,
            imei      = CASE WHEN EXCLUDED.imei = '' THEN crawls.imei ELSE EXCLUDED.imei END,
            msisdn    = CASE WHEN EXCLUDED.msisdn = '' THEN crawls.msisdn ELSE EXCLUDED.msisdn END
        RETURNING ` + crawlColumns

	row := s.getDB().QueryRowContext(ctx, query,
		rec.CampaignID, rec.IMSI, rec.IP, rec.Timestamp, rec.RSRP, rec.TAType, rec.ULCqi, rec.ULRssi,
		rec.Channel, rec.Provider, rec.Lat, rec.Long, rec.IMEI, rec.MSISDN,
	)
	return scanCrawl(row)
}

// ListCrawls lists the crawl records of one campaign
func (s *PostgresStore) ListCrawls(ctx context.Context, campaignID int64) ([]*models.CrawlRecord, error) {
	query := `SELECT ` + crawlColumns + ` FROM crawls WHERE campaign_id = $1 ORDER BY id`

	rows, err := s.getDB().QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.CrawlRecord
	for rows.Next() {
		r, err := scanCrawl(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
