package storage

import (
	"context"
	"fmt"
)

// schemaStatements 幂等建表语句，启动时执行
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		ip            TEXT PRIMARY KEY,
		state         TEXT NOT NULL,
		temp          TEXT NOT NULL DEFAULT '',
		mode          TEXT NOT NULL DEFAULT '',
		ch            TEXT NOT NULL DEFAULT '',
		band          TEXT NOT NULL DEFAULT '',
		mcc           TEXT NOT NULL DEFAULT '',
		mnc           TEXT NOT NULL DEFAULT '',
		arfcn         TEXT NOT NULL DEFAULT '',
		ul_freq       TEXT NOT NULL DEFAULT '',
		dl_freq       TEXT NOT NULL DEFAULT '',
		sniff_status  INTEGER NOT NULL DEFAULT 1,
		sniff_scan    INTEGER NOT NULL DEFAULT 1,
		last_seen     TIMESTAMPTZ NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id                BIGSERIAL PRIMARY KEY,
		name              TEXT NOT NULL,
		imsi              TEXT NOT NULL DEFAULT '',
		provider          TEXT NOT NULL DEFAULT '',
		mode              TEXT NOT NULL,
		status            TEXT NOT NULL,
		duration_seconds  BIGINT NOT NULL,
		start_scan        TIMESTAMPTZ,
		stop_scan         TIMESTAMPTZ,
		target_info       JSONB,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS campaigns_status_idx ON campaigns (status)`,
	`CREATE TABLE IF NOT EXISTS targets (
		id             BIGSERIAL PRIMARY KEY,
		name           TEXT NOT NULL,
		imsi           TEXT NOT NULL,
		alert_status   TEXT NOT NULL DEFAULT '',
		target_status  TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS crawls (
		id           BIGSERIAL PRIMARY KEY,
		campaign_id  BIGINT REFERENCES campaigns(id),
		imsi         TEXT NOT NULL,
		ip           TEXT NOT NULL,
		timestamp    TIMESTAMPTZ NOT NULL,
		rsrp         TEXT NOT NULL DEFAULT '',
		ta_type      TEXT NOT NULL DEFAULT '',
		ul_cqi       TEXT NOT NULL DEFAULT '',
		ul_rssi      INTEGER NOT NULL DEFAULT 0,
		ch           TEXT NOT NULL DEFAULT '',
		provider     TEXT NOT NULL DEFAULT '',
		lat          TEXT NOT NULL DEFAULT '',
		long         TEXT NOT NULL DEFAULT '',
		count        INTEGER NOT NULL DEFAULT 1,
		imei         TEXT NOT NULL DEFAULT '',
		msisdn       TEXT NOT NULL DEFAULT ''
	)`,
	// campaign_id 可为空，用 COALESCE 让未归属任务的记录同样按 imsi 唯一
	`CREATE UNIQUE INDEX IF NOT EXISTS crawls_campaign_imsi_idx ON crawls ((COALESCE(campaign_id, 0)), imsi)`,
	`CREATE TABLE IF NOT EXISTS operators (
		id     BIGSERIAL PRIMARY KEY,
		mcc    TEXT NOT NULL DEFAULT '',
		mnc    TEXT NOT NULL DEFAULT '',
		brand  TEXT NOT NULL DEFAULT '',
		ip     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS freq_operators (
		id           BIGSERIAL PRIMARY KEY,
		arfcn        INTEGER NOT NULL,
		provider_id  BIGINT REFERENCES operators(id) ON DELETE CASCADE ON UPDATE CASCADE,
		band         INTEGER NOT NULL DEFAULT 0,
		dl_freq      DOUBLE PRECISION NOT NULL DEFAULT 0,
		ul_freq      DOUBLE PRECISION NOT NULL DEFAULT 0,
		mode         TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS freq_operators_arfcn_idx ON freq_operators (arfcn)`,
	`CREATE TABLE IF NOT EXISTS sniff_results (
		id        BIGSERIAL PRIMARY KEY,
		ip        TEXT NOT NULL,
		time      TIMESTAMPTZ NOT NULL,
		arfcn     INTEGER NOT NULL,
		operator  TEXT NOT NULL DEFAULT '',
		dl_freq   DOUBLE PRECISION NOT NULL DEFAULT 0,
		ul_freq   DOUBLE PRECISION NOT NULL DEFAULT 0,
		pci       TEXT NOT NULL DEFAULT '',
		rsrp      TEXT NOT NULL DEFAULT '',
		band      INTEGER NOT NULL DEFAULT 0,
		ch        TEXT NOT NULL DEFAULT ''
	)`,
}

// EnsureSchema 创建缺失的表和索引
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.getDB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
