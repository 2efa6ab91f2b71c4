package storage

import (
	"context"
	"database/sql"

	"github.com/bbu-fleet/bbu-server/internal/models"
)

// ========== Operator Methods ==========

// CreateOperator creates a new operator
func (s *PostgresStore) CreateOperator(ctx context.Context, op *models.Operator) error {
	err := s.getDB().QueryRowContext(ctx,
		`INSERT INTO operators (mcc, mnc, brand, ip) VALUES ($1, $2, $3, $4) RETURNING id`,
		op.MCC, op.MNC, op.Brand, op.IP,
	).Scan(&op.ID)
	return mapError(err)
}

// ListOperators lists all operators
func (s *PostgresStore) ListOperators(ctx context.Context) ([]*models.Operator, error) {
	rows, err := s.getDB().QueryContext(ctx, `SELECT id, mcc, mnc, brand, ip FROM operators ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Operator
	for rows.Next() {
		op := &models.Operator{}
		if err := rows.Scan(&op.ID, &op.MCC, &op.MNC, &op.Brand, &op.IP); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// CreateFreqOperator creates a frequency mapping row
func (s *PostgresStore) CreateFreqOperator(ctx context.Context, f *models.FreqOperator) error {
	err := s.getDB().QueryRowContext(ctx, `
        INSERT INTO freq_operators (arfcn, provider_id, band, dl_freq, ul_freq, mode)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id`,
		f.ARFCN, f.OperatorID, f.Band, f.DLFreq, f.ULFreq, f.Mode,
	).Scan(&f.ID)
	return mapError(err)
}

// GetFreqOperator 按频点查询，附带运营商品牌
func (s *PostgresStore) GetFreqOperator(ctx context.Context, arfcn int) (*models.FreqOperator, error) {
	query := `
        SELECT f.id, f.arfcn, f.provider_id, COALESCE(o.brand, ''), f.band, f.dl_freq, f.ul_freq, f.mode
        FROM freq_operators f
        LEFT JOIN operators o ON o.id = f.provider_id
        WHERE f.arfcn = $1
        ORDER BY f.id
        LIMIT 1`

	f := &models.FreqOperator{}
	var providerID sql.NullInt64
	err := s.getDB().QueryRowContext(ctx, query, arfcn).Scan(
		&f.ID, &f.ARFCN, &providerID, &f.Brand, &f.Band, &f.DLFreq, &f.ULFreq, &f.Mode,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if providerID.Valid {
		id := providerID.Int64
		f.OperatorID = &id
	}
	return f, nil
}

// ========== Sniff Methods ==========

// CreateSniffResult stores one sniff row
func (s *PostgresStore) CreateSniffResult(ctx context.Context, r *models.SniffResult) error {
	err := s.getDB().QueryRowContext(ctx, `
        INSERT INTO sniff_results (ip, time, arfcn, operator, dl_freq, ul_freq, pci, rsrp, band, ch)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id`,
		r.IP, r.Time, r.ARFCN, r.Operator, r.DLFreq, r.ULFreq, r.PCI, r.RSRP, r.Band, r.Channel,
	).Scan(&r.ID)
	return mapError(err)
}

// CountSniffResults counts sniff rows reported by one device
func (s *PostgresStore) CountSniffResults(ctx context.Context, ip string) (int, error) {
	var n int
	err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM sniff_results WHERE ip = $1`, ip).Scan(&n)
	return n, err
}

// DeleteSniffResults 清空扫频结果，返回删除的行数
func (s *PostgresStore) DeleteSniffResults(ctx context.Context) (int64, error) {
	res, err := s.getDB().ExecContext(ctx, `DELETE FROM sniff_results`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
