package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bbu-fleet/bbu-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Device methods
	UpsertDeviceHeartbeat(ctx context.Context, ip string, hb models.HeartbeatUpdate) (*models.Device, error)
	GetDevice(ctx context.Context, ip string) (*models.Device, error)
	ListDevices(ctx context.Context) ([]*models.Device, error)
	UpdateDeviceConfig(ctx context.Context, ip string, cfg models.ConfigUpdate) (*models.Device, error)
	UpdateDeviceState(ctx context.Context, ip string, state models.DeviceState) error
	// MarkDeviceOffline 仅当 last_seen 仍等于 seen 且尚未离线时置为 OFFLINE，返回是否发生变更
	MarkDeviceOffline(ctx context.Context, ip string, seen time.Time) (bool, error)
	UpdateDeviceSniffer(ctx context.Context, ip string, status, scan int) (*models.Device, error)

	// Campaign methods
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id int64) (*models.Campaign, error)
	UpdateCampaign(ctx context.Context, c *models.Campaign) error
	ListCampaignsByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error)
	// GetActiveCampaign 最近一个 started 状态的任务
	GetActiveCampaign(ctx context.Context) (*models.Campaign, error)

	// Target methods
	CreateTarget(ctx context.Context, t *models.Target) error
	ListTargets(ctx context.Context) ([]*models.Target, error)

	// Crawl methods
	UpsertCrawl(ctx context.Context, rec *models.CrawlRecord) (*models.CrawlRecord, error)
	ListCrawls(ctx context.Context, campaignID int64) ([]*models.CrawlRecord, error)

	// Operator methods
	CreateOperator(ctx context.Context, op *models.Operator) error
	ListOperators(ctx context.Context) ([]*models.Operator, error)
	CreateFreqOperator(ctx context.Context, f *models.FreqOperator) error
	GetFreqOperator(ctx context.Context, arfcn int) (*models.FreqOperator, error)

	// Sniff methods
	CreateSniffResult(ctx context.Context, r *models.SniffResult) error
	CountSniffResults(ctx context.Context, ip string) (int, error)
	DeleteSniffResults(ctx context.Context) (int64, error)

	// Close the store
	Close() error
}

// WithTx 在单个事务中执行 fn，出错回滚，否则提交
func WithTx(ctx context.Context, s Store, fn func(tx Store) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
