package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbu-fleet/bbu-server/internal/models"
)

func TestMemoryStore_HeartbeatUpsertKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	_, err := s.UpsertDeviceHeartbeat(ctx, "10.0.0.1", models.HeartbeatUpdate{State: models.StateOnline, Temp: "40", Seen: t0})
	require.NoError(t, err)
	d, err := s.UpsertDeviceHeartbeat(ctx, "10.0.0.1", models.HeartbeatUpdate{State: models.StateRFOpen, Temp: "41", Seen: t0.Add(time.Second)})
	require.NoError(t, err)

	assert.Equal(t, models.StateRFOpen, d.State)
	assert.Equal(t, "41", d.Temp)
	assert.Equal(t, t0.Add(time.Second), d.LastSeen)
	assert.Equal(t, models.SniffStatusPresent, d.SniffStatus)

	// 乱序到达的旧心跳不回退 last_seen
	d, err = s.UpsertDeviceHeartbeat(ctx, "10.0.0.1", models.HeartbeatUpdate{State: models.StateOnline, Seen: t0})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Second), d.LastSeen)

	list, err := s.ListDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStore_UpdateMissingDevice(t *testing.T) {
	s := NewMemoryStore()
	err := s.UpdateDeviceState(context.Background(), "10.9.9.9", models.StateOffline)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.UpdateDeviceConfig(context.Background(), "10.9.9.9", models.ConfigUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_MarkDeviceOfflineChecksLastSeen(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	_, err := s.UpsertDeviceHeartbeat(ctx, "10.0.0.1", models.HeartbeatUpdate{State: models.StateOnline, Seen: t0})
	require.NoError(t, err)

	changed, err := s.MarkDeviceOffline(ctx, "10.0.0.1", t0.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.MarkDeviceOffline(ctx, "10.0.0.1", t0)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.MarkDeviceOffline(ctx, "10.0.0.1", t0)
	require.NoError(t, err)
	assert.False(t, changed)

	d, err := s.GetDevice(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.StateOffline, d.State)

	_, err = s.MarkDeviceOffline(ctx, "10.9.9.9", t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CrawlUpsertIncrementsCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := int64(7)

	first := &models.CrawlRecord{CampaignID: &id, IMSI: "510101234567890", IP: "10.0.0.1", RSRP: "-80", IMEI: "123456789012347"}
	second := &models.CrawlRecord{CampaignID: &id, IMSI: "510101234567890", IP: "10.0.0.2", RSRP: "-70"}

	_, err := s.UpsertCrawl(ctx, first)
	require.NoError(t, err)
	rec, err := s.UpsertCrawl(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, 2, rec.Count)
	assert.Equal(t, "10.0.0.2", rec.IP)
	assert.Equal(t, "-70", rec.RSRP)
	assert.Equal(t, "123456789012347", rec.IMEI)

	rows, err := s.ListCrawls(ctx, id)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// 不同任务各自一行
	other := int64(8)
	rec, err = s.UpsertCrawl(ctx, &models.CrawlRecord{CampaignID: &other, IMSI: "510101234567890"})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)
}

func TestMemoryStore_ActiveCampaign(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetActiveCampaign(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	c1 := &models.Campaign{Name: "a", Mode: models.ModeAll, Status: models.CampaignStarted}
	c2 := &models.Campaign{Name: "b", Mode: models.ModeAll, Status: models.CampaignStarted}
	require.NoError(t, s.CreateCampaign(ctx, c1))
	require.NoError(t, s.CreateCampaign(ctx, c2))

	active, err := s.GetActiveCampaign(ctx)
	require.NoError(t, err)
	assert.Equal(t, c2.ID, active.ID)

	c2.Status = models.CampaignCompleted
	require.NoError(t, s.UpdateCampaign(ctx, c2))
	active, err = s.GetActiveCampaign(ctx)
	require.NoError(t, err)
	assert.Equal(t, c1.ID, active.ID)
}

func TestMemoryStore_FreqOperatorBrand(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	op := &models.Operator{MCC: "510", MNC: "10", Brand: "Telkomsel", IP: "10.0.0.5"}
	require.NoError(t, s.CreateOperator(ctx, op))
	require.NoError(t, s.CreateFreqOperator(ctx, &models.FreqOperator{ARFCN: 1850, OperatorID: &op.ID, DLFreq: 1860, ULFreq: 1765}))

	f, err := s.GetFreqOperator(ctx, 1850)
	require.NoError(t, err)
	assert.Equal(t, "Telkomsel", f.Brand)

	_, err = s.GetFreqOperator(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	err := WithTx(context.Background(), s, func(tx Store) error {
		return ErrInvalidData
	})
	assert.ErrorIs(t, err, ErrInvalidData)
}
