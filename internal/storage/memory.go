package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bbu-fleet/bbu-server/internal/models"
)

// MemoryStore 进程内存储，用于 database.driver=memory 和测试。
// 事务是空操作：每个方法自身在锁内完成。
type MemoryStore struct {
	mu sync.RWMutex

	devices   map[string]*models.Device
	campaigns map[int64]*models.Campaign
	targets   []*models.Target
	crawls    []*models.CrawlRecord
	operators []*models.Operator
	freqs     []*models.FreqOperator
	sniffs    []*models.SniffResult

	nextID int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:   make(map[string]*models.Device),
		campaigns: make(map[int64]*models.Campaign),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// BeginTx returns the store itself
func (m *MemoryStore) BeginTx(ctx context.Context) (Store, error) { return m, nil }

// Commit is a no-op
func (m *MemoryStore) Commit() error { return nil }

// Rollback is a no-op
func (m *MemoryStore) Rollback() error { return nil }

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }

// ========== Device Methods ==========

func (m *MemoryStore) UpsertDeviceHeartbeat(ctx context.Context, ip string, hb models.HeartbeatUpdate) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	d, ok := m.devices[ip]
	if !ok {
		d = &models.Device{
			IP:          ip,
			SniffStatus: models.SniffStatusPresent,
			SniffScan:   models.SniffScanActive,
			CreatedAt:   now,
		}
		m.devices[ip] = d
	}

	d.State = hb.State
	d.Temp = hb.Temp
	d.Mode = hb.Mode
	d.Channel = hb.Channel
	if hb.Band != "" {
		d.Band = hb.Band
	}
	if hb.Seen.After(d.LastSeen) {
		d.LastSeen = hb.Seen
	}
	d.UpdatedAt = now

	out := *d
	return &out, nil
}

func (m *MemoryStore) GetDevice(ctx context.Context, ip string) (*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[ip]
	if !ok {
		return nil, ErrNotFound
	}
	out := *d
	return &out, nil
}

func (m *MemoryStore) ListDevices(ctx context.Context) ([]*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Device, 0, len(m.devices))
	for _, d := range m.devices {
		c := *d
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

func (m *MemoryStore) UpdateDeviceConfig(ctx context.Context, ip string, cfg models.ConfigUpdate) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[ip]
	if !ok {
		return nil, ErrNotFound
	}
	d.MCC = cfg.MCC
	d.MNC = cfg.MNC
	d.Band = cfg.Band
	d.ARFCN = cfg.ARFCN
	d.ULFreq = cfg.ULFreq
	d.DLFreq = cfg.DLFreq
	d.UpdatedAt = time.Now()

	out := *d
	return &out, nil
}

func (m *MemoryStore) UpdateDeviceState(ctx context.Context, ip string, state models.DeviceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[ip]
	if !ok {
		return ErrNotFound
	}
	d.State = state
	d.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) MarkDeviceOffline(ctx context.Context, ip string, seen time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[ip]
	if !ok {
		return false, ErrNotFound
	}
	if !d.LastSeen.Equal(seen) || d.State == models.StateOffline {
		return false, nil
	}
	d.State = models.StateOffline
	d.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) UpdateDeviceSniffer(ctx context.Context, ip string, status, scan int) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[ip]
	if !ok {
		return nil, ErrNotFound
	}
	d.SniffStatus = status
	d.SniffScan = scan
	d.UpdatedAt = time.Now()

	out := *d
	return &out, nil
}

// ========== Campaign Methods ==========

func copyCampaign(c *models.Campaign) *models.Campaign {
	out := *c
	out.IMSIs = append(models.StringList(nil), c.IMSIs...)
	out.TargetInfo = append(models.TargetSnapshot(nil), c.TargetInfo...)
	if c.StartScan != nil {
		t := *c.StartScan
		out.StartScan = &t
	}
	if c.StopScan != nil {
		t := *c.StopScan
		out.StopScan = &t
	}
	return &out
}

func (m *MemoryStore) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.ID = m.id()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (m *MemoryStore) GetCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCampaign(c), nil
}

func (m *MemoryStore) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.campaigns[c.ID]; !ok {
		return ErrNotFound
	}
	m.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (m *MemoryStore) ListCampaignsByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Campaign
	for _, c := range m.campaigns {
		if c.Status == status {
			out = append(out, copyCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetActiveCampaign(ctx context.Context) (*models.Campaign, error) {
	list, _ := m.ListCampaignsByStatus(ctx, models.CampaignStarted)
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[len(list)-1], nil
}

// ========== Target Methods ==========

func (m *MemoryStore) CreateTarget(ctx context.Context, t *models.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	t.ID = m.id()
	t.CreatedAt = now
	t.UpdatedAt = now
	c := *t
	m.targets = append(m.targets, &c)
	return nil
}

func (m *MemoryStore) ListTargets(ctx context.Context) ([]*models.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Target, 0, len(m.targets))
	for _, t := range m.targets {
		c := *t
		out = append(out, &c)
	}
	return out, nil
}

// ========== Crawl Methods ==========

func sameCampaign(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *MemoryStore) UpsertCrawl(ctx context.Context, rec *models.CrawlRecord) (*models.CrawlRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.crawls {
		if existing.IMSI != rec.IMSI || !sameCampaign(existing.CampaignID, rec.CampaignID) {
			continue
		}
		imei, msisdn := existing.IMEI, existing.MSISDN
		id, count := existing.ID, existing.Count

		*existing = *rec
		existing.ID = id
		existing.Count = count + 1
		if existing.IMEI == "" {
			existing.IMEI = imei
		}
		if existing.MSISDN == "" {
			existing.MSISDN = msisdn
		}
		out := *existing
		return &out, nil
	}

	c := *rec
	c.ID = m.id()
	c.Count = 1
	m.crawls = append(m.crawls, &c)
	out := c
	return &out, nil
}

func (m *MemoryStore) ListCrawls(ctx context.Context, campaignID int64) ([]*models.CrawlRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.CrawlRecord
	for _, r := range m.crawls {
		if r.CampaignID != nil && *r.CampaignID == campaignID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

// ========== Operator Methods ==========

func (m *MemoryStore) CreateOperator(ctx context.Context, op *models.Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op.ID = m.id()
	c := *op
	m.operators = append(m.operators, &c)
	return nil
}

func (m *MemoryStore) ListOperators(ctx context.Context) ([]*models.Operator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Operator, 0, len(m.operators))
	for _, op := range m.operators {
		c := *op
		out = append(out, &c)
	}
	return out, nil
}

func (m *MemoryStore) CreateFreqOperator(ctx context.Context, f *models.FreqOperator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f.ID = m.id()
	c := *f
	m.freqs = append(m.freqs, &c)
	return nil
}

func (m *MemoryStore) GetFreqOperator(ctx context.Context, arfcn int) (*models.FreqOperator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, f := range m.freqs {
		if f.ARFCN != arfcn {
			continue
		}
		c := *f
		if f.OperatorID != nil {
			for _, op := range m.operators {
				if op.ID == *f.OperatorID {
					c.Brand = op.Brand
				}
			}
		}
		return &c, nil
	}
	return nil, ErrNotFound
}

// ========== Sniff Methods ==========

func (m *MemoryStore) CreateSniffResult(ctx context.Context, r *models.SniffResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = m.id()
	c := *r
	m.sniffs = append(m.sniffs, &c)
	return nil
}

func (m *MemoryStore) CountSniffResults(ctx context.Context, ip string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.sniffs {
		if r.IP == ip {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteSniffResults(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.sniffs))
	m.sniffs = nil
	return n, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
