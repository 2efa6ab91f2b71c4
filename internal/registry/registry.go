// Package registry 维护设备表：心跳写入、配置响应刷新、扫频标志和在线看门狗。
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bbu-fleet/bbu-server/internal/clock"
	"github.com/bbu-fleet/bbu-server/internal/dispatcher"
	"github.com/bbu-fleet/bbu-server/internal/eventbus"
	"github.com/bbu-fleet/bbu-server/internal/metrics"
	"github.com/bbu-fleet/bbu-server/internal/models"
	"github.com/bbu-fleet/bbu-server/internal/protocol"
	"github.com/bbu-fleet/bbu-server/internal/storage"
)

// SnifferFlag 扫频标志种类
type SnifferFlag string

const (
	SnifferStatus SnifferFlag = "status"
	SnifferScan   SnifferFlag = "scan"
)

// ErrUnknownFlag 未知的扫频标志
var ErrUnknownFlag = errors.New("unknown sniffer flag")

// Registry 设备注册表
type Registry struct {
	store      storage.Store
	bus        *eventbus.Bus
	dispatcher *dispatcher.Dispatcher
	clock      clock.Clock
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	rfOpen atomic.Bool

	gpsMu sync.RWMutex
	gps   models.GPSFix
}

// Option configures a Registry
type Option func(*Registry)

// WithMetrics 设备状态计数
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates a registry
func New(store storage.Store, bus *eventbus.Bus, disp *dispatcher.Dispatcher, clk clock.Clock, opts ...Option) *Registry {
	r := &Registry{
		store:      store,
		bus:        bus,
		dispatcher: disp,
		clock:      clk,
		logger:     log.With().Str("component", "registry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetRFOpen 由任务编排器在射频开启/结束时切换
func (r *Registry) SetRFOpen(open bool) {
	if r.rfOpen.Swap(open) != open {
		r.logger.Info().Bool("rf_open", open).Msg("射频开启模式切换")
	}
}

// RFOpen 当前是否处于射频开启模式
func (r *Registry) RFOpen() bool {
	return r.rfOpen.Load()
}

// UpsertFromHeartbeat 写入心跳并广播设备状态
func (r *Registry) UpsertFromHeartbeat(ctx context.Context, ip string, hb protocol.Heartbeat) (*models.Device, error) {
	now := r.clock.Now()
	state := protocol.NormalizeState(hb.State, r.RFOpen())

	var device *models.Device
	err := storage.WithTx(ctx, r.store, func(tx storage.Store) error {
		d, err := tx.UpsertDeviceHeartbeat(ctx, ip, models.HeartbeatUpdate{
			State:   models.DeviceState(state),
			Temp:    hb.Temp,
			Mode:    hb.Mode,
			Channel: hb.Channel,
			Band:    hb.Band,
			Seen:    now,
		})
		device = d
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert heartbeat %s: %w", ip, err)
	}

	r.publish(eventbus.TopicHeartbeat, models.NewDeviceStatusEvent(device, now))
	return device, nil
}

// UpdateFromConfigResponse 用解析后的配置刷新网络标识和频点，并换算上下行频率
func (r *Registry) UpdateFromConfigResponse(ctx context.Context, ip string, cfg protocol.CellConfig) (*models.Device, error) {
	ul, dl := r.DeriveFrequencies(ctx, cfg.ARFCN)

	var device *models.Device
	err := storage.WithTx(ctx, r.store, func(tx storage.Store) error {
		d, err := tx.UpdateDeviceConfig(ctx, ip, models.ConfigUpdate{
			MCC:    cfg.MCC,
			MNC:    cfg.MNC,
			Band:   cfg.Band,
			ARFCN:  cfg.ARFCN,
			ULFreq: ul,
			DLFreq: dl,
		})
		device = d
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update config %s: %w", ip, err)
	}

	r.logger.Info().
		Str("ip", ip).
		Str("mcc", cfg.MCC).
		Str("mnc", cfg.MNC).
		Str("arfcn", cfg.ARFCN).
		Msg("设备配置已刷新")
	return device, nil
}

// DeriveFrequencies 对逗号分隔的每个频点查频率表，未知项记为 "-"
func (r *Registry) DeriveFrequencies(ctx context.Context, arfcns string) (ul, dl string) {
	if strings.TrimSpace(arfcns) == "" {
		return "", ""
	}

	parts := strings.Split(arfcns, ",")
	uls := make([]string, 0, len(parts))
	dls := make([]string, 0, len(parts))
	for _, p := range parts {
		u, d := "-", "-"
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			if f, err := r.store.GetFreqOperator(ctx, n); err == nil {
				u = formatFreq(f.ULFreq)
				d = formatFreq(f.DLFreq)
			} else if !errors.Is(err, storage.ErrNotFound) {
				r.logger.Warn().Err(err).Int("arfcn", n).Msg("频率表查询失败")
			}
		}
		uls = append(uls, u)
		dls = append(dls, d)
	}
	return strings.Join(uls, ","), strings.Join(dls, ",")
}

func formatFreq(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// SetSnifferFlags status=0 同时清 scan；scan=1 同时置 status=1
func (r *Registry) SetSnifferFlags(ctx context.Context, ip string, flag SnifferFlag, value int) (*models.Device, error) {
	current, err := r.store.GetDevice(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", ip, err)
	}

	status, scan := current.SniffStatus, current.SniffScan
	switch flag {
	case SnifferStatus:
		status = value
		if value == models.SniffStatusAbsent {
			scan = models.SniffScanIdle
		}
	case SnifferScan:
		scan = value
		if value == models.SniffScanActive {
			status = models.SniffStatusPresent
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlag, flag)
	}

	var device *models.Device
	err = storage.WithTx(ctx, r.store, func(tx storage.Store) error {
		d, err := tx.UpdateDeviceSniffer(ctx, ip, status, scan)
		device = d
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update sniffer %s: %w", ip, err)
	}
	return device, nil
}

// Snapshot 全部设备，供新订阅者获取当前状态
func (r *Registry) Snapshot(ctx context.Context) ([]*models.Device, error) {
	devices, err := r.store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, d := range devices {
		counts[string(d.State)]++
	}
	r.metrics.SetDeviceCounts(counts)
	return devices, nil
}

// IPs 全部已知设备地址
func (r *Registry) IPs(ctx context.Context) ([]string, error) {
	devices, err := r.store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	ips := make([]string, 0, len(devices))
	for _, d := range devices {
		ips = append(ips, d.IP)
	}
	return ips, nil
}

// UpdateGPS 记录最近一次位置
func (r *Registry) UpdateGPS(lat, lon string) {
	r.gpsMu.Lock()
	defer r.gpsMu.Unlock()
	r.gps = models.GPSFix{Lat: lat, Lon: lon, Time: r.clock.Now()}
}

// GPS 最近一次位置，没有上报过时 ok 为 false
func (r *Registry) GPS() (fix models.GPSFix, ok bool) {
	r.gpsMu.RLock()
	defer r.gpsMu.RUnlock()
	return r.gps, !r.gps.Time.IsZero()
}

func (r *Registry) publish(topic eventbus.Topic, v interface{}) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(topic, v); err != nil {
		r.logger.Error().Err(err).Str("topic", string(topic)).Msg("Failed to publish event")
	}
}
