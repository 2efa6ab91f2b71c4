package registry

import (
	"context"
	"time"

	"github.com/bbu-fleet/bbu-server/internal/eventbus"
	"github.com/bbu-fleet/bbu-server/internal/models"
)

// WatchdogConfig 看门狗参数
type WatchdogConfig struct {
	Interval        time.Duration // 扫描间隔
	Timeout         time.Duration // 超过该时长未收到心跳判为离线
	ReannounceEvery int           // 每 N 次扫描重播一次离线设备，0 表示不重播
}

// DefaultWatchdogConfig 1s 扫描，30s 超时，每 10 次重播
var DefaultWatchdogConfig = WatchdogConfig{
	Interval:        time.Second,
	Timeout:         30 * time.Second,
	ReannounceEvery: 10,
}

// RunWatchdog 周期扫描直到 ctx 结束
func (r *Registry) RunWatchdog(ctx context.Context, cfg WatchdogConfig) error {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWatchdogConfig.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWatchdogConfig.Timeout
	}

	ticker := r.clock.NewTicker(cfg.Interval)
	defer ticker.Stop()

	r.logger.Info().
		Dur("interval", cfg.Interval).
		Dur("timeout", cfg.Timeout).
		Msg("Watchdog started")

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			tick++
			reannounce := cfg.ReannounceEvery > 0 && tick%cfg.ReannounceEvery == 0
			if _, err := r.ScanOnce(ctx, now, cfg.Timeout, reannounce); err != nil {
				r.logger.Error().Err(err).Msg("看门狗扫描失败")
			}
		}
	}
}

// ScanOnce 把超时设备标记为 OFFLINE，返回本次新离线的数量。
// 离线事件携带设备原始的 last_seen，而不是 now。
func (r *Registry) ScanOnce(ctx context.Context, now time.Time, timeout time.Duration, reannounce bool) (int, error) {
	devices, err := r.store.ListDevices(ctx)
	if err != nil {
		return 0, err
	}

	transitioned := 0
	counts := make(map[string]int)
	for _, d := range devices {
		if d.IsOffline() {
			counts[string(d.State)]++
			if reannounce {
				r.publish(eventbus.TopicHeartbeat, models.NewDeviceStatusEvent(d, d.LastSeen))
			}
			continue
		}

		if now.Sub(d.LastSeen) < timeout {
			counts[string(d.State)]++
			continue
		}

		changed, err := r.store.MarkDeviceOffline(ctx, d.IP, d.LastSeen)
		if err != nil {
			r.logger.Error().Err(err).Str("ip", d.IP).Msg("标记离线失败")
			counts[string(d.State)]++
			continue
		}
		if !changed {
			// 列表之后又收到了心跳
			counts[string(d.State)]++
			continue
		}

		d.State = models.StateOffline
		counts[string(d.State)]++
		transitioned++
		r.metrics.WatchdogOffline()
		r.publish(eventbus.TopicHeartbeat, models.NewDeviceStatusEvent(d, d.LastSeen))

		r.logger.Warn().
			Str("ip", d.IP).
			Time("last_seen", d.LastSeen).
			Msg("设备心跳超时，标记为离线")
	}

	r.metrics.SetDeviceCounts(counts)
	return transitioned, nil
}
