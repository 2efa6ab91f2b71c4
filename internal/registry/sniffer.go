package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/bbu-fleet/bbu-server/internal/dispatcher"
	"github.com/bbu-fleet/bbu-server/internal/eventbus"
	"github.com/bbu-fleet/bbu-server/internal/models"
	"github.com/bbu-fleet/bbu-server/internal/protocol"
	"github.com/bbu-fleet/bbu-server/internal/storage"
)

// 扫频进度状态
const (
	SniffIdle      = "idle"
	SniffScanning  = "scanning"
	SniffCompleted = "completed"
)

// sniffStaleAfter 最近心跳超过该时长视为扫频已结束
const sniffStaleAfter = 5 * time.Minute

// SniffProgress 扫频进度
type SniffProgress struct {
	Progress         int        `json:"progress"`
	Status           string     `json:"status"`
	LastUpdate       *time.Time `json:"last_update"`
	ElapsedMinutes   float64    `json:"elapsed_minutes"`
	TotalDevices     int        `json:"total_devices"`
	ScanningDevices  int        `json:"scanning_devices"`
	CompletedDevices int        `json:"completed_devices"`
}

// StartSniffer 清空旧结果，向有扫频模块的设备下发 StartSniffer 并置 scan=1
func (r *Registry) StartSniffer(ctx context.Context) ([]dispatcher.Result, error) {
	devices, err := r.store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, d := range devices {
		if d.SniffStatus == models.SniffStatusPresent {
			ips = append(ips, d.IP)
		}
	}

	deleted, err := r.store.DeleteSniffResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("reset sniff results: %w", err)
	}

	results := r.dispatcher.SendToMany(ctx, ips, protocol.StartSniffer())
	for _, res := range results {
		if !res.OK() {
			continue
		}
		if _, err := r.SetSnifferFlags(ctx, res.IP, SnifferScan, models.SniffScanActive); err != nil {
			r.logger.Error().Err(err).Str("ip", res.IP).Msg("设置扫频标志失败")
		}
	}

	r.logger.Info().
		Int64("deleted", deleted).
		Int("devices", len(ips)).
		Int("failed", dispatcher.Failed(results)).
		Msg("扫频已启动")
	return results, nil
}

// RecordSniffReport 按频率表补全运营商和上下行频率后入库并广播，设备 scan 置为 -1
func (r *Registry) RecordSniffReport(ctx context.Context, ip string, entries []protocol.SniffEntry) ([]models.SniffResult, error) {
	now := r.clock.Now()
	device, _ := r.store.GetDevice(ctx, ip)

	rows := make([]models.SniffResult, 0, len(entries))
	for _, e := range entries {
		row := models.SniffResult{
			IP:    ip,
			Time:  now,
			ARFCN: e.ARFCN,
			PCI:   e.PCI,
			RSRP:  e.RSRP,
			Band:  e.Band,
		}
		if device != nil {
			row.Channel = device.Channel
		}
		if f, err := r.store.GetFreqOperator(ctx, e.ARFCN); err == nil {
			row.Operator = f.Brand
			row.DLFreq = f.DLFreq
			row.ULFreq = f.ULFreq
		}

		err := storage.WithTx(ctx, r.store, func(tx storage.Store) error {
			return tx.CreateSniffResult(ctx, &row)
		})
		if err != nil {
			return rows, fmt.Errorf("store sniff result %s/%d: %w", ip, e.ARFCN, err)
		}
		rows = append(rows, row)
	}

	if device != nil {
		if _, err := r.SetSnifferFlags(ctx, ip, SnifferScan, models.SniffScanDone); err != nil {
			r.logger.Error().Err(err).Str("ip", ip).Msg("更新扫频标志失败")
		}
	}

	r.publish(eventbus.TopicSniffing, models.SniffEvent{SourceIP: ip, Results: rows})
	return rows, nil
}

// SnifferProgress 按设备数均分 100，已完成设备计满份，
// 其余设备按已上报行数加分，单台最多 0.9 份；未全部完成时封顶 99。
func (r *Registry) SnifferProgress(ctx context.Context) (SniffProgress, error) {
	devices, err := r.store.ListDevices(ctx)
	if err != nil {
		return SniffProgress{}, err
	}

	var sniffers []*models.Device
	for _, d := range devices {
		if d.SniffStatus == models.SniffStatusPresent {
			sniffers = append(sniffers, d)
		}
	}
	if len(sniffers) == 0 {
		return SniffProgress{Status: SniffIdle}, nil
	}

	total := len(sniffers)
	share := 100.0 / float64(total)
	out := SniffProgress{TotalDevices: total}

	progress := 0.0
	var latest time.Time
	for _, d := range sniffers {
		if d.LastSeen.After(latest) {
			latest = d.LastSeen
		}
		switch d.SniffScan {
		case models.SniffScanDone:
			out.CompletedDevices++
			progress += share
			continue
		case models.SniffScanActive:
			out.ScanningDevices++
		}

		rows, err := r.store.CountSniffResults(ctx, d.IP)
		if err != nil {
			return SniffProgress{}, err
		}
		bonus := float64(rows) * share / 10
		if limit := share * 0.9; bonus > limit {
			bonus = limit
		}
		progress += bonus
	}

	if out.CompletedDevices < total {
		if progress > 99 {
			progress = 99
		}
	} else {
		progress = 100
	}
	out.Progress = int(progress)

	var elapsed time.Duration
	if !latest.IsZero() {
		t := latest
		out.LastUpdate = &t
		elapsed = r.clock.Now().Sub(latest)
		out.ElapsedMinutes = float64(int(elapsed.Minutes()*100)) / 100
	}

	switch {
	case out.ScanningDevices > 0 && elapsed < sniffStaleAfter:
		out.Status = SniffScanning
	case out.CompletedDevices == total || elapsed >= sniffStaleAfter:
		out.Status = SniffCompleted
		for _, d := range sniffers {
			if d.SniffScan == models.SniffScanDone {
				continue
			}
			if _, err := r.SetSnifferFlags(ctx, d.IP, SnifferScan, models.SniffScanDone); err != nil {
				r.logger.Error().Err(err).Str("ip", d.IP).Msg("结束扫频标志失败")
			}
		}
	default:
		out.Status = SniffIdle
	}
	return out, nil
}
