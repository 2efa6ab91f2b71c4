package models

import "time"

// TimestampLayout 事件载荷中的时间格式
const TimestampLayout = "2006-01-02 15:04:05"

// DeviceStatusData 心跳事件的 data 部分，字段名固定
type DeviceStatusData struct {
	State     DeviceState `json:"STATE"`
	Temp      string      `json:"TEMP"`
	Mode      string      `json:"MODE"`
	Channel   string      `json:"CH"`
	Timestamp string      `json:"timestamp"`
}

// DeviceStatusEvent 设备在线状态事件（heartbeat 主题）
type DeviceStatusEvent struct {
	SourceIP string           `json:"source_ip"`
	Data     DeviceStatusData `json:"data"`
}

// NewDeviceStatusEvent 以 at 作为事件时间；离线事件传入原始 last-seen
func NewDeviceStatusEvent(d *Device, at time.Time) DeviceStatusEvent {
	return DeviceStatusEvent{
		SourceIP: d.IP,
		Data: DeviceStatusData{
			State:     d.State,
			Temp:      d.Temp,
			Mode:      d.Mode,
			Channel:   d.Channel,
			Timestamp: at.Format(TimestampLayout),
		},
	}
}

// CrawlEvent 终端采集事件（crawling 主题）
type CrawlEvent struct {
	SourceIP string      `json:"source_ip"`
	Record   CrawlRecord `json:"data"`
}

// SniffEvent 扫频结果事件（sniffing 主题）
type SniffEvent struct {
	SourceIP string        `json:"source_ip"`
	Results  []SniffResult `json:"data"`
}

// CampaignPhaseEvent 任务阶段切换事件（campaign 主题）
type CampaignPhaseEvent struct {
	CampaignID     int64          `json:"campaign_id"`
	Phase          string         `json:"phase"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	Status         CampaignStatus `json:"status"`
}
