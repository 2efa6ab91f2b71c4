package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// CampaignMode 可见性模式
type CampaignMode string

const (
	ModeWhitelist CampaignMode = "whitelist"
	ModeBlacklist CampaignMode = "blacklist"
	ModeAll       CampaignMode = "all"
	ModeDF        CampaignMode = "df"
)

// Valid 是否为已知模式
func (m CampaignMode) Valid() bool {
	switch m {
	case ModeWhitelist, ModeBlacklist, ModeAll, ModeDF:
		return true
	}
	return false
}

// Phased whitelist/blacklist 需要分阶段开关例外信道
func (m CampaignMode) Phased() bool {
	return m == ModeWhitelist || m == ModeBlacklist
}

// CampaignStatus 任务状态，completed/failed 为终态
type CampaignStatus string

const (
	CampaignStarted   CampaignStatus = "started"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// Terminal 是否为终态
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignFailed
}

// Campaign 一次扫描采集任务
type Campaign struct {
	ID         int64          `json:"id" db:"id"`
	Name       string         `json:"name" db:"name"`
	IMSIs      StringList     `json:"imsi" db:"imsi"`
	Provider   string         `json:"provider" db:"provider"`
	Mode       CampaignMode   `json:"mode" db:"mode"`
	Status     CampaignStatus `json:"status" db:"status"`
	Duration   time.Duration  `json:"duration" db:"duration_seconds"`
	StartScan  *time.Time     `json:"startScan,omitempty" db:"start_scan"`
	StopScan   *time.Time     `json:"stopScan,omitempty" db:"stop_scan"`
	TargetInfo TargetSnapshot `json:"targetInfo,omitempty" db:"target_info"`
	CreatedAt  time.Time      `json:"createdAt" db:"created_at"`
}

// Elapsed 从开始扫描到 now 经过的时间
func (c *Campaign) Elapsed(now time.Time) time.Duration {
	if c.StartScan == nil {
		return 0
	}
	return now.Sub(*c.StartScan)
}

// TargetInfo 任务开始时的目标快照条目
type TargetInfo struct {
	Name         string `json:"name"`
	IMSI         string `json:"imsi"`
	AlertStatus  string `json:"alert_status"`
	TargetStatus string `json:"target_status"`
}

// TargetSnapshot 目标快照，数据库中以 JSON 存储
type TargetSnapshot []TargetInfo

// Value implements driver.Valuer interface
func (t TargetSnapshot) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner interface
func (t *TargetSnapshot) Scan(value interface{}) error {
	switch data := value.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		return json.Unmarshal(data, t)
	case string:
		return json.Unmarshal([]byte(data), t)
	default:
		return fmt.Errorf("unsupported type for TargetSnapshot: %T", value)
	}
}
