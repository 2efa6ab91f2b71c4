package models

import "time"

// 目标状态
const (
	TargetActive   = "active"
	TargetInactive = "inactive"
)

// Target 操作员关注的 IMSI
type Target struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	IMSI         string    `json:"imsi" db:"imsi"`
	AlertStatus  string    `json:"alertStatus" db:"alert_status"`
	TargetStatus string    `json:"targetStatus" db:"target_status"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// Info 转为快照条目
func (t *Target) Info() TargetInfo {
	return TargetInfo{
		Name:         t.Name,
		IMSI:         t.IMSI,
		AlertStatus:  t.AlertStatus,
		TargetStatus: t.TargetStatus,
	}
}
