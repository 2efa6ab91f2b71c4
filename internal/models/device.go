package models

import (
	"time"
)

// DeviceState 设备在线状态
type DeviceState string

const (
	StateOnline  DeviceState = "ONLINE"
	StateOffline DeviceState = "OFFLINE"
	StateRFOpen  DeviceState = "RF_OPEN"
)

// 扫频模块状态
const (
	SniffStatusAbsent  = 0 // 无扫频模块
	SniffStatusPresent = 1 // 有扫频模块

	SniffScanDone   = -1 // 扫频结束
	SniffScanIdle   = 0
	SniffScanActive = 1 // 正在扫频
)

// Device BBU 设备，以 IP 唯一标识
type Device struct {
	IP      string      `json:"ip" db:"ip"`
	State   DeviceState `json:"state" db:"state"`
	Temp    string      `json:"temp" db:"temp"`
	Mode    string      `json:"mode" db:"mode"`
	Channel string      `json:"ch" db:"ch"`
	Band    string      `json:"band" db:"band"`

	MCC    string `json:"mcc" db:"mcc"`
	MNC    string `json:"mnc" db:"mnc"`
	ARFCN  string `json:"arfcn" db:"arfcn"`
	ULFreq string `json:"ulFreq" db:"ul_freq"`
	DLFreq string `json:"dlFreq" db:"dl_freq"`

	SniffStatus int `json:"sniffStatus" db:"sniff_status"`
	SniffScan   int `json:"sniffScan" db:"sniff_scan"`

	LastSeen  time.Time `json:"lastSeen" db:"last_seen"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// IsOffline 是否已标记离线
func (d *Device) IsOffline() bool {
	return d.State == StateOffline
}

// HeartbeatUpdate 心跳携带的字段
type HeartbeatUpdate struct {
	State   DeviceState
	Temp    string
	Mode    string
	Channel string
	Band    string
	Seen    time.Time
}

// ConfigUpdate 配置读取响应解析后的字段
type ConfigUpdate struct {
	MCC    string
	MNC    string
	Band   string
	ARFCN  string
	ULFreq string
	DLFreq string
}
