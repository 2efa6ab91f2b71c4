package models

import "time"

// Operator 运营商与承载它的例外信道设备 IP
type Operator struct {
	ID    int64  `json:"id" db:"id"`
	MCC   string `json:"mcc" db:"mcc"`
	MNC   string `json:"mnc" db:"mnc"`
	Brand string `json:"brand" db:"brand"`
	IP    string `json:"ip" db:"ip"`
}

// NetworkPrefix MCC+MNC，与 IMSI 前 5 位比较
func (o *Operator) NetworkPrefix() string {
	if o.MCC == "" || o.MNC == "" {
		return ""
	}
	return o.MCC + o.MNC
}

// FreqOperator 频点到上下行频率的映射
type FreqOperator struct {
	ID         int64   `json:"id" db:"id"`
	ARFCN      int     `json:"arfcn" db:"arfcn"`
	OperatorID *int64  `json:"providerId,omitempty" db:"provider_id"`
	Brand      string  `json:"operator,omitempty" db:"-"`
	Band       int     `json:"band" db:"band"`
	DLFreq     float64 `json:"dlFreq" db:"dl_freq"`
	ULFreq     float64 `json:"ulFreq" db:"ul_freq"`
	Mode       string  `json:"mode" db:"mode"`
}

// SniffResult 一条扫频结果
type SniffResult struct {
	ID       int64     `json:"id" db:"id"`
	IP       string    `json:"ip" db:"ip"`
	Time     time.Time `json:"time" db:"time"`
	ARFCN    int       `json:"arfcn" db:"arfcn"`
	Operator string    `json:"operator" db:"operator"`
	DLFreq   float64   `json:"dlFreq" db:"dl_freq"`
	ULFreq   float64   `json:"ulFreq" db:"ul_freq"`
	PCI      string    `json:"pci" db:"pci"`
	RSRP     string    `json:"rsrp" db:"rsrp"`
	Band     int       `json:"band" db:"band"`
	Channel  string    `json:"ch" db:"ch"`
}

// GPSFix 最近一次位置
type GPSFix struct {
	Lat  string    `json:"latitude"`
	Lon  string    `json:"longitude"`
	Time time.Time `json:"timestamp"`
}
