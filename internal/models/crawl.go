package models

import "time"

// CrawlRecord 每个 (campaign_id, imsi) 一行，重复观测时 count 加一并覆盖测量值
type CrawlRecord struct {
	ID         int64     `json:"id" db:"id"`
	CampaignID *int64    `json:"campaignId,omitempty" db:"campaign_id"`
	IMSI       string    `json:"imsi" db:"imsi"`
	IP         string    `json:"ip" db:"ip"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	RSRP       string    `json:"rsrp" db:"rsrp"`
	TAType     string    `json:"taType" db:"ta_type"`
	ULCqi      string    `json:"ulCqi" db:"ul_cqi"`
	ULRssi     int       `json:"ulRssi" db:"ul_rssi"`
	Channel    string    `json:"ch" db:"ch"`
	Provider   string    `json:"provider" db:"provider"`
	Lat        string    `json:"lat" db:"lat"`
	Long       string    `json:"long" db:"long"`
	Count      int       `json:"count" db:"count"`
	IMEI       string    `json:"imei" db:"imei"`
	MSISDN     string    `json:"msisdn" db:"msisdn"`
}
