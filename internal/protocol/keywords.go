// Package protocol 实现 BBU 设备的文本行协议：
// 报文类型识别、name[value] 字段提取、内嵌 XML 提取以及下行指令构造。
package protocol

import "strings"

// 上行报文关键字
const (
	KeywordHeartBeat     = "HeartBeat"
	KeywordCellParaRsp   = "GetCellParaRsp"
	KeywordAppCfgExtRsp  = "GetAppCfgExtRsp"
	KeywordNmmCfgRsp     = "GetNmmCfgRsp"
	KeywordOneUeInfoIndi = "OneUeInfoIndi"
	KeywordGPSInfoIndi   = "GPSInfoIndi"
)

// 下行指令关键字
const (
	CmdStartCell    = "StartCell"
	CmdStopCell     = "StopCell"
	CmdSetUlPcPara  = "SetUlPcPara"
	CmdSetBlackList = "SetBlackList"
	CmdSetWhiteList = "SetWhiteList"
	CmdStartSniffer = "StartSniffer"
	CmdGetCellPara  = "GetCellPara"
	CmdSetCellPara  = "SetCellPara"
	CmdGetAppCfgExt = "GetAppCfgExt"
	CmdSetAppCfgExt = "SetAppCfgExt"
	CmdGetNmmCfg    = "GetNmmCfg"
	CmdSetNmmCfg    = "SetNmmCfg"
)

// XMLPrologue 配置类 Set 指令携带的 XML 声明
const XMLPrologue = `<?xml version="1.0" encoding="utf-8"?>`

// RSSICalibration 上行 RSSI 原始值的校准偏移
const RSSICalibration = 130

// 设备端口与本地监听端口的默认值
const (
	DefaultDevicePort = 7001
	DefaultListenPort = 9001
)

// DefaultUlPcPara 上行功控参数
const DefaultUlPcPara = "40 30 1"

// MessageType 上行报文类型
type MessageType string

const (
	TypeUnknown      MessageType = "unknown"
	TypeHeartbeat    MessageType = "heartbeat"
	TypeCellParaRsp  MessageType = "cell_para_rsp"
	TypeAppCfgExtRsp MessageType = "app_cfg_ext_rsp"
	TypeNmmCfgRsp    MessageType = "nmm_cfg_rsp"
	TypeUeInfo       MessageType = "ue_info"
	TypeGPSInfo      MessageType = "gps_info"
)

// 关键字匹配顺序固定，协议约定一条报文只含一个关键字
var keywordTable = []struct {
	keyword string
	typ     MessageType
}{
	{KeywordHeartBeat, TypeHeartbeat},
	{KeywordCellParaRsp, TypeCellParaRsp},
	{KeywordAppCfgExtRsp, TypeAppCfgExtRsp},
	{KeywordNmmCfgRsp, TypeNmmCfgRsp},
	{KeywordOneUeInfoIndi, TypeUeInfo},
	{KeywordGPSInfoIndi, TypeGPSInfo},
}

// DetectType 按子串包含识别报文类型
func DetectType(msg string) MessageType {
	for _, k := range keywordTable {
		if strings.Contains(msg, k.keyword) {
			return k.typ
		}
	}
	return TypeUnknown
}
