package protocol

import (
	"strings"
)

// Command 一条下行指令
type Command struct {
	Name string
	Text string
	// Redundant 为 true 时由分发器按重发策略补发
	Redundant bool
}

// Encode 编码为线上报文
func (c Command) Encode() []byte {
	return []byte(c.Text)
}

func (c Command) String() string {
	if len(c.Text) > 64 {
		return c.Text[:64] + "..."
	}
	return c.Text
}

// StartCell 开启小区射频
func StartCell() Command {
	return Command{Name: CmdStartCell, Text: CmdStartCell, Redundant: true}
}

// StopCell 关闭小区射频
func StopCell() Command {
	return Command{Name: CmdStopCell, Text: CmdStopCell, Redundant: true}
}

// SetUlPcPara 上行功控参数，例如 "40 30 1"
func SetUlPcPara(params string) Command {
	if params == "" {
		params = DefaultUlPcPara
	}
	return Command{Name: CmdSetUlPcPara, Text: CmdSetUlPcPara + " " + params}
}

// SetBlackList imsi 为空表示清空黑名单
func SetBlackList(imsi string) Command {
	// 设备要求清空黑名单时保留关键字后的空格
	return Command{Name: CmdSetBlackList, Text: CmdSetBlackList + " " + imsi}
}

// SetWhiteList imsi 为空表示清空白名单
func SetWhiteList(imsi string) Command {
	text := CmdSetWhiteList
	if imsi != "" {
		text += " " + imsi
	}
	return Command{Name: CmdSetWhiteList, Text: text}
}

// StartSniffer 开始扫频
func StartSniffer() Command {
	return Command{Name: CmdStartSniffer, Text: CmdStartSniffer}
}

// ConfigKind 设备配置文件种类
type ConfigKind string

const (
	ConfigCellPara  ConfigKind = "cellpara"
	ConfigAppCfgExt ConfigKind = "appcfg"
	ConfigNmmCfg    ConfigKind = "nmmcfg"
)

func (k ConfigKind) getCmd() string {
	switch k {
	case ConfigCellPara:
		return CmdGetCellPara
	case ConfigAppCfgExt:
		return CmdGetAppCfgExt
	case ConfigNmmCfg:
		return CmdGetNmmCfg
	}
	return ""
}

func (k ConfigKind) setCmd() string {
	switch k {
	case ConfigCellPara:
		return CmdSetCellPara
	case ConfigAppCfgExt:
		return CmdSetAppCfgExt
	case ConfigNmmCfg:
		return CmdSetNmmCfg
	}
	return ""
}

// Valid 是否为已知种类
func (k ConfigKind) Valid() bool {
	return k.getCmd() != ""
}

// GetConfig 读取设备配置，设备以 Get...Rsp 应答
func GetConfig(kind ConfigKind) Command {
	name := kind.getCmd()
	return Command{Name: name, Text: name}
}

// SetConfig 下发 XML 配置。body 中若已带 XML 声明会先去掉
func SetConfig(kind ConfigKind, body string) Command {
	name := kind.setCmd()
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "<?xml") {
		if end := strings.Index(body, "?>"); end >= 0 {
			body = strings.TrimSpace(body[end+2:])
		}
	}
	return Command{
		Name:      name,
		Text:      name + " " + XMLPrologue + " " + body,
		Redundant: true,
	}
}
