package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// 心跳状态
const (
	StateClosed = "CLOSED"
	StateOnline = "ONLINE"
	StateRFOpen = "RF_OPEN"
)

// Message 解码后的上行报文
type Message interface {
	Type() MessageType
}

// Heartbeat 设备心跳
type Heartbeat struct {
	State   string
	Temp    string
	Mode    string
	Channel string
	Band    string
}

func (Heartbeat) Type() MessageType { return TypeHeartbeat }

// ConfigResponse GetCellParaRsp / GetAppCfgExtRsp 响应
type ConfigResponse struct {
	Kind MessageType
	XML  string
}

func (r ConfigResponse) Type() MessageType { return r.Kind }

// SniffReport GetNmmCfgRsp 扫频结果
type SniffReport struct {
	XML string
}

func (SniffReport) Type() MessageType { return TypeNmmCfgRsp }

// UeInfo OneUeInfoIndi 终端上报
type UeInfo struct {
	IMSI   string
	RSRP   string
	TAType string
	ULCqi  string
	ULRssi int // 已减去校准偏移
	IMEI   string
	MSISDN string
}

func (UeInfo) Type() MessageType { return TypeUeInfo }

// GPSInfo GPSInfoIndi 位置上报
type GPSInfo struct {
	Lat string
	Lon string
}

func (GPSInfo) Type() MessageType { return TypeGPSInfo }

// Decode 解码一条上行报文。
// 必填字段缺失返回 *DecodeError，调用方丢弃该报文；可选字段异常只会被置空。
func Decode(raw []byte) (Message, error) {
	msg := strings.TrimRight(string(raw), "\x00\r\n")
	typ := DetectType(msg)

	var (
		m   Message
		err error
	)
	switch typ {
	case TypeHeartbeat:
		m, err = decodeHeartbeat(msg)
	case TypeCellParaRsp, TypeAppCfgExtRsp:
		x, ok := ExtractXML(msg)
		if !ok {
			err = ErrNoXML
		}
		m = ConfigResponse{Kind: typ, XML: x}
	case TypeNmmCfgRsp:
		x, ok := ExtractXML(msg)
		if !ok {
			err = ErrNoXML
		}
		m = SniffReport{XML: x}
	case TypeUeInfo:
		m, err = decodeUeInfo(msg)
	case TypeGPSInfo:
		m, err = decodeGPS(msg)
	default:
		err = ErrUnknownMessage
	}

	if err != nil {
		return nil, &DecodeError{Type: typ, Err: err}
	}
	return m, nil
}

func decodeHeartbeat(msg string) (Message, error) {
	f := Tokenize(msg)

	state, err := f.Require("STATE")
	if err != nil {
		return nil, err
	}
	temp, _ := f.Get("TEMP")
	mode, _ := f.Get("MODE")
	band, _ := f.Get("BAND")

	ch, _ := Token(msg, 3)
	if strings.Contains(ch, "[") {
		// 第 4 个 token 已经是字段，说明报文里没有信道号
		ch = ""
	}

	return Heartbeat{
		State:   strings.TrimSpace(state),
		Temp:    temp,
		Mode:    mode,
		Channel: ch,
		Band:    band,
	}, nil
}

func decodeUeInfo(msg string) (Message, error) {
	f := Tokenize(msg)

	var ue UeInfo
	required := []struct {
		name string
		dst  *string
	}{
		{"imsi", &ue.IMSI},
		{"rsrp", &ue.RSRP},
		{"taType", &ue.TAType},
		{"ulCqi", &ue.ULCqi},
	}
	for _, r := range required {
		v, err := f.Require(r.name)
		if err != nil {
			return nil, err
		}
		*r.dst = strings.TrimSpace(v)
	}
	if ue.IMSI == "" {
		return nil, &FieldError{Field: "imsi", Err: ErrFieldMissing}
	}

	raw, err := f.Require("ulRssi")
	if err != nil {
		return nil, err
	}
	rssi, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil, &FieldError{Field: "ulRssi", Err: fmt.Errorf("%w: %q", ErrFieldMalformed, raw)}
	}
	ue.ULRssi = rssi - RSSICalibration

	if v, ok := f.Get("imei"); ok {
		if full, err := CompleteIMEI(strings.TrimSpace(v)); err == nil {
			ue.IMEI = full
		}
	}
	if v, ok := f.Get("msisdn"); ok {
		ue.MSISDN = strings.TrimSpace(v)
	}

	return ue, nil
}

func decodeGPS(msg string) (Message, error) {
	f := Tokenize(msg)

	lat, err := f.Require("lat")
	if err != nil {
		return nil, err
	}
	lon, ok := f.Get("lon")
	if !ok {
		if lon, ok = f.Get("long"); !ok {
			return nil, &FieldError{Field: "lon", Err: ErrFieldMissing}
		}
	}
	return GPSInfo{Lat: strings.TrimSpace(lat), Lon: strings.TrimSpace(lon)}, nil
}

// NormalizeState CLOSED 视为在线；射频开启模式下映射为 RF_OPEN
func NormalizeState(state string, rfOpen bool) string {
	if state != StateClosed {
		return state
	}
	if rfOpen {
		return StateRFOpen
	}
	return StateOnline
}
