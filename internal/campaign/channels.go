package campaign

import (
	"strings"

	"github.com/bbu-fleet/bbu-server/internal/models"
)

// Channels 例外信道划分：Exception 为 IP 出现在运营商表中的设备，其余为 Other。
// 每台设备恰好属于其中一个。
type Channels struct {
	Exception []string
	Other     []string
}

// Partition 按运营商表划分设备
func Partition(devices []*models.Device, operators []*models.Operator) Channels {
	operatorIPs := make(map[string]bool, len(operators))
	for _, op := range operators {
		if op.IP != "" {
			operatorIPs[op.IP] = true
		}
	}

	var ch Channels
	for _, d := range devices {
		if operatorIPs[d.IP] {
			ch.Exception = append(ch.Exception, d.IP)
		} else {
			ch.Other = append(ch.Other, d.IP)
		}
	}
	return ch
}

// Restrict 只保留 ips 中的地址，保持原有顺序
func (c Channels) Restrict(ips []string) Channels {
	keep := make(map[string]bool, len(ips))
	for _, ip := range ips {
		keep[ip] = true
	}
	filter := func(in []string) []string {
		var out []string
		for _, ip := range in {
			if keep[ip] {
				out = append(out, ip)
			}
		}
		return out
	}
	return Channels{Exception: filter(c.Exception), Other: filter(c.Other)}
}

// MatchingExceptions 例外信道中 MCC+MNC 与任一目标 IMSI 前缀匹配的地址
func MatchingExceptions(exception []string, operators []*models.Operator, imsis []string) []string {
	var out []string
	for _, ip := range exception {
		for _, op := range operators {
			if op.IP != ip {
				continue
			}
			if matchesAny(op.NetworkPrefix(), imsis) {
				out = append(out, ip)
				break
			}
		}
	}
	return out
}

func matchesAny(prefix string, imsis []string) bool {
	if prefix == "" {
		return false
	}
	for _, imsi := range imsis {
		if strings.HasPrefix(imsi, prefix) {
			return true
		}
	}
	return false
}
