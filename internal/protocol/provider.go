package protocol

import "strings"

// 按 IMSI 前缀识别运营商，顺序敏感："5101" 必须排在 51010/51011 之后
var providerPrefixes = []struct {
	prefixes []string
	brand    string
}{
	{[]string{"51010"}, "Telkomsel"},
	{[]string{"51011"}, "XL"},
	{[]string{"51001", "51021", "51089", "5101"}, "Indosat"},
	{[]string{"51028", "51009"}, "Smartfren"},
}

// ProviderOther 无法识别的运营商
const ProviderOther = "Other"

// ProviderForIMSI 返回 IMSI 所属运营商品牌
func ProviderForIMSI(imsi string) string {
	for _, p := range providerPrefixes {
		for _, prefix := range p.prefixes {
			if strings.HasPrefix(imsi, prefix) {
				return p.brand
			}
		}
	}
	return ProviderOther
}

// NetworkPrefix IMSI 的 MCC+MNC 前 5 位
func NetworkPrefix(imsi string) string {
	if len(imsi) < 5 {
		return imsi
	}
	return imsi[:5]
}
