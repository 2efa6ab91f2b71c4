package protocol

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// 设备制式
const (
	ModeGSMWB = "GSM-WB"
	ModeGSM   = "GSM"
	ModeWCDMA = "WCDMA"
)

// CellConfig 从配置响应中解析出的网络标识与频点。
// GSM-WB 下各字段为逗号拼接的列表。
type CellConfig struct {
	MCC   string
	MNC   string
	ARFCN string
	Band  string
}

// SniffEntry 扫频结果中的一行
type SniffEntry struct {
	ARFCN int
	PCI   string
	RSRP  string
	Band  int
}

type xmlNode struct {
	XMLName  xml.Name
	Text     string    `xml:",chardata"`
	Children []xmlNode `xml:",any"`
}

func parseTree(doc string) (*xmlNode, error) {
	var root xmlNode
	if err := xml.Unmarshal([]byte(doc), &root); err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	return &root, nil
}

// child 直接子节点
func (n *xmlNode) child(name string) *xmlNode {
	for i := range n.Children {
		if n.Children[i].XMLName.Local == name {
			return &n.Children[i]
		}
	}
	return nil
}

// find 深度优先查找第一个同名后代；path 形如 "sib/mcc"
func (n *xmlNode) find(path string) *xmlNode {
	parts := strings.Split(path, "/")
	for _, anchor := range n.findAll(parts[0]) {
		cur := anchor
		for _, p := range parts[1:] {
			if cur = cur.child(p); cur == nil {
				break
			}
		}
		if cur != nil {
			return cur
		}
	}
	return nil
}

func (n *xmlNode) findAll(name string) []*xmlNode {
	var out []*xmlNode
	for i := range n.Children {
		c := &n.Children[i]
		if c.XMLName.Local == name {
			out = append(out, c)
		}
		out = append(out, c.findAll(name)...)
	}
	return out
}

func (n *xmlNode) text() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Text)
}

func requireText(n *xmlNode, name string) (string, error) {
	if n == nil {
		return "", &FieldError{Field: name, Err: ErrFieldMissing}
	}
	return n.text(), nil
}

func zfill2(s string) string {
	for len(s) < 2 {
		s = "0" + s
	}
	return s
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// ParseConfigXML 按设备制式解析 GetCellParaRsp / GetAppCfgExtRsp 的 XML
func ParseConfigXML(mode, doc string) (CellConfig, error) {
	if strings.TrimSpace(doc) == "" {
		return CellConfig{}, ErrNoXML
	}
	root, err := parseTree(doc)
	if err != nil {
		return CellConfig{}, err
	}

	switch mode {
	case ModeGSMWB:
		var mccs, mncs, arfcns []string
		for _, item := range root.findAll("item") {
			mcc, err := requireText(item.child("mcc"), "mcc")
			if err != nil {
				return CellConfig{}, err
			}
			mnc, err := requireText(item.child("mnc"), "mnc")
			if err != nil {
				return CellConfig{}, err
			}
			var arfcnNode *xmlNode
			if list := item.child("arfcnList"); list != nil {
				arfcnNode = list.child("arfcn")
			}
			arfcn, err := requireText(arfcnNode, "arfcnList/arfcn")
			if err != nil {
				return CellConfig{}, err
			}
			mccs = append(mccs, mcc)
			mncs = append(mncs, zfill2(mnc))
			arfcns = append(arfcns, arfcn)
		}
		return CellConfig{
			MCC:   strings.Join(mccs, ","),
			MNC:   strings.Join(mncs, ","),
			ARFCN: strings.Join(arfcns, ","),
			Band:  "0",
		}, nil

	case ModeGSM:
		var cfg CellConfig
		if cfg.MCC, err = requireText(root.find("mcc"), "mcc"); err != nil {
			return CellConfig{}, err
		}
		if cfg.MNC, err = requireText(root.find("mnc"), "mnc"); err != nil {
			return CellConfig{}, err
		}
		if cfg.ARFCN, err = requireText(root.find("arfcn"), "arfcn"); err != nil {
			return CellConfig{}, err
		}
		cfg.Band = "0"
		return cfg, nil

	case ModeWCDMA:
		cfg := CellConfig{
			MCC:  stripSpaces(root.find("sib/mcc").text()),
			MNC:  stripSpaces(root.find("sib/mnc").text()),
			Band: "0",
		}
		if cfg.MNC != "" {
			cfg.MNC = zfill2(cfg.MNC)
		}
		if cfg.ARFCN, err = requireText(root.find("urfcn"), "urfcn"); err != nil {
			return CellConfig{}, err
		}
		return cfg, nil
	}

	// LTE 及其他制式
	var cfg CellConfig
	if cfg.MCC, err = requireText(root.find("mcc"), "mcc"); err != nil {
		return CellConfig{}, err
	}
	mnc, err := requireText(root.find("mnc"), "mnc")
	if err != nil {
		return CellConfig{}, err
	}
	cfg.MNC = zfill2(mnc)
	if cfg.Band, err = requireText(root.find("band"), "band"); err != nil {
		return CellConfig{}, err
	}
	for _, name := range []string{"erfcn", "arfcn", "urfcn"} {
		if n := root.find(name); n != nil {
			cfg.ARFCN = n.text()
			break
		}
	}
	return cfg, nil
}

// ParseSniffXML 解析 GetNmmCfgRsp 中的扫频条目，频点无法解析的条目被跳过
func ParseSniffXML(doc string) ([]SniffEntry, error) {
	root, err := parseTree(doc)
	if err != nil {
		return nil, err
	}

	var out []SniffEntry
	for _, item := range root.findAll("item") {
		arfcn, err := strconv.Atoi(item.child("arfcn").text())
		if err != nil {
			continue
		}
		band, _ := strconv.Atoi(item.child("band").text())
		out = append(out, SniffEntry{
			ARFCN: arfcn,
			PCI:   item.child("pci").text(),
			RSRP:  item.child("rsrp").text(),
			Band:  band,
		})
	}
	return out, nil
}
