package protocol

import (
	"strings"
)

// Fields 一条报文中 name[value] 形式字段的查找表
type Fields struct {
	values     map[string]string
	duplicates map[string]int
	malformed  []string
}

// Tokenize 扫描 XML 之前的文本部分，提取所有 name[value] 字段。
// 名称是紧贴 '[' 之前的连续字母数字下划线；同名字段保留首次出现的值并计数。
func Tokenize(msg string) Fields {
	f := Fields{
		values:     make(map[string]string),
		duplicates: make(map[string]int),
	}

	text := msg
	if i := strings.Index(text, "<?xml"); i >= 0 {
		text = text[:i]
	}

	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}

		start := i
		for start > 0 && isNameByte(text[start-1]) {
			start--
		}
		name := text[start:i]

		end := strings.IndexByte(text[i+1:], ']')
		if end < 0 {
			if name != "" {
				f.malformed = append(f.malformed, name)
			}
			break
		}
		value := text[i+1 : i+1+end]
		i += end + 1

		if name == "" {
			continue
		}
		if _, seen := f.values[name]; seen {
			f.duplicates[name]++
			continue
		}
		f.values[name] = value
	}

	return f
}

func isNameByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// Get 返回字段值和是否存在
func (f Fields) Get(name string) (string, bool) {
	v, ok := f.values[name]
	return v, ok
}

// Require 缺失时返回 FieldError
func (f Fields) Require(name string) (string, error) {
	v, ok := f.values[name]
	if !ok {
		return "", &FieldError{Field: name, Err: ErrFieldMissing}
	}
	return v, nil
}

// Duplicated 同名字段重复出现的次数（不含首次）
func (f Fields) Duplicated(name string) int {
	return f.duplicates[name]
}

// Malformed 缺少 ']' 的字段名
func (f Fields) Malformed() []string {
	return f.malformed
}

// Len 字段个数
func (f Fields) Len() int {
	return len(f.values)
}

// Token 按单个空格切分后的第 n 个 token（从 0 开始）
func Token(msg string, n int) (string, bool) {
	parts := strings.Split(msg, " ")
	if n < 0 || n >= len(parts) {
		return "", false
	}
	return strings.TrimSpace(parts[n]), true
}

// ExtractXML 从第一个 "<?xml" 截取到报文末尾
func ExtractXML(msg string) (string, bool) {
	i := strings.Index(msg, "<?xml")
	if i < 0 {
		return "", false
	}
	return strings.TrimRight(msg[i:], "\x00\r\n "), true
}
