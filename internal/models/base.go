package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// StringList 有序去重的字符串集合，数据库中以逗号拼接存储
type StringList []string

// ParseStringList 解析逗号或空白分隔的列表，去掉空项和重复项
func ParseStringList(s string) StringList {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make(StringList, 0, len(fields))
	for _, f := range fields {
		out = out.Add(f)
	}
	return out
}

// Add 不存在时追加
func (l StringList) Add(v string) StringList {
	v = strings.TrimSpace(v)
	if v == "" || l.Contains(v) {
		return l
	}
	return append(l, v)
}

// Contains 是否包含
func (l StringList) Contains(v string) bool {
	for _, s := range l {
		if s == v {
			return true
		}
	}
	return false
}

func (l StringList) String() string {
	return strings.Join(l, ",")
}

// Value implements driver.Valuer interface
func (l StringList) Value() (driver.Value, error) {
	return l.String(), nil
}

// Scan implements sql.Scanner interface
func (l *StringList) Scan(value interface{}) error {
	switch data := value.(type) {
	case nil:
		*l = StringList{}
	case []byte:
		*l = ParseStringList(string(data))
	case string:
		*l = ParseStringList(data)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
	return nil
}

// Variables represents a JSON object for storing arbitrary data
type Variables map[string]interface{}

// Value implements driver.Valuer interface
func (v Variables) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner interface
func (v *Variables) Scan(value interface{}) error {
	if value == nil {
		*v = make(Variables)
		return nil
	}

	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	default:
		return fmt.Errorf("unsupported type for Variables: %T", value)
	}
}
