package validation

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/bbu-fleet/bbu-server/internal/models"
)

// ErrValidation 所有校验失败都包装此错误
var ErrValidation = errors.New("validation failed")

var (
	durationPattern = regexp.MustCompile(`^\d+:[0-5]\d$`)
	imsiPattern     = regexp.MustCompile(`^\d{5,15}$`)
)

// Validator validates structs by their `validate` tags.
//
// Supported rules: required, min=N, ip, mode, duration, imsi.
// ip and imsi apply to a string or to every element of a []string.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("%w: validate expects a struct", ErrValidation)
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%w: %s: %s", ErrValidation, fieldName(fieldType), err)
		}
	}

	return nil
}

// fieldName 优先用 json 名称，便于接口调用方对照
func fieldName(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return f.Name
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	rules := strings.Split(tag, ",")

	for _, rule := range rules {
		ruleName, arg, _ := strings.Cut(rule, "=")

		switch ruleName {
		case "required":
			if field.IsZero() || (field.Kind() == reflect.Slice && field.Len() == 0) {
				return errors.New("field is required")
			}

		case "min":
			n, err := strconv.Atoi(arg)
			if err != nil {
				continue
			}
			if field.Kind() == reflect.String && len(field.String()) < n {
				return fmt.Errorf("minimum length is %d", n)
			}
			if field.Kind() == reflect.Slice && field.Len() < n {
				return fmt.Errorf("at least %d items required", n)
			}

		case "ip":
			if err := eachString(field, func(s string) error {
				if net.ParseIP(s) == nil {
					return fmt.Errorf("invalid ip address %q", s)
				}
				return nil
			}); err != nil {
				return err
			}

		case "imsi":
			if err := eachString(field, func(s string) error {
				if !imsiPattern.MatchString(s) {
					return fmt.Errorf("invalid imsi %q", s)
				}
				return nil
			}); err != nil {
				return err
			}

		case "mode":
			if field.Kind() == reflect.String && field.String() != "" && !models.CampaignMode(field.String()).Valid() {
				return fmt.Errorf("unknown mode %q", field.String())
			}

		case "duration":
			if field.Kind() == reflect.String && field.String() != "" && !durationPattern.MatchString(field.String()) {
				return fmt.Errorf("invalid duration %q, expected MM:SS", field.String())
			}
		}
	}

	return nil
}

// eachString 空字符串跳过，是否必填由 required 决定
func eachString(field reflect.Value, fn func(string) error) error {
	switch field.Kind() {
	case reflect.String:
		if s := field.String(); s != "" {
			return fn(s)
		}
	case reflect.Slice:
		for i := 0; i < field.Len(); i++ {
			if elem := field.Index(i); elem.Kind() == reflect.String {
				if err := fn(elem.String()); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
