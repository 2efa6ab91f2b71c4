package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrFieldMissing   = errors.New("field missing")
	ErrFieldMalformed = errors.New("field malformed")
	ErrUnknownMessage = errors.New("unknown message type")
	ErrNoXML          = errors.New("no xml payload")
	ErrInvalidIMEI    = errors.New("invalid imei")
)

// FieldError 单个字段提取失败
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// DecodeError 整条报文解码失败，该报文被丢弃
type DecodeError struct {
	Type MessageType
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
