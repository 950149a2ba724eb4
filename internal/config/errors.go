package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 可用 errors.Is 匹配任意字段校验失败。
var ErrInvalidConfig = errors.New("invalid config")

// FieldError 指出出错的字段路径与原因，CLI 直接打印给用户。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e FieldError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// preloadField 返回 Preload[i] 形式的字段路径。
func preloadField(idx int) string {
	return fmt.Sprintf("Preload[%d]", idx)
}
