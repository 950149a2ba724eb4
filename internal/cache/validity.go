package cache

import "time"

const (
	// DefaultValidity 是未指定有效期时的缓存时长。
	DefaultValidity = 30 * 24 * time.Hour
	// DefaultEmptyValidity 限制空载荷的缓存时长，避免长期缓存上游的临时空响应。
	DefaultEmptyValidity = 5 * time.Minute
)

// ValidityPolicy 根据请求与载荷大小决定条目的有效期。
type ValidityPolicy struct {
	Default time.Duration
	Empty   time.Duration
}

// DefaultValidityPolicy 返回 30 天 / 5 分钟的默认策略。
func DefaultValidityPolicy() ValidityPolicy {
	return ValidityPolicy{Default: DefaultValidity, Empty: DefaultEmptyValidity}
}

// Resolve 返回实际写入的有效期：requested<=0 时取 Default；空载荷取 min(有效期, Empty)。
func (p ValidityPolicy) Resolve(requested time.Duration, size int) time.Duration {
	validity := requested
	if validity <= 0 {
		validity = p.Default
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	if size == 0 {
		empty := p.Empty
		if empty <= 0 {
			empty = DefaultEmptyValidity
		}
		if validity > empty {
			validity = empty
		}
	}
	return validity
}
