// Package retry 提供固定间隔的有限重试策略。
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxRetries 与 DefaultDelay 是未配置时使用的策略。
const (
	DefaultMaxRetries = 3
	DefaultDelay      = time.Second
)

// Policy 描述重试次数与间隔：总尝试次数为 MaxRetries+1，最后一次失败后不再等待。
type Policy struct {
	MaxRetries int
	Delay      time.Duration
}

// Default 返回 3 次重试、间隔 1 秒的策略。
func Default() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, Delay: DefaultDelay}
}

// Attempts 返回该策略最多执行的尝试次数。
func (p Policy) Attempts() int {
	if p.MaxRetries <= 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// ExhaustedError 表示所有尝试均失败，Err 为最后一次尝试的错误。
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Permanent 标记不值得重试的错误，Do 遇到后立即停止。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Attempt 执行一次尝试，n 从 1 开始。
type Attempt[T any] func(ctx context.Context, n int) (T, error)

// Notify 在每次失败且即将等待 wait 后重试时调用。
type Notify func(n int, err error, wait time.Duration)

// Do 按策略执行 attempt。ctx 结束时立即返回 ctx.Err()；尝试全部失败返回 *ExhaustedError。
func Do[T any](ctx context.Context, p Policy, attempt Attempt[T], notify Notify) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	var b backoff.BackOff
	if p.MaxRetries <= 0 {
		// WithMaxRetries(b, 0) 表示无限重试，这里需要单次尝试
		b = &backoff.StopBackOff{}
	} else {
		delay := p.Delay
		if delay < 0 {
			delay = 0
		}
		b = backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(p.MaxRetries))
	}

	attempts := 0
	op := func() (T, error) {
		attempts++
		return attempt(ctx, attempts)
	}
	onRetry := func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempts, err, wait)
		}
	}

	v, err := backoff.RetryNotifyWithData(op, backoff.WithContext(b, ctx), onRetry)
	if err == nil {
		return v, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, ctxErr
	}
	return zero, &ExhaustedError{Attempts: attempts, Err: err}
}
