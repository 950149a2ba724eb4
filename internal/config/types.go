package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/retry"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 存储后端取值。
const (
	BackendDisk  = "disk"
	BackendRedis = "redis"
)

// GlobalConfig 描述进程级运行参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFormat     string `mapstructure:"LogFormat"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	StoragePath   string `mapstructure:"StoragePath"`
	StoreBackend  string `mapstructure:"StoreBackend"`
	RedisAddr     string `mapstructure:"RedisAddr"`
	RedisPassword string `mapstructure:"RedisPassword"`
	RedisDB       int    `mapstructure:"RedisDB"`
	RedisPrefix   string `mapstructure:"RedisPrefix"`
	AssetRoot     string `mapstructure:"AssetRoot"`

	CacheTTL            Duration `mapstructure:"CacheTTL"`
	EmptyPayloadTTL     Duration `mapstructure:"EmptyPayloadTTL"`
	MaxMemoryCache      int64    `mapstructure:"MaxMemoryCacheSize"`
	MaxRetries          int      `mapstructure:"MaxRetries"`
	RetryDelay          Duration `mapstructure:"RetryDelay"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout"`
	SweepInterval       Duration `mapstructure:"SweepInterval"`
	PrefetchConcurrency int      `mapstructure:"PrefetchConcurrency"`
}

// Config 是 TOML 文件映射的整体结构。Preload 列出启动后预热的远程地址。
type Config struct {
	Global  GlobalConfig `mapstructure:",squash"`
	Preload []string     `mapstructure:"Preload"`
}

// RetryPolicy 返回全局重试策略。
func (g GlobalConfig) RetryPolicy() retry.Policy {
	return retry.Policy{MaxRetries: g.MaxRetries, Delay: g.RetryDelay.DurationValue()}
}

// ValidityPolicy 返回缓存有效期策略。
func (g GlobalConfig) ValidityPolicy() cache.ValidityPolicy {
	return cache.ValidityPolicy{
		Default: g.CacheTTL.DurationValue(),
		Empty:   g.EmptyPayloadTTL.DurationValue(),
	}
}

// UsesRedis 表示是否使用 Redis 作为持久层。
func (g GlobalConfig) UsesRedis() bool {
	return g.StoreBackend == BackendRedis
}
