package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/retry"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 IMGCACHE_LISTENPORT。
const EnvPrefix = "IMGCACHE"

// Load 读取 TOML 配置，叠加 IMGCACHE_* 环境变量覆盖后注入默认值并校验。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("绑定环境变量失败: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StoreBackend == BackendDisk {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

// bindEnv 为每个配置键显式绑定 IMGCACHE_<KEY>。
// AutomaticEnv 只覆盖 viper 已知的键，没有默认值的键（RedisAddr、Preload 等）必须单独绑定。
func bindEnv(v *viper.Viper) error {
	for _, key := range configKeys(reflect.TypeOf(Config{})) {
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}
	return nil
}

// configKeys 收集结构体上的 mapstructure 键，squash 字段展开到同一层。
func configKeys(t reflect.Type) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		name, opts, _ := strings.Cut(tag, ",")
		if strings.Contains(opts, "squash") && field.Type.Kind() == reflect.Struct {
			keys = append(keys, configKeys(field.Type)...)
			continue
		}
		if name == "" || name == "-" {
			continue
		}
		keys = append(keys, name)
	}
	return keys
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StoreBackend", BackendDisk)
	v.SetDefault("RedisPrefix", "imgcache")
	v.SetDefault("CacheTTL", "720h")
	v.SetDefault("EmptyPayloadTTL", "5m")
	v.SetDefault("MaxMemoryCacheSize", 64*1024*1024)
	v.SetDefault("MaxRetries", retry.DefaultMaxRetries)
	v.SetDefault("RetryDelay", "1s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("SweepInterval", "1h")
	v.SetDefault("PrefetchConcurrency", 4)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StoreBackend = strings.ToLower(strings.TrimSpace(g.StoreBackend))
	if g.StoreBackend == "" {
		g.StoreBackend = BackendDisk
	}
	if g.CacheTTL.DurationValue() == 0 {
		g.CacheTTL = Duration(cache.DefaultValidity)
	}
	if g.EmptyPayloadTTL.DurationValue() == 0 {
		g.EmptyPayloadTTL = Duration(cache.DefaultEmptyValidity)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.PrefetchConcurrency == 0 {
		g.PrefetchConcurrency = 4
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
