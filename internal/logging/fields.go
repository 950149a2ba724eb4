package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cachekey"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供标识符、缓存 key 与命中状态字段，供获取流程日志复用。
func FetchFields(action, identifier string, key cachekey.Key, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"identifier": identifier,
		"cache_key":  key.String(),
		"cache_hit":  cacheHit,
	}
}
