// Package version 保存构建时注入的版本信息。
package version

import (
	"fmt"
	"runtime"
)

// Version/Commit 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Info 是诊断接口输出的构建信息。
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go"`
}

// Current 返回当前进程的构建信息。
func Current() Info {
	return Info{Version: Version, Commit: Commit, GoVersion: runtime.Version()}
}

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("imgcache %s (%s)", Version, Commit)
}

// UserAgent 用于所有上游请求。
func UserAgent() string {
	return fmt.Sprintf("imgcache/%s (+%s)", Version, Commit)
}
